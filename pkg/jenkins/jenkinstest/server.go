// Package jenkinstest provides an in-memory Jenkins coordinator for tests. It
// serves the node endpoints used by package jenkins over httptest.
package jenkinstest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/beevik/etree"
)

// Operation names recorded by Calls.
const (
	OpCrumb     = "crumb"
	OpInfo      = "info"
	OpDelete    = "delete"
	OpCreate    = "create"
	OpGetConfig = "getConfig"
	OpReconfig  = "reconfig"
	OpToggle    = "toggleOffline"
)

// Forever keeps a node offline on every status poll.
const Forever = -1

const (
	crumbField    = "Jenkins-Crumb"
	sessionCookie = "JSESSIONID"
)

var (
	prolog10 = regexp.MustCompile(`^(\s*<\?xml\s+version\s*=\s*["'])1\.0(["'])`)
	prolog11 = regexp.MustCompile(`^(\s*<\?xml\s+version\s*=\s*["'])1\.1(["'])`)
)

type node struct {
	config             string
	temporarilyOffline bool
	pollsLeft          int
}

// Server is a fake coordinator.
type Server struct {
	*httptest.Server

	username string
	password string
	prefix   string
	crumbs   bool
	tls      bool
	polls    int

	mu      sync.Mutex
	nodes   map[string]*node
	calls   map[string]int
	crumb   string
	session string
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials sets the accepted basic-auth user and password.
func WithCredentials(username, password string) Option {
	return func(s *Server) { s.username, s.password = username, password }
}

// WithoutCrumbs disables the crumb issuer, as on coordinators without CSRF protection.
func WithoutCrumbs() Option {
	return func(s *Server) { s.crumbs = false }
}

// WithPrefix serves every endpoint below prefix, e.g. "/jenkins".
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = strings.TrimRight(prefix, "/") }
}

// WithOfflinePolls makes a node report offline for n status polls after it is
// created or reconfigured. Forever never brings it online.
func WithOfflinePolls(n int) Option {
	return func(s *Server) { s.polls = n }
}

// WithTLS serves over HTTPS with the httptest certificate.
func WithTLS() Option {
	return func(s *Server) { s.tls = true }
}

// New starts a fake coordinator that is closed when the test ends. The default
// credentials are admin/secret and crumbs are enabled.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		username: "admin",
		password: "secret",
		crumbs:   true,
		nodes:    make(map[string]*node),
		calls:    make(map[string]int),
		crumb:    randomToken(),
		session:  randomToken(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tls {
		s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	} else {
		s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	}
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the coordinator URL including any prefix.
func (s *Server) BaseURL() string {
	return s.URL + s.prefix
}

// Username returns the accepted basic-auth user.
func (s *Server) Username() string { return s.username }

// Password returns the accepted basic-auth password.
func (s *Server) Password() string { return s.password }

// Calls returns how often op was served.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AddNode stores a node with the given raw config.xml.
func (s *Server) AddNode(name, config string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[name] = &node{config: config, pollsLeft: s.polls}
}

// Config returns the stored config.xml of a node.
func (s *Server) Config(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	if !ok {
		return "", false
	}
	return n.config, true
}

// HasNode reports whether a node is stored.
func (s *Server) HasNode(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[name]
	return ok
}

// SetTemporarilyOffline marks a node as taken offline by an operator.
func (s *Server) SetTemporarilyOffline(name string, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[name]; ok {
		n.temporarilyOffline = offline
	}
}

// TemporarilyOffline reports the operator offline flag of a node.
func (s *Server) TemporarilyOffline(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[name]
	return ok && n.temporarilyOffline
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.username || pass != s.password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := r.URL.EscapedPath()
	if !strings.HasPrefix(path, s.prefix+"/") {
		http.NotFound(w, r)
		return
	}
	path = strings.TrimPrefix(path, s.prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPost && !s.validCrumb(r) {
		http.Error(w, "No valid crumb was included in the request", http.StatusForbidden)
		return
	}

	switch {
	case path == "/crumbIssuer/api/json" && r.Method == http.MethodGet:
		s.serveCrumb(w)
	case path == "/computer/doCreateItem" && r.Method == http.MethodPost:
		s.serveCreate(w, r)
	case strings.HasPrefix(path, "/computer/"):
		rest := strings.TrimPrefix(path, "/computer/")
		escaped, action, _ := strings.Cut(rest, "/")
		name, err := url.PathUnescape(escaped)
		if err != nil {
			http.Error(w, "bad node name", http.StatusBadRequest)
			return
		}
		s.serveNode(w, r, name, action)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) validCrumb(r *http.Request) bool {
	if !s.crumbs {
		return true
	}
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value != s.session {
		return false
	}
	return r.Header.Get(crumbField) == s.crumb
}

func (s *Server) serveCrumb(w http.ResponseWriter) {
	s.calls[OpCrumb]++
	if !s.crumbs {
		http.Error(w, "crumb issuer disabled", http.StatusNotFound)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: s.session, Path: "/"})
	writeJSON(w, map[string]string{
		"_class":            "hudson.security.csrf.DefaultCrumbIssuer",
		"crumb":             s.crumb,
		"crumbRequestField": crumbField,
	})
}

func (s *Server) serveNode(w http.ResponseWriter, r *http.Request, name, action string) {
	n, ok := s.nodes[name]

	switch {
	case action == "api/json" && r.Method == http.MethodGet:
		s.calls[OpInfo]++
		if !ok {
			http.NotFound(w, r)
			return
		}
		offline := n.temporarilyOffline
		if n.pollsLeft != 0 {
			offline = true
			if n.pollsLeft > 0 {
				n.pollsLeft--
			}
		}
		executors := 0
		if doc, err := parse(n.config); err == nil {
			if el := doc.Root().SelectElement("numExecutors"); el != nil {
				executors, _ = strconv.Atoi(el.Text())
			}
		}
		reason := ""
		if n.temporarilyOffline {
			reason = "disconnected by " + s.username
		}
		writeJSON(w, map[string]interface{}{
			"_class":             "hudson.slaves.SlaveComputer",
			"displayName":        name,
			"offline":            offline,
			"temporarilyOffline": n.temporarilyOffline,
			"numExecutors":       executors,
			"offlineCauseReason": reason,
		})

	case action == "doDelete" && r.Method == http.MethodPost:
		s.calls[OpDelete]++
		if !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.nodes, name)
		w.WriteHeader(http.StatusOK)

	case action == "config.xml" && r.Method == http.MethodGet:
		s.calls[OpGetConfig]++
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, n.config)

	case action == "config.xml" && r.Method == http.MethodPost:
		s.calls[OpReconfig]++
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "text/xml") {
			http.Error(w, "expected text/xml", http.StatusUnsupportedMediaType)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := parse(string(body)); err != nil {
			http.Error(w, "malformed config.xml: "+err.Error(), http.StatusBadRequest)
			return
		}
		// Jenkins stores its own serialisation, which always carries a 1.1 prolog.
		n.config = prolog10.ReplaceAllString(string(body), "${1}1.1${2}")
		n.pollsLeft = s.polls

	case action == "toggleOffline" && r.Method == http.MethodPost:
		s.calls[OpToggle]++
		if !ok {
			http.NotFound(w, r)
			return
		}
		n.temporarilyOffline = !n.temporarilyOffline

	default:
		http.NotFound(w, r)
	}
}

type createPayload struct {
	NodeDescription   string            `json:"nodeDescription"`
	NumExecutors      int               `json:"numExecutors"`
	RemoteFS          string            `json:"remoteFS"`
	LabelString       string            `json:"labelString"`
	Mode              string            `json:"mode"`
	RetentionStrategy map[string]string `json:"retentionStrategy"`
	Launcher          struct {
		StaplerClass  string `json:"stapler-class"`
		Host          string `json:"host"`
		Port          int    `json:"port"`
		CredentialsID string `json:"credentialsId"`
	} `json:"launcher"`
}

func (s *Server) serveCreate(w http.ResponseWriter, r *http.Request) {
	s.calls[OpCreate]++
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.PostForm.Get("name")
	if name == "" || r.PostForm.Get("type") != "hudson.slaves.DumbSlave$DescriptorImpl" {
		http.Error(w, "missing name or unsupported type", http.StatusBadRequest)
		return
	}
	if _, exists := s.nodes[name]; exists {
		http.Error(w, "Agent called '"+name+"' already exists", http.StatusBadRequest)
		return
	}
	var p createPayload
	if err := json.Unmarshal([]byte(r.PostForm.Get("json")), &p); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}

	config, err := createdConfig(name, p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.nodes[name] = &node{config: config, pollsLeft: s.polls}
	w.WriteHeader(http.StatusOK)
}

// createdConfig renders the config.xml Jenkins stores for a freshly created
// SSH agent. The host key verification strategy is left out, as on
// coordinators where the plugin default applies.
func createdConfig(name string, p createPayload) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.1" encoding="UTF-8"`)
	slave := doc.CreateElement("slave")
	slave.CreateElement("name").SetText(name)
	slave.CreateElement("description").SetText(p.NodeDescription)
	slave.CreateElement("remoteFS").SetText(p.RemoteFS)
	slave.CreateElement("numExecutors").SetText(strconv.Itoa(p.NumExecutors))
	slave.CreateElement("mode").SetText(p.Mode)

	retention := p.RetentionStrategy["stapler-class"]
	if retention == "" {
		retention = "hudson.slaves.RetentionStrategy$Always"
	}
	slave.CreateElement("retentionStrategy").CreateAttr("class", retention)

	launcher := slave.CreateElement("launcher")
	launcher.CreateAttr("class", p.Launcher.StaplerClass)
	launcher.CreateAttr("plugin", "ssh-slaves@2.973.v0fa_8c0dea_f9f")
	launcher.CreateElement("host").SetText(p.Launcher.Host)
	launcher.CreateElement("port").SetText(strconv.Itoa(p.Launcher.Port))
	launcher.CreateElement("credentialsId").SetText(p.Launcher.CredentialsID)
	launcher.CreateElement("launchTimeoutSeconds").SetText("60")
	launcher.CreateElement("maxNumRetries").SetText("10")
	launcher.CreateElement("retryWaitTime").SetText("15")

	slave.CreateElement("label").SetText(p.LabelString)
	properties := slave.CreateElement("nodeProperties")
	env := properties.CreateElement("hudson.slaves.EnvironmentVariablesNodeProperty")
	env.CreateElement("envVars").CreateAttr("serialization", "custom")

	doc.Indent(2)
	return doc.WriteToString()
}

func parse(raw string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(prolog11.ReplaceAllString(raw, "${1}1.0${2}")); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return doc, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
