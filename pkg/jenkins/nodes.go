package jenkins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/nodeconfig"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	// NodeType is the descriptor Jenkins uses for permanent agents.
	NodeType = "hudson.slaves.DumbSlave$DescriptorImpl"
	// LauncherSSH is the SSH Build Agents plugin launcher class.
	LauncherSSH = nodeconfig.LauncherClass
	// RetentionAlways keeps the agent online as much as possible.
	RetentionAlways = "hudson.slaves.RetentionStrategy$Always"
)

var (
	// ErrNodeNotFound is returned when the coordinator has no node of that name.
	ErrNodeNotFound = cerr.New("node does not exist")
	// ErrNodeExists is returned when creating a node that is already present.
	ErrNodeExists = cerr.New("node already exists")
)

// NodeInfo is the subset of /computer/{name}/api/json this tool reads.
type NodeInfo struct {
	DisplayName        string `json:"displayName"`
	Offline            bool   `json:"offline"`
	TemporarilyOffline bool   `json:"temporarilyOffline"`
	NumExecutors       int    `json:"numExecutors"`
	OfflineCauseReason string `json:"offlineCauseReason"`
}

// NodeSpec holds the baseline attributes used to create an SSH agent.
type NodeSpec struct {
	Name          string
	Description   string
	NumExecutors  int
	RemoteFS      string
	Labels        string
	Exclusive     bool
	Host          string
	Port          int
	CredentialsID string
}

func computerPath(name, suffix string) string {
	return "/computer/" + url.PathEscape(name) + suffix
}

// GetNodeInfo retrieves the status of a node.
func (c *Client) GetNodeInfo(ctx context.Context, name string) (*NodeInfo, error) {
	var info NodeInfo
	err := c.getJSON(ctx, computerPath(name, "/api/json"), url.Values{"depth": {"0"}}, &info)
	if IsStatus(err, http.StatusNotFound) {
		return nil, cerr.Wrapf(ErrNodeNotFound, "%q", name)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// NodeExists reports whether a node of that name is present.
func (c *Client) NodeExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetNodeInfo(ctx, name)
	if cerr.Is(err, ErrNodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteNode removes a node and checks that it is gone.
func (c *Client) DeleteNode(ctx context.Context, name string) error {
	if _, err := c.doRequest(ctx, request{method: http.MethodPost, path: computerPath(name, "/doDelete")}); err != nil {
		return cerr.Wrapf(err, "delete node %q", name)
	}
	exists, err := c.NodeExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return cerr.Newf("delete of node %q did not take effect", name)
	}
	otelzap.Ctx(ctx).Debug("Deleted node", zap.String("node", name))
	return nil
}

type createLauncher struct {
	StaplerClass  string `json:"stapler-class"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	CredentialsID string `json:"credentialsId"`
}

type createPayload struct {
	NodeDescription   string            `json:"nodeDescription"`
	NumExecutors      int               `json:"numExecutors"`
	RemoteFS          string            `json:"remoteFS"`
	LabelString       string            `json:"labelString"`
	Mode              string            `json:"mode"`
	Type              string            `json:"type"`
	RetentionStrategy map[string]string `json:"retentionStrategy"`
	NodeProperties    map[string]string `json:"nodeProperties"`
	Launcher          createLauncher    `json:"launcher"`
}

// CreateNode creates an SSH-launched permanent agent and checks that it exists.
func (c *Client) CreateNode(ctx context.Context, spec NodeSpec) error {
	exists, err := c.NodeExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return cerr.Wrapf(ErrNodeExists, "%q", spec.Name)
	}

	mode := "NORMAL"
	if spec.Exclusive {
		mode = "EXCLUSIVE"
	}
	payload, err := json.Marshal(createPayload{
		NodeDescription:   spec.Description,
		NumExecutors:      spec.NumExecutors,
		RemoteFS:          spec.RemoteFS,
		LabelString:       spec.Labels,
		Mode:              mode,
		Type:              NodeType,
		RetentionStrategy: map[string]string{"stapler-class": RetentionAlways},
		NodeProperties:    map[string]string{"stapler-class-bag": "true"},
		Launcher: createLauncher{
			StaplerClass:  LauncherSSH,
			Host:          spec.Host,
			Port:          spec.Port,
			CredentialsID: spec.CredentialsID,
		},
	})
	if err != nil {
		return cerr.Wrap(err, "failed to marshal node payload")
	}

	form := url.Values{}
	form.Set("name", spec.Name)
	form.Set("type", NodeType)
	form.Set("json", string(payload))

	_, err = c.doRequest(ctx, request{
		method:      http.MethodPost,
		path:        "/computer/doCreateItem",
		body:        form.Encode(),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return cerr.Wrapf(err, "create node %q", spec.Name)
	}

	exists, err = c.NodeExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if !exists {
		return cerr.Newf("create of node %q did not take effect", spec.Name)
	}
	otelzap.Ctx(ctx).Debug("Created node", zap.String("node", spec.Name))
	return nil
}

// GetNodeConfig returns the raw config.xml of a node.
func (c *Client) GetNodeConfig(ctx context.Context, name string) (string, error) {
	body, err := c.doRequest(ctx, request{method: http.MethodGet, path: computerPath(name, "/config.xml")})
	if IsStatus(err, http.StatusNotFound) {
		return "", cerr.Wrapf(ErrNodeNotFound, "%q", name)
	}
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ReconfigNode replaces the config.xml of a node.
func (c *Client) ReconfigNode(ctx context.Context, name, config string) error {
	_, err := c.doRequest(ctx, request{
		method:      http.MethodPost,
		path:        computerPath(name, "/config.xml"),
		body:        config,
		contentType: "text/xml; charset=utf-8",
	})
	if err != nil {
		return cerr.Wrapf(err, "reconfigure node %q", name)
	}
	return nil
}

// EnableNode brings a temporarily offline node back. It does nothing when the
// node has not been marked offline.
func (c *Client) EnableNode(ctx context.Context, name string) error {
	info, err := c.GetNodeInfo(ctx, name)
	if err != nil {
		return err
	}
	if !info.TemporarilyOffline {
		otelzap.Ctx(ctx).Debug("Node is not marked offline", zap.String("node", name))
		return nil
	}
	_, err = c.doRequest(ctx, request{
		method: http.MethodPost,
		path:   computerPath(name, "/toggleOffline"),
		query:  url.Values{"offlineMessage": {""}},
	})
	if err != nil {
		return cerr.Wrapf(err, "enable node %q", name)
	}
	return nil
}
