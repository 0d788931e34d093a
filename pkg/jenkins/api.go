// pkg/jenkins/api.go

package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Doer sends HTTP requests. *httpclient.Client and *http.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client represents a Jenkins API client
type Client struct {
	baseURL  string
	username string
	password string
	http     Doer

	crumbMu      sync.Mutex
	crumbFetched bool
	crumbField   string
	crumbValue   string
}

// APIError is returned for any response with status 400 or above.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("jenkins API error: %s %s (status %d): %s", e.Method, e.Path, e.StatusCode, body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return cerr.As(err, &apiErr) && apiErr.StatusCode == code
}

// NewClient creates a new Jenkins client. baseURL may carry a path prefix such
// as https://ci.example.com/jenkins.
func NewClient(baseURL, username, password string, httpClient Doer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, cerr.Wrap(err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, cerr.Newf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, cerr.Newf("invalid base URL %q: missing host", baseURL)
	}
	if httpClient == nil {
		return nil, cerr.New("nil HTTP client")
	}
	u.RawQuery = ""
	u.Fragment = ""

	return &Client{
		baseURL:  strings.TrimRight(u.String(), "/"),
		username: username,
		password: password,
		http:     httpClient,
	}, nil
}

// BaseURL returns the normalised coordinator URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        string
	contentType string
}

// doRequest handles the common logic for all API requests
func (c *Client) doRequest(ctx context.Context, r request) ([]byte, error) {
	if r.method == http.MethodPost {
		if err := c.ensureCrumb(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var bodyReader io.Reader
	if r.body != "" {
		bodyReader = strings.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, bodyReader)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to create request")
	}

	req.SetBasicAuth(c.username, c.password)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.method == http.MethodPost {
		c.crumbMu.Lock()
		if c.crumbField != "" {
			req.Header.Set(c.crumbField, c.crumbValue)
		}
		c.crumbMu.Unlock()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cerr.Wrapf(err, "%s %s", r.method, r.path)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Method:     r.method,
			Path:       r.path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.doRequest(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return cerr.Wrapf(err, "failed to parse response from %s", path)
	}
	return nil
}

type crumbResponse struct {
	CrumbRequestField string `json:"crumbRequestField"`
	Crumb             string `json:"crumb"`
}

// ensureCrumb fetches the CSRF crumb once. A 404 from the issuer means the
// coordinator has CSRF protection disabled.
func (c *Client) ensureCrumb(ctx context.Context) error {
	c.crumbMu.Lock()
	fetched := c.crumbFetched
	c.crumbMu.Unlock()
	if fetched {
		return nil
	}

	var crumb crumbResponse
	err := c.getJSON(ctx, "/crumbIssuer/api/json", nil, &crumb)
	switch {
	case IsStatus(err, http.StatusNotFound):
		otelzap.Ctx(ctx).Debug("Crumb issuer not available, sending requests without crumb")
	case err != nil:
		return cerr.Wrap(err, "failed to fetch CSRF crumb")
	}

	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()
	c.crumbFetched = true
	c.crumbField = crumb.CrumbRequestField
	c.crumbValue = crumb.Crumb
	if c.crumbField != "" {
		otelzap.Ctx(ctx).Debug("Fetched CSRF crumb", zap.String("field", c.crumbField))
	}
	return nil
}
