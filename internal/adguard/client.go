// Package adguard is a small client for the AdGuard Home control API.
// Every failure is returned as a classified *Error so callers can branch on
// the error code without inspecting transport details.
package adguard

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"adgmanager/internal/utils"

	"github.com/sirupsen/logrus"
)

const controlPath = "/control"

// Operation names carried by classified errors
const (
	OpTestConnection     = "testConnection"
	OpGetStatus          = "getStatus"
	OpGetStats           = "getStats"
	OpToggleProtection   = "toggleProtection"
	OpDisableTemporarily = "disableTemporarily"
)

// NormalizeURL trims whitespace and trailing slashes and appends the control
// path unless it is already present. NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(u, controlPath) {
		return u
	}
	return u + controlPath
}

// Client talks to one AdGuard Home server
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	log        *logrus.Entry

	mu       sync.RWMutex
	username string
	password string
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithInsecureSkipVerify accepts self-signed certificates, common on home servers
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if !skip {
			return
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in via config
		c.httpClient.Transport = tr
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the server at rawURL
func NewClient(rawURL, username, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:    NormalizeURL(rawURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "adgmanager",
		log:        logrus.NewEntry(logrus.StandardLogger()),
		username:   username,
		password:   password,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("server", c.baseURL)
	return c
}

// BaseURL returns the normalized control URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetCredentials rotates the credentials used from the next request on
func (c *Client) SetCredentials(username, password string) {
	c.mu.Lock()
	c.username = username
	c.password = password
	c.mu.Unlock()
}

// TestConnection probes /status. It never returns an error; the result
// carries the classified failure instead.
func (c *Client) TestConnection(ctx context.Context) TestResult {
	var status Status
	if _, err := c.doJSON(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		cerr := Classify(OpTestConnection, err)
		c.log.WithField("code", cerr.Code).Debug("Connection test failed")
		return TestResult{Success: false, Error: cerr}
	}
	return TestResult{Success: true, Status: &status}
}

// GetStatus returns the server status
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var status Status
	if _, err := c.doJSON(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, Classify(OpGetStatus, err)
	}
	return &status, nil
}

// GetStats returns query and blocking statistics
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if _, err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, Classify(OpGetStats, err)
	}
	return &stats, nil
}

// ToggleProtection turns filtering on or off
func (c *Client) ToggleProtection(ctx context.Context, enabled bool) (*ProtectionResult, error) {
	res, err := c.setProtection(ctx, protectionRequest{Enabled: enabled})
	if err != nil {
		return nil, Classify(OpToggleProtection, err)
	}
	return res, nil
}

// DisableTemporarily turns filtering off for the given number of minutes.
// The server re-enables protection by itself once the duration elapses.
func (c *Client) DisableTemporarily(ctx context.Context, minutes int) (*ProtectionResult, error) {
	if minutes <= 0 {
		return nil, Classify(OpDisableTemporarily, fmt.Errorf("invalid duration: %d minutes", minutes))
	}
	res, err := c.setProtection(ctx, protectionRequest{
		Enabled:  false,
		Duration: int64(minutes) * int64(time.Minute/time.Millisecond),
	})
	if err != nil {
		return nil, Classify(OpDisableTemporarily, err)
	}
	return res, nil
}

func (c *Client) setProtection(ctx context.Context, body protectionRequest) (*ProtectionResult, error) {
	data, contentType, err := c.do(ctx, http.MethodPost, "/protection", body)
	if err != nil {
		return nil, err
	}

	res := &ProtectionResult{Enabled: body.Enabled}
	if isJSON(contentType) && len(bytes.TrimSpace(data)) > 0 {
		if !json.Valid(data) {
			return nil, &DecodeError{Err: fmt.Errorf("protection response is not valid JSON")}
		}
		res.JSON = json.RawMessage(data)
		return res, nil
	}
	res.Text = strings.TrimSpace(string(data))
	return res, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) (string, error) {
	data, contentType, err := c.do(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return contentType, &DecodeError{Err: err}
	}
	return contentType, nil
}

// do issues one request and returns the body and content type of a 2xx response
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}

	c.mu.RLock()
	req.SetBasicAuth(c.username, c.password)
	c.mu.RUnlock()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := utils.ReadAllLimited(resp.Body, utils.MaxResponseBodySize)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("AdGuard Home request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(data), 256),
		}
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
