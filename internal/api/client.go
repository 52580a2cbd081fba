package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"adgmanager/internal/connection"
	"adgmanager/internal/utils"
)

// Client talks to a running agent's control API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health calls the public health endpoint
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Send delivers one message. A failed action comes back as a response with
// Success false, not as an error.
func (c *Client) Send(ctx context.Context, req connection.Request) (*connection.Response, error) {
	var resp connection.Response
	if err := c.do(ctx, http.MethodPost, "/api/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Call sends a message and decodes its data into out. A failed action is
// returned as *ResponseError.
func (c *Client) Call(ctx context.Context, req connection.Request, out interface{}) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == nil {
			return &ResponseError{Body: connection.ErrorBody{Code: connection.CodeInternal, Message: "request failed"}}
		}
		return &ResponseError{Body: *resp.Error}
	}
	if out == nil || resp.Data == nil {
		return nil
	}

	// Data arrives as generic JSON, round trip it into the caller's type
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ResponseError is a failed action reported by the agent
type ResponseError struct {
	Body connection.ErrorBody
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Body.Code, e.Body.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", bearerPrefix+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := utils.ReadAllLimited(resp.Body, utils.MaxResponseBodySize)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("agent rejected the API token, run 'adgmanager auth show' on the agent host")
	case resp.StatusCode >= 300 && !json.Valid(data):
		return fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
