// Package remote talks to a running customize-rest server: its REST routes,
// its editor endpoints and its sync relay.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xwp/wp-customize-rest-resources/adapters/websocket"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

// Client provides HTTP communication with a customize-rest server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mount      string
	settings   websocket.Settings
}

// ClientConfig configures the remote client.
type ClientConfig struct {
	// BaseURL is the server origin, e.g. http://localhost:8080.
	BaseURL string

	// Mount is the REST API prefix, "/wp-json" by default.
	Mount string

	Timeout time.Duration

	// Sync configures the relay websockets.
	Sync websocket.Settings
}

// Session is a sync session opened on the server.
type Session struct {
	ID      string `json:"session"`
	Preview string `json:"preview"`
	Panel   string `json:"panel"`
}

// NewClient creates a new remote client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "/wp-json"
	}
	settings := cfg.Sync
	if settings == (websocket.Settings{}) {
		settings = websocket.DefaultSettings()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		mount:      "/" + strings.Trim(mount, "/"),
		settings:   settings,
	}
}

// Request sends a JSON request to path and decodes the JSON response into
// result. Error statuses come back as *RemoteError.
func (c *Client) Request(ctx context.Context, method, path string, body, result any) error {
	_, err := c.do(ctx, method, path, body, result)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) (http.Header, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", rest.ContentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", rest.ContentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, newRemoteError(resp.StatusCode, data)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

// Get reads a REST route in the edit context with embedded resources. A
// non-empty customized document is previewed on the response.
func (c *Client) Get(ctx context.Context, route string, customized []byte) (http.Header, any, error) {
	q := url.Values{}
	q.Set("context", rest.EditContext)
	q.Set("_embed", "1")
	if len(customized) > 0 {
		q.Set("customized", string(customized))
	}
	path := c.mount + "/" + strings.Trim(route, "/") + "?" + q.Encode()

	var data any
	header, err := c.do(ctx, http.MethodGet, path, nil, &data)
	if err != nil {
		return nil, nil, err
	}
	return header, data, nil
}

// CreateSession opens a sync session.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var s Session
	if err := c.Request(ctx, http.MethodPost, "/customize/sessions", nil, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Dial attaches a websocket to a relay path returned by CreateSession.
func (c *Client) Dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u := c.baseURL + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return websocket.Dial(ctx, u, c.settings)
}

// Save commits staged settings through the server's save endpoint.
func (c *Client) Save(ctx context.Context, staged *app.Overrides) (*app.SaveResult, error) {
	return c.process(ctx, "/customize/save", staged)
}

// Validate runs strict validation over staged settings on the server.
func (c *Client) Validate(ctx context.Context, staged *app.Overrides) (*app.SaveResult, error) {
	return c.process(ctx, "/customize/validate", staged)
}

func (c *Client) process(ctx context.Context, path string, staged *app.Overrides) (*app.SaveResult, error) {
	body := map[string]any{"customized": map[string]any{}}
	if staged != nil {
		body["customized"] = staged
	}
	var result app.SaveResult
	if err := c.Request(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RemoteError represents an error status from the server.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func newRemoteError(status int, body []byte) *RemoteError {
	e := &RemoteError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var restErr rest.Error
	if json.Unmarshal(body, &restErr) == nil && restErr.Code != "" {
		e.Code, e.Message = restErr.Code, restErr.Message
	}
	return e
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
