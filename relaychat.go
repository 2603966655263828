// Package relaychat is a Go client for the relaychat messaging backend.
//
// It keeps a local, deduplicated, ordered view of every conversation in
// sync with the server: an initial REST history snapshot seeds the view,
// and live create/update/delete events streamed over a per-user STOMP
// subscription keep it current, surviving connection loss with automatic
// reconnection.
//
// Example:
//
//	client := relaychat.NewClient("http://localhost:8080")
//	session := relaychat.NewSession(client)
//
//	if err := session.Login(ctx, "alice", "secret"); err != nil {
//		log.Fatal(err)
//	}
//	defer session.Logout()
//
//	session.SendMessage("bob", "hello")
//	for _, m := range session.MessagesByUser("bob") {
//		fmt.Println(m.Sender, m.Content)
//	}
package relaychat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the chat backend's HTTP endpoints: auth,
// the user directory, and the bulk message history.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient creates a new REST client for the given backend base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or replaces the bearer credential attached to requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Auth endpoints
// ============================================================================

// Login authenticates a username/password pair and returns the bearer
// token the backend issued. The token is also retained on the client for
// subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/auth/login", Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[AuthResult](data)
	if err != nil {
		return nil, err
	}
	c.token = result.Token
	return result, nil
}

// Register creates a new account and, like Login, retains the issued token.
func (c *Client) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/auth/register", Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[AuthResult](data)
	if err != nil {
		return nil, err
	}
	c.token = result.Token
	return result, nil
}

// ============================================================================
// Directory and history endpoints
// ============================================================================

// Users fetches every registered username, including the caller's own.
func (c *Client) Users(ctx context.Context) ([]string, error) {
	data, err := c.doRequest(ctx, "GET", "/auth/all-user", nil)
	if err != nil {
		return nil, err
	}
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return users, nil
}

// History fetches the complete message history for the authenticated user,
// all conversations combined, in one bulk call.
func (c *Client) History(ctx context.Context) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/chat/history", nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return msgs, nil
}
