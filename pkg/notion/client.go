// Package notion writes task pages to the knowledge-base API and verifies
// output connections. One Client per flow output, configured from the
// output's connection settings.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskbridge/taskbridge/pkg/retry"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	connectionTestTimeout = 10 * time.Second
)

// Client is a minimal knowledge-base API client covering page creation and
// the database connection test.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client authenticated with the given integration token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		logger:     slog.Default().With("component", "notion-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageRef identifies a created page.
type PageRef struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_time"`
}

// createPageRequest is the POST /v1/pages body.
type createPageRequest struct {
	Parent     map[string]string `json:"parent"`
	Properties map[string]any    `json:"properties"`
	Children   []Block           `json:"children,omitempty"`
}

// CreatePage creates one page under the database with the given properties
// and block body, returning the new page's id and URL.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any, children []Block) (*PageRef, error) {
	body := createPageRequest{
		Parent:     map[string]string{"database_id": databaseID},
		Properties: properties,
		Children:   children,
	}
	var ref PageRef
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// TestConnection verifies the token can reach the target database. Used by
// the output connection-test endpoint before an output is activated.
func (c *Client) TestConnection(ctx context.Context, databaseID string) error {
	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &retry.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       truncate(string(payload), 512),
		}
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
