package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskbridge/taskbridge/pkg/retry"
)

const defaultDesignBaseURL = "https://api.figma.com"

// designComment is one comment in a design file's comment list.
type designComment struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Message  string `json:"message"`
	User     struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"user"`
	CreatedAt string `json:"created_at"`
}

// designClient is a minimal design-tool API client covering the comment
// endpoints the adapter needs.
type designClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// DesignOption customizes the design-tool client.
type DesignOption func(*designClient)

// WithDesignBaseURL overrides the API endpoint. Used in tests.
func WithDesignBaseURL(url string) DesignOption {
	return func(c *designClient) { c.baseURL = url }
}

func newDesignClient(token string, opts ...DesignOption) *designClient {
	c := &designClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultDesignBaseURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetComments lists all comments on a file.
func (c *designClient) GetComments(ctx context.Context, fileKey string) ([]designComment, error) {
	var out struct {
		Comments []designComment `json:"comments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileKey)+"/comments", nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

// PostComment posts a comment on a file, as a reply when parentID is set.
func (c *designClient) PostComment(ctx context.Context, fileKey, message, parentID string) error {
	body := map[string]string{"message": message}
	if parentID != "" {
		body["comment_id"] = parentID
	}
	return c.do(ctx, http.MethodPost, "/v1/files/"+url.PathEscape(fileKey)+"/comments", body, nil)
}

// AddReaction adds an emoji reaction to a comment. A reaction that is
// already present (409) is not an error.
func (c *designClient) AddReaction(ctx context.Context, commentID, emoji string) error {
	err := c.do(ctx, http.MethodPost, "/v1/comments/"+url.PathEscape(commentID)+"/reactions",
		map[string]string{"emoji": emoji}, nil)
	if hasStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// RemoveReaction removes an emoji reaction from a comment. An absent
// reaction (404) is not an error.
func (c *designClient) RemoveReaction(ctx context.Context, commentID, emoji string) error {
	path := "/v1/comments/" + url.PathEscape(commentID) + "/reactions?emoji=" + url.QueryEscape(emoji)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (c *designClient) do(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("X-Figma-Token", c.token)
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
		}
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

func hasStatus(err error, code int) bool {
	var httpErr *retry.HTTPStatusError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}
