package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskbridge/taskbridge/pkg/retry"
)

// providerEmail is a stored message fetched from the email provider.
type providerEmail struct {
	MessageID string   `json:"message_id"`
	To        []string `json:"to"`
	From      string   `json:"from"`
	Subject   string   `json:"subject"`
	Text      string   `json:"text"`
}

// emailProviderClient fetches stored messages from the inbound email
// provider. Event-style webhooks deliver only a message id; the body comes
// from GET /emails/{id}.
type emailProviderClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newEmailProviderClient(baseURL, apiKey string) *emailProviderClient {
	return &emailProviderClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// GetEmail fetches one stored message by id.
func (c *emailProviderClient) GetEmail(ctx context.Context, id string) (*providerEmail, error) {
	path := "/emails/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
		}
	}

	var msg providerEmail
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return &msg, nil
}
