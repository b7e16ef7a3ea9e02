// Package source implements the upstream platform adapters: parsing incoming
// webhooks, fetching full threads, posting replies, and setting status
// markers. One adapter instance is bound to one flow input's credentials.
package source

import (
	"context"
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// Status is a visible processing marker on the originating thread.
type Status string

// Thread status markers.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseError indicates an incoming payload lacks mandatory fields.
// Non-retryable: the payload will never get better.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Message
}

// Adapter is the capability set every source platform implements.
// ParseIncoming is pure; the remaining operations may touch the network.
// PostReply, UpdateStatus, and RemoveStatus are best-effort from the
// pipeline's perspective: callers log failures and move on.
type Adapter interface {
	SourceType() models.SourceType

	// ParseIncoming extracts a normalized discussion from a webhook payload.
	ParseIncoming(payload []byte) (*models.ParsedDiscussion, error)

	// FetchThread returns the root message, ordered replies, and the deduped
	// participant list for the parsed discussion.
	FetchThread(ctx context.Context, parsed *models.ParsedDiscussion) (*models.Thread, error)

	// PostReply posts text as a reply on the thread.
	PostReply(ctx context.Context, threadID, text string) error

	// UpdateStatus sets a visible marker on the thread. Applying a marker
	// that is already present is not an error.
	UpdateStatus(ctx context.Context, threadID string, status Status) error

	// RemoveStatus removes a previously applied marker.
	RemoveStatus(ctx context.Context, threadID string, status Status) error
}

// Parse runs the pure parsing step for a source type without credentials.
// Used by webhook handlers, which must extract the routing key before any
// flow input (and its token) is known.
func Parse(sourceType models.SourceType, payload []byte) (*models.ParsedDiscussion, error) {
	switch sourceType {
	case models.SourceTypeChat:
		return (&ChatAdapter{}).ParseIncoming(payload)
	case models.SourceTypeDesignEmail:
		return (&EmailAdapter{meta: &models.EmailSourceMetadata{}}).ParseIncoming(payload)
	default:
		return nil, fmt.Errorf("unsupported source type %q", sourceType)
	}
}

// New builds the adapter for a flow input, binding its token and metadata.
func New(input *models.FlowInput) (Adapter, error) {
	switch input.SourceType {
	case models.SourceTypeChat:
		meta, err := models.ParseChatMetadata(input.SourceMetadata)
		if err != nil {
			return nil, fmt.Errorf("invalid chat input metadata: %w", err)
		}
		return NewChatAdapter(input.APIToken, meta), nil
	case models.SourceTypeDesignEmail:
		meta := models.ParseEmailMetadata(input.SourceMetadata)
		return NewEmailAdapter(input.APIToken, meta), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", input.SourceType)
	}
}

// NewFromLegacyConfig builds the adapter for a legacy config record.
func NewFromLegacyConfig(cfg *models.LegacyConfig) (Adapter, error) {
	return New(&models.FlowInput{
		SourceType:     cfg.SourceType,
		APIToken:       cfg.APIToken,
		SourceMetadata: cfg.SourceMetadata,
	})
}
