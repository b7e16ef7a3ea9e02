package notion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/retry"
)

const (
	// minWriteGap is the minimum spacing between successive page writes in
	// one batch, keeping well under the API's rate limit.
	minWriteGap = 200 * time.Millisecond

	writeTimeout = 15 * time.Second
)

// Writer creates one page per detected task against a single output,
// serially with rate-limit pacing. Rate-limited calls are retried with
// backoff; the first non-retryable error aborts the remainder of the batch.
// Pages already written stay written.
type Writer struct {
	client    *Client
	cfg       *OutputConfig
	retryCfg  retry.Config
	logger    *slog.Logger
	lastWrite time.Time
}

// NewWriter builds a writer for one flow output.
func NewWriter(cfg *OutputConfig, opts ...Option) *Writer {
	retryCfg := retry.DefaultConfig()
	retryCfg.CallTimeout = writeTimeout
	return &Writer{
		client:   NewClient(cfg.AccessToken, opts...),
		cfg:      cfg,
		retryCfg: retryCfg,
		logger:   slog.Default().With("component", "task-writer"),
	}
}

// WriteTask creates one task page, pacing against the previous write.
func (w *Writer) WriteTask(ctx context.Context, task *models.DetectedTask, pc *PageContext) (*models.TaskRef, error) {
	if err := w.pace(ctx); err != nil {
		return nil, err
	}

	properties := BuildProperties(task, w.cfg, pc.Resolver)
	children := BuildPageBody(task, pc)

	var ref *PageRef
	err := retry.Do(ctx, w.retryCfg, func(callCtx context.Context) error {
		created, err := w.client.CreatePage(callCtx, w.cfg.DatabaseID, properties, children)
		if err != nil {
			return err
		}
		ref = created
		return nil
	})
	w.lastWrite = time.Now()
	if err != nil {
		return nil, fmt.Errorf("failed to create task page %q: %w", task.Title, err)
	}

	w.logger.Info("Task page created",
		"page_id", ref.ID,
		"database_id", w.cfg.DatabaseID,
		"title", task.Title)

	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &models.TaskRef{
		ID:        ref.ID,
		URL:       ref.URL,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}, nil
}

// TestConnection proxies the client's connection test for this output.
func (w *Writer) TestConnection(ctx context.Context) error {
	return w.client.TestConnection(ctx, w.cfg.DatabaseID)
}

// pace sleeps out the remainder of the write gap since the previous write.
func (w *Writer) pace(ctx context.Context) error {
	if w.lastWrite.IsZero() {
		return nil
	}
	wait := minWriteGap - time.Since(w.lastWrite)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
