// Package analyzer produces a structured summary, task list, and domain tags
// for a discussion thread using the Claude Messages API, with a content-hash
// cache in front.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/retry"
)

// Token caps per call.
const (
	summaryMaxTokens = 1024
	taskMaxTokens    = 2048
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// analyzer. Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options carries the per-flow analysis configuration.
type Options struct {
	SummaryTemplate  *string
	TaskTemplate     *string
	AvailableDomains []string
}

// Analyzer runs the two-prompt analysis with caching and retries.
type Analyzer struct {
	client   MessagesClient
	model    string
	cache    *Cache
	retryCfg retry.Config
	logger   *slog.Logger
}

// Config controls analyzer construction.
type Config struct {
	APIKey   string
	Model    string
	CacheTTL time.Duration
	CacheMax int
}

// New creates an analyzer backed by the Anthropic API.
func New(cfg Config) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewWithClient(&client.Messages, cfg), nil
}

// NewWithClient creates an analyzer over a pre-built messages client.
// Useful for testing with a mock.
func NewWithClient(client MessagesClient, cfg Config) *Analyzer {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Analyzer{
		client:   client,
		model:    cfg.Model,
		cache:    NewCache(ttl, cfg.CacheMax),
		retryCfg: retry.DefaultConfig(),
		logger:   slog.Default().With("component", "analyzer"),
	}
}

// Analyze runs both prompts for a thread. A cache hit within the TTL
// short-circuits both calls and returns Cached=true.
func (a *Analyzer) Analyze(ctx context.Context, thread *models.Thread, opts Options) (*models.AnalysisResult, error) {
	key := ContentKey(thread)
	if cached, ok := a.cache.Get(key); ok {
		cached.Cached = true
		a.logger.Info("Analysis cache hit", "thread_id", thread.SourceThreadID)
		return &cached, nil
	}

	start := time.Now()
	serialized := SerializeThread(thread)

	summary, err := a.runSummary(ctx, serialized, opts)
	if err != nil {
		return nil, err
	}
	detection, err := a.runTaskDetection(ctx, serialized, opts)
	if err != nil {
		return nil, err
	}

	result := models.AnalysisResult{
		Summary:          *summary,
		TaskDetection:    *detection,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	a.cache.Set(key, result)

	a.logger.Info("Analysis complete",
		"thread_id", thread.SourceThreadID,
		"tasks", len(detection.Tasks),
		"processing_time_ms", result.ProcessingTimeMs)
	return &result, nil
}

func (a *Analyzer) runSummary(ctx context.Context, serialized string, opts Options) (*models.ThreadSummary, error) {
	prompt := buildPrompt(opts.SummaryTemplate, defaultSummaryPrompt, serialized, opts.AvailableDomains)

	var summary *models.ThreadSummary
	err := a.withParseRetry(ctx, summaryMaxTokens, prompt, func(raw string) error {
		parsed, err := parseSummary(raw)
		if err != nil {
			return err
		}
		summary = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summary analysis failed: %w", err)
	}
	return summary, nil
}

func (a *Analyzer) runTaskDetection(ctx context.Context, serialized string, opts Options) (*models.TaskDetection, error) {
	prompt := buildPrompt(opts.TaskTemplate, defaultTaskPrompt, serialized, opts.AvailableDomains)

	var detection *models.TaskDetection
	err := a.withParseRetry(ctx, taskMaxTokens, prompt, func(raw string) error {
		parsed, err := parseTaskDetection(raw)
		if err != nil {
			return err
		}
		detection = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("task detection failed: %w", err)
	}
	return detection, nil
}

// withParseRetry performs one model call (itself retried for transport
// errors) and parses the response. A malformed response earns exactly one
// fresh call before the error propagates.
func (a *Analyzer) withParseRetry(ctx context.Context, maxTokens int64, prompt string, parse func(raw string) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := a.complete(ctx, maxTokens, prompt)
		if err != nil {
			return err
		}
		if err := parse(raw); err != nil {
			var analysisErr *AnalysisError
			if errors.As(err, &analysisErr) {
				a.logger.Warn("Malformed model response, retrying once",
					"attempt", attempt, "error", err)
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// complete issues one Messages API call under the retry helper.
func (a *Analyzer) complete(ctx context.Context, maxTokens int64, prompt string) (string, error) {
	var raw string
	err := retry.Do(ctx, a.retryCfg, func(callCtx context.Context) error {
		msg, err := a.client.New(callCtx, sdk.MessageNewParams{
			MaxTokens: maxTokens,
			Model:     sdk.Model(a.model),
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return classifySDKError(err)
		}
		raw = textContent(msg)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return raw, nil
}

// textContent concatenates the text blocks of a response.
func textContent(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// classifySDKError maps SDK errors onto the retry taxonomy.
func classifySDKError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &retry.HTTPStatusError{
			StatusCode: apiErr.StatusCode,
			Endpoint:   "messages",
		}
	}
	return err
}
