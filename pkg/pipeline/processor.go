package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/taskbridge/taskbridge/pkg/analyzer"
	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/notion"
	"github.com/taskbridge/taskbridge/pkg/source"
	"github.com/taskbridge/taskbridge/pkg/usermap"
)

// FlowResolver resolves a routing key to its flow or legacy config.
type FlowResolver interface {
	Resolve(ctx context.Context, sourceType models.SourceType, routingKey string) (*flow.Resolution, error)
}

// MappingLoader loads the per-discussion user-mapping snapshot.
type MappingLoader interface {
	Load(ctx context.Context, tenantID string, sourceType models.SourceType, workspaceID string) (*usermap.Snapshot, error)
}

// Analyzer produces the summary and task detection for a thread.
type Analyzer interface {
	Analyze(ctx context.Context, thread *models.Thread, opts analyzer.Options) (*models.AnalysisResult, error)
}

// DiscussionStore is the discussion-row persistence surface the pipeline uses.
type DiscussionStore interface {
	Create(ctx context.Context, d *models.Discussion) (*models.Discussion, error)
	Get(ctx context.Context, id string) (*models.Discussion, error)
	SetStatus(ctx context.Context, id string, status models.DiscussionStatus) error
	SetSyncJob(ctx context.Context, id, jobID string) error
	UpdateThread(ctx context.Context, id string, authorHandle string, participants []string, threadData json.RawMessage, sourceThreadID, sourceURL string) error
	UpdateAnalysis(ctx context.Context, id string, summary string, keyPoints []string, tasks json.RawMessage) error
	SetTaskRecords(ctx context.Context, id string, taskRecordIDs []string) error
	SetFailed(ctx context.Context, id string, errMsg string) error
}

// JobStore is the ledger surface the pipeline uses.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) (*models.Job, error)
	SetStage(ctx context.Context, id string, stage models.JobStage) error
	SetDiscussion(ctx context.Context, id, discussionID string) error
	Complete(ctx context.Context, id string, taskIDs []string, processingTime time.Duration, outputErrors []string) error
	Fail(ctx context.Context, id string, errMsg, errStack string, taskIDs []string) error
}

// TaskStore persists the created-task index.
type TaskStore interface {
	CreateBatch(ctx context.Context, records []*models.TaskRecord) ([]string, error)
}

// TaskWriter writes one task page to a knowledge-base output.
type TaskWriter interface {
	WriteTask(ctx context.Context, task *models.DetectedTask, pc *notion.PageContext) (*models.TaskRef, error)
}

// AdapterFactory builds the source adapter for a flow input.
type AdapterFactory func(input *models.FlowInput) (source.Adapter, error)

// WriterFactory builds the task writer for one output configuration.
type WriterFactory func(cfg *notion.OutputConfig) TaskWriter

// Processor executes the six-stage pipeline for one discussion at a time.
// Safe for concurrent use; each Process call is an independent pipeline
// instance sharing only the analyzer cache.
type Processor struct {
	resolver    FlowResolver
	mappings    MappingLoader
	analyzer    Analyzer
	discussions DiscussionStore
	jobs        JobStore
	tasks       TaskStore
	newAdapter  AdapterFactory
	newWriter   WriterFactory
	logger      *slog.Logger
}

// Deps bundles the processor's collaborators. NewAdapter and NewWriter
// default to the real source and notion constructors when nil.
type Deps struct {
	Resolver    FlowResolver
	Mappings    MappingLoader
	Analyzer    Analyzer
	Discussions DiscussionStore
	Jobs        JobStore
	Tasks       TaskStore
	NewAdapter  AdapterFactory
	NewWriter   WriterFactory
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps) *Processor {
	if deps.NewAdapter == nil {
		deps.NewAdapter = source.New
	}
	if deps.NewWriter == nil {
		deps.NewWriter = func(cfg *notion.OutputConfig) TaskWriter {
			return notion.NewWriter(cfg)
		}
	}
	return &Processor{
		resolver:    deps.Resolver,
		mappings:    deps.Mappings,
		analyzer:    deps.Analyzer,
		discussions: deps.Discussions,
		jobs:        deps.Jobs,
		tasks:       deps.Tasks,
		newAdapter:  deps.NewAdapter,
		newWriter:   deps.NewWriter,
		logger:      slog.Default().With("component", "pipeline"),
	}
}

// Outcome reports what one pipeline run produced.
type Outcome struct {
	JobID         string   `json:"job_id"`
	DiscussionID  string   `json:"discussion_id"`
	TaskRecordIDs []string `json:"task_record_ids,omitempty"`
	TaskURLs      []string `json:"task_urls,omitempty"`
}

// Process runs the full pipeline for one incoming webhook payload.
func (p *Processor) Process(ctx context.Context, sourceType models.SourceType, payload []byte) (*Outcome, error) {
	parsed, err := source.Parse(sourceType, payload)
	if err != nil {
		return nil, stageError(models.StageIngestion, err)
	}
	return p.run(ctx, parsed, nil, false)
}

// Retry reprocesses a discussion under a brand-new job row. The stored raw
// payload is re-parsed and the persisted thread snapshot, when present, is
// reused instead of refetching from the source.
func (p *Processor) Retry(ctx context.Context, discussionID string) (*Outcome, error) {
	d, err := p.discussions.Get(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	parsed, err := source.Parse(d.SourceType, d.RawPayload)
	if err != nil {
		return nil, stageError(models.StageIngestion, err)
	}
	return p.run(ctx, parsed, d, true)
}

// run drives the stages. existing is non-nil on retries: the discussion row
// is reused while the job ledger gets a fresh row.
func (p *Processor) run(ctx context.Context, parsed *models.ParsedDiscussion, existing *models.Discussion, isRetry bool) (*Outcome, error) {
	start := time.Now()

	// Stage 1: ingestion and validation.
	if err := validateParsed(parsed); err != nil {
		return nil, stageError(models.StageIngestion, err)
	}

	// Stage 2: flow resolution. Failures here predate the job row, so they
	// surface directly to the webhook caller.
	res, err := p.resolver.Resolve(ctx, parsed.SourceType, parsed.TeamID)
	if err != nil {
		return nil, stageError(models.StageIngestion, err)
	}

	adapter, err := p.newAdapter(inputFor(res))
	if err != nil {
		return nil, stageError(models.StageIngestion, err)
	}

	// Early "seen" marker, best-effort.
	if err := adapter.UpdateStatus(ctx, parsed.SourceThreadID, source.StatusPending); err != nil {
		p.logger.Warn("Failed to set pending marker", "thread_id", parsed.SourceThreadID, "error", err)
	}

	job, err := p.createJob(ctx, res, isRetry)
	if err != nil {
		return nil, stageError(models.StageIngestion, err)
	}

	outcome := &Outcome{JobID: job.ID}
	d, err := p.openDiscussion(ctx, parsed, res, job, existing)
	if err != nil {
		return outcome, p.fail(ctx, adapter, job, nil, nil, stageError(models.StageIngestion, err))
	}
	outcome.DiscussionID = d.ID

	// Stage 2.5: user-mapping prefetch, held for stages 3-5.
	snapshot, err := p.loadMappings(ctx, res, parsed)
	if err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageIngestion, err))
	}

	// Stage 3: thread building.
	if err := p.jobs.SetStage(ctx, job.ID, models.StageThreadBuilding); err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageThreadBuilding, err))
	}
	thread, err := p.buildThread(ctx, adapter, parsed, existing, isRetry, snapshot, res, d)
	if err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageThreadBuilding, err))
	}

	// Re-emit the pending marker on the canonical thread id (email threads
	// learn their final id only now).
	if thread.SourceThreadID != parsed.SourceThreadID {
		if err := adapter.UpdateStatus(ctx, thread.SourceThreadID, source.StatusPending); err != nil {
			p.logger.Warn("Failed to re-emit pending marker", "thread_id", thread.SourceThreadID, "error", err)
		}
	}

	// Stage 4: AI analysis.
	if err := p.jobs.SetStage(ctx, job.ID, models.StageAIAnalysis); err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageAIAnalysis, err))
	}
	result, err := p.analyze(ctx, res, thread, d)
	if err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageAIAnalysis, err))
	}

	// Stage 5: task creation fan-out.
	if err := p.jobs.SetStage(ctx, job.ID, models.StageTaskCreation); err != nil {
		return outcome, p.fail(ctx, adapter, job, d, nil, stageError(models.StageTaskCreation, err))
	}
	recordIDs, urls, outputFaults, err := p.createTasks(ctx, res, thread, result, snapshot, job, d)
	outcome.TaskRecordIDs = recordIDs
	outcome.TaskURLs = urls
	if err != nil {
		return outcome, p.fail(ctx, adapter, job, d, recordIDs, stageError(models.StageTaskCreation, err))
	}

	// Stage 6: notification, best-effort throughout.
	if err := p.jobs.SetStage(ctx, job.ID, models.StageNotification); err != nil {
		p.logger.Warn("Failed to record notification stage", "job_id", job.ID, "error", err)
	}
	p.notify(ctx, adapter, thread.SourceThreadID, urls)

	// Finalization. Partial-output faults ride along so the completed row
	// shows which outputs received nothing.
	if err := p.jobs.Complete(ctx, job.ID, recordIDs, time.Since(start), outputFaults); err != nil {
		p.logger.Error("Failed to finalize job", "job_id", job.ID, "error", err)
	}
	if err := p.discussions.SetStatus(ctx, d.ID, models.DiscussionStatusCompleted); err != nil {
		p.logger.Error("Failed to finalize discussion", "discussion_id", d.ID, "error", err)
	}

	p.logger.Info("Pipeline completed",
		"job_id", job.ID,
		"discussion_id", d.ID,
		"tasks", len(recordIDs),
		"duration_ms", time.Since(start).Milliseconds())
	return outcome, nil
}

func validateParsed(parsed *models.ParsedDiscussion) error {
	if !parsed.SourceType.Valid() {
		return &source.ParseError{Message: fmt.Sprintf("unknown source type %q", parsed.SourceType)}
	}
	required := map[string]string{
		"source_thread_id": parsed.SourceThreadID,
		"team_id":          parsed.TeamID,
		"content":          parsed.Content,
	}
	// Event-style email webhooks deliver only a message id; the body is
	// fetched from the email provider during thread building.
	if parsed.SourceType == models.SourceTypeDesignEmail {
		if id, _ := parsed.Metadata["message_id"].(string); id != "" {
			delete(required, "content")
		}
	}
	for field, v := range required {
		if v == "" {
			return &Error{
				Kind:  KindValidation,
				Stage: models.StageIngestion,
				Err:   fmt.Errorf("required field %s is empty", field),
			}
		}
	}
	return nil
}

// inputFor normalizes the discriminated resolution into the input shape the
// adapter factory consumes.
func inputFor(res *flow.Resolution) *models.FlowInput {
	if res.Legacy != nil {
		return &models.FlowInput{
			ID:             res.Legacy.ID,
			SourceType:     res.Legacy.SourceType,
			APIToken:       res.Legacy.APIToken,
			SourceMetadata: res.Legacy.SourceMetadata,
		}
	}
	return res.Flow.MatchedInput
}

func (p *Processor) createJob(ctx context.Context, res *flow.Resolution, isRetry bool) (*models.Job, error) {
	job := &models.Job{
		TenantID: res.TenantID(),
		InputID:  inputFor(res).ID,
	}
	if res.Flow != nil {
		job.FlowID = &res.Flow.Flow.ID
	}
	if isRetry {
		job.Metadata = models.JSONMap{"isRetry": true}
	}
	return p.jobs.Create(ctx, job)
}

func (p *Processor) openDiscussion(ctx context.Context, parsed *models.ParsedDiscussion, res *flow.Resolution, job *models.Job, existing *models.Discussion) (*models.Discussion, error) {
	var d *models.Discussion
	if existing != nil {
		d = existing
		if err := p.discussions.SetStatus(ctx, d.ID, models.DiscussionStatusProcessing); err != nil {
			return nil, err
		}
	} else {
		candidate := &models.Discussion{
			TenantID:       res.TenantID(),
			SourceType:     parsed.SourceType,
			SourceThreadID: parsed.SourceThreadID,
			SourceURL:      parsed.SourceURL,
			FlowID:         job.FlowID,
			InputID:        job.InputID,
			Title:          parsed.Title,
			Content:        parsed.Content,
			AuthorHandle:   parsed.AuthorHandle,
			Participants:   models.StringList(parsed.Participants),
			Status:         models.DiscussionStatusProcessing,
			RawPayload:     parsed.RawPayload,
		}
		created, err := p.discussions.Create(ctx, candidate)
		if err != nil {
			return nil, err
		}
		d = created
	}

	if err := p.jobs.SetDiscussion(ctx, job.ID, d.ID); err != nil {
		return nil, err
	}
	if err := p.discussions.SetSyncJob(ctx, d.ID, job.ID); err != nil {
		return nil, err
	}
	job.DiscussionID = &d.ID
	return d, nil
}

// loadMappings builds the per-discussion snapshot. The legacy path predates
// user mapping and gets an empty snapshot.
func (p *Processor) loadMappings(ctx context.Context, res *flow.Resolution, parsed *models.ParsedDiscussion) (*usermap.Snapshot, error) {
	if res.Legacy != nil {
		return usermap.EmptySnapshot(), nil
	}
	workspaceID := res.Flow.MatchedInput.SourceMetadata.GetString("workspace_id")
	if workspaceID == "" {
		workspaceID = parsed.TeamID
	}
	return p.mappings.Load(ctx, res.TenantID(), parsed.SourceType, workspaceID)
}

func (p *Processor) buildThread(ctx context.Context, adapter source.Adapter, parsed *models.ParsedDiscussion, existing *models.Discussion, isRetry bool, snapshot *usermap.Snapshot, res *flow.Resolution, d *models.Discussion) (*models.Thread, error) {
	var thread *models.Thread
	if isRetry && existing != nil && len(existing.ThreadData) > 0 {
		thread = &models.Thread{}
		if err := json.Unmarshal(existing.ThreadData, thread); err != nil {
			return nil, fmt.Errorf("stored thread snapshot is corrupt: %w", err)
		}
	} else {
		fetched, err := adapter.FetchThread(ctx, parsed)
		if err != nil {
			return nil, err
		}
		thread = fetched
	}

	rewriter := usermap.NewRewriter(snapshot, botIdentity(res))
	rewriter.RewriteThread(thread)

	threadData, err := json.Marshal(thread)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thread snapshot: %w", err)
	}

	authorHandle := thread.Root.AuthorName
	if authorHandle == "" {
		authorHandle = parsed.AuthorHandle
	}
	sourceURL := thread.SourceURL
	if sourceURL == "" {
		sourceURL = parsed.SourceURL
		thread.SourceURL = sourceURL
	}

	if err := p.discussions.UpdateThread(ctx, d.ID, authorHandle, thread.Participants, threadData, thread.SourceThreadID, sourceURL); err != nil {
		return nil, err
	}
	// Keep the in-memory copy on the canonical thread id, so later failure
	// markers target the thread the store now points at rather than the
	// provisional id from parsing.
	d.SourceThreadID = thread.SourceThreadID
	d.SourceURL = sourceURL
	return thread, nil
}

// botIdentity extracts the pipeline's own identity from the matched input's
// metadata, for self-mention stripping.
func botIdentity(res *flow.Resolution) usermap.BotIdentity {
	meta := inputFor(res).SourceMetadata
	return usermap.BotIdentity{
		UserID: meta.GetString("bot_user_id"),
		Handle: meta.GetString("bot_handle"),
	}
}

func (p *Processor) analyze(ctx context.Context, res *flow.Resolution, thread *models.Thread, d *models.Discussion) (*models.AnalysisResult, error) {
	opts := analyzer.Options{}
	if res.Flow != nil {
		f := res.Flow.Flow
		if !f.AIEnabled {
			p.logger.Info("AI analysis disabled for flow, skipping", "flow_id", f.ID)
			return &models.AnalysisResult{}, nil
		}
		opts.SummaryTemplate = f.SummaryPromptTemplate
		opts.TaskTemplate = f.TaskPromptTemplate
		opts.AvailableDomains = f.AvailableDomains
	}

	result, err := p.analyzer.Analyze(ctx, thread, opts)
	if err != nil {
		return nil, err
	}

	tasksJSON, err := json.Marshal(result.TaskDetection)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task detection: %w", err)
	}
	if err := p.discussions.UpdateAnalysis(ctx, d.ID, result.Summary.Text, result.Summary.KeyPoints, tasksJSON); err != nil {
		return nil, err
	}
	return result, nil
}

// fail finalizes the job and discussion after a stage 1-5 failure and sets
// the failed marker on the source thread, best-effort.
func (p *Processor) fail(ctx context.Context, adapter source.Adapter, job *models.Job, d *models.Discussion, taskIDs []string, pipeErr *Error) error {
	p.logger.Error("Pipeline failed",
		"job_id", job.ID,
		"stage", pipeErr.Stage,
		"kind", pipeErr.Kind,
		"error", pipeErr.Err)

	if err := p.jobs.Fail(ctx, job.ID, pipeErr.Error(), string(debug.Stack()), taskIDs); err != nil {
		p.logger.Error("Failed to record job failure", "job_id", job.ID, "error", err)
	}
	if d != nil {
		if err := p.discussions.SetFailed(ctx, d.ID, pipeErr.Error()); err != nil {
			p.logger.Error("Failed to record discussion failure", "discussion_id", d.ID, "error", err)
		}
		if err := adapter.RemoveStatus(ctx, d.SourceThreadID, source.StatusPending); err != nil {
			p.logger.Warn("Failed to remove pending marker", "error", err)
		}
		if err := adapter.UpdateStatus(ctx, d.SourceThreadID, source.StatusFailed); err != nil {
			p.logger.Warn("Failed to set failed marker", "error", err)
		}
	}
	return pipeErr
}
