package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/notion"
	"github.com/taskbridge/taskbridge/pkg/source"
	"github.com/taskbridge/taskbridge/pkg/usermap"
)

// legacyOutputID keys the writer cache for the legacy single-output path.
const legacyOutputID = "legacy"

// createTasks fans detected tasks out to the flow's outputs, writes pages
// serially per output, then persists TaskRecord rows in one pass and stores
// their ids on the discussion. Per-task and per-output failures are recorded
// and do not abort siblings; the stage fails only when every write failed.
// The third return value lists the recorded faults so the caller can persist
// them on the job it finalizes.
func (p *Processor) createTasks(ctx context.Context, res *flow.Resolution, thread *models.Thread, result *models.AnalysisResult, snapshot *usermap.Snapshot, job *models.Job, d *models.Discussion) ([]string, []string, []string, error) {
	detected := result.TaskDetection.Tasks
	if len(detected) == 0 {
		if err := p.discussions.SetTaskRecords(ctx, d.ID, []string{}); err != nil {
			return nil, nil, nil, err
		}
		return []string{}, nil, nil, nil
	}

	pc := &notion.PageContext{
		Thread:     thread,
		Summary:    &result.Summary,
		SourceType: d.SourceType,
		SourceURL:  thread.SourceURL,
		AuthorID:   thread.Root.AuthorID,
		Resolver:   snapshot,
		CreatedAt:  time.Now().UTC(),
	}

	writers := map[string]TaskWriter{}
	var records []*models.TaskRecord
	var urls []string
	var faults []error

	for i := range detected {
		task := &detected[i]

		outputs, err := p.routeTask(res, task)
		if err != nil {
			p.logger.Error("Task routing failed",
				"discussion_id", d.ID, "task_index", i, "error", err)
			faults = append(faults, fmt.Errorf("task %d: %w", i, err))
			continue
		}

		for _, out := range outputs {
			ref, err := p.writeToOutput(ctx, writers, out, task, pc)
			if err != nil {
				p.logger.Error("Task write failed",
					"discussion_id", d.ID, "task_index", i, "output_id", out.ID, "error", err)
				faults = append(faults, fmt.Errorf("task %d output %s: %w", i, out.ID, err))
				continue
			}
			idx := i
			records = append(records, &models.TaskRecord{
				TenantID:         d.TenantID,
				DiscussionID:     d.ID,
				JobID:            job.ID,
				DestPageID:       ref.ID,
				DestPageURL:      ref.URL,
				Title:            task.Title,
				Description:      optional(task.Description),
				Priority:         task.Priority,
				Assignee:         task.Assignee,
				SourceURL:        thread.SourceURL,
				IsMultiTaskChild: len(detected) > 1,
				TaskIndex:        &idx,
				Metadata:         taskMetadata(out, task),
			})
			urls = append(urls, ref.URL)
		}
	}

	if len(records) == 0 && len(faults) > 0 {
		return nil, nil, nil, errors.Join(faults...)
	}

	faultMsgs := make([]string, len(faults))
	for i, f := range faults {
		faultMsgs[i] = f.Error()
	}

	ids, err := p.tasks.CreateBatch(ctx, records)
	if err != nil {
		return ids, urls, faultMsgs, err
	}
	if err := p.discussions.SetTaskRecords(ctx, d.ID, ids); err != nil {
		return ids, urls, faultMsgs, err
	}

	if len(faults) > 0 {
		p.logger.Warn("Task creation partially failed",
			"discussion_id", d.ID, "created", len(ids), "failed", len(faults))
	}
	return ids, urls, faultMsgs, nil
}

// routeTask selects the destination outputs for one task: the domain router
// under a flow, the single fused output in legacy mode.
func (p *Processor) routeTask(res *flow.Resolution, task *models.DetectedTask) ([]*models.FlowOutput, error) {
	if res.Legacy != nil {
		return []*models.FlowOutput{{
			ID:           legacyOutputID,
			OutputType:   models.OutputTypeKB,
			OutputConfig: res.Legacy.OutputConfig,
			IsDefault:    true,
		}}, nil
	}
	return flow.Route(task, res.Flow.Outputs)
}

// writeToOutput writes one task page through the cached writer for out.
// Writers are cached per output so the rate-limit pacing spans the batch.
func (p *Processor) writeToOutput(ctx context.Context, writers map[string]TaskWriter, out *models.FlowOutput, task *models.DetectedTask, pc *notion.PageContext) (*models.TaskRef, error) {
	w, ok := writers[out.ID]
	if !ok {
		cfg, err := notion.ParseOutputConfig(out.OutputConfig)
		if err != nil {
			return nil, err
		}
		w = p.newWriter(cfg)
		writers[out.ID] = w
	}
	return w.WriteTask(ctx, task, pc)
}

func taskMetadata(out *models.FlowOutput, task *models.DetectedTask) models.JSONMap {
	meta := models.JSONMap{"output_id": out.ID}
	if task.Domain != nil {
		meta["domain"] = *task.Domain
	}
	return meta
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// notify runs the best-effort stage 6 sequence: drop the pending marker,
// post the created-task reply, set the completed marker. Every error is
// logged and swallowed.
func (p *Processor) notify(ctx context.Context, adapter source.Adapter, threadID string, urls []string) {
	if err := adapter.RemoveStatus(ctx, threadID, source.StatusPending); err != nil {
		p.logger.Warn("Failed to remove pending marker", "thread_id", threadID, "error", err)
	}
	if err := adapter.PostReply(ctx, threadID, notificationMessage(urls)); err != nil {
		p.logger.Warn("Failed to post completion reply", "thread_id", threadID, "error", err)
	}
	if err := adapter.UpdateStatus(ctx, threadID, source.StatusCompleted); err != nil {
		p.logger.Warn("Failed to set completed marker", "thread_id", threadID, "error", err)
	}
}

func notificationMessage(urls []string) string {
	if len(urls) == 0 {
		return "(no tasks created)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Created %d task(s):\n", len(urls))
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
