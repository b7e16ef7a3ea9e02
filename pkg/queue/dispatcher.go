// Package queue bounds webhook-driven pipeline concurrency. Webhook
// handlers acknowledge upstream immediately and hand the heavy processing to
// the dispatcher, which runs each discussion on its own goroutine under a
// global concurrency cap.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when the concurrency cap is exhausted. Upstream
// webhook senders interpret the resulting 503 as "retry later".
var ErrQueueFull = errors.New("dispatcher at capacity")

// ErrStopped is returned for submissions after Stop began.
var ErrStopped = errors.New("dispatcher is stopping")

// Task is one unit of background work.
type Task func(ctx context.Context)

// Dispatcher runs tasks concurrently up to a fixed cap, tracking in-flight
// work for health reporting and draining it on shutdown.
type Dispatcher struct {
	capacity int64
	sem      *semaphore.Weighted
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu      sync.RWMutex
	active  map[string]time.Time
	stopped bool
}

// NewDispatcher creates a dispatcher with the given concurrency cap.
func NewDispatcher(capacity int64) *Dispatcher {
	if capacity <= 0 {
		capacity = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
		baseCtx:  ctx,
		cancel:   cancel,
		active:   map[string]time.Time{},
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// Submit schedules a task under the concurrency cap without blocking the
// caller. id is a correlation key for health reporting (ids may repeat;
// tracking is last-writer-wins). Returns ErrQueueFull when the cap is
// exhausted and ErrStopped after shutdown began.
func (d *Dispatcher) Submit(id string, task Task) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		return ErrQueueFull
	}
	d.active[id] = time.Now()
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.sem.Release(1)
			d.mu.Lock()
			delete(d.active, id)
			d.mu.Unlock()
			d.wg.Done()
		}()
		task(d.baseCtx)
	}()
	return nil
}

// Stop drains in-flight tasks, waiting up to the context deadline. Tasks
// still running when the deadline passes get their context cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	remaining := len(d.active)
	d.mu.Unlock()

	if remaining > 0 {
		d.logger.Info("Draining dispatcher", "in_flight", remaining)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Dispatcher drain timed out, cancelling in-flight tasks")
		<-done
		return ctx.Err()
	}
}

// Health is a point-in-time view of dispatcher load.
type Health struct {
	Capacity int64    `json:"capacity"`
	Active   int      `json:"active"`
	InFlight []string `json:"in_flight,omitempty"`
}

// HealthSnapshot reports current load and the in-flight correlation keys.
func (d *Dispatcher) HealthSnapshot() Health {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return Health{
		Capacity: d.capacity,
		Active:   len(ids),
		InFlight: ids,
	}
}
