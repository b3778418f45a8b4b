// Package drain orchestrates replay of pending mutations once connectivity
// is restored.
package drain

import (
	"context"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/cache"
	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
	"github.com/driftsync/driftsync/internal/sync/executor"
	"github.com/driftsync/driftsync/internal/sync/queue"
	"github.com/driftsync/driftsync/internal/sync/retry"
	"github.com/driftsync/driftsync/internal/telemetry"
)

// Executor is the slice of the mutation executor the drainer needs.
type Executor interface {
	Execute(ctx context.Context, m *models.QueuedMutation) executor.Result
}

// ChangeSource provides connectivity transition notifications. The
// classifier satisfies this; the drainer owns its subscription and releases
// it on Stop.
type ChangeSource interface {
	Subscribe() (<-chan connectivity.State, func())
}

// PassResult summarizes one drain pass.
type PassResult struct {
	Started      time.Time
	Duration     time.Duration
	Succeeded    int
	Deferred     int // transient failure, retry count bumped, left in store
	DeadLettered int // retry budget exhausted, reported and removed
	Discarded    int // non-retryable client error, reported and removed
	Aborted      bool
	Skipped      bool // another pass was already running
	Err          error
}

// Drainer processes all pending mutations in enqueue order when the
// connectivity classifier transitions into Online. One pass runs at a time;
// a trigger arriving mid-pass is a no-op.
type Drainer struct {
	store       *queue.Store
	exec        Executor
	coordinator *retry.Coordinator
	cache       *cache.Cache
	maxRetries  int
	reporter    telemetry.Reporter
	logger      *logging.Logger

	mu       sync.Mutex
	draining bool
	running  bool
	lastPass *PassResult

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Drainer.
func New(store *queue.Store, exec Executor, coordinator *retry.Coordinator,
	c *cache.Cache, maxRetries int, reporter telemetry.Reporter, logger *logging.Logger) *Drainer {
	return &Drainer{
		store:       store,
		exec:        exec,
		coordinator: coordinator,
		cache:       c,
		maxRetries:  maxRetries,
		reporter:    reporter,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to connectivity transitions and drains on every
// transition into Online. Transitions into Poor or Offline never trigger.
func (d *Drainer) Start(ctx context.Context, source ChangeSource) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	states, cancel := source.Subscribe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case state, ok := <-states:
				if !ok {
					return
				}
				if state != connectivity.Online {
					continue
				}
				// The pass runs outside the trigger loop so further
				// transitions keep being consumed, but it joins the
				// WaitGroup so Stop waits for it.
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					d.DrainNow(ctx)
				}()
			}
		}
	}()

	d.logger.Info("Queue drainer started", nil)
}

// Stop releases the connectivity subscription and waits for the trigger
// loop to exit. An in-flight pass runs to completion.
func (d *Drainer) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	d.logger.Info("Queue drainer stopped", nil)
}

// DrainNow runs one pass synchronously. A concurrent call while a pass is
// active is coalesced into a skipped result.
func (d *Drainer) DrainNow(ctx context.Context) PassResult {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return PassResult{Skipped: true}
	}
	d.draining = true
	d.mu.Unlock()

	result := d.pass(ctx)

	d.mu.Lock()
	d.draining = false
	d.lastPass = &result
	d.mu.Unlock()

	return result
}

// LastPass returns the most recent completed pass, or nil.
func (d *Drainer) LastPass() *PassResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPass
}

// pass processes one snapshot of the queue in enqueue order.
func (d *Drainer) pass(ctx context.Context) PassResult {
	result := PassResult{Started: time.Now()}
	defer func() {
		result.Duration = time.Since(result.Started)
	}()

	snapshot, err := d.store.ListOrdered()
	if err != nil {
		// Storage failure is fatal for the pass; report it, do not spin.
		d.reporter.ReportError("drain pass could not read queue", err, nil)
		d.logger.ErrorWithCode("Drain pass aborted", string(errors.ErrStorage), err, nil)
		result.Aborted = true
		result.Err = err
		return result
	}

	if len(snapshot) == 0 {
		return result
	}

	d.logger.Info("Drain pass started",
		map[string]interface{}{"pending": len(snapshot)})

	for _, m := range snapshot {
		select {
		case <-ctx.Done():
			result.Aborted = true
			result.Err = ctx.Err()
			return result
		default:
		}

		execResult := d.coordinator.Run(ctx, func(ctx context.Context, attempt int) executor.Result {
			return d.exec.Execute(ctx, m)
		})

		switch {
		case execResult.Outcome == executor.Success:
			if err := d.remove(m, &result); err != nil {
				return result
			}
			if err := d.cache.AbsorbMutation(m, execResult.Body); err != nil {
				// Cache is best-effort; the mutation is durably applied remotely.
				d.logger.Warn("Could not absorb mutation result into cache",
					map[string]interface{}{"mutation_id": m.ID.String(), "error": err.Error()})
			}
			result.Succeeded++

		case execResult.Outcome == executor.Fatal && execResult.Auth:
			// Auth failures poison the whole pass. The current mutation
			// and everything after it stay in the store untouched.
			d.reporter.ReportError("drain pass aborted on auth failure", execResult.Err,
				map[string]interface{}{"mutation_id": m.ID.String()})
			d.logger.ErrorWithCode("Drain pass aborted", string(errors.ErrAuth), execResult.Err,
				map[string]interface{}{"mutation_id": m.ID.String()})
			result.Aborted = true
			result.Err = execResult.Err
			return result

		case execResult.Outcome == executor.Fatal:
			// Retrying an unfixable request cannot change the outcome.
			d.reporter.ReportError("mutation discarded on client error", execResult.Err,
				mutationContext(m))
			d.logger.ErrorWithCode("Mutation discarded", string(errors.ErrClient), execResult.Err,
				map[string]interface{}{"mutation_id": m.ID.String(), "status": execResult.StatusCode})
			if err := d.remove(m, &result); err != nil {
				return result
			}
			result.Discarded++

		default: // retryable, budget for this pass exhausted
			newCount := m.RetryCount + 1
			if newCount > d.maxRetries {
				d.reporter.ReportError("mutation dead-lettered after retry budget", execResult.Err,
					mutationContext(m))
				d.logger.ErrorWithCode("Mutation dead-lettered", string(errors.ErrNetwork), execResult.Err,
					map[string]interface{}{"mutation_id": m.ID.String(), "retry_count": m.RetryCount})
				if err := d.remove(m, &result); err != nil {
					return result
				}
				result.DeadLettered++
				continue
			}

			if err := d.store.UpdateRetryCount(m.ID.String(), newCount); err != nil {
				d.reporter.ReportError("drain pass could not update retry count", err,
					map[string]interface{}{"mutation_id": m.ID.String()})
				result.Aborted = true
				result.Err = err
				return result
			}
			result.Deferred++
		}
	}

	d.logger.Info("Drain pass completed",
		map[string]interface{}{
			"succeeded":     result.Succeeded,
			"deferred":      result.Deferred,
			"dead_lettered": result.DeadLettered,
			"discarded":     result.Discarded,
		})

	return result
}

// remove deletes a mutation and aborts the pass on storage failure.
func (d *Drainer) remove(m *models.QueuedMutation, result *PassResult) error {
	if err := d.store.Remove(m.ID.String()); err != nil {
		d.reporter.ReportError("drain pass could not remove mutation", err,
			map[string]interface{}{"mutation_id": m.ID.String()})
		result.Aborted = true
		result.Err = err
		return err
	}
	return nil
}

// mutationContext builds the reporter context for a mutation, including the
// payload the caller needs to recover the lost intent.
func mutationContext(m *models.QueuedMutation) map[string]interface{} {
	return map[string]interface{}{
		"mutation_id":     m.ID.String(),
		"kind":            string(m.Kind),
		"resource":        m.Resource,
		"idempotency_key": m.IdempotencyKey,
		"retry_count":     m.RetryCount,
		"payload":         string(m.Payload),
	}
}
