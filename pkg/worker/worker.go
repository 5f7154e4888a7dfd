// Package worker claims advance jobs from the queue and drives their
// executions with the runner while heartbeating the lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/runner"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	WorkerID            string        `validate:"required"`
	MaxActiveExecutions int64         `validate:"min=1"`
	PollInterval        time.Duration `validate:"gt=0"`
	// HeartbeatInterval must be well below the queue's visibility timeout.
	HeartbeatInterval time.Duration `validate:"gt=0"`
}

func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:            workerID,
		MaxActiveExecutions: 4,
		PollInterval:        time.Second,
		HeartbeatInterval:   10 * time.Second,
	}
}

type Worker struct {
	config     Config
	queue      *queue.Queue
	runner     *runner.Runner
	states     *state.Manager
	subscriber eventbus.EventSubscriber
	slots      *semaphore.Weighted
	logger     *slog.Logger
}

type Option func(*Worker)

// WithSubscriber makes the worker react to execution.cancelled events
// instead of relying on the runner's status polling alone.
func WithSubscriber(subscriber eventbus.EventSubscriber) Option {
	return func(w *Worker) {
		w.subscriber = subscriber
	}
}

func New(
	q *queue.Queue,
	r *runner.Runner,
	states *state.Manager,
	logger *slog.Logger,
	config Config,
	opts ...Option,
) (*Worker, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	w := &Worker{
		config: config,
		queue:  q,
		runner: r,
		states: states,
		slots:  semaphore.NewWeighted(config.MaxActiveExecutions),
		logger: logger.With("module", "worker", "worker_id", config.WorkerID),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start recovers interrupted executions, then claims and runs jobs until ctx
// is cancelled. In-flight executions are interrupted and their jobs released
// before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "max_active_executions", w.config.MaxActiveExecutions)

	recovered, err := ensureAdvance(ctx, w.states, w.queue)
	if err != nil {
		return fmt.Errorf("failed to recover running executions: %w", err)
	}

	if recovered > 0 {
		w.logger.InfoContext(ctx, "Recovered running executions", "count", recovered)
	}

	if w.subscriber != nil {
		if err := w.subscriber.Handle(events.ExecutionCancelledEvent, w.handleExecutionCancelled); err != nil {
			return err
		}

		if err := w.subscriber.Subscribe(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	w.claimLoop(ctx)

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}

func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var active errgroup.Group

	defer func() {
		_ = active.Wait()
	}()

	for {
		if err := w.slots.Acquire(ctx, 1); err != nil {
			return
		}

		lease, err := w.queue.Claim(ctx, w.config.WorkerID)
		if err != nil || lease == nil {
			w.slots.Release(1)

			if err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Failed to claim job", "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		active.Go(func() error {
			defer w.slots.Release(1)

			w.process(ctx, lease)

			return nil
		})
	}
}

// process drives one claimed job and settles it with the queue.
func (w *Worker) process(ctx context.Context, lease *queue.Lease) {
	job := lease.Job
	logger := w.logger.With("job_id", job.ID, "execution_id", job.ExecutionID)

	logger.DebugContext(ctx, "Processing advance job", "retry_count", job.RetryCount)

	keepAlive, stop := context.WithCancel(ctx)
	go w.queue.KeepAlive(keepAlive, lease, w.config.HeartbeatInterval)

	outcome, err := w.runner.Run(ctx, job.ExecutionID, lease)

	stop()

	// settling must survive shutdown so a claimed job is never left locked
	settleCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil && outcome.ResumeAt != nil:
		delay := outcome.ResumeAt.Sub(w.queue.Now())

		if _, err := w.queue.Enqueue(settleCtx, job.ExecutionID, job.Priority, delay); err != nil {
			logger.ErrorContext(ctx, "Failed to schedule resumption", "error", err)
			w.fail(settleCtx, logger, lease, err)

			return
		}

		w.complete(settleCtx, logger, lease, map[string]any{
			"status":    string(outcome.Status),
			"resume_at": outcome.ResumeAt.Format(time.RFC3339Nano),
		})
	case err == nil:
		w.complete(settleCtx, logger, lease, map[string]any{"status": string(outcome.Status)})
	case errors.Is(err, runner.ErrLeaseLost):
		logger.WarnContext(ctx, "Lease lost while advancing execution", "error", err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil,
		errors.Is(err, state.ErrCheckpointConflict):
		if err := w.queue.Release(settleCtx, job.ID, w.config.WorkerID); err != nil {
			logger.WarnContext(ctx, "Failed to release job", "error", err)
		}
	default:
		w.fail(settleCtx, logger, lease, err)
	}
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, lease *queue.Lease, result map[string]any) {
	err := w.queue.Complete(ctx, lease.Job.ID, w.config.WorkerID, result)

	switch {
	case err == nil:
		logger.DebugContext(ctx, "Advance job completed", "status", result["status"])
	case persistence.IsLockExpired(err):
		logger.WarnContext(ctx, "Lease expired before job completion", "error", err)
	default:
		logger.ErrorContext(ctx, "Failed to complete job", "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, lease *queue.Lease, cause error) {
	retryable := !errors.Is(cause, state.ErrExecutionNotFound)

	retried, err := w.queue.Fail(ctx, lease.Job.ID, w.config.WorkerID, cause, retryable)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record job failure", "error", err, "cause", cause)

		return
	}

	logger.WarnContext(ctx, "Advance job failed", "retried", retried, "error", cause)
}

func (w *Worker) handleExecutionCancelled(ctx context.Context, event events.Event) error {
	w.logger.DebugContext(ctx, "Received cancellation", "execution_id", event.Key())
	w.runner.NotifyCancelled(event.Key())

	return nil
}

// ensureAdvance makes sure every running execution has an advance job. It
// returns how many jobs were pushed.
func ensureAdvance(ctx context.Context, states *state.Manager, q *queue.Queue) (int, error) {
	running, err := states.ListByStatus(ctx, models.ExecutionRunning)
	if err != nil {
		return 0, err
	}

	pushed := 0

	for _, exec := range running {
		created, err := q.EnsureAdvance(ctx, exec.ID, 0)
		if err != nil {
			return pushed, err
		}

		if created {
			pushed++
		}
	}

	return pushed, nil
}
