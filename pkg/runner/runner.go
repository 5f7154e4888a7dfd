// Package runner drives executions. The holder of an execution's advance
// lease calls Run, which repeatedly asks the scheduler for ready nodes, runs
// them as cancellable goroutines, and checkpoints every outcome through the
// state manager before deciding again.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/metrics"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/otelhelper"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrLeaseLost is returned when the advance lease was lost mid-run. Nothing
// was written after the loss was noticed.
var ErrLeaseLost = errors.New("advance lease lost")

// Lease is the runner's view of the worker's claim on the execution.
type Lease interface {
	Err() error
	Lost() <-chan struct{}
}

// unleased stands in for a lease when an execution is driven in-process.
type unleased struct{}

func (unleased) Err() error { return nil }

func (unleased) Lost() <-chan struct{} { return nil }

// ActionLookup resolves action type IDs to factories.
type ActionLookup interface {
	Get(actionType string) (protocol.ActionFactory, error)
}

type Config struct {
	MaxConcurrentNodes int           `validate:"min=1"`
	NodeTimeout        time.Duration `validate:"gt=0"`
	CancelPollInterval time.Duration `validate:"gt=0"`
	// MaxInlineWait is the longest retry backoff the runner sleeps through
	// while holding the lease; longer waits hand the execution back to the
	// queue with a delayed job.
	MaxInlineWait time.Duration `validate:"min=0"`
	// DefaultRetry applies to nodes without their own retry policy.
	DefaultRetry models.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentNodes: 8,
		NodeTimeout:        5 * time.Minute,
		CancelPollInterval: 2 * time.Second,
		MaxInlineWait:      10 * time.Second,
		DefaultRetry:       models.DefaultRetryPolicy(),
	}
}

// Outcome is where an execution stands when Run returns.
type Outcome struct {
	Status models.ExecutionStatus
	// ResumeAt is set when the execution is waiting for a node retry and
	// should be advanced again at that instant.
	ResumeAt *time.Time
}

type Runner struct {
	states    *state.Manager
	actions   ActionLookup
	evaluator protocol.Evaluator
	config    Config
	bus       eventbus.EventPublisher
	metrics   *metrics.Collector
	tracer    trace.Tracer
	workerID  string
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

type Option func(*Runner)

func WithEventPublisher(bus eventbus.EventPublisher) Option {
	return func(r *Runner) {
		r.bus = bus
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Runner) {
		r.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func WithWorkerID(workerID string) Option {
	return func(r *Runner) {
		r.workerID = workerID
	}
}

func New(
	states *state.Manager,
	actions ActionLookup,
	evaluator protocol.Evaluator,
	logger *slog.Logger,
	config Config,
	opts ...Option,
) (*Runner, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}

	r := &Runner{
		states:    states,
		actions:   actions,
		evaluator: evaluator,
		config:    config,
		bus:       eventbus.Nop{},
		tracer:    noop.NewTracerProvider().Tracer("nebula-runner"),
		logger:    logger.With("module", "runner"),
		cancels:   make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// NotifyCancelled wakes the run driving executionID, if any, so it stops
// without waiting for the next cancellation poll.
func (r *Runner) NotifyCancelled(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.cancels[executionID]; ok {
		close(ch)
		delete(r.cancels, executionID)
	}
}

func (r *Runner) watchCancel(executionID string) (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan struct{})
	r.cancels[executionID] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if current, ok := r.cancels[executionID]; ok && current == ch {
			delete(r.cancels, executionID)
		}
	}
}

// Run advances executionID until it finishes, is cancelled, loses its lease
// or has to wait longer than MaxInlineWait for a retry. Node results are
// durable before Run moves on, so a later Run resumes exactly where this one
// stopped. A nil lease drives the execution without a queue claim.
func (r *Runner) Run(ctx context.Context, executionID string, lease Lease) (*Outcome, error) {
	if lease == nil {
		lease = unleased{}
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "execution.advance",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkerIDKey, r.workerID),
	)
	defer span.End()

	cancelled, unwatch := r.watchCancel(executionID)
	defer unwatch()

	outcome, err := r.advance(ctx, executionID, lease, cancelled)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

func (r *Runner) publish(ctx context.Context, event events.Event) {
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "execution_id", event.Key(), "error", err)
	}
}

func (r *Runner) base(eventType events.EventType, state *models.ExecutionState) events.BaseEvent {
	return events.NewBase(eventType, uuid.NewString(), state, r.workerID, r.states.Now())
}
