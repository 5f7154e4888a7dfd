package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/events"
	"github.com/vanyastaff/nebulav2/pkg/graph"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/scheduler"
	"github.com/vanyastaff/nebulav2/pkg/state"
)

var errCancelled = errors.New("execution cancelled")

type nodeResult struct {
	nodeID   string
	attempt  int
	output   map[string]any
	err      *protocol.ActionError
	duration time.Duration
}

// session is one lease holder's pass over an execution. Only the loop
// goroutine touches exec; node goroutines report back through results.
type session struct {
	*Runner

	exec     *models.ExecutionState
	workflow *models.WorkflowDefinition
	graph    *graph.Graph
	logger   *slog.Logger
	running  map[string]context.CancelFunc
	results  chan nodeResult
}

func (r *Runner) advance(ctx context.Context, executionID string, lease Lease, cancelled <-chan struct{}) (*Outcome, error) {
	exec, err := r.states.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status.IsTerminal() {
		return &Outcome{Status: exec.Status}, nil
	}

	workflow, err := r.states.Workflow(ctx, exec)
	if err != nil {
		return nil, err
	}

	s := &session{
		Runner:   r,
		exec:     exec,
		workflow: workflow,
		logger: r.logger.With(
			"execution_id", exec.ID,
			"workflow_id", exec.WorkflowID,
			"worker_id", r.workerID,
		),
		running: make(map[string]context.CancelFunc),
		results: make(chan nodeResult, r.config.MaxConcurrentNodes),
	}

	s.graph, err = graph.New(workflow)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stored workflow is not a valid graph", "error", err)

		failure := &models.ExecutionFailure{Kind: "validation", Message: err.Error()}
		if err := r.states.Fail(ctx, exec.ID, failure); err != nil {
			return s.abort(ctx, err)
		}

		r.metrics.ExecutionFinished(string(models.ExecutionFailed))

		return &Outcome{Status: models.ExecutionFailed}, nil
	}

	if exec.Status == models.ExecutionPending {
		if err := r.states.Start(ctx, exec); err != nil {
			return s.abort(ctx, err)
		}

		r.publish(ctx, events.ExecutionStarted{
			BaseEvent:       r.base(events.ExecutionStartedEvent, exec),
			WorkflowVersion: exec.WorkflowVersion,
		})
	}

	if _, err := r.states.Recover(ctx, exec); err != nil {
		return s.abort(ctx, err)
	}

	r.metrics.ExecutionStarted()
	defer r.metrics.ExecutionReleased()

	return s.loop(ctx, lease, cancelled)
}

func (s *session) loop(ctx context.Context, lease Lease, cancelled <-chan struct{}) (*Outcome, error) {
	poll := time.NewTicker(s.config.CancelPollInterval)
	defer poll.Stop()

	for {
		if err := lease.Err(); err != nil {
			return s.abort(ctx, fmt.Errorf("%w: %w", ErrLeaseLost, err))
		}

		decision := scheduler.Evaluate(s.graph, s.exec, s.states.Now())

		if len(decision.Skipped) > 0 {
			if err := s.skip(ctx, decision.Skipped); err != nil {
				return s.abort(ctx, err)
			}
		}

		if len(s.running) == 0 {
			switch {
			case decision.Halted:
				return s.finish(ctx, s.failureOf(decision.HaltedBy))
			case decision.Complete:
				return s.finish(ctx, s.firstFailure())
			case decision.Deadlock:
				return s.finish(ctx, &models.ExecutionFailure{
					Kind:    "scheduling",
					Message: decision.Err(s.exec.ID).Error(),
				})
			}
		}

		for _, activation := range decision.Ready {
			if len(s.running) >= s.config.MaxConcurrentNodes {
				break
			}

			if err := s.launch(ctx, activation); err != nil {
				return s.abort(ctx, err)
			}
		}

		var timer *time.Timer

		if at, ok := decision.NextWake(); ok {
			delay := at.Sub(s.states.Now())
			if len(s.running) == 0 && delay > s.config.MaxInlineWait {
				return s.suspend(ctx, at)
			}

			timer = time.NewTimer(max(delay, 0))
		}

		err := s.wait(ctx, lease, cancelled, poll.C, timer)

		if timer != nil {
			timer.Stop()
		}

		if err != nil {
			return s.abort(ctx, err)
		}
	}
}

// wait blocks until something can change the next scheduling decision.
func (s *session) wait(
	ctx context.Context,
	lease Lease,
	cancelled <-chan struct{},
	poll <-chan time.Time,
	timer *time.Timer,
) error {
	var wake <-chan time.Time
	if timer != nil {
		wake = timer.C
	}

	for {
		select {
		case result := <-s.results:
			if err := ctx.Err(); err != nil {
				// the attempt was cut short by shutdown; its result says nothing
				s.release(result.nodeID)

				return err
			}

			return s.settle(ctx, result)
		case <-wake:
			return nil
		case <-poll:
			if err := s.checkCancelled(ctx); err != nil {
				return err
			}
		case <-cancelled:
			return errCancelled
		case <-lease.Lost():
			return fmt.Errorf("%w: %w", ErrLeaseLost, lease.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkCancelled catches cancellations whose notification never reached
// this worker.
func (s *session) checkCancelled(ctx context.Context) error {
	current, err := s.states.Status(ctx, s.exec.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to poll execution status", "error", err)

		return nil
	}

	switch {
	case current.Status == models.ExecutionCancelled:
		return errCancelled
	case current.Status.IsTerminal():
		return state.ErrExecutionTerminal
	}

	return nil
}

func (s *session) launch(ctx context.Context, activation scheduler.Activation) error {
	node := s.graph.Node(activation.NodeID)
	current := s.exec.Node(node.ID)
	now := s.states.Now()

	next := current.Clone()
	next.Status = models.NodeRunning
	next.Attempts = current.Attempts + 1
	next.TriggeredBy = activation.TriggeredBy
	next.StartedAt = &now
	next.NextAttemptAt = nil
	next.CompletedAt = nil
	next.Output = nil
	next.Error = nil

	if err := s.states.Record(ctx, s.exec, next); err != nil {
		return err
	}

	s.publish(ctx, events.NodeStarted{
		BaseEvent:   s.base(events.NodeStartedEvent, s.exec),
		NodeID:      node.ID,
		Attempt:     next.Attempts,
		TriggeredBy: activation.TriggeredBy,
	})

	input, inputs := s.collect(node.ID, activation.TriggeredBy)
	scope := s.scope(node, next.Attempts, input, inputs)

	actionCtx := protocol.ActionContext{
		ExecutionID: s.exec.ID,
		WorkflowID:  s.exec.WorkflowID,
		NodeID:      node.ID,
		Attempt:     next.Attempts,
		Input:       input,
		Inputs:      inputs,
		Logger: s.logger.With(
			"node_id", node.ID,
			"action_type", node.ActionTypeID,
			"attempt", next.Attempts,
		),
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	s.running[node.ID] = cancel

	go func() {
		s.results <- s.execute(nodeCtx, node, actionCtx, scope)
	}()

	return nil
}

// settle records the outcome of one node attempt.
func (s *session) settle(ctx context.Context, result nodeResult) error {
	s.release(result.nodeID)

	node := s.graph.Node(result.nodeID)
	current := s.exec.Node(result.nodeID)
	now := s.states.Now()
	next := current.Clone()

	if result.err == nil {
		next.Status = models.NodeSucceeded
		next.Output = result.output
		next.CompletedAt = &now

		if err := s.states.Record(ctx, s.exec, next); err != nil {
			return err
		}

		s.logger.DebugContext(ctx, "Node succeeded", "node_id", node.ID, "attempt", result.attempt)

		s.publish(ctx, events.NodeSucceeded{
			BaseEvent: s.base(events.NodeSucceededEvent, s.exec),
			NodeID:    node.ID,
			Attempt:   result.attempt,
			Ports:     ports(result.output),
			Duration:  result.duration,
		})

		return nil
	}

	message := result.err.Error()
	if result.err.Err != nil {
		message = result.err.Err.Error()
	}

	next.Error = &models.NodeError{
		Kind:      string(result.err.Kind),
		Message:   message,
		Retryable: result.err.Retryable,
	}

	policy := s.retryPolicy(node)

	if result.err.Retryable && current.Attempts <= policy.MaxRetries {
		at := now.Add(policy.Delay(current.Attempts - 1))

		next.Status = models.NodeNotStarted
		next.NextAttemptAt = &at
		next.StartedAt = nil

		if err := s.states.Record(ctx, s.exec, next); err != nil {
			return err
		}

		s.logger.WarnContext(ctx, "Node failed, retry scheduled",
			"node_id", node.ID, "attempt", result.attempt, "next_attempt_at", at, "error", message)

		s.publish(ctx, events.NodeRetryScheduled{
			BaseEvent:     s.base(events.NodeRetryScheduledEvent, s.exec),
			NodeID:        node.ID,
			Attempt:       result.attempt,
			NextAttemptAt: at,
			Error:         message,
		})

		return nil
	}

	next.Status = models.NodeFailed
	next.CompletedAt = &now

	if err := s.states.Record(ctx, s.exec, next); err != nil {
		return err
	}

	downstream := s.graph.Downstream(node.ID)

	s.logger.ErrorContext(ctx, "Node failed",
		"node_id", node.ID, "attempt", result.attempt, "kind", result.err.Kind,
		"downstream", downstream, "error", message)

	s.publish(ctx, events.NodeFailed{
		BaseEvent:  s.base(events.NodeFailedEvent, s.exec),
		NodeID:     node.ID,
		Attempt:    result.attempt,
		Kind:       string(result.err.Kind),
		Message:    message,
		Retryable:  result.err.Retryable,
		Downstream: downstream,
	})

	return nil
}

func (s *session) release(nodeID string) {
	if cancel, ok := s.running[nodeID]; ok {
		cancel()
		delete(s.running, nodeID)
	}
}

func (s *session) skip(ctx context.Context, skips []scheduler.Skip) error {
	now := s.states.Now()

	for _, skip := range skips {
		next := s.exec.Node(skip.NodeID).Clone()
		next.Status = models.NodeSkipped
		next.SkipReason = skip.Reason
		next.NextAttemptAt = nil
		next.CompletedAt = &now

		if err := s.states.Record(ctx, s.exec, next); err != nil {
			return err
		}

		s.logger.DebugContext(ctx, "Node skipped", "node_id", skip.NodeID, "reason", skip.Reason)

		s.publish(ctx, events.NodeSkipped{
			BaseEvent: s.base(events.NodeSkippedEvent, s.exec),
			NodeID:    skip.NodeID,
			Reason:    skip.Reason,
		})
	}

	return nil
}

func (s *session) finish(ctx context.Context, failure *models.ExecutionFailure) (*Outcome, error) {
	if err := s.states.Finish(ctx, s.exec, failure); err != nil {
		return s.abort(ctx, err)
	}

	var duration time.Duration
	if s.exec.StartedAt != nil && s.exec.CompletedAt != nil {
		duration = s.exec.CompletedAt.Sub(*s.exec.StartedAt)
	}

	if failure == nil {
		s.logger.InfoContext(ctx, "Execution succeeded", "duration", duration)
		s.publish(ctx, events.ExecutionSucceeded{
			BaseEvent: s.base(events.ExecutionSucceededEvent, s.exec),
			Duration:  duration,
		})
	} else {
		s.logger.ErrorContext(ctx, "Execution failed",
			"node_id", failure.NodeID, "kind", failure.Kind, "error", failure.Message)
		s.publish(ctx, events.ExecutionFailed{
			BaseEvent: s.base(events.ExecutionFailedEvent, s.exec),
			Failure:   failure,
			Duration:  duration,
		})
	}

	s.metrics.ExecutionFinished(string(s.exec.Status))

	return &Outcome{Status: s.exec.Status}, nil
}

// suspend hands the execution back to the queue until at.
func (s *session) suspend(ctx context.Context, at time.Time) (*Outcome, error) {
	s.logger.InfoContext(ctx, "Execution waiting for node retry", "resume_at", at)

	return &Outcome{Status: s.exec.Status, ResumeAt: &at}, nil
}

// abort stops every in-flight node and discards its result, then reports
// why the run ended.
func (s *session) abort(ctx context.Context, cause error) (*Outcome, error) {
	for _, cancel := range s.running {
		cancel()
	}

	for len(s.running) > 0 {
		result := <-s.results
		s.release(result.nodeID)
	}

	switch {
	case errors.Is(cause, errCancelled):
		s.logger.InfoContext(ctx, "Execution cancelled")
		s.metrics.ExecutionFinished(string(models.ExecutionCancelled))

		return &Outcome{Status: models.ExecutionCancelled}, nil
	case errors.Is(cause, state.ErrExecutionTerminal), errors.Is(cause, state.ErrInvalidTransition):
		current, err := s.states.Status(context.WithoutCancel(ctx), s.exec.ID)
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "Execution finished elsewhere", "status", current.Status)

		return &Outcome{Status: current.Status}, nil
	}

	s.logger.WarnContext(ctx, "Execution advance interrupted", "error", cause)

	return nil, cause
}

// failureOf describes the failure of nodeID as the execution's failure.
func (s *session) failureOf(nodeID string) *models.ExecutionFailure {
	failure := &models.ExecutionFailure{NodeID: nodeID, Kind: string(protocol.KindFailure)}

	if nodeErr := s.exec.Node(nodeID).Error; nodeErr != nil {
		failure.Kind = nodeErr.Kind
		failure.Message = nodeErr.Message
	}

	return failure
}

// firstFailure returns the earliest failed node in topological order, or nil
// when every node succeeded or was skipped.
func (s *session) firstFailure() *models.ExecutionFailure {
	for _, id := range s.graph.Order() {
		if s.exec.Node(id).Status == models.NodeFailed {
			return s.failureOf(id)
		}
	}

	return nil
}

func (s *session) retryPolicy(node *models.NodeDefinition) models.RetryPolicy {
	if node.Retry != nil {
		return *node.Retry
	}

	return s.config.DefaultRetry
}

func ports(output map[string]any) []string {
	names := make([]string, 0, len(output))
	for port := range output {
		names = append(names, port)
	}

	slices.Sort(names)

	return names
}
