// Package scheduler decides which nodes of an execution can run next.
//
// Every function here is pure: the same graph, state and instant always yield
// the same decision, which is what makes replay after a crash deterministic.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/graph"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

// ErrDeadlock is wrapped by SchedulingError.
var ErrDeadlock = errors.New("scheduling deadlock")

// SchedulingError reports a running execution that can make no further progress.
type SchedulingError struct {
	ExecutionID string
	Pending     []string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("execution %s cannot progress, nodes never became ready: %s",
		e.ExecutionID, strings.Join(e.Pending, ", "))
}

func (e *SchedulingError) Is(target error) bool {
	return target == ErrDeadlock
}

// Activation is a node that became ready and the connections that satisfied it.
type Activation struct {
	NodeID      string
	TriggeredBy []string
}

type Skip struct {
	NodeID string
	Reason models.SkipReason
}

// Decision is the outcome of one scheduling evaluation.
type Decision struct {
	Ready    []Activation
	Skipped  []Skip
	InFlight []string
	// Waiting holds not-started nodes in retry backoff and when they become eligible.
	Waiting  map[string]time.Time
	Halted   bool
	HaltedBy string
	Complete bool
	Deadlock bool
	Pending  []string
}

// NextWake returns the earliest retry instant among waiting nodes.
func (d *Decision) NextWake() (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)

	for _, at := range d.Waiting {
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}

	return earliest, found
}

// Err returns a SchedulingError when the decision is a deadlock.
func (d *Decision) Err(executionID string) error {
	if !d.Deadlock {
		return nil
	}

	return &SchedulingError{ExecutionID: executionID, Pending: d.Pending}
}

type inputState int

const (
	inputPending inputState = iota
	inputSatisfied
	inputDeadBranch
	inputDeadFailure
)

type nodeView struct {
	status models.NodeStatus
	reason models.SkipReason
}

// ReadyNodes returns the IDs of nodes whose inputs are satisfied, in
// topological order. Retry backoff is ignored.
func ReadyNodes(g *graph.Graph, state *models.ExecutionState) []string {
	decision := Evaluate(g, state, time.Time{})

	ids := make([]string, 0, len(decision.Ready))
	for _, activation := range decision.Ready {
		ids = append(ids, activation.NodeID)
	}

	return ids
}

// Evaluate computes the ready set, propagates skips transitively, and detects
// halt, completion and deadlock. A zero now disables retry backoff.
func Evaluate(g *graph.Graph, state *models.ExecutionState, now time.Time) *Decision {
	decision := &Decision{Waiting: map[string]time.Time{}}
	view := make(map[string]nodeView, len(g.Order()))

	for _, id := range g.Order() {
		node := state.Node(id)
		view[id] = nodeView{status: node.Status, reason: node.SkipReason}

		if node.Status == models.NodeFailed && g.Node(id).OnFailure() == models.FailureHalt && !decision.Halted {
			decision.Halted = true
			decision.HaltedBy = id
		}
	}

	for _, id := range g.Order() {
		node := state.Node(id)

		switch node.Status {
		case models.NodeReady, models.NodeRunning:
			decision.InFlight = append(decision.InFlight, id)

			continue
		case models.NodeSucceeded, models.NodeFailed, models.NodeSkipped:
			continue
		case models.NodeNotStarted:
		default:
			decision.Pending = append(decision.Pending, id)

			continue
		}

		if decision.Halted {
			decision.Pending = append(decision.Pending, id)

			continue
		}

		if node.NextAttemptAt != nil && !now.IsZero() && node.NextAttemptAt.After(now) {
			decision.Waiting[id] = *node.NextAttemptAt

			continue
		}

		ready, triggeredBy, skip, reason := evaluateInputs(g, state, view, id)

		switch {
		case ready:
			decision.Ready = append(decision.Ready, Activation{NodeID: id, TriggeredBy: triggeredBy})
			view[id] = nodeView{status: models.NodeReady}
		case skip:
			decision.Skipped = append(decision.Skipped, Skip{NodeID: id, Reason: reason})
			view[id] = nodeView{status: models.NodeSkipped, reason: reason}
		default:
			decision.Pending = append(decision.Pending, id)
		}
	}

	decision.Complete = true

	for _, id := range g.Order() {
		if !view[id].status.IsTerminal() {
			decision.Complete = false

			break
		}
	}

	decision.Deadlock = state.Status == models.ExecutionRunning &&
		!decision.Halted &&
		!decision.Complete &&
		len(decision.Ready) == 0 &&
		len(decision.InFlight) == 0 &&
		len(decision.Waiting) == 0

	return decision
}

func evaluateInputs(
	g *graph.Graph,
	state *models.ExecutionState,
	view map[string]nodeView,
	id string,
) (bool, []string, bool, models.SkipReason) {
	incoming := g.Incoming(id)
	if len(incoming) == 0 {
		return true, nil, false, ""
	}

	var (
		satisfied         []string
		pending, deadFail int
	)

	for _, conn := range incoming {
		switch connectionState(state, view, conn) {
		case inputSatisfied:
			satisfied = append(satisfied, conn.Key())
		case inputPending:
			pending++
		case inputDeadFailure:
			deadFail++
		}
	}

	failureReason := models.SkipBranch
	if deadFail > 0 {
		failureReason = models.SkipUpstreamFailure
	}

	if g.Node(id).Join() == models.JoinAny {
		if len(satisfied) > 0 {
			return true, satisfied[:1], false, ""
		}

		if pending > 0 {
			return false, nil, false, ""
		}

		return false, nil, true, failureReason
	}

	if deadFail > 0 {
		return false, nil, true, models.SkipUpstreamFailure
	}

	if pending > 0 {
		return false, nil, false, ""
	}

	if len(satisfied) > 0 {
		return true, satisfied, false, ""
	}

	return false, nil, true, models.SkipBranch
}

func connectionState(state *models.ExecutionState, view map[string]nodeView, conn *models.Connection) inputState {
	source := view[conn.FromNode]

	switch source.status {
	case models.NodeSucceeded:
		if state.Node(conn.FromNode).Produced(conn.SourcePort()) {
			return inputSatisfied
		}

		return inputDeadBranch
	case models.NodeFailed:
		return inputDeadFailure
	case models.NodeSkipped:
		if source.reason == models.SkipUpstreamFailure {
			return inputDeadFailure
		}

		return inputDeadBranch
	default:
		return inputPending
	}
}
