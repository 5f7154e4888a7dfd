package state

import (
	"errors"
	"fmt"

	"github.com/vanyastaff/nebulav2/pkg/persistence"
)

var (
	ErrCheckpointConflict = persistence.ErrCheckpointConflict
	ErrExecutionTerminal  = persistence.ErrExecutionTerminal
	ErrExecutionNotFound  = persistence.ErrExecutionNotFound
	ErrInvalidTransition  = persistence.ErrInvalidTransition
)

// PersistenceError reports a store write or read that failed for reasons
// other than fencing. The execution must not advance past it.
type PersistenceError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsPersistenceError(err error) bool {
	var persistErr *PersistenceError

	return errors.As(err, &persistErr)
}

// wrap leaves fencing and lookup errors recognisable and wraps everything
// else as a PersistenceError.
func wrap(op, executionID string, err error) error {
	if err == nil {
		return nil
	}

	if persistence.IsConflict(err) || persistence.IsExecutionNotFound(err) ||
		persistence.IsWorkflowNotFound(err) || errors.Is(err, persistence.ErrExecutionExists) {
		return err
	}

	return &PersistenceError{Op: op, ExecutionID: executionID, Err: err}
}
