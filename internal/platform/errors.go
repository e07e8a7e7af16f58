package platform

import (
	"context"
	"errors"
	"fmt"

	"mdfcal/internal/anneal"
)

type FailureClass string

const (
	FatalStartup       FailureClass = "fatal_startup"
	AdapterFailure     FailureClass = "adapter_failure"
	PersistenceFailure FailureClass = "persistence_failure"
)

// RunError aborts a run. Chain and Iteration are -1 when the failure happened
// outside the search loop.
type RunError struct {
	Class     FailureClass
	Chain     int
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s at chain %d iteration %d: %v", e.Class, e.Chain, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ClassOf reports the failure class carried by err.
func ClassOf(err error) (FailureClass, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.Class, true
	}
	return "", false
}

func startupError(err error) error {
	return &RunError{Class: FatalStartup, Chain: -1, Iteration: -1, Err: err}
}

func persistenceError(err error) error {
	return &RunError{Class: PersistenceFailure, Chain: -1, Iteration: -1, Err: err}
}

// classifyChainError maps a search failure onto a run failure class.
func classifyChainError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	f, ok := anneal.AsFailure(err)
	if !ok {
		return &RunError{Class: AdapterFailure, Chain: -1, Iteration: -1, Err: err}
	}
	class := AdapterFailure
	if f.Kind == anneal.FailureRecord {
		class = PersistenceFailure
	}
	return &RunError{Class: class, Chain: f.Chain, Iteration: f.Iteration, Err: f.Err}
}
