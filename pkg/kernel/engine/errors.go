package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnevaluable is returned when a probe reports it could not evaluate.
	ErrUnevaluable = errors.New("condition could not be evaluated")

	// ErrUnknownRoute is returned for a route variant the controller does not know.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrUnknownCombinator is returned for a condition group with an invalid combinator.
	ErrUnknownCombinator = errors.New("unknown condition combinator")

	// ErrStopped is returned by a BeforeStep hook that wants the run to end.
	ErrStopped = errors.New("run stopped")
)

// PanicError wraps a value recovered from a panicking action or probe.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
