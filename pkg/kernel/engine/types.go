package engine

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Callbacks supplied by the host
// ---------------------------------------------------------------------------

// Action performs the work of a step. The returned outcome is recorded for
// diagnostics only; it never decides whether the step succeeded.
type Action func(ctx context.Context) (any, error)

// Probe is a single cancellable check.
type Probe func(ctx context.Context) (ProbeResult, error)

// ProbeResult is the answer of a probe. Evaluated=false means the probe could
// not determine an answer, which is fatal for the whole run.
type ProbeResult struct {
	Evaluated bool
	Matched   bool
}

// Matched is shorthand for an evaluated probe result.
func Matched(ok bool) ProbeResult {
	return ProbeResult{Evaluated: true, Matched: ok}
}

// Unevaluated is the result of a probe that could not sense its condition.
func Unevaluated() ProbeResult {
	return ProbeResult{}
}

// ---------------------------------------------------------------------------
// Timing and combinators
// ---------------------------------------------------------------------------

// CheckTiming decides whether a step's action runs and when its condition
// groups are evaluated.
type CheckTiming int

const (
	// RunActionThenEvaluate runs the action, then evaluates the groups (if any).
	RunActionThenEvaluate CheckTiming = iota
	// EvaluateConditionsOnly skips the action when the step has groups.
	EvaluateConditionsOnly
)

func (t CheckTiming) String() string {
	switch t {
	case RunActionThenEvaluate:
		return "action_then_evaluate"
	case EvaluateConditionsOnly:
		return "conditions_only"
	default:
		return fmt.Sprintf("timing(%d)", int(t))
	}
}

// Combinator joins the probes of a condition group.
type Combinator int

const (
	And Combinator = iota
	Or
	Not
)

func (c Combinator) String() string {
	switch c {
	case And:
		return "and"
	case Or:
		return "or"
	case Not:
		return "not"
	default:
		return fmt.Sprintf("combinator(%d)", int(c))
	}
}

// MarshalText renders the combinator by name in JSON traces.
func (c Combinator) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ConditionGroup is a set of probes combined by And, Or or Not. Required is
// the match threshold and is ignored by Not groups.
type ConditionGroup struct {
	Combinator Combinator
	Required   int
	Probes     []Probe
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// SuccessRoute is one of Advance, Terminate or JumpTo.
type SuccessRoute interface {
	successRoute()
	String() string
}

// FailureRoute is one of Repeat, Restart or JumpTo.
type FailureRoute interface {
	failureRoute()
	String() string
}

// Advance moves to the next step.
type Advance struct{}

// Terminate ends the run successfully.
type Terminate struct{}

// Repeat runs the same step again.
type Repeat struct{}

// Restart goes back to the first step.
type Restart struct{}

// JumpTo moves to an arbitrary index. The index is not checked against the
// sequence length; landing outside the sequence completes the run.
type JumpTo struct {
	Index int
}

func (Advance) successRoute()   {}
func (Terminate) successRoute() {}
func (JumpTo) successRoute()    {}
func (Repeat) failureRoute()    {}
func (Restart) failureRoute()   {}
func (JumpTo) failureRoute()    {}

func (Advance) String() string   { return "advance" }
func (Terminate) String() string { return "terminate" }
func (Repeat) String() string    { return "repeat" }
func (Restart) String() string   { return "restart" }
func (j JumpTo) String() string  { return fmt.Sprintf("jump(%d)", j.Index) }

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is one unit of a sequence. Steps are read-only configuration: the
// engine never mutates them, so a slice of steps may be shared by runs.
type Step struct {
	// ID and Name label the step in logs and traces.
	ID   string
	Name string

	Action      Action
	Conditions  []ConditionGroup
	Timing      CheckTiming
	AutoSuccess bool

	// OnSuccess defaults to Advance and OnFailure to Repeat when nil.
	OnSuccess SuccessRoute
	OnFailure FailureRoute
}

// Label returns the step ID, or a positional label when the ID is empty.
func (s *Step) Label(index int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("_step_%d", index)
}

func (s *Step) resolvedSuccess() SuccessRoute {
	if s.OnSuccess == nil {
		return Advance{}
	}
	return s.OnSuccess
}

func (s *Step) resolvedFailure() FailureRoute {
	if s.OnFailure == nil {
		return Repeat{}
	}
	return s.OnFailure
}
