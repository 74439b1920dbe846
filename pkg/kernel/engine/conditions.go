package engine

import (
	"context"
	"fmt"
)

// GroupResult is the evaluation of one condition group.
type GroupResult struct {
	Combinator Combinator `json:"combinator"`
	Matched    int        `json:"matched"`
	Required   int        `json:"required"`
	Passed     bool       `json:"passed"`
}

// ConditionReport is the outcome of evaluating a step's condition groups.
// Groups holds only the groups that were actually evaluated; evaluation stops
// early on a failing And group or a vetoing Not group.
type ConditionReport struct {
	Groups []GroupResult `json:"groups"`
	Result bool          `json:"result"`
}

// EvaluateConditions evaluates groups in order and combines them into a
// single pass/fail:
//
//	result = (every And group passed) || (any Or group passed)
//
// A Not group with any matched probe makes the result false immediately. A
// failing And group also ends evaluation with false. With no And groups the
// And side is vacuously true.
//
// A probe reporting Evaluated=false returns ErrUnevaluable regardless of the
// group's combinator; the caller must abort the run.
func EvaluateConditions(ctx context.Context, groups []ConditionGroup) (*ConditionReport, error) {
	report := &ConditionReport{}
	andResult := true
	orResult := false

	for gi, group := range groups {
		matched, err := countMatches(ctx, group.Probes)
		if err != nil {
			return report, fmt.Errorf("group %d: %w", gi, err)
		}

		gr := GroupResult{
			Combinator: group.Combinator,
			Matched:    matched,
			Required:   group.Required,
		}

		switch group.Combinator {
		case And:
			gr.Passed = matched >= group.Required
			andResult = andResult && gr.Passed
		case Or:
			gr.Passed = matched >= group.Required
			orResult = orResult || gr.Passed
		case Not:
			gr.Passed = matched == 0
			report.Groups = append(report.Groups, gr)
			if !gr.Passed {
				report.Result = false
				return report, nil
			}
			continue
		default:
			return report, fmt.Errorf("group %d: %w %v", gi, ErrUnknownCombinator, group.Combinator)
		}

		report.Groups = append(report.Groups, gr)
		if !andResult {
			report.Result = false
			return report, nil
		}
	}

	report.Result = andResult || orResult
	return report, nil
}

// countMatches awaits every probe in order. It stops at the first probe that
// could not be evaluated.
func countMatches(ctx context.Context, probes []Probe) (int, error) {
	matched := 0
	for pi, probe := range probes {
		if probe == nil {
			return matched, fmt.Errorf("probe %d: %w: nil probe", pi, ErrUnevaluable)
		}
		res, err := await[ProbeResult](ctx, probe)
		if err != nil {
			return matched, fmt.Errorf("probe %d: %w", pi, err)
		}
		if !res.Evaluated {
			return matched, fmt.Errorf("probe %d: %w", pi, ErrUnevaluable)
		}
		if res.Matched {
			matched++
		}
	}
	return matched, nil
}

// await runs fn on its own goroutine and waits for either its result or the
// cancellation of ctx. A callback that ignores ctx is abandoned, not waited
// for. Panics are recovered into *PanicError.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &PanicError{Value: r}}
			}
		}()
		v, err := fn(ctx)
		ch <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.val, r.err
	}
}
