// Package compiler turns a stepseq/v0 document into engine steps bound to a
// variable scope.
package compiler

import (
	"fmt"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// Compile binds every step of seq to env. Jump targets given by id are
// resolved to indices; raw step indices pass through unchecked, so a jump
// outside the sequence ends the run.
func Compile(seq *schema.Sequence, env *eval.Env) ([]engine.Step, error) {
	index, err := IndexIDs(seq.Steps)
	if err != nil {
		return nil, err
	}

	steps := make([]engine.Step, len(seq.Steps))
	for i := range seq.Steps {
		s, err := compileStep(&seq.Steps[i], env, index)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps[i] = s
	}
	return steps, nil
}

// IndexIDs maps step ids to their positions. Empty ids are skipped.
func IndexIDs(steps []schema.Step) (map[string]int, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			continue
		}
		if prev, ok := index[s.ID]; ok {
			return nil, fmt.Errorf("steps[%d]: duplicate step ID %q (first at steps[%d])", i, s.ID, prev)
		}
		index[s.ID] = i
	}
	return index, nil
}

func compileStep(s *schema.Step, env *eval.Env, index map[string]int) (engine.Step, error) {
	out := engine.Step{
		ID:          s.ID,
		Name:        s.Name,
		AutoSuccess: s.AutoSuccess,
	}

	action, err := eval.NewAction(s.Action, env)
	if err != nil {
		return out, fmt.Errorf("action: %w", err)
	}
	out.Action = action

	if out.Timing, err = Timing(s.Timing); err != nil {
		return out, err
	}

	for gi, g := range s.Conditions {
		group, err := compileGroup(g, env)
		if err != nil {
			return out, fmt.Errorf("conditions[%d]: %w", gi, err)
		}
		out.Conditions = append(out.Conditions, group)
	}

	if s.OnSuccess != nil {
		if out.OnSuccess, err = SuccessRoute(*s.OnSuccess, index); err != nil {
			return out, fmt.Errorf("on_success: %w", err)
		}
	}
	if s.OnFailure != nil {
		if out.OnFailure, err = FailureRoute(*s.OnFailure, index); err != nil {
			return out, fmt.Errorf("on_failure: %w", err)
		}
	}
	return out, nil
}

func compileGroup(g schema.ConditionGroup, env *eval.Env) (engine.ConditionGroup, error) {
	c, err := Combinator(g.Type)
	if err != nil {
		return engine.ConditionGroup{}, err
	}
	if g.Required < 0 {
		return engine.ConditionGroup{}, fmt.Errorf("required must be >= 0, got %d", g.Required)
	}
	group := engine.ConditionGroup{
		Combinator: c,
		Required:   g.Required,
		Probes:     make([]engine.Probe, len(g.Checks)),
	}
	for i, src := range g.Checks {
		group.Probes[i] = eval.NewProbe(src, env)
	}
	return group, nil
}

// Timing maps a timing name to the engine value. Empty means
// action_then_evaluate.
func Timing(name string) (engine.CheckTiming, error) {
	switch name {
	case "", schema.TimingActionThenEvaluate:
		return engine.RunActionThenEvaluate, nil
	case schema.TimingConditionsOnly:
		return engine.EvaluateConditionsOnly, nil
	default:
		return 0, fmt.Errorf("unknown timing %q: must be %s or %s", name, schema.TimingActionThenEvaluate, schema.TimingConditionsOnly)
	}
}

// Combinator maps a condition group type to the engine combinator.
func Combinator(name string) (engine.Combinator, error) {
	switch name {
	case schema.CombinatorAnd:
		return engine.And, nil
	case schema.CombinatorOr:
		return engine.Or, nil
	case schema.CombinatorNot:
		return engine.Not, nil
	default:
		return 0, fmt.Errorf("%w %q: must be and, or, or not", engine.ErrUnknownCombinator, name)
	}
}

// SuccessRoute maps a route to an engine success route.
func SuccessRoute(r schema.Route, index map[string]int) (engine.SuccessRoute, error) {
	switch r.Action {
	case schema.RouteAdvance:
		return engine.Advance{}, noTarget(r)
	case schema.RouteTerminate:
		return engine.Terminate{}, noTarget(r)
	case schema.RouteJump:
		return jump(r, index)
	case schema.RouteRepeat, schema.RouteRestart:
		return nil, fmt.Errorf("%w: %q is only valid on failure", engine.ErrUnknownRoute, r.Action)
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownRoute, r.Action)
	}
}

// FailureRoute maps a route to an engine failure route.
func FailureRoute(r schema.Route, index map[string]int) (engine.FailureRoute, error) {
	switch r.Action {
	case schema.RouteRepeat:
		return engine.Repeat{}, noTarget(r)
	case schema.RouteRestart:
		return engine.Restart{}, noTarget(r)
	case schema.RouteJump:
		return jump(r, index)
	case schema.RouteAdvance, schema.RouteTerminate:
		return nil, fmt.Errorf("%w: %q is only valid on success", engine.ErrUnknownRoute, r.Action)
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownRoute, r.Action)
	}
}

func jump(r schema.Route, index map[string]int) (engine.JumpTo, error) {
	switch {
	case r.Target != "" && r.Step != nil:
		return engine.JumpTo{}, fmt.Errorf("jump takes either step or target, not both")
	case r.Target != "":
		i, ok := index[r.Target]
		if !ok {
			return engine.JumpTo{}, fmt.Errorf("jump target %q does not exist", r.Target)
		}
		return engine.JumpTo{Index: i}, nil
	case r.Step != nil:
		return engine.JumpTo{Index: *r.Step}, nil
	default:
		return engine.JumpTo{}, fmt.Errorf("jump needs a step or a target")
	}
}

func noTarget(r schema.Route) error {
	if r.Target != "" || r.Step != nil {
		return fmt.Errorf("%s does not take a step or target", r.Action)
	}
	return nil
}
