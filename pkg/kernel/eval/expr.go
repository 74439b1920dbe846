package eval

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/types"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
)

// CompileCheck type-checks a boolean check against the shape of vars. A nil
// value declares a name without fixing its type.
func CompileCheck(src string, vars map[string]any) error {
	if _, err := expr.Compile(src, expr.Env(shapeOf(vars)), expr.AsBool()); err != nil {
		return fmt.Errorf("compile check %q: %w", src, err)
	}
	return nil
}

// CompileValue type-checks a value expression against the shape of vars.
func CompileValue(src string, vars map[string]any) error {
	if _, err := expr.Compile(src, expr.Env(shapeOf(vars))); err != nil {
		return fmt.Errorf("compile expression %q: %w", src, err)
	}
	return nil
}

// Check evaluates a boolean expression against vars.
func Check(src string, vars map[string]any) (bool, error) {
	env := envOf(vars)
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile check %q: %w", src, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval check %q: %w", src, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("check %q did not return bool (got %T: %v)", src, output, output)
	}
	return result, nil
}

// Value evaluates an expression against vars.
func Value(src string, vars map[string]any) (any, error) {
	env := envOf(vars)
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval expression %q: %w", src, err)
	}
	return output, nil
}

// NewProbe returns a probe evaluating src against the current scope on every
// call. A check that fails to compile, fails at runtime or does not yield a
// bool cannot be sensed, so the probe reports Evaluated=false.
func NewProbe(src string, env *Env) engine.Probe {
	return func(ctx context.Context) (engine.ProbeResult, error) {
		ok, err := Check(src, env.Snapshot())
		if err != nil {
			log := env.Logger()
			log.Warn().Err(err).Msg("check could not be evaluated")
			return engine.Unevaluated(), nil
		}
		return engine.Matched(ok), nil
	}
}

func shapeOf(vars map[string]any) types.Map {
	shape := make(types.Map, len(vars))
	for name, v := range vars {
		if v == nil {
			shape[name] = types.Any
			continue
		}
		shape[name] = types.TypeOf(v)
	}
	return shape
}

func envOf(vars map[string]any) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	return vars
}
