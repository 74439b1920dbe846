package compiler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

const reroll = `
apiVersion: stepseq/v0
meta:
  name: reroll
  vars:
    attempts: 0
    target: 3
steps:
  - id: roll
    action:
      set: {attempts: "attempts + 1"}
      outcome: attempts
    conditions:
      - {type: and, required: 1, checks: ["attempts >= target"]}
    on_failure: repeat
  - id: verify
    timing: conditions_only
    conditions:
      - {type: not, checks: ["attempts > target"]}
      - {type: or, required: 1, checks: ["attempts == target", "false"]}
    on_success: {action: jump, target: finish}
    on_failure: restart
  - id: unreachable
    auto_success: true
    on_success: {action: jump, step: 99}
  - id: finish
    auto_success: true
    on_success: terminate
`

func compile(t *testing.T, doc string) ([]engine.Step, *eval.Env) {
	t.Helper()
	seq, err := schema.LoadString(doc)
	require.NoError(t, err)
	env := eval.NewEnv(seq.Meta.Vars)
	env.SetLogger(zerolog.Nop())
	steps, err := Compile(seq, env)
	require.NoError(t, err)
	return steps, env
}

func TestCompile_Reroll(t *testing.T) {
	steps, env := compile(t, reroll)
	require.Len(t, steps, 4)

	assert.Equal(t, engine.EvaluateConditionsOnly, steps[1].Timing)
	assert.Equal(t, engine.JumpTo{Index: 3}, steps[1].OnSuccess)
	assert.Equal(t, engine.Restart{}, steps[1].OnFailure)
	assert.Equal(t, engine.JumpTo{Index: 99}, steps[2].OnSuccess)
	assert.Nil(t, steps[0].OnSuccess, "absent routes stay nil and default in the engine")
	assert.Nil(t, steps[3].Action)

	eng := engine.New(engine.WithLogger(zerolog.Nop()))
	result := eng.Run(context.Background(), steps)

	require.True(t, result.Succeeded(), "error: %v", result.Error)
	assert.Equal(t, []string{"roll", "roll", "roll", "verify", "finish"}, result.VisitedSteps())
	attempts, _ := env.Get("attempts")
	assert.Equal(t, 3, attempts)
	assert.False(t, result.Reached(2))
}

func TestCompile_UnevaluableCheckAbortsRun(t *testing.T) {
	steps, _ := compile(t, `
apiVersion: stepseq/v0
meta: {name: broken}
steps:
  - conditions:
      - {type: and, required: 1, checks: ["no_such_var > 1"]}
`)
	result := engine.New(engine.WithLogger(zerolog.Nop())).Run(context.Background(), steps)
	assert.Equal(t, engine.StatusAborted, result.Status)
	assert.ErrorIs(t, result.Error, engine.ErrUnevaluable)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		step string
		want string
	}{
		{"bad timing", "timing: later", "unknown timing"},
		{"bad combinator", "conditions: [{type: xor, checks: []}]", "unknown condition combinator"},
		{"negative threshold", "conditions: [{type: and, required: -1, checks: []}]", "required must be >= 0"},
		{"repeat on success", "on_success: repeat", "only valid on failure"},
		{"advance on failure", "on_failure: advance", "only valid on success"},
		{"unknown route", "on_success: sideways", "unknown route"},
		{"unknown target", "on_success: {action: jump, target: nowhere}", `"nowhere" does not exist`},
		{"jump without destination", "on_failure: jump", "needs a step or a target"},
		{"jump with both", "on_failure: {action: jump, step: 0, target: a}", "not both"},
		{"target on advance", "on_success: {action: advance, step: 2}", "does not take"},
		{"bad wait", "action: {wait: soon}", "wait"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := schema.LoadString("apiVersion: stepseq/v0\nmeta: {name: x}\nsteps:\n  - id: a\n    " + tt.step + "\n")
			require.NoError(t, err)
			_, err = Compile(seq, eval.NewEnv(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIndexIDs_Duplicate(t *testing.T) {
	_, err := IndexIDs([]schema.Step{{ID: "a"}, {}, {ID: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first at steps[0]")

	index, err := IndexIDs([]schema.Step{{ID: "a"}, {}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 2}, index)
}
