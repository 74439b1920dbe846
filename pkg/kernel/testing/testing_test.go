package testing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
)

const rerollPath = "testdata/reroll.yaml"

func quietRunner() *Runner {
	nop := zerolog.Nop()
	return &Runner{Timeout: 2 * time.Second, Logger: &nop}
}

func boolPtr(b bool) *bool { return &b }

func byType(results []AssertionResult, typ string) []AssertionResult {
	var out []AssertionResult
	for _, r := range results {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestEvaluate_AllPass(t *testing.T) {
	spec := &TestSpec{
		Status:       "completed",
		Result:       boolPtr(true),
		MustReach:    []string{"roll", "confirm"},
		MustNotReach: []string{"skip"},
		Visits:       []string{"roll", "confirm"},
		Vars:         map[string]string{"attempts": "2", "mode": "/^fa/"},
	}
	run := &RunResult{
		Status:       "completed",
		Succeeded:    true,
		VisitedSteps: []string{"roll", "confirm"},
		Vars:         map[string]any{"attempts": 2, "mode": "fast"},
	}

	results := Evaluate(spec, run)
	assert.Len(t, results, 8)
	assert.False(t, HasFailures(results))
}

func TestEvaluate_Failures(t *testing.T) {
	spec := &TestSpec{
		Status:       "completed",
		Result:       boolPtr(true),
		MustReach:    []string{"confirm"},
		MustNotReach: []string{"roll"},
		Visits:       []string{"roll", "confirm"},
		Vars:         map[string]string{"attempts": "3", "missing": "x"},
	}
	run := &RunResult{
		Status:       "aborted",
		VisitedSteps: []string{"roll"},
		Vars:         map[string]any{"attempts": 1},
		Error:        errors.New("boom"),
	}

	results := Evaluate(spec, run)
	require.True(t, HasFailures(results))
	for _, r := range results {
		assert.False(t, r.Passed, r.Message)
	}

	visits := byType(results, "visits")
	require.Len(t, visits, 1)
	assert.Equal(t, "roll → confirm", visits[0].Expected)
	assert.Equal(t, "roll", visits[0].Actual)

	vars := byType(results, "var")
	require.Len(t, vars, 2)
	assert.Equal(t, "attempts", vars[0].Key, "vars are checked in name order")
	assert.Equal(t, "", vars[1].Actual)
}

func TestEvaluate_Error(t *testing.T) {
	run := &RunResult{Status: "aborted", Error: errors.New("step 0 (roll): probe failed")}

	assert.False(t, HasFailures(Evaluate(&TestSpec{Error: "probe failed"}, run)))
	assert.False(t, HasFailures(Evaluate(&TestSpec{Error: "/^step 0/"}, run)))
	assert.True(t, HasFailures(Evaluate(&TestSpec{Error: "timeout"}, run)))
	assert.True(t, HasFailures(Evaluate(&TestSpec{Error: "anything"}, &RunResult{Status: "completed"})))
}

func TestEvaluate_ReachedOutlivesTrimmedVisits(t *testing.T) {
	spec := &TestSpec{MustReach: []string{"first", "spin"}, MustNotReach: []string{"first"}}
	run := &RunResult{
		Status:       "cancelled",
		VisitedSteps: []string{"spin", "spin"},
		ReachedSteps: []string{"first", "spin"},
	}

	results := Evaluate(spec, run)
	reach := byType(results, "must_reach")
	require.Len(t, reach, 2)
	assert.True(t, reach[0].Passed, reach[0].Message)
	assert.True(t, reach[1].Passed, reach[1].Message)
	notReach := byType(results, "must_not_reach")
	require.Len(t, notReach, 1)
	assert.False(t, notReach[0].Passed, "first ran even though it left the history")
}

func TestEvaluate_Empty(t *testing.T) {
	assert.Empty(t, Evaluate(&TestSpec{}, &RunResult{Status: "completed"}))
}

func TestCompareValue(t *testing.T) {
	tests := []struct {
		expected, actual string
		want             bool
	}{
		{"3", "3", true},
		{"3", "30", false},
		{"/^3/", "30", true},
		{"/[/", "[", false},
		{"//", "//", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareValue(tt.expected, tt.actual), "%q vs %q", tt.expected, tt.actual)
	}
}

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
description: quick
vars: {attempts: 2}
timeout: 250ms
tags: [smoke]
expect:
  status: completed
  result: false
`))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Vars["attempts"])
	d, err := s.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	require.NotNil(t, s.Expect)
	require.NotNil(t, s.Expect.Result)
	assert.False(t, *s.Expect.Result)

	_, err = ParseScenario([]byte("timeout: soon\n"))
	assert.Error(t, err)

	_, err = ParseScenario([]byte("vars: [1, 2\n"))
	assert.Error(t, err)
}

func TestDiscoverScenarios(t *testing.T) {
	scenarios, err := DiscoverScenarios(rerollPath)
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"bad_expectation", "no_expect", "reaches_target", "start_high", "type_mismatch"}, names)

	none, err := DiscoverScenarios(filepath.Join(t.TempDir(), "lonely.yaml"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunner_RunAll(t *testing.T) {
	out, err := quietRunner().RunAll(context.Background(), rerollPath)
	require.NoError(t, err)

	assert.Equal(t, "reroll", out.Sequence)
	assert.Equal(t, TestSummary{Total: 5, Passed: 3, Failed: 1, Skipped: 1}, out.Summary)
	assert.True(t, out.Failed())

	status := map[string]TestResult{}
	for _, r := range out.Scenarios {
		status[r.ScenarioName] = r
	}
	assert.Equal(t, "failed", status["bad_expectation"].Status)
	assert.Equal(t, "skipped", status["no_expect"].Status)
	for _, name := range []string{"reaches_target", "start_high", "type_mismatch"} {
		assert.Equal(t, "passed", status[name].Status, "%s: %+v", name, status[name].Assertions)
	}
	assert.Equal(t, "cancelled", status["start_high"].RunStatus)
	assert.Equal(t, "aborted", status["type_mismatch"].RunStatus)
}

func TestRunner_FailFast(t *testing.T) {
	r := quietRunner()
	r.FailFast = true

	out, err := r.RunAll(context.Background(), rerollPath)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.Failed)
}

func TestRunner_RunScenario(t *testing.T) {
	res, err := quietRunner().RunScenario(context.Background(), rerollPath, "reaches_target")
	require.NoError(t, err)
	assert.Equal(t, "passed", res.Status, "%+v", res.Assertions)
	assert.Equal(t, "completed", res.RunStatus)

	res, err = quietRunner().RunScenario(context.Background(), rerollPath, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "load scenario")
}

func TestRunner_InvalidSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiVersion: stepseq/v0\nmeta: {name: x}\nsteps: []\n"), 0o644))

	_, err := quietRunner().RunAll(context.Background(), path)
	assert.ErrorIs(t, err, ErrSequenceInvalid)
}

const spinSequence = `apiVersion: stepseq/v0
meta:
  name: spin
  vars:
    n: 0
steps:
  - id: first
    auto_success: true
  - id: spin
    action:
      set:
        n: "n + 1"
    conditions:
      - type: and
        required: 1
        checks: ["n >= 20"]
    on_success: terminate
    on_failure: repeat
`

const spinScenario = `expect:
  status: completed
  must_reach: [first, spin]
  vars:
    n: "20"
`

func TestRunner_MustReachSurvivesHistoryLimit(t *testing.T) {
	dir := t.TempDir()
	seqPath := filepath.Join(dir, "spin.yaml")
	require.NoError(t, os.WriteFile(seqPath, []byte(spinSequence), 0o644))
	scDir := filepath.Join(dir, "scenarios", "spin", "long")
	require.NoError(t, os.MkdirAll(scDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scDir, "scenario.yaml"), []byte(spinScenario), 0o644))

	r := quietRunner()
	r.Engine = []engine.Option{engine.WithHistoryLimit(5)}
	res, err := r.RunScenario(context.Background(), seqPath, "long")
	require.NoError(t, err)
	assert.Equal(t, "passed", res.Status, "%+v", res.Assertions)
}
