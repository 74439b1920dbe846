package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	kschema "github.com/ormasoftchile/stepseq/pkg/kernel/schema"
	"github.com/ormasoftchile/stepseq/pkg/kernel/trace"
	"github.com/ormasoftchile/stepseq/pkg/kernel/validate"
	"github.com/ormasoftchile/stepseq/pkg/logging"
)

// DefaultTimeout bounds a scenario run when neither the runner nor the
// scenario sets one. Sequences without a terminal route run until it fires.
const DefaultTimeout = 10 * time.Second

// ErrSequenceInvalid is returned when the sequence under test fails validation.
var ErrSequenceInvalid = errors.New("sequence validation failed")

// TestResult is the result of running one scenario.
type TestResult struct {
	SequenceName string            `json:"sequence_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	RunStatus    string            `json:"run_status,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Sequence  string       `json:"sequence"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Failed reports whether any scenario failed or errored.
func (o *TestOutput) Failed() bool {
	return o.Summary.Failed > 0 || o.Summary.Errors > 0
}

// Runner executes scenario-based tests against a sequence.
type Runner struct {
	Timeout  time.Duration // per scenario; a scenario's own timeout wins
	FailFast bool
	Logger   *zerolog.Logger // nil uses the "test" component logger
	Engine   []engine.Option // applied after the runner's own engine options
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// ScenariosDir returns the directory scenarios for sequencePath live in:
// a sibling `scenarios/<sequence-name>/` directory.
func ScenariosDir(sequencePath string) string {
	dir := filepath.Dir(sequencePath)
	base := strings.TrimSuffix(filepath.Base(sequencePath), filepath.Ext(sequencePath))
	return filepath.Join(dir, "scenarios", base)
}

// DiscoverScenarios finds scenario directories for a sequence, each
// subdirectory of ScenariosDir containing a `scenario.yaml`.
func DiscoverScenarios(sequencePath string) ([]ScenarioInfo, error) {
	scenariosDir := ScenariosDir(sequencePath)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(scenariosDir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(scenariosDir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

// RunAll discovers and runs all scenarios for a sequence.
func (r *Runner) RunAll(ctx context.Context, sequencePath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(sequencePath)
	if err != nil {
		return nil, err
	}

	seq, err := loadValid(sequencePath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{
		Sequence: seq.Meta.Name,
	}

	for _, si := range scenarios {
		result := r.runScenario(ctx, seq, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case "passed":
			output.Summary.Passed++
		case "failed":
			output.Summary.Failed++
		case "skipped":
			output.Summary.Skipped++
		case "error":
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == "failed" || result.Status == "error") {
			break
		}
	}

	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, sequencePath, scenarioName string) (*TestResult, error) {
	seq, err := loadValid(sequencePath)
	if err != nil {
		return nil, err
	}

	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(ScenariosDir(sequencePath), scenarioName)}
	result := r.runScenario(ctx, seq, si)
	return &result, nil
}

func loadValid(sequencePath string) (*kschema.Sequence, error) {
	seq, valErrs := validate.ValidateFile(sequencePath)
	if validate.HasErrors(valErrs) {
		errs, _ := validate.Split(valErrs)
		return nil, fmt.Errorf("%w: %s", ErrSequenceInvalid, errs[0])
	}
	return seq, nil
}

// runScenario executes a single scenario and evaluates its expectations.
func (r *Runner) runScenario(ctx context.Context, seq *kschema.Sequence, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{
		SequenceName: seq.Meta.Name,
		ScenarioName: si.Name,
	}
	fail := func(format string, args ...any) TestResult {
		result.Status = "error"
		result.Error = fmt.Sprintf(format, args...)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	scenario, err := LoadScenario(filepath.Join(si.Dir, "scenario.yaml"))
	if err != nil {
		return fail("load scenario: %s", err)
	}
	if scenario.Expect == nil {
		result.Status = "skipped"
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	log := r.logger().With().Str("scenario", si.Name).Logger()

	// Scenario vars override the sequence defaults.
	vars := maps.Clone(seq.Meta.Vars)
	if vars == nil {
		vars = map[string]any{}
	}
	maps.Copy(vars, scenario.Vars)
	env := eval.NewEnv(vars)
	env.SetLogger(log)

	steps, err := compiler.Compile(seq, env)
	if err != nil {
		return fail("compile: %s", err)
	}

	timeout, _ := scenario.TimeoutDuration()
	if timeout == 0 {
		timeout = r.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID := "test-" + si.Name
	var traceBuf bytes.Buffer
	tw := trace.NewWriter(&traceBuf, runID)

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithTrace(tw),
		engine.WithName(seq.Meta.Name),
		engine.WithRunID(runID),
	}
	eng := engine.New(append(opts, r.Engine...)...)
	engineResult := eng.Run(runCtx, steps)

	runResult := &RunResult{
		Status:       string(engineResult.Status),
		Succeeded:    engineResult.Succeeded(),
		VisitedSteps: engineResult.VisitedSteps(),
		ReachedSteps: engineResult.ReachedSteps(),
		Vars:         env.Snapshot(),
		Error:        engineResult.Error,
	}

	assertions := Evaluate(scenario.Expect, runResult)
	if vr, err := trace.Verify(&traceBuf, nil); err != nil || !vr.Valid {
		msg := "trace chain broken"
		if err != nil {
			msg = err.Error()
		} else if vr.Error != "" {
			msg = vr.Error
		}
		assertions = append(assertions, AssertionResult{
			Type:     "trace",
			Expected: "valid",
			Actual:   "invalid",
			Message:  msg,
		})
	}

	result.Status = "passed"
	if HasFailures(assertions) {
		result.Status = "failed"
	}
	result.RunStatus = runResult.Status
	result.Assertions = assertions
	result.DurationMs = time.Since(start).Milliseconds()
	log.Debug().Str("status", result.Status).Int("steps_executed", engineResult.StepsExecuted).Msg("scenario finished")
	return result
}

func (r *Runner) logger() zerolog.Logger {
	if r.Logger != nil {
		return *r.Logger
	}
	return logging.Component("test")
}
