// Package recorder turns an executed run into a test scenario whose
// expectations pin down what the run did, so the run can be kept as a
// regression test next to its sequence.
package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/executor"
	ktesting "github.com/ormasoftchile/stepseq/pkg/kernel/testing"
)

// Recorder captures runs as scenarios.
type Recorder struct {
	ignored map[string]bool
}

// New creates a recorder.
func New() *Recorder {
	return &Recorder{ignored: make(map[string]bool)}
}

// Ignore leaves the named variables out of recorded expectations, for values
// that differ between runs.
func (r *Recorder) Ignore(names ...string) {
	for _, n := range names {
		r.ignored[n] = true
	}
}

// Capture builds a scenario reproducing res. vars are the overrides the run
// was started with and timeout its deadline (0 for none).
func (r *Recorder) Capture(res *executor.Result, vars map[string]any, timeout time.Duration) *ktesting.Scenario {
	succeeded := res.Succeeded()
	spec := &ktesting.TestSpec{
		Status: string(res.Status),
		Result: &succeeded,
		Vars:   make(map[string]string, len(res.Vars)),
	}

	// A trimmed history cannot pin the exact path; fall back to the steps
	// that were reached.
	if res.StepsExecuted == len(res.Visits) {
		spec.Visits = res.VisitedSteps()
	} else {
		spec.MustReach = res.ReachedSteps()
	}

	for name, v := range res.Vars {
		if !r.ignored[name] {
			spec.Vars[name] = fmt.Sprint(v)
		}
	}
	if res.Error != nil && res.Status != engine.StatusCompleted {
		spec.Error = res.Error.Error()
	}

	sc := &ktesting.Scenario{
		Description: fmt.Sprintf("Recorded from run %s.", res.RunID),
		Expect:      spec,
		Tags:        []string{"recorded"},
	}
	if len(vars) > 0 {
		sc.Vars = maps.Clone(vars)
	}
	if timeout > 0 {
		sc.Timeout = timeout.String()
	}
	return sc
}

// Write stores sc as scenarios/<sequence>/<name>/scenario.yaml next to the
// sequence file and returns its path. An existing scenario is not
// overwritten.
func Write(sequencePath, name string, sc *ktesting.Scenario) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid scenario name %q", name)
	}
	dir := filepath.Join(ktesting.ScenariosDir(sequencePath), name)
	path := filepath.Join(dir, "scenario.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("scenario %q already exists at %s", name, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	data, err := yaml.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scenario dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write scenario: %w", err)
	}
	return path, nil
}
