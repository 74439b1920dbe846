// Package testing implements the stepseq/v0 scenario-based test harness.
// It runs a sequence with scenario-specific variables and evaluates
// assertions on the run status, step visits and final variable values.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is the content of a scenario.yaml file.
type Scenario struct {
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]any `yaml:"vars,omitempty"        json:"vars,omitempty"`    // overrides meta.vars
	Timeout     string         `yaml:"timeout,omitempty"     json:"timeout,omitempty"` // run deadline, e.g. 500ms
	Expect      *TestSpec      `yaml:"expect,omitempty"      json:"expect,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"        json:"tags,omitempty"`
}

// TestSpec declares what to assert about a scenario run.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Status       string            `yaml:"status,omitempty"         json:"status,omitempty"` // completed, aborted, cancelled
	Result       *bool             `yaml:"result,omitempty"         json:"result,omitempty"`
	MustReach    []string          `yaml:"must_reach,omitempty"     json:"must_reach,omitempty"`     // step IDs that must be visited
	MustNotReach []string          `yaml:"must_not_reach,omitempty" json:"must_not_reach,omitempty"` // step IDs that must NOT be visited
	Visits       []string          `yaml:"visits,omitempty"         json:"visits,omitempty"`         // exact visit order
	Vars         map[string]string `yaml:"vars,omitempty"           json:"vars,omitempty"`           // variable → expected value
	Error        string            `yaml:"error,omitempty"          json:"error,omitempty"`          // expected error text
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Timeout != "" {
		if _, err := s.TimeoutDuration(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// TimeoutDuration parses Timeout. Zero means none was set.
func (s *Scenario) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse scenario timeout: %w", err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Run Result (input to assertion evaluator)
// ---------------------------------------------------------------------------

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status       string         // completed, aborted, cancelled
	Succeeded    bool           // the engine's boolean result
	VisitedSteps []string       // ordered step labels, possibly trimmed to the newest
	ReachedSteps []string       // every step executed at least once; nil means VisitedSteps
	Vars         map[string]any // final variable state
	Error        error
}

// ---------------------------------------------------------------------------
// Assertion Evaluation
// ---------------------------------------------------------------------------

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // status, result, must_reach, visits, etc.
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.Status != "" {
		results = append(results, AssertionResult{
			Type:     "status",
			Expected: spec.Status,
			Actual:   run.Status,
			Passed:   run.Status == spec.Status,
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.Status, run.Status),
		})
	}

	if spec.Result != nil {
		results = append(results, AssertionResult{
			Type:     "result",
			Expected: strconv.FormatBool(*spec.Result),
			Actual:   strconv.FormatBool(run.Succeeded),
			Passed:   run.Succeeded == *spec.Result,
			Message:  fmt.Sprintf("result: expected %t, got %t", *spec.Result, run.Succeeded),
		})
	}

	reached := run.ReachedSteps
	if reached == nil {
		reached = run.VisitedSteps
	}
	visitedSet := make(map[string]bool, len(reached))
	for _, s := range reached {
		visitedSet[s] = true
	}

	for _, stepID := range spec.MustReach {
		passed := visitedSet[stepID]
		results = append(results, AssertionResult{
			Type:     "must_reach",
			Key:      stepID,
			Expected: "visited",
			Actual:   boolToVisited(passed),
			Passed:   passed,
			Message:  fmt.Sprintf("must_reach %q: %s", stepID, boolToVisited(passed)),
		})
	}

	for _, stepID := range spec.MustNotReach {
		visited := visitedSet[stepID]
		results = append(results, AssertionResult{
			Type:     "must_not_reach",
			Key:      stepID,
			Expected: "not visited",
			Actual:   boolToVisited(visited),
			Passed:   !visited,
			Message:  fmt.Sprintf("must_not_reach %q: %s", stepID, boolToVisited(visited)),
		})
	}

	if len(spec.Visits) > 0 {
		expected := strings.Join(spec.Visits, " → ")
		actual := strings.Join(run.VisitedSteps, " → ")
		results = append(results, AssertionResult{
			Type:     "visits",
			Expected: expected,
			Actual:   actual,
			Passed:   slices.Equal(spec.Visits, run.VisitedSteps),
			Message:  fmt.Sprintf("visits: expected [%s], got [%s]", expected, actual),
		})
	}

	for _, key := range sortedKeys(spec.Vars) {
		expected := spec.Vars[key]
		actual := ""
		if v, ok := run.Vars[key]; ok {
			actual = fmt.Sprint(v)
		}
		results = append(results, AssertionResult{
			Type:     "var",
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   compareValue(expected, actual),
			Message:  fmt.Sprintf("var %q: expected %q, got %q", key, expected, actual),
		})
	}

	if spec.Error != "" {
		actual := ""
		if run.Error != nil {
			actual = run.Error.Error()
		}
		results = append(results, AssertionResult{
			Type:     "error",
			Expected: spec.Error,
			Actual:   actual,
			Passed:   actual != "" && matchError(spec.Error, actual),
			Message:  fmt.Sprintf("error: expected %q, got %q", spec.Error, actual),
		})
	}

	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if pattern, ok := regexPattern(expected); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}

// matchError is compareValue with substring matching instead of equality.
func matchError(expected, actual string) bool {
	if _, ok := regexPattern(expected); ok {
		return compareValue(expected, actual)
	}
	return strings.Contains(actual, expected)
}

func regexPattern(s string) (string, bool) {
	if strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") && len(s) > 2 {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func boolToVisited(b bool) string {
	if b {
		return "visited"
	}
	return "not visited"
}
