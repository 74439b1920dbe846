package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
)

const (
	rerollPath    = "../../testdata/sequences/reroll.yaml"
	countdownPath = "../../testdata/sequences/countdown.yaml"
)

// execute runs the root command with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "validate", rerollPath, countdownPath)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	for _, want := range []string{"reroll is valid (2 steps)", "countdown is valid (2 steps)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestValidateCmd_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := `apiVersion: stepseq/v0
meta: {name: bad}
steps:
  - id: only
    auto_success: true
    on_success: {action: jump, target: nowhere}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", path); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestValidateCmd_WrongExtension(t *testing.T) {
	if _, err := execute(t, "validate", "main.go"); err == nil {
		t.Fatal("expected error for a non-YAML file")
	}
}

func TestExecCmd_JSON(t *testing.T) {
	out, err := execute(t, "exec", countdownPath, "--json")
	if err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}
	var rep struct {
		Status        string         `json:"status"`
		StepsExecuted int            `json:"steps_executed"`
		Vars          map[string]any `json:"vars"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if rep.Status != "completed" {
		t.Errorf("status = %q, want completed", rep.Status)
	}
	if rep.StepsExecuted != 6 {
		t.Errorf("steps_executed = %d, want 6", rep.StepsExecuted)
	}
	if rep.Vars["remaining"] != float64(0) {
		t.Errorf("remaining = %v, want 0", rep.Vars["remaining"])
	}
}

func TestExecCmd_VarOverride(t *testing.T) {
	out, err := execute(t, "exec", countdownPath, "--var", "remaining=1")
	if err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed after 2 step(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestExecCmd_BadVar(t *testing.T) {
	if _, err := execute(t, "exec", countdownPath, "--var", "remaining"); err == nil {
		t.Fatal("expected error for a var without '='")
	}
}

func TestExecCmd_Timeout(t *testing.T) {
	// Nothing ever reaches the target, so only the deadline stops the run.
	out, err := execute(t, "exec", rerollPath, "--var", "target=-1", "--var", "attempts=5", "--timeout", "50ms")
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("expected a cancelled run, got %v\n%s", err, out)
	}
}

func TestExecThenTraceVerify(t *testing.T) {
	t.Setenv("STEPSEQ_TRACE_SIGNING_KEY", "test-secret-key")
	t.Setenv("STEPSEQ_TRACE_KEY_ID", "k1")
	tracePath := filepath.Join(t.TempDir(), "run.jsonl")

	if out, err := execute(t, "exec", rerollPath, "--trace", tracePath); err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}

	out, err := execute(t, "trace", "verify", tracePath)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "no breaks") || !strings.Contains(out, `signed by key "k1"`) {
		t.Errorf("unexpected verify output:\n%s", out)
	}

	if _, err := execute(t, "trace", "verify", tracePath, "--key", "wrong"); err == nil {
		t.Error("expected a signature failure with the wrong key")
	}
}

func TestExec_TracePathReused(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "run.jsonl")
	for i := 0; i < 2; i++ {
		if out, err := execute(t, "exec", countdownPath, "--trace", tracePath); err != nil {
			t.Fatalf("exec %d: %v\n%s", i, err, out)
		}
	}

	out, err := execute(t, "trace", "verify", tracePath)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "no breaks") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTraceVerify_Tampered(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "run.jsonl")
	if out, err := execute(t, "exec", countdownPath, "--trace", tracePath); err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"decrement"`, `"skipped"`, 1)
	if err := os.WriteFile(tracePath, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "trace", "verify", tracePath)
	if err == nil {
		t.Fatalf("expected chain failure, got:\n%s", out)
	}
	if !strings.Contains(out, "Chain broken at event") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTestCmd(t *testing.T) {
	out, err := execute(t, "test", rerollPath)
	if err != nil {
		t.Fatalf("test: %v\n%s", err, out)
	}
	for _, want := range []string{"reaches_target", "already_there", "2 passed, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTestCmd_SingleScenarioJSON(t *testing.T) {
	out, err := execute(t, "test", rerollPath, "--scenario", "already_there", "--json")
	if err != nil {
		t.Fatalf("test: %v\n%s", err, out)
	}
	var output struct {
		Summary struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if output.Summary.Total != 1 || output.Summary.Passed != 1 {
		t.Errorf("summary = %+v, want 1/1 passed", output.Summary)
	}
}

func TestSchemaCmd(t *testing.T) {
	out, err := execute(t, "schema")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"conditions_only"`) {
		t.Errorf("schema output missing timing enum:\n%s", out)
	}
}

func TestDiagramCmd(t *testing.T) {
	out, err := execute(t, "diagram", countdownPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "flowchart TD") {
		t.Errorf("expected mermaid output, got:\n%s", out)
	}

	if _, err := execute(t, "diagram", countdownPath, "--format", "svg"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDebugCmd_Script(t *testing.T) {
	script := filepath.Join(t.TempDir(), "session.txt")
	if err := os.WriteFile(script, []byte("break check\ncontinue\nprint remaining\nquit\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "debug", countdownPath, "--script", script)
	if err != nil {
		t.Fatalf("debug: %v\n%s", err, out)
	}
	for _, want := range []string{"remaining = 2", "Exiting debugger."} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "stepseq dev (unknown)\n" {
		t.Errorf("version = %q", out)
	}
}

func TestTraceReplay(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "run.jsonl")
	if out, err := execute(t, "exec", countdownPath, "--trace", tracePath); err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}

	out, err := execute(t, "trace", "replay", countdownPath, tracePath)
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Replay matches the recording: 6 step(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := execute(t, "trace", "replay", rerollPath, tracePath); err == nil {
		t.Error("expected an error replaying a trace of another sequence")
	}
}

func TestExecCmd_Record(t *testing.T) {
	dir := t.TempDir()
	seqPath := filepath.Join(dir, "countdown.yaml")
	data, err := os.ReadFile(countdownPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(seqPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if out, err := execute(t, "exec", seqPath, "--var", "remaining=2", "--record", "two"); err != nil {
		t.Fatalf("exec: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "scenarios", "countdown", "two", "scenario.yaml")); err != nil {
		t.Fatalf("scenario not written: %v", err)
	}

	out, err := execute(t, "test", seqPath)
	if err != nil {
		t.Fatalf("test: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 passed") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWatchCmd(t *testing.T) {
	out, err := execute(t, "watch", countdownPath, "--interval", "1ms", "--max-runs", "3")
	if err != nil {
		t.Fatalf("watch: %v\n%s", err, out)
	}
	if n := strings.Count(out, "completed after 6 step(s)"); n != 3 {
		t.Errorf("got %d runs, want 3:\n%s", n, out)
	}
	if !strings.Contains(out, "3 run(s) done") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "watch", countdownPath, "--interval", "1ms", "--stop-on", "completed")
	if err != nil {
		t.Fatalf("watch: %v\n%s", err, out)
	}
	if !strings.Contains(out, `status "completed" matched --stop-on`) {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := execute(t, "watch", countdownPath, "--stop-on", "resolved"); err == nil {
		t.Error("expected error for an unknown --stop-on status")
	}
}

func TestStatusIcon(t *testing.T) {
	cases := map[engine.RunStatus]string{
		engine.StatusCompleted: glyphPassed,
		engine.StatusAborted:   glyphFailed,
		engine.StatusCancelled: glyphWarning,
	}
	for status, glyph := range cases {
		if got := statusIcon(status); !strings.Contains(got, glyph) {
			t.Errorf("statusIcon(%q) = %q, want %q", status, got, glyph)
		}
	}
}
