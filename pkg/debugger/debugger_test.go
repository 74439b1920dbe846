package debugger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

const reroll = `
apiVersion: stepseq/v0
meta: {name: reroll, vars: {attempts: 0, target: 3}}
steps:
  - id: roll
    action: {set: {attempts: "attempts + 1"}}
    conditions:
      - {type: and, required: 1, checks: ["attempts >= target"]}
    on_failure: repeat
  - id: confirm
    name: Confirm the roll
    timing: conditions_only
    conditions:
      - {type: not, checks: ["attempts > target"]}
    on_success: terminate
    on_failure: restart
`

func newTestDebugger(t *testing.T, doc string, vars map[string]any) (*Debugger, *bytes.Buffer) {
	t.Helper()
	seq, err := schema.LoadString(doc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := New(seq, vars, engine.WithLogger(zerolog.Nop()), engine.WithRunID("debug-test"))
	if err != nil {
		t.Fatalf("new debugger: %v", err)
	}
	var buf bytes.Buffer
	d.SetOutput(&buf)
	d.Env().SetLogger(zerolog.Nop())
	return d, &buf
}

func runScript(t *testing.T, d *Debugger, script string) {
	t.Helper()
	if err := d.RunScript(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("run script: %v", err)
	}
}

// TestDebuggerBreakpointAndStep runs to a breakpoint, inspects and finishes.
func TestDebuggerBreakpointAndStep(t *testing.T) {
	d, buf := newTestDebugger(t, reroll, nil)
	runScript(t, d, "break confirm\ncontinue\nprint attempts\nwhere\nnext\n")

	out := buf.String()
	for _, want := range []string{
		"stepseq[1/2 | roll]> break confirm",
		"Breakpoint set at [2] confirm",
		"stepseq[2/2 | confirm]> print attempts",
		"attempts = 3",
		"(Confirm the roll)",
		"timing: conditions_only",
		"reads: attempts, target; writes: -",
		"✓ [1] confirm -> terminate",
		"Run completed (4 steps executed).",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	res := d.Result()
	if res == nil || res.Status != engine.StatusCompleted {
		t.Fatalf("expected a completed run, got %+v", res)
	}
}

// TestDebuggerQuitStopsRun verifies quit cancels a paused run.
func TestDebuggerQuitStopsRun(t *testing.T) {
	d, buf := newTestDebugger(t, reroll, nil)
	runScript(t, d, "next\nhistory\nquit\nnext\n")

	out := buf.String()
	if !strings.Contains(out, "✗ [0] roll -> repeat") {
		t.Errorf("history missing failed roll:\n%s", out)
	}
	if !strings.Contains(out, "Exiting debugger.") {
		t.Errorf("missing exit message:\n%s", out)
	}
	if strings.Contains(out, "stepseq[done]> next") {
		t.Errorf("commands after quit should not run:\n%s", out)
	}

	res := d.Result()
	if res == nil || res.Status != engine.StatusCancelled {
		t.Fatalf("expected a cancelled run, got %+v", res)
	}
	if res.StepsExecuted != 1 {
		t.Errorf("steps executed = %d, want 1", res.StepsExecuted)
	}
}

// TestDebuggerEOFStopsRun verifies the end of input behaves like quit.
func TestDebuggerEOFStopsRun(t *testing.T) {
	d, _ := newTestDebugger(t, reroll, nil)
	runScript(t, d, "")

	res := d.Result()
	if res == nil || res.Status != engine.StatusCancelled {
		t.Fatalf("expected a cancelled run, got %+v", res)
	}
	if res.StepsExecuted != 0 {
		t.Errorf("steps executed = %d, want 0", res.StepsExecuted)
	}
}

// TestDebuggerSetVariable verifies set changes what the next step sees.
func TestDebuggerSetVariable(t *testing.T) {
	d, buf := newTestDebugger(t, reroll, map[string]any{"target": 1})
	runScript(t, d, "set attempts target + 4\nnext\nprint vars\n")

	out := buf.String()
	if !strings.Contains(out, "attempts = 5") {
		t.Errorf("set did not report the value:\n%s", out)
	}
	if !strings.Contains(out, "attempts = 6") {
		t.Errorf("roll should see the assigned value:\n%s", out)
	}
	if !strings.Contains(out, "target = 1") {
		t.Errorf("scenario vars should override meta vars:\n%s", out)
	}
}

// TestDebuggerContinueToEnd runs a sequence with no breakpoints.
func TestDebuggerContinueToEnd(t *testing.T) {
	d, buf := newTestDebugger(t, reroll, nil)
	runScript(t, d, "continue\ncontinue\ndump\n")

	out := buf.String()
	if !strings.Contains(out, "Run already completed.") {
		t.Errorf("second continue should report the finished run:\n%s", out)
	}
	if !strings.Contains(out, `"status": "completed"`) {
		t.Errorf("dump missing status:\n%s", out)
	}
}

// TestDebuggerCommandHelp verifies help output lists all commands.
func TestDebuggerCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	d := &Debugger{output: &buf}
	d.handleHelp()
	out := buf.String()
	for _, cmd := range []string{"next", "continue", "break", "clear", "print", "set", "history", "where", "dump", "help", "quit"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

// TestDebuggerBreakpoints verifies breakpoint bookkeeping without a run.
func TestDebuggerBreakpoints(t *testing.T) {
	d, buf := newTestDebugger(t, reroll, nil)

	d.exec("break 1")
	d.exec("break confirm")
	d.exec("break 7")
	d.exec("break")
	out := buf.String()
	if !strings.Contains(out, `no step "7"`) {
		t.Errorf("expected an error for an unknown step:\n%s", out)
	}
	if !strings.Contains(out, "[1] roll") || !strings.Contains(out, "[2] confirm") {
		t.Errorf("breakpoint listing incomplete:\n%s", out)
	}

	d.exec("clear roll")
	if d.breakpoints[0] || !d.breakpoints[1] {
		t.Errorf("clear roll removed the wrong breakpoint: %v", d.breakpoints)
	}
	d.exec("clear")
	if len(d.breakpoints) != 0 {
		t.Errorf("clear should remove all breakpoints: %v", d.breakpoints)
	}

	buf.Reset()
	d.exec("frobnicate")
	if !strings.Contains(buf.String(), "Unknown command") {
		t.Errorf("unknown command not reported: %s", buf.String())
	}
}

// TestDebuggerEmptySequence verifies a run with nothing to pause on.
func TestDebuggerEmptySequence(t *testing.T) {
	seq := &schema.Sequence{APIVersion: schema.APIVersion, Meta: schema.Meta{Name: "empty"}}
	d, err := New(seq, nil, engine.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("new debugger: %v", err)
	}
	var buf bytes.Buffer
	d.SetOutput(&buf)
	runScript(t, d, "next\n")

	if !strings.Contains(buf.String(), "Run already completed.") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
