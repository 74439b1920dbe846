package debugger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/contract"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
)

// handleResume lets the engine run one step, or up to the next breakpoint.
func (d *Debugger) handleResume(mode resumeMode) {
	if res := d.Result(); res != nil {
		fmt.Fprintf(d.output, "Run already %s.\n", res.Status)
		return
	}
	d.send(mode)
}

// handleQuit stops a paused run. The engine reports it as cancelled.
func (d *Debugger) handleQuit() {
	if d.Result() == nil {
		d.send(modeStop)
	}
	fmt.Fprintf(d.output, "Exiting debugger.\n")
}

// handleBreak sets a breakpoint by step ID or 1-based position.
func (d *Debugger) handleBreak(parts []string) {
	if len(parts) < 2 {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.breakpoints) == 0 {
			fmt.Fprintf(d.output, "No breakpoints set.\n")
			return
		}
		for i := range d.steps {
			if d.breakpoints[i] {
				fmt.Fprintf(d.output, "  [%d] %s\n", i+1, d.steps[i].Label(i))
			}
		}
		return
	}
	index, err := d.resolveStep(parts[1])
	if err != nil {
		fmt.Fprintf(d.output, "Error: %v\n", err)
		return
	}
	d.mu.Lock()
	d.breakpoints[index] = true
	d.mu.Unlock()
	fmt.Fprintf(d.output, "  Breakpoint set at [%d] %s\n", index+1, d.steps[index].Label(index))
}

// handleClear removes one breakpoint, or all of them.
func (d *Debugger) handleClear(parts []string) {
	if len(parts) < 2 {
		d.mu.Lock()
		clear(d.breakpoints)
		d.mu.Unlock()
		fmt.Fprintf(d.output, "  All breakpoints cleared.\n")
		return
	}
	index, err := d.resolveStep(parts[1])
	if err != nil {
		fmt.Fprintf(d.output, "Error: %v\n", err)
		return
	}
	d.mu.Lock()
	delete(d.breakpoints, index)
	d.mu.Unlock()
	fmt.Fprintf(d.output, "  Breakpoint cleared at [%d] %s\n", index+1, d.steps[index].Label(index))
}

func (d *Debugger) resolveStep(ref string) (int, error) {
	for i := range d.steps {
		if d.steps[i].ID == ref {
			return i, nil
		}
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(d.steps) {
		return 0, fmt.Errorf("no step %q", ref)
	}
	return n - 1, nil
}

// handlePrint displays all variables or a single one.
func (d *Debugger) handlePrint(parts []string) {
	if len(parts) < 2 {
		fmt.Fprintf(d.output, "Usage: print vars|<name>\n")
		return
	}
	if parts[1] != "vars" {
		v, ok := d.env.Get(parts[1])
		if !ok {
			fmt.Fprintf(d.output, "  %s is not defined\n", parts[1])
			return
		}
		fmt.Fprintf(d.output, "  %s = %#v\n", parts[1], v)
		return
	}

	names := d.env.Names()
	if len(names) == 0 {
		fmt.Fprintf(d.output, "No variables defined.\n")
		return
	}
	for _, k := range names {
		v, _ := d.env.Get(k)
		fmt.Fprintf(d.output, "  %s = %#v\n", k, v)
	}
}

// handleSet assigns the value of an expression to a variable:
// set <name> <expression>
func (d *Debugger) handleSet(line string, parts []string) {
	if len(parts) < 3 {
		fmt.Fprintf(d.output, "Usage: set <name> <expression>\n")
		return
	}
	name := parts[1]
	src := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(line, parts[0])), name))
	v, err := eval.Value(src, d.env.Snapshot())
	if err != nil {
		fmt.Fprintf(d.output, "Error: %v\n", err)
		return
	}
	d.env.Set(name, v)
	fmt.Fprintf(d.output, "  %s = %#v\n", name, v)
}

// handleHistory shows executed steps in order.
func (d *Debugger) handleHistory() {
	d.mu.Lock()
	history := append([]engine.StepVisit(nil), d.history...)
	d.mu.Unlock()

	if len(history) == 0 {
		fmt.Fprintf(d.output, "No steps executed yet.\n")
		return
	}
	for _, v := range history {
		status := "✓"
		if !v.Succeeded {
			status = "✗"
		}
		fmt.Fprintf(d.output, "  %s [%d] %s -> %s (%s)\n", status, v.Index, v.ID, v.Route, v.Duration)
	}
}

// handleWhere describes the step about to run.
func (d *Debugger) handleWhere() {
	d.mu.Lock()
	current := d.current
	d.mu.Unlock()

	if current < 0 || d.Result() != nil {
		fmt.Fprintf(d.output, "Not paused at a step.\n")
		return
	}
	s := d.seq.Steps[current]
	fmt.Fprintf(d.output, "  [%d/%d] %s", current+1, len(d.steps), d.steps[current].Label(current))
	if s.Name != "" {
		fmt.Fprintf(d.output, " (%s)", s.Name)
	}
	fmt.Fprintln(d.output)

	timing, _ := compiler.Timing(s.Timing)
	fmt.Fprintf(d.output, "  timing: %s, auto_success: %t\n", timing, s.AutoSuccess)
	if c, err := contract.ForStep(s, d.env.Snapshot()); err == nil && len(s.Conditions) > 0 {
		fmt.Fprintf(d.output, "  %s\n", c)
	}
	for i, g := range s.Conditions {
		fmt.Fprintf(d.output, "  group %d: %s required=%d\n", i, g.Type, g.Required)
		for _, c := range g.Checks {
			fmt.Fprintf(d.output, "    - %s\n", c)
		}
	}
}

type dumpState struct {
	Sequence    string             `json:"sequence"`
	Current     int                `json:"current"`
	Status      string             `json:"status,omitempty"`
	Vars        map[string]any     `json:"vars"`
	Breakpoints []int              `json:"breakpoints,omitempty"`
	History     []engine.StepVisit `json:"history"`
}

// handleDump outputs the full current state as JSON.
func (d *Debugger) handleDump() {
	d.mu.Lock()
	state := dumpState{
		Sequence: d.seq.Meta.Name,
		Current:  d.current,
		Vars:     d.env.Snapshot(),
		History:  append([]engine.StepVisit(nil), d.history...),
	}
	for i := range d.steps {
		if d.breakpoints[i] {
			state.Breakpoints = append(state.Breakpoints, i+1)
		}
	}
	if d.result != nil {
		state.Status = string(d.result.Status)
	}
	d.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Fprintf(d.output, "  Error marshaling state: %v\n", err)
		return
	}
	fmt.Fprintln(d.output, string(data))
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	fmt.Fprintln(d.output, "Available commands:")
	fmt.Fprintln(d.output, "  next (n)           Execute the next step")
	fmt.Fprintln(d.output, "  continue (c)       Run until a breakpoint or the end")
	fmt.Fprintln(d.output, "  break (b) <step>   Set a breakpoint by ID or position; no argument lists them")
	fmt.Fprintln(d.output, "  clear [step]       Remove a breakpoint, or all of them")
	fmt.Fprintln(d.output, "  print vars         Show current variables")
	fmt.Fprintln(d.output, "  print <name>       Show one variable")
	fmt.Fprintln(d.output, "  set <name> <expr>  Assign an expression's value to a variable")
	fmt.Fprintln(d.output, "  history (h)        Show executed steps")
	fmt.Fprintln(d.output, "  where (w)          Describe the step about to run")
	fmt.Fprintln(d.output, "  dump               Output full state as JSON")
	fmt.Fprintln(d.output, "  help (?)           Show this help")
	fmt.Fprintln(d.output, "  quit (q)           Stop the run and exit")
}
