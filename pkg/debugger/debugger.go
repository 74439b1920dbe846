// Package debugger implements the interactive REPL debugger for sequences.
//
// The engine runs on its own goroutine. Before each step its BeforeStep hook
// hands control to the REPL and blocks until the user resumes it, so the
// debugger observes exactly the run the engine would perform unattended.
package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

type resumeMode int

const (
	modeStep resumeMode = iota
	modeContinue
	modeStop
)

// Debugger provides an interactive REPL for stepping through a run.
type Debugger struct {
	seq    *schema.Sequence
	steps  []engine.Step
	env    *eval.Env
	opts   []engine.Option
	output io.Writer

	mu          sync.Mutex
	mode        resumeMode
	breakpoints map[int]bool
	history     []engine.StepVisit
	current     int
	result      *engine.RunResult

	paused chan int
	resume chan resumeMode
	done   chan *engine.RunResult
	cancel context.CancelFunc
}

// New compiles seq with vars layered over meta.vars and prepares a debugger.
// opts are passed to the engine; the step hooks are reserved.
func New(seq *schema.Sequence, vars map[string]any, opts ...engine.Option) (*Debugger, error) {
	scope := maps.Clone(seq.Meta.Vars)
	if scope == nil {
		scope = map[string]any{}
	}
	maps.Copy(scope, vars)
	env := eval.NewEnv(scope)

	steps, err := compiler.Compile(seq, env)
	if err != nil {
		return nil, fmt.Errorf("compile sequence: %w", err)
	}

	return &Debugger{
		seq:         seq,
		steps:       steps,
		env:         env,
		opts:        opts,
		output:      os.Stdout,
		breakpoints: make(map[int]bool),
		current:     -1,
	}, nil
}

// SetOutput redirects REPL output.
func (d *Debugger) SetOutput(w io.Writer) {
	d.output = w
}

// Env returns the variable scope the run mutates.
func (d *Debugger) Env() *eval.Env {
	return d.env
}

// Result returns the finished run, or nil while it is still in progress.
func (d *Debugger) Result() *engine.RunResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

// Run starts the interactive REPL loop on the terminal.
func (d *Debugger) Run(ctx context.Context) error {
	commands := []string{"next", "continue", "break", "clear", "print vars", "set",
		"history", "where", "dump", "help", "quit"}

	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	return d.session(ctx, func(prompt string) (string, error) {
		rl.SetPrompt(prompt)
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return line, err
	})
}

// RunScript drives the debugger from commands read line by line from r.
// Prompts are echoed with each command so the transcript reads like a
// terminal session.
func (d *Debugger) RunScript(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	return d.session(ctx, func(prompt string) (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line := scanner.Text()
		fmt.Fprintf(d.output, "%s%s\n", prompt, line)
		return line, nil
	})
}

func (d *Debugger) session(ctx context.Context, readLine func(prompt string) (string, error)) error {
	d.start(ctx)
	defer d.shutdown()

	fmt.Fprintf(d.output, "stepseq debugger: %s, %d steps\n", d.seq.Meta.Name, len(d.steps))
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to execute the next step.\n\n")

	for {
		line, err := readLine(d.buildPrompt())
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if quit := d.exec(strings.TrimSpace(line)); quit {
			return nil
		}
	}
}

// exec runs one REPL command and reports whether the session should end.
func (d *Debugger) exec(line string) bool {
	if line == "" {
		return false
	}
	parts := strings.Fields(line)

	switch parts[0] {
	case "next", "n":
		d.handleResume(modeStep)
	case "continue", "c":
		d.handleResume(modeContinue)
	case "break", "b":
		d.handleBreak(parts)
	case "clear":
		d.handleClear(parts)
	case "print", "p":
		d.handlePrint(parts)
	case "set":
		d.handleSet(line, parts)
	case "history", "h":
		d.handleHistory()
	case "where", "w":
		d.handleWhere()
	case "dump":
		d.handleDump()
	case "help", "?":
		d.handleHelp()
	case "quit", "q":
		d.handleQuit()
		return true
	default:
		fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	return false
}

// start launches the engine, which pauses before the first step.
func (d *Debugger) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.paused = make(chan int)
	d.resume = make(chan resumeMode)
	d.done = make(chan *engine.RunResult, 1)

	opts := append(slices.Clone(d.opts),
		engine.WithName(d.seq.Meta.Name),
		engine.WithBeforeStep(d.beforeStep),
		engine.WithAfterStep(d.afterStep),
	)
	eng := engine.New(opts...)
	go func() {
		d.done <- eng.Run(runCtx, d.steps)
	}()
	d.wait()
}

func (d *Debugger) shutdown() {
	if d.Result() == nil {
		d.handleQuit()
	}
	d.cancel()
}

// beforeStep blocks the engine while the REPL has control.
func (d *Debugger) beforeStep(ctx context.Context, index int, _ *engine.Step) error {
	d.mu.Lock()
	d.current = index
	pause := d.mode != modeContinue || d.breakpoints[index]
	d.mu.Unlock()
	if !pause {
		return nil
	}

	select {
	case d.paused <- index:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case m := <-d.resume:
		if m == modeStop {
			return engine.ErrStopped
		}
		d.mu.Lock()
		d.mode = m
		d.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Debugger) afterStep(v engine.StepVisit) {
	d.mu.Lock()
	d.history = append(d.history, v)
	d.mu.Unlock()

	mark := "✓"
	if !v.Succeeded {
		mark = "✗"
	}
	fmt.Fprintf(d.output, "  %s [%d] %s -> %s\n", mark, v.Index, v.ID, v.Route)
}

// send resumes the paused engine and waits for it to pause again.
func (d *Debugger) send(m resumeMode) {
	select {
	case d.resume <- m:
		d.wait()
	case res := <-d.done:
		d.finish(res)
	}
}

// wait blocks until the engine pauses again or the run ends.
func (d *Debugger) wait() {
	select {
	case <-d.paused:
	case res := <-d.done:
		d.finish(res)
	}
}

func (d *Debugger) finish(res *engine.RunResult) {
	d.mu.Lock()
	d.result = res
	d.current = -1
	d.mu.Unlock()
	fmt.Fprintf(d.output, "Run %s (%d steps executed).\n", res.Status, res.StepsExecuted)
	if res.Error != nil {
		fmt.Fprintf(d.output, "  error: %v\n", res.Error)
	}
}

// buildPrompt creates the prompt string: stepseq[N/total | step_id]>
func (d *Debugger) buildPrompt() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result != nil || d.current < 0 || d.current >= len(d.steps) {
		return "stepseq[done]> "
	}
	return fmt.Sprintf("stepseq[%d/%d | %s]> ", d.current+1, len(d.steps), d.steps[d.current].Label(d.current))
}
