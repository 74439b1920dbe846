// Package executor runs a sequence document end to end: it layers run
// variables over meta.vars, compiles the steps, attaches a trace writer and
// drives the engine under an optional deadline.
package executor

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
	"github.com/ormasoftchile/stepseq/pkg/kernel/trace"
	"github.com/ormasoftchile/stepseq/pkg/logging"
)

// Options configures one run.
type Options struct {
	RunID   string         // generated when empty
	Vars    map[string]any // override meta.vars
	Timeout time.Duration  // 0 means no deadline

	// TracePath appends a JSONL trace when set. Trace wins over it.
	TracePath  string
	Trace      *trace.Writer
	SigningKey []byte
	KeyID      string

	Logger *zerolog.Logger // nil uses the "exec" component logger
	Engine []engine.Option // extra engine options, applied last
}

// Result is the outcome of one run together with the final variable scope.
type Result struct {
	*engine.RunResult
	Sequence string
	Vars     map[string]any
}

// Run compiles seq and executes it. Errors are returned only when the run
// could not start; a run that aborts reports it in Result.Status.
func Run(ctx context.Context, seq *schema.Sequence, opts Options) (*Result, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	log := logging.Component("exec")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().Str("run_id", runID).Logger()

	vars := maps.Clone(seq.Meta.Vars)
	if vars == nil {
		vars = map[string]any{}
	}
	maps.Copy(vars, opts.Vars)
	env := eval.NewEnv(vars)
	env.SetLogger(log)

	steps, err := compiler.Compile(seq, env)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", seq.Meta.Name, err)
	}

	tw := opts.Trace
	if tw == nil && opts.TracePath != "" {
		tw, err = trace.NewFileWriter(opts.TracePath, runID)
		if err != nil {
			return nil, err
		}
		defer tw.Close()
	}
	if tw != nil && len(opts.SigningKey) > 0 {
		tw.SetSigningKey(opts.KeyID, opts.SigningKey)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	engOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithName(seq.Meta.Name),
		engine.WithRunID(runID),
	}
	if tw != nil {
		engOpts = append(engOpts, engine.WithTrace(tw))
	}
	engOpts = append(engOpts, opts.Engine...)

	run := engine.New(engOpts...).Run(ctx, steps)
	return &Result{
		RunResult: run,
		Sequence:  seq.Meta.Name,
		Vars:      env.Snapshot(),
	}, nil
}

// ParseVars parses name=value pairs. Values are decoded as YAML scalars, so
// 3 is an int, true a bool and "3" a string.
func ParseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid var %q: want name=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid var %q: %w", pair, err)
		}
		vars[name] = v
	}
	return vars, nil
}
