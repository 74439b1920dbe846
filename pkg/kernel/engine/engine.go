// Package engine implements the sequence controller: it runs an ordered list
// of steps one at a time, evaluates their condition groups, and follows each
// step's success or failure route until the run completes, aborts, or is
// cancelled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ormasoftchile/stepseq/pkg/kernel/trace"
	"github.com/ormasoftchile/stepseq/pkg/logging"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
	StatusCancelled RunStatus = "cancelled"
)

// DefaultHistoryLimit bounds RunResult.Visits. Sequences that cycle until
// cancelled would otherwise grow the history without limit.
const DefaultHistoryLimit = 10000

// StepVisit records one execution of one step.
type StepVisit struct {
	Index      int              `json:"index"`
	ID         string           `json:"id"`
	Succeeded  bool             `json:"succeeded"`
	Outcome    any              `json:"outcome,omitempty"`
	Conditions *ConditionReport `json:"conditions,omitempty"`
	Route      string           `json:"route,omitempty"`
	Next       int              `json:"next"`
	Duration   time.Duration    `json:"duration"`
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID  string
	Status RunStatus
	// Visits holds the most recent step executions, oldest first.
	Visits []StepVisit
	// StepsExecuted counts every step execution, including ones dropped from Visits.
	StepsExecuted int
	Duration      time.Duration
	// Error is the cause of an aborted or cancelled run.
	Error error

	reached      map[int]struct{}
	reachedSteps []string
	head         int // oldest visit once Visits is full
}

// Succeeded reports whether the run reached the completed state.
func (r *RunResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Reached reports whether the step at index was executed at least once.
func (r *RunResult) Reached(index int) bool {
	_, ok := r.reached[index]
	return ok
}

// ReachedSteps returns the label of every step executed at least once, in
// the order each was first reached. Unlike Visits it is never trimmed.
func (r *RunResult) ReachedSteps() []string {
	return slices.Clone(r.reachedSteps)
}

// VisitedIndices returns the indices of the recorded visits in order.
func (r *RunResult) VisitedIndices() []int {
	out := make([]int, len(r.Visits))
	for i, v := range r.Visits {
		out[i] = v.Index
	}
	return out
}

// VisitedSteps returns the step labels of the recorded visits in order.
func (r *RunResult) VisitedSteps() []string {
	out := make([]string, len(r.Visits))
	for i, v := range r.Visits {
		out[i] = v.ID
	}
	return out
}

// record adds v to the history. Once limit visits are held, Visits is used
// as a ring starting at head; finish restores oldest-first order.
func (r *RunResult) record(v StepVisit, limit int) {
	r.StepsExecuted++
	if _, ok := r.reached[v.Index]; !ok {
		r.reached[v.Index] = struct{}{}
		r.reachedSteps = append(r.reachedSteps, v.ID)
	}
	if limit > 0 && len(r.Visits) >= limit {
		r.Visits[r.head] = v
		r.head = (r.head + 1) % len(r.Visits)
		return
	}
	r.Visits = append(r.Visits, v)
}

func (r *RunResult) finish() {
	if r.head == 0 {
		return
	}
	ordered := make([]StepVisit, 0, len(r.Visits))
	ordered = append(ordered, r.Visits[r.head:]...)
	ordered = append(ordered, r.Visits[:r.head]...)
	r.Visits = ordered
	r.head = 0
}

// StepHook runs before each step. A non-nil error stops the run; ErrStopped
// and context errors are not logged as failures.
type StepHook func(ctx context.Context, index int, step *Step) error

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTrace makes the engine emit trace events to tw.
func WithTrace(tw *trace.Writer) Option {
	return func(e *Engine) { e.trace = tw }
}

// WithName labels runs in logs and in the run_start trace event.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithRunID fixes the run ID instead of generating a UUID per run.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithBeforeStep installs a hook called before every step.
func WithBeforeStep(h StepHook) Option {
	return func(e *Engine) { e.beforeStep = h }
}

// WithAfterStep installs a callback receiving every completed step visit.
func WithAfterStep(fn func(StepVisit)) Option {
	return func(e *Engine) { e.afterStep = fn }
}

// WithHistoryLimit bounds the number of visits kept in RunResult.Visits.
// Zero keeps all of them.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// Engine runs sequences. It holds no run state, so one Engine may serve
// several runs; each run gets a fresh index and history.
type Engine struct {
	logger       zerolog.Logger
	trace        *trace.Writer
	name         string
	runID        string
	beforeStep   StepHook
	afterStep    func(StepVisit)
	historyLimit int
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:       logging.Component("engine"),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs steps with a default engine and reports whether the run
// completed.
func Execute(ctx context.Context, steps []Step) bool {
	return New().Execute(ctx, steps)
}

// Execute runs steps and reports whether the run completed. It returns false
// on a fatal evaluation, an action or probe error, or cancellation.
func (e *Engine) Execute(ctx context.Context, steps []Step) bool {
	return e.Run(ctx, steps).Succeeded()
}

// Run executes steps starting at index 0 until the index leaves the
// sequence, a step terminates it, or it aborts.
//
// There is no iteration limit. A sequence whose Repeat, Restart or JumpTo
// routes never reach a terminal route runs until ctx is cancelled, so hosts
// should give ctx a deadline sized for their sequences.
func (e *Engine) Run(ctx context.Context, steps []Step) *RunResult {
	start := time.Now()
	run := &RunResult{
		RunID:   e.runID,
		reached: make(map[int]struct{}),
	}
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}

	log := e.logger.With().Str("run_id", run.RunID).Logger()
	if e.name != "" {
		log = log.With().Str("sequence", e.name).Logger()
	}
	if e.trace != nil {
		e.trace.EmitRunStart(e.name, len(steps))
	}
	log.Info().Int("steps", len(steps)).Msg("sequence started")

	e.loop(ctx, steps, run, log)
	run.finish()

	run.Duration = time.Since(start)
	switch run.Status {
	case StatusCompleted:
		log.Info().Int("steps_executed", run.StepsExecuted).Dur("duration", run.Duration).Msg("sequence completed")
	case StatusCancelled:
		log.Warn().Int("steps_executed", run.StepsExecuted).Dur("duration", run.Duration).Msg("sequence cancelled")
	default:
		log.Error().Err(run.Error).Int("steps_executed", run.StepsExecuted).Dur("duration", run.Duration).Msg("sequence aborted")
	}
	if e.trace != nil {
		e.trace.EmitRunComplete(string(run.Status), run.Succeeded(), run.Duration)
	}
	return run
}

func (e *Engine) loop(ctx context.Context, steps []Step, run *RunResult, log zerolog.Logger) {
	index := 0
	for {
		if index < 0 || index >= len(steps) {
			run.Status = StatusCompleted
			return
		}
		if err := ctx.Err(); err != nil {
			e.stop(ctx, run, fmt.Errorf("before step %d: %w", index, err))
			return
		}

		step := &steps[index]
		if e.beforeStep != nil {
			if err := e.beforeStep(ctx, index, step); err != nil {
				e.stop(ctx, run, fmt.Errorf("step %d (%s): %w", index, step.Label(index), err))
				return
			}
		}

		visit, err := e.executeStep(ctx, index, step, log)
		if err != nil {
			run.record(visit, e.historyLimit)
			e.stop(ctx, run, fmt.Errorf("step %d (%s): %w", index, visit.ID, err))
			return
		}

		next, route, done, err := nextIndex(index, step, visit.Succeeded)
		if err != nil {
			run.record(visit, e.historyLimit)
			e.stop(ctx, run, fmt.Errorf("step %d (%s): %w", index, visit.ID, err))
			return
		}
		visit.Route = route
		visit.Next = next
		run.record(visit, e.historyLimit)
		if e.afterStep != nil {
			e.afterStep(visit)
		}
		if e.trace != nil {
			e.trace.EmitRouteTaken(index, route, next)
		}

		ev := log.Info().Int("index", index).Str("step", visit.ID).Bool("succeeded", visit.Succeeded).Str("route", route)
		if done {
			ev.Msg("sequence terminated by step")
			run.Status = StatusCompleted
			return
		}
		ev.Int("next", next).Msg("step routed")
		index = next
	}
}

// stop ends the run as cancelled when ctx is done or a hook asked to stop,
// aborted otherwise.
func (e *Engine) stop(ctx context.Context, run *RunResult, err error) {
	run.Error = err
	if ctx.Err() != nil || errors.Is(err, ErrStopped) {
		run.Status = StatusCancelled
		return
	}
	run.Status = StatusAborted
}

// executeStep runs one step and reports whether it succeeded. An error means
// the run must abort; routing is not consulted.
func (e *Engine) executeStep(ctx context.Context, index int, step *Step, log zerolog.Logger) (StepVisit, error) {
	start := time.Now()
	visit := StepVisit{Index: index, ID: step.Label(index), Next: index}
	stepLog := log.With().Int("index", index).Str("step", visit.ID).Logger()

	stepLog.Info().Str("name", step.Name).Msg("executing step")
	if e.trace != nil {
		e.trace.EmitStepStart(index, visit.ID)
	}

	fail := func(err error) (StepVisit, error) {
		visit.Duration = time.Since(start)
		if e.trace != nil {
			e.trace.EmitStepComplete(index, visit.ID, trace.StatusError, visit.Duration, err.Error())
		}
		stepLog.Debug().Dur("duration", visit.Duration).Msg("step failed")
		return visit, err
	}

	succeeded := false
	hasConditions := len(step.Conditions) > 0

	if hasConditions && step.Timing == EvaluateConditionsOnly {
		report, err := e.evaluate(ctx, index, step, stepLog)
		visit.Conditions = report
		if err != nil {
			return fail(err)
		}
		succeeded = report.Result
	} else {
		if step.Action != nil {
			outcome, err := await[any](ctx, step.Action)
			if err != nil {
				return fail(fmt.Errorf("action: %w", err))
			}
			visit.Outcome = outcome
			stepLog.Debug().Interface("outcome", outcome).Msg("action completed")
			if e.trace != nil {
				e.trace.EmitActionCompleted(index, visit.ID, outcome)
			}
		}

		if hasConditions && step.Timing == RunActionThenEvaluate {
			report, err := e.evaluate(ctx, index, step, stepLog)
			visit.Conditions = report
			if err != nil {
				return fail(err)
			}
			succeeded = report.Result
		}
	}

	if step.AutoSuccess {
		succeeded = true
		stepLog.Debug().Msg("automatic success")
	}

	visit.Succeeded = succeeded
	visit.Duration = time.Since(start)
	stepLog.Debug().Dur("duration", visit.Duration).Bool("succeeded", succeeded).Msg("step completed")
	if e.trace != nil {
		status := trace.StatusFailed
		if succeeded {
			status = trace.StatusSuccess
		}
		e.trace.EmitStepComplete(index, visit.ID, status, visit.Duration, "")
	}
	return visit, nil
}

func (e *Engine) evaluate(ctx context.Context, index int, step *Step, log zerolog.Logger) (*ConditionReport, error) {
	report, err := EvaluateConditions(ctx, step.Conditions)
	for gi, g := range report.Groups {
		log.Debug().
			Int("group", gi).
			Stringer("combinator", g.Combinator).
			Int("matched", g.Matched).
			Int("required", g.Required).
			Bool("passed", g.Passed).
			Msg("condition group evaluated")
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("conditions could not be evaluated")
		}
		return report, fmt.Errorf("conditions: %w", err)
	}
	log.Debug().Bool("result", report.Result).Msg("conditions evaluated")
	if e.trace != nil {
		e.trace.EmitConditionsEvaluated(index, step.Label(index), report.Groups, report.Result)
	}
	return report, nil
}

// nextIndex applies the step's route. done is true when the route ends the
// run.
func nextIndex(index int, step *Step, succeeded bool) (next int, route string, done bool, err error) {
	if succeeded {
		switch r := step.resolvedSuccess().(type) {
		case Advance:
			return index + 1, r.String(), false, nil
		case Terminate:
			return index, r.String(), true, nil
		case JumpTo:
			return r.Index, r.String(), false, nil
		default:
			return index, "", false, fmt.Errorf("%w: success route %T", ErrUnknownRoute, r)
		}
	}

	switch r := step.resolvedFailure().(type) {
	case Repeat:
		return index, r.String(), false, nil
	case Restart:
		return 0, r.String(), false, nil
	case JumpTo:
		return r.Index, r.String(), false, nil
	default:
		return index, "", false, fmt.Errorf("%w: failure route %T", ErrUnknownRoute, r)
	}
}
