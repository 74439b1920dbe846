// Package replay re-drives a sequence against the step results recorded in a
// trace. Actions are not run and conditions are not evaluated: every step
// answers with the outcome it had in the recording, so the replay shows
// whether the sequence's current routing still takes the recorded path.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ormasoftchile/stepseq/pkg/kernel/compiler"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/eval"
	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
	"github.com/ormasoftchile/stepseq/pkg/kernel/trace"
)

var (
	// ErrExhausted is returned by a replayed step that has no recorded
	// outcome left.
	ErrExhausted = errors.New("recording exhausted")

	// ErrRecordedError reproduces a step that errored in the recording.
	ErrRecordedError = errors.New("step errored in recording")
)

// Visit is one recorded step execution.
type Visit struct {
	Index   int              `json:"index"`
	StepID  string           `json:"step_id"`
	Status  trace.StepStatus `json:"status"`
	Failure string           `json:"failure,omitempty"`
	Route   string           `json:"route,omitempty"`
	Next    int              `json:"next"`
}

func (v Visit) String() string {
	if v.Status == trace.StatusError {
		return fmt.Sprintf("[%d] %s (error)", v.Index, v.StepID)
	}
	return fmt.Sprintf("[%d] %s -> %s", v.Index, v.StepID, v.Route)
}

// Recording is the step path of one traced run.
type Recording struct {
	RunID     string  `json:"run_id"`
	Sequence  string  `json:"sequence"`
	StepCount int     `json:"step_count"`
	Status    string  `json:"status,omitempty"` // empty when the trace has no run_complete
	Visits    []Visit `json:"visits"`
}

// Load reads a recording from a JSONL trace file.
func Load(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	events, err := trace.ReadEvents(f)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return FromEvents(events)
}

// FromEvents builds a recording from decoded trace events. A step that
// started but never completed is dropped.
func FromEvents(events []trace.Event) (*Recording, error) {
	rec := &Recording{}
	var open *Visit

	for i, evt := range events {
		switch evt.Type {
		case trace.EventRunStart:
			rec.RunID = evt.RunID
			rec.Sequence, _ = evt.Data["sequence"].(string)
			rec.StepCount, _ = intField(evt.Data, "step_count")
		case trace.EventStepStart:
			index, ok := intField(evt.Data, "index")
			if !ok {
				return nil, fmt.Errorf("event %d: step_start without index", i+1)
			}
			id, _ := evt.Data["step_id"].(string)
			open = &Visit{Index: index, StepID: id, Next: index}
		case trace.EventStepComplete:
			if open == nil {
				return nil, fmt.Errorf("event %d: step_complete without step_start", i+1)
			}
			status, _ := evt.Data["status"].(string)
			open.Status = trace.StepStatus(status)
			open.Failure, _ = evt.Data["failure"].(string)
			rec.Visits = append(rec.Visits, *open)
			open = nil
		case trace.EventRouteTaken:
			if len(rec.Visits) == 0 {
				return nil, fmt.Errorf("event %d: route_taken before any step", i+1)
			}
			last := &rec.Visits[len(rec.Visits)-1]
			last.Route, _ = evt.Data["route"].(string)
			last.Next, _ = intField(evt.Data, "to")
		case trace.EventRunComplete:
			rec.Status, _ = evt.Data["status"].(string)
		}
	}
	return rec, nil
}

// intField reads a JSON number that decoded as float64.
func intField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// player hands out recorded outcomes per step index, first recorded first
// consumed.
type player struct {
	mu       sync.Mutex
	outcomes map[int][]Visit
}

func newPlayer(rec *Recording) *player {
	p := &player{outcomes: make(map[int][]Visit)}
	for _, v := range rec.Visits {
		p.outcomes[v.Index] = append(p.outcomes[v.Index], v)
	}
	return p
}

func (p *player) probe(index int) engine.Probe {
	return func(ctx context.Context) (engine.ProbeResult, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		queue := p.outcomes[index]
		if len(queue) == 0 {
			return engine.Unevaluated(), fmt.Errorf("%w at step %d", ErrExhausted, index)
		}
		v := queue[0]
		p.outcomes[index] = queue[1:]
		if v.Status == trace.StatusError {
			return engine.Unevaluated(), fmt.Errorf("%w: %s", ErrRecordedError, v.Failure)
		}
		return engine.Matched(v.Status == trace.StatusSuccess), nil
	}
}

// Steps rewrites compiled steps so each answers from the recording. Routes
// and labels are kept; actions, timing and conditions are replaced.
func Steps(steps []engine.Step, rec *Recording) []engine.Step {
	p := newPlayer(rec)
	out := make([]engine.Step, len(steps))
	for i, s := range steps {
		out[i] = engine.Step{
			ID:        s.ID,
			Name:      s.Name,
			Timing:    engine.EvaluateConditionsOnly,
			OnSuccess: s.OnSuccess,
			OnFailure: s.OnFailure,
			Conditions: []engine.ConditionGroup{{
				Combinator: engine.And,
				Required:   1,
				Probes:     []engine.Probe{p.probe(i)},
			}},
		}
	}
	return out
}

// Divergence is the first point where the replayed path leaves the recorded
// one.
type Divergence struct {
	Visit    int    `json:"visit"` // 0-based position in the path
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// Result compares a replay against its recording.
type Result struct {
	Run        *engine.RunResult `json:"-"`
	Recorded   int               `json:"recorded"`
	Matched    int               `json:"matched"`
	Divergence *Divergence       `json:"divergence,omitempty"`
}

// Faithful reports whether the replay took exactly the recorded path.
func (r *Result) Faithful() bool {
	return r.Divergence == nil && r.Matched == r.Recorded
}

// Replay compiles seq, runs it against rec and compares the paths. The
// final status is not compared: a recording cut short by cancellation
// replays up to its last recorded step and stops there.
func Replay(ctx context.Context, seq *schema.Sequence, rec *Recording, opts ...engine.Option) (*Result, error) {
	if rec.StepCount != 0 && rec.StepCount != len(seq.Steps) {
		return nil, fmt.Errorf("recording has %d steps, sequence %s has %d", rec.StepCount, seq.Meta.Name, len(seq.Steps))
	}
	steps, err := compiler.Compile(seq, eval.NewEnv(seq.Meta.Vars))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", seq.Meta.Name, err)
	}

	opts = append([]engine.Option{engine.WithName(seq.Meta.Name), engine.WithHistoryLimit(0)}, opts...)
	run := engine.New(opts...).Run(ctx, Steps(steps, rec))
	return compare(rec, run), nil
}

func compare(rec *Recording, run *engine.RunResult) *Result {
	res := &Result{Run: run, Recorded: len(rec.Visits)}
	exhausted := errors.Is(run.Error, ErrExhausted)

	for i, got := range run.Visits {
		if i >= len(rec.Visits) {
			// Running out after the whole path matched is expected for a
			// recording that did not complete.
			if exhausted && i == len(rec.Visits) && rec.Status != string(engine.StatusCompleted) {
				return res
			}
			res.Divergence = &Divergence{Visit: i, Recorded: "end of recording", Replayed: describe(got)}
			return res
		}
		want := rec.Visits[i]
		if got.Index != want.Index || got.ID != want.StepID || !sameRoute(got, want) {
			res.Divergence = &Divergence{Visit: i, Recorded: want.String(), Replayed: describe(got)}
			return res
		}
		res.Matched++
	}
	if res.Matched < len(rec.Visits) {
		res.Divergence = &Divergence{
			Visit:    res.Matched,
			Recorded: rec.Visits[res.Matched].String(),
			Replayed: "end of run",
		}
	}
	return res
}

func sameRoute(got engine.StepVisit, want Visit) bool {
	if want.Status == trace.StatusError {
		return got.Route == ""
	}
	return got.Route == want.Route && got.Next == want.Next
}

func describe(v engine.StepVisit) string {
	if v.Route == "" {
		return fmt.Sprintf("[%d] %s (error)", v.Index, v.ID)
	}
	return fmt.Sprintf("[%d] %s -> %s", v.Index, v.ID, v.Route)
}
