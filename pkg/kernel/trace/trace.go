// Package trace implements the engine's append-only JSONL run trail.
//
// Every event carries the SHA-256 of the previous event's JSON line, so a
// trace can be checked for truncation or edits after the fact (see Verify).
package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates the trace event types.
type EventType string

const (
	EventRunStart            EventType = "run_start"
	EventRunComplete         EventType = "run_complete"
	EventStepStart           EventType = "step_start"
	EventStepComplete        EventType = "step_complete"
	EventActionCompleted     EventType = "action_completed"
	EventConditionsEvaluated EventType = "conditions_evaluated"
	EventRouteTaken          EventType = "route_taken"
)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusError   StepStatus = "error"
)

// genesisHash is the prev_hash of the first event in a trace.
var genesisHash = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	runID    string
	prevHash string
	keyID    string
	key      []byte
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: genesisHash,
	}
}

// NewFileWriter creates a trace writer for a JSONL file. An existing file is
// truncated: a file holds one run, whose chain starts at the genesis hash.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewWriter(f, runID), nil
}

// SetSigningKey makes the writer sign the final chain hash in run_complete
// with HMAC-SHA256.
func (tw *Writer) SetSigningKey(keyID string, key []byte) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.keyID = keyID
	tw.key = key
}

// RunID returns the run the writer is tagging events with.
func (tw *Writer) RunID() string {
	return tw.runID
}

// Close closes the underlying writer when it is an io.Closer.
func (tw *Writer) Close() error {
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(sum[:])
	return nil
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(sequence string, stepCount int) error {
	return tw.Emit(EventRunStart, map[string]any{
		"sequence":   sequence,
		"step_count": stepCount,
	})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(index int, stepID string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"index":   index,
		"step_id": stepID,
	})
}

// EmitActionCompleted emits an action_completed event with the advisory outcome.
func (tw *Writer) EmitActionCompleted(index int, stepID string, outcome any) error {
	data := map[string]any{
		"index":   index,
		"step_id": stepID,
	}
	if outcome != nil {
		data["outcome"] = fmt.Sprint(outcome)
	}
	return tw.Emit(EventActionCompleted, data)
}

// EmitConditionsEvaluated emits a conditions_evaluated event. groups is a
// JSON-friendly list of per-group results.
func (tw *Writer) EmitConditionsEvaluated(index int, stepID string, groups any, result bool) error {
	return tw.Emit(EventConditionsEvaluated, map[string]any{
		"index":   index,
		"step_id": stepID,
		"groups":  groups,
		"result":  result,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(index int, stepID string, status StepStatus, duration time.Duration, failure string) error {
	data := map[string]any{
		"index":    index,
		"step_id":  stepID,
		"status":   string(status),
		"duration": duration.String(),
	}
	if failure != "" {
		data["failure"] = failure
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitRouteTaken emits a route_taken event.
func (tw *Writer) EmitRouteTaken(from int, route string, to int) error {
	return tw.Emit(EventRouteTaken, map[string]any{
		"from":  from,
		"route": route,
		"to":    to,
	})
}

// EmitRunComplete emits the final run_complete event, carrying the chain
// hash and, when a signing key is set, its signature.
func (tw *Writer) EmitRunComplete(status string, succeeded bool, duration time.Duration) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data := map[string]any{
		"status":     status,
		"succeeded":  succeeded,
		"duration":   duration.String(),
		"chain_hash": tw.prevHash,
	}
	if len(tw.key) > 0 {
		mac := hmac.New(sha256.New, tw.key)
		mac.Write([]byte(tw.prevHash))
		data["signature"] = hex.EncodeToString(mac.Sum(nil))
		data["signing_key_id"] = tw.keyID
	}
	return tw.emitLocked(EventRunComplete, data)
}

// ReadEvents decodes every event of a JSONL trace stream.
func ReadEvents(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return events, fmt.Errorf("event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}
