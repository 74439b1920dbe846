// Package schema defines the stepseq/v0 sequence document types.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// APIVersion is the apiVersion of sequence documents.
const APIVersion = "stepseq/v0"

// ---------------------------------------------------------------------------
// Sequence
// ---------------------------------------------------------------------------

// Sequence is the top-level stepseq/v0 document.
type Sequence struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion" jsonschema:"enum=stepseq/v0"`
	Meta       Meta   `yaml:"meta"       json:"meta"`
	Steps      []Step `yaml:"steps"      json:"steps" jsonschema:"minItems=1"`
}

// Meta contains sequence metadata and the initial variable scope.
type Meta struct {
	Name        string         `yaml:"name"                  json:"name" jsonschema:"minLength=1"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]any `yaml:"vars,omitempty"        json:"vars,omitempty"`
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Timing names accepted in Step.Timing. Empty means TimingActionThenEvaluate.
const (
	TimingActionThenEvaluate = "action_then_evaluate"
	TimingConditionsOnly     = "conditions_only"
)

// Step is one entry of the sequence.
type Step struct {
	ID          string           `yaml:"id,omitempty"           json:"id,omitempty"`
	Name        string           `yaml:"name,omitempty"         json:"name,omitempty"`
	Action      *Action          `yaml:"action,omitempty"       json:"action,omitempty"`
	Timing      string           `yaml:"timing,omitempty"       json:"timing,omitempty" jsonschema:"enum=action_then_evaluate,enum=conditions_only"`
	AutoSuccess bool             `yaml:"auto_success,omitempty" json:"auto_success,omitempty"`
	Conditions  []ConditionGroup `yaml:"conditions,omitempty"   json:"conditions,omitempty"`
	OnSuccess   *Route           `yaml:"on_success,omitempty"   json:"on_success,omitempty"`
	OnFailure   *Route           `yaml:"on_failure,omitempty"   json:"on_failure,omitempty"`
}

// Action describes the work a step performs against the variable scope.
type Action struct {
	// Set assigns expression results to variables, in key order.
	Set map[string]string `yaml:"set,omitempty"     json:"set,omitempty"`
	// Wait is a duration slept before the action returns.
	Wait string `yaml:"wait,omitempty"    json:"wait,omitempty"`
	// Log is a text/template rendered against the scope and logged.
	Log string `yaml:"log,omitempty"     json:"log,omitempty"`
	// Outcome is an expression whose result is recorded as the step outcome.
	Outcome string `yaml:"outcome,omitempty" json:"outcome,omitempty"`
	// Fail makes the action return an error with this message.
	Fail string `yaml:"fail,omitempty"    json:"fail,omitempty"`
}

// Combinator names accepted in ConditionGroup.Type.
const (
	CombinatorAnd = "and"
	CombinatorOr  = "or"
	CombinatorNot = "not"
)

// ConditionGroup is a set of boolean checks combined by and, or or not.
type ConditionGroup struct {
	Type     string   `yaml:"type"               json:"type" jsonschema:"enum=and,enum=or,enum=not"`
	Required int      `yaml:"required,omitempty" json:"required,omitempty" jsonschema:"minimum=0"`
	Checks   []string `yaml:"checks,omitempty"   json:"checks,omitempty"`
}

// ---------------------------------------------------------------------------
// Route
// ---------------------------------------------------------------------------

// Route actions. Advance and terminate are success-only; repeat and restart
// are failure-only; jump is valid on both sides.
const (
	RouteAdvance   = "advance"
	RouteTerminate = "terminate"
	RouteJump      = "jump"
	RouteRepeat    = "repeat"
	RouteRestart   = "restart"
)

// Route is where the engine goes after a step. In YAML it is either a scalar
// action name or a mapping with action plus step (raw index) or target (id).
type Route struct {
	Action string `yaml:"action"           json:"action"`
	Step   *int   `yaml:"step,omitempty"   json:"step,omitempty"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (r *Route) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*r = Route{Action: node.Value}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch key := node.Content[i]; key.Value {
			case "action", "step", "target":
			default:
				return fmt.Errorf("line %d: field %s not found in type schema.Route", key.Line, key.Value)
			}
		}
		type plain Route
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*r = Route(p)
		return nil
	default:
		return fmt.Errorf("line %d: route must be a string or a mapping", node.Line)
	}
}

func (r Route) String() string {
	switch {
	case r.Target != "":
		return fmt.Sprintf("%s(%s)", r.Action, r.Target)
	case r.Step != nil:
		return fmt.Sprintf("%s(%d)", r.Action, *r.Step)
	default:
		return r.Action
	}
}

// IntPtr is a convenience for building jump routes in code.
func IntPtr(i int) *int {
	return &i
}
