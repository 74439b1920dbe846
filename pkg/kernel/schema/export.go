package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the generated sequence schema.
const SchemaID = "https://github.com/ormasoftchile/stepseq/schemas/stepseq-v0.json"

// GenerateSequenceJSONSchema produces a JSON Schema Draft 2020-12 document
// from the stepseq/v0 Sequence Go types.
func GenerateSequenceJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Sequence{})
	s.ID = SchemaID
	s.Title = "Step Sequence (stepseq/v0)"
	s.Description = "Schema for stepseq/v0 sequence YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sequence schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes both route forms: a bare action name, or a mapping
// with an optional step index or target id.
func (Route) JSONSchema() *jsonschema.Schema {
	actions := []any{RouteAdvance, RouteTerminate, RouteJump, RouteRepeat, RouteRestart}

	props := jsonschema.NewProperties()
	props.Set("action", &jsonschema.Schema{Type: "string", Enum: actions})
	props.Set("step", &jsonschema.Schema{Type: "integer"})
	props.Set("target", &jsonschema.Schema{Type: "string", MinLength: uint64Ptr(1)})

	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Enum: actions},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"action"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
