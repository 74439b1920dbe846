package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// compiledSchema is the sequence JSON Schema, generated from the Go types
// and compiled once per process.
var compiledSchema = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	schemaJSON, err := schema.GenerateSequenceJSONSchema()
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schema.SchemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schema.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
})

var printer = message.NewPrinter(language.English)

// validateSemantic validates the sequence against the generated JSON Schema.
func validateSemantic(seq *schema.Sequence) []*ValidationError {
	sch, err := compiledSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "%v", err)}
	}

	// Round-trip through JSON so the validator sees plain JSON values.
	data, err := json.Marshal(seq)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %v", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal document: %v", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*ValidationError{errorf("semantic", "", "%v", err)}
	}

	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, errorf("semantic", instancePath(cause.InstanceLocation), "%s", cause.ErrorKind.LocalizedString(printer)))
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders ["steps","0","timing"] as steps[0].timing.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, part := range loc {
		if isIndex(part) {
			fmt.Fprintf(&b, "[%s]", part)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
