package validate

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

func validateString(t *testing.T, doc string) []*ValidationError {
	t.Helper()
	_, errs := ValidateReader(strings.NewReader(doc))
	return errs
}

func messages(errs []*ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func requireMessage(t *testing.T, errs []*ValidationError, severity, want string) *ValidationError {
	t.Helper()
	for _, e := range errs {
		if e.Severity == severity && strings.Contains(e.Message, want) {
			return e
		}
	}
	require.Failf(t, "message not found", "no %s containing %q in %v", severity, want, messages(errs))
	return nil
}

func TestValidateFile_Valid(t *testing.T) {
	seq, errs := ValidateFile(testdataPath("valid.yaml"))
	require.NotNil(t, seq)
	assert.Empty(t, errs, "%v", messages(errs))
	assert.Equal(t, "reroll", seq.Meta.Name)
	assert.Len(t, seq.Steps, 2)
}

func TestValidateFile_Missing(t *testing.T) {
	seq, errs := ValidateFile(testdataPath("does_not_exist.yaml"))
	assert.Nil(t, seq)
	require.Len(t, errs, 1)
	assert.Equal(t, "structural", errs[0].Phase)
}

func TestValidateFile_UnknownField(t *testing.T) {
	_, errs := ValidateFile(testdataPath("unknown_field.yaml"))
	require.Len(t, errs, 1)
	assert.Equal(t, "structural", errs[0].Phase)
	assert.Contains(t, errs[0].Message, "retries")
}

func TestValidateFile_MissingFields(t *testing.T) {
	_, errs := ValidateFile(testdataPath("missing_fields.yaml"))
	require.True(t, HasErrors(errs))
	for _, e := range errs {
		assert.Equal(t, "semantic", e.Phase, e.Error())
	}

	paths := map[string]bool{}
	for _, e := range errs {
		paths[e.Path] = true
	}
	assert.True(t, paths["meta.name"], "%v", messages(errs))
	assert.True(t, paths["steps"], "%v", messages(errs))
}

func TestValidateFile_DuplicateIDs(t *testing.T) {
	_, errs := ValidateFile(testdataPath("duplicate_ids.yaml"))
	e := requireMessage(t, errs, SeverityError, "duplicate step ID")
	assert.Equal(t, "steps[1].id", e.Path)
}

func TestValidate_SemanticEnums(t *testing.T) {
	errs := validateString(t, `
apiVersion: stepseq/v0
meta: {name: enums}
steps:
  - timing: eventually
    conditions:
      - {type: xor, checks: ["true"]}
    on_success: sideways
`)
	require.True(t, HasErrors(errs))
	paths := map[string]bool{}
	for _, e := range errs {
		assert.Equal(t, "semantic", e.Phase)
		paths[e.Path] = true
	}
	assert.True(t, paths["steps[0].timing"], "%v", messages(errs))
	assert.True(t, paths["steps[0].conditions[0].type"], "%v", messages(errs))
}

func TestValidate_NegativeThreshold(t *testing.T) {
	errs := validateString(t, `
apiVersion: stepseq/v0
meta: {name: negative}
steps:
  - conditions:
      - {type: and, required: -2, checks: ["true"]}
`)
	require.True(t, HasErrors(errs))
	assert.Equal(t, "steps[0].conditions[0].required", errs[0].Path)
}

func TestValidate_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		step string
		path string
		want string
	}{
		{
			name: "repeat on success",
			step: "{auto_success: true, on_success: repeat}",
			path: "steps[0].on_success",
			want: "only valid on failure",
		},
		{
			name: "unknown target",
			step: "{conditions: [{type: and, checks: ['true']}], on_failure: {action: jump, target: ghost}}",
			path: "steps[0].on_failure",
			want: `"ghost" does not exist`,
		},
		{
			name: "check does not compile",
			step: "{conditions: [{type: or, required: 1, checks: ['attempts >']}]}",
			path: "steps[0].conditions[0].checks[0]",
			want: "compile check",
		},
		{
			name: "check is not boolean",
			step: "{conditions: [{type: or, required: 1, checks: ['attempts + 1']}]}",
			path: "steps[0].conditions[0].checks[0]",
			want: "compile check",
		},
		{
			name: "unknown variable",
			step: "{conditions: [{type: or, required: 1, checks: ['missing == 1']}]}",
			path: "steps[0].conditions[0].checks[0]",
			want: "compile check",
		},
		{
			name: "bad set expression",
			step: "{action: {set: {attempts: 'attempts +'}}, auto_success: true}",
			path: "steps[0].action.set.attempts",
			want: "compile expression",
		},
		{
			name: "bad wait",
			step: "{action: {wait: later}, auto_success: true}",
			path: "steps[0].action.wait",
			want: "invalid duration",
		},
		{
			name: "bad log template",
			step: "{action: {log: '{{ .attempts '}, auto_success: true}",
			path: "steps[0].action.log",
			want: "template",
		},
		{
			name: "blank id",
			step: "{id: '  ', auto_success: true}",
			path: "steps[0].id",
			want: "must not be blank",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "apiVersion: stepseq/v0\nmeta: {name: x, vars: {attempts: 0}}\nsteps:\n  - " + tt.step + "\n"
			errs := validateString(t, doc)
			e := requireMessage(t, errs, SeverityError, tt.want)
			assert.Equal(t, "domain", e.Phase)
			assert.Equal(t, tt.path, e.Path)
		})
	}
}

func TestValidate_SetNamesAreInScope(t *testing.T) {
	errs := validateString(t, `
apiVersion: stepseq/v0
meta: {name: scope}
steps:
  - action: {set: {rolled: "7"}}
    conditions:
      - {type: and, required: 1, checks: ["rolled == 7"]}
    on_success: terminate
`)
	assert.Empty(t, errs, "%v", messages(errs))
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
		want string
	}{
		{
			name: "jump out of range",
			doc:  "  - {auto_success: true, on_success: {action: jump, step: 5}}",
			path: "steps[0].on_success.step",
			want: "leaves the sequence",
		},
		{
			name: "conditions only without conditions",
			doc:  "  - {timing: conditions_only, on_failure: {action: jump, step: -1}}",
			path: "steps[0]",
			want: "conditions_only step has no conditions",
		},
		{
			name: "action without conditions",
			doc:  "  - {action: {log: hi}, on_failure: {action: jump, step: 1}}",
			path: "steps[0]",
			want: "can never succeed",
		},
		{
			name: "not with threshold",
			doc:  "  - {conditions: [{type: not, required: 2, checks: ['true']}], on_success: terminate}",
			path: "steps[0].conditions[0].required",
			want: "ignored for not groups",
		},
		{
			name: "threshold above check count",
			doc:  "  - {conditions: [{type: and, required: 3, checks: ['true']}], on_success: terminate, on_failure: {action: jump, step: 9}}",
			path: "steps[0].conditions[0].required",
			want: "can never pass",
		},
		{
			name: "zero threshold with checks",
			doc:  "  - {conditions: [{type: and, checks: ['false']}], on_success: terminate, on_failure: {action: jump, step: 9}}",
			path: "steps[0].conditions[0].required",
			want: "passes whatever its checks report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateString(t, "apiVersion: stepseq/v0\nmeta: {name: x}\nsteps:\n"+tt.doc+"\n")
			assert.False(t, HasErrors(errs), "%v", messages(errs))
			e := requireMessage(t, errs, SeverityWarning, tt.want)
			assert.Equal(t, tt.path, e.Path)
		})
	}
}

func TestValidate_NoExit(t *testing.T) {
	errs := validateString(t, `
apiVersion: stepseq/v0
meta: {name: forever}
steps:
  - id: spin
    auto_success: true
  - id: check
    conditions:
      - {type: and, required: 1, checks: ["true"]}
    on_success: {action: jump, target: spin}
    on_failure: restart
  - id: orphan
    auto_success: true
`)
	errors, warnings := Split(errs)
	assert.Empty(t, errors)
	e := requireMessage(t, warnings, SeverityWarning, "no route from the first step ends the run")
	assert.Equal(t, "steps", e.Path)
	e = requireMessage(t, warnings, SeverityWarning, "never reached")
	assert.Equal(t, "steps[2]", e.Path)
}

func TestValidate_StuckRepeat(t *testing.T) {
	tests := []struct {
		name string
		step string
		path string
		warn bool
	}{
		{
			name: "default repeat on a constant",
			step: "  - {conditions: [{type: and, required: 1, checks: ['n > 3']}], on_success: terminate}",
			path: "steps[0]",
			warn: true,
		},
		{
			name: "conditions only skips the assignment",
			step: "  - {timing: conditions_only, action: {set: {n: 'n + 1'}}, conditions: [{type: and, required: 1, checks: ['n > 3']}], on_success: terminate, on_failure: repeat}",
			path: "steps[0].on_failure",
			warn: true,
		},
		{
			name: "action moves the condition",
			step: "  - {action: {set: {n: 'n + 1'}}, conditions: [{type: and, required: 1, checks: ['n > 3']}], on_success: terminate}",
		},
		{
			name: "failure restarts",
			step: "  - {conditions: [{type: and, required: 1, checks: ['n > 3']}], on_success: terminate, on_failure: restart}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateString(t, "apiVersion: stepseq/v0\nmeta: {name: x, vars: {n: 0}}\nsteps:\n"+tt.step+"\n")
			assert.False(t, HasErrors(errs), "%v", messages(errs))
			var found *ValidationError
			for _, e := range errs {
				if strings.Contains(e.Message, "only ends when the run is cancelled") {
					found = e
				}
			}
			if !tt.warn {
				assert.Nil(t, found, "%v", messages(errs))
				return
			}
			require.NotNil(t, found, "%v", messages(errs))
			assert.Equal(t, tt.path, found.Path)
			assert.Contains(t, found.Message, "reads: n; writes: -")
		})
	}
}

func TestInstancePath(t *testing.T) {
	assert.Equal(t, "steps[0].conditions[1].type", instancePath([]string{"steps", "0", "conditions", "1", "type"}))
	assert.Equal(t, "", instancePath(nil))
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "[domain] boom at steps[0]", errorf("domain", "steps[0]", "boom").Error())
	assert.Equal(t, "[semantic] boom", errorf("semantic", "", "boom").Error())
}
