// Package validate implements the stepseq/v0 3-phase validation pipeline:
// structural → semantic → domain.
package validate

import (
	"fmt"
	"io"

	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// ValidateFile runs the full 3-phase pipeline on a sequence file.
func ValidateFile(path string) (*schema.Sequence, []*ValidationError) {
	// Phase 1: Structural (strict YAML decode)
	seq, err := schema.LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return seq, ValidateSequence(seq)
}

// ValidateReader runs the full pipeline on a document read from r.
func ValidateReader(r io.Reader) (*schema.Sequence, []*ValidationError) {
	seq, err := schema.Load(r)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return seq, ValidateSequence(seq)
}

// ValidateSequence runs phases 2+3 on an already-loaded sequence.
func ValidateSequence(seq *schema.Sequence) []*ValidationError {
	// Phase 2: Semantic (JSON Schema validation)
	errs := validateSemantic(seq)

	// If we have semantic errors, don't proceed to domain
	if HasErrors(errs) {
		return errs
	}

	// Phase 3: Domain (hand-coded rules)
	return append(errs, validateDomain(seq)...)
}

// HasErrors reports whether errs holds at least one error-severity entry.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Split separates errors from warnings.
func Split(all []*ValidationError) (errs, warnings []*ValidationError) {
	for _, e := range all {
		if e.Severity == SeverityError {
			errs = append(errs, e)
		} else {
			warnings = append(warnings, e)
		}
	}
	return errs, warnings
}
