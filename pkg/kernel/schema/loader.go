package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a stepseq/v0 sequence YAML.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sequence: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a stepseq/v0 sequence from a reader.
func Load(r io.Reader) (*Sequence, error) {
	var seq Sequence
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&seq); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("structural decode: empty document")
		}
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&seq)
	return &seq, nil
}

// LoadString is Load for in-memory documents.
func LoadString(doc string) (*Sequence, error) {
	return Load(strings.NewReader(doc))
}

// normalize lower-cases the enum-like fields so that "AND" and "Advance"
// are accepted.
func normalize(seq *Sequence) {
	for i := range seq.Steps {
		s := &seq.Steps[i]
		s.Timing = strings.ToLower(strings.TrimSpace(s.Timing))
		for j := range s.Conditions {
			s.Conditions[j].Type = strings.ToLower(strings.TrimSpace(s.Conditions[j].Type))
		}
		for _, r := range []*Route{s.OnSuccess, s.OnFailure} {
			if r != nil {
				r.Action = strings.ToLower(strings.TrimSpace(r.Action))
			}
		}
	}
}
