package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/stepseq/pkg/kernel/validate"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [sequence.yaml...]",
		Short: "Validate sequence YAML (structural, schema and domain checks)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if _, err := validateAndReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), path); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed validation", failed, len(args))
			}
			return nil
		},
	}
}

// validateAndReport validates path, prints the outcome and returns the
// sequence when it has no errors.
func validateAndReport(stdout, stderr io.Writer, path string) (*schema.Sequence, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%s: only .yaml files are supported", path)
	}

	seq, all := kvalidate.ValidateFile(path)
	errs, warnings := kvalidate.Split(all)
	for _, w := range warnings {
		fmt.Fprintf(stderr, "  %s [%s] %s\n", warnStyle.Render(glyphWarning), w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(stderr, "    at: %s\n", dimStyle.Render(w.Path))
		}
	}
	if len(errs) > 0 {
		fmt.Fprintf(stderr, "%s %s: %d error(s)\n\n", failStyle.Render(glyphFailed), path, len(errs))
		for i, e := range errs {
			fmt.Fprintf(stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(stderr, "     at: %s\n", dimStyle.Render(e.Path))
			}
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(errs))
	}

	fmt.Fprintf(stdout, "%s %s is valid (%d steps)\n", passStyle.Render(glyphPassed), seq.Meta.Name, len(seq.Steps))
	return seq, nil
}
