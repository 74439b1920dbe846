package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/diagram"
)

func newDiagramCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "diagram [sequence.yaml]",
		Short: "Render the routing graph as a Mermaid flowchart or ASCII boxes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := validateAndReport(cmd.ErrOrStderr(), cmd.ErrOrStderr(), args[0])
			if err != nil {
				return err
			}
			out, err := diagram.Generate(seq, diagram.Format(format))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(diagram.FormatMermaid), "Diagram format: mermaid or ascii")
	return cmd
}
