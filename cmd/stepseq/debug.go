package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/debugger"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/executor"
)

func newDebugCmd(a *app) *cobra.Command {
	var (
		vars   []string
		script string
	)

	cmd := &cobra.Command{
		Use:   "debug [sequence.yaml]",
		Short: "Step through a sequence in an interactive debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := validateAndReport(cmd.ErrOrStderr(), cmd.ErrOrStderr(), args[0])
			if err != nil {
				return err
			}
			overrides, err := executor.ParseVars(vars)
			if err != nil {
				return err
			}

			d, err := debugger.New(seq, overrides, engine.WithHistoryLimit(a.cfg.Run.HistoryLimit))
			if err != nil {
				return err
			}
			d.SetOutput(cmd.OutOrStdout())

			if script == "" {
				return d.Run(cmd.Context())
			}
			f, err := os.Open(script)
			if err != nil {
				return fmt.Errorf("open script: %w", err)
			}
			defer f.Close()
			return d.RunScript(cmd.Context(), f)
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "Set a variable (name=value, value parsed as YAML), repeatable")
	cmd.Flags().StringVar(&script, "script", "", "Read debugger commands from a file instead of the terminal")
	return cmd
}
