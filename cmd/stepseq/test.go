package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	ktesting "github.com/ormasoftchile/stepseq/pkg/kernel/testing"
)

func newTestCmd(a *app) *cobra.Command {
	var (
		scenario string
		asJSON   bool
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "test [sequence.yaml...]",
		Short: "Run scenario tests with assertions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := &ktesting.Runner{
				Timeout:  a.cfg.Run.Timeout,
				FailFast: failFast,
				Engine:   []engine.Option{engine.WithHistoryLimit(a.cfg.Run.HistoryLimit)},
			}

			allPassed := true
			for _, path := range args {
				var output *ktesting.TestOutput
				if scenario != "" {
					result, err := runner.RunScenario(cmd.Context(), path, scenario)
					if err != nil {
						return err
					}
					output = singleScenarioOutput(result)
				} else {
					var err error
					output, err = runner.RunAll(cmd.Context(), path)
					if err != nil {
						return err
					}
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(output); err != nil {
						return err
					}
				} else {
					printTestOutput(cmd.OutOrStdout(), output)
				}
				if output.Failed() {
					allPassed = false
				}
			}

			if !allPassed {
				return fmt.Errorf("tests failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "Run only the named scenario (default: all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop after first failure")
	return cmd
}

func singleScenarioOutput(result *ktesting.TestResult) *ktesting.TestOutput {
	output := &ktesting.TestOutput{
		Sequence:  result.SequenceName,
		Scenarios: []ktesting.TestResult{*result},
		Summary:   ktesting.TestSummary{Total: 1},
	}
	switch result.Status {
	case "passed":
		output.Summary.Passed = 1
	case "failed":
		output.Summary.Failed = 1
	case "skipped":
		output.Summary.Skipped = 1
	default:
		output.Summary.Errors = 1
	}
	return output
}

func printTestOutput(w io.Writer, output *ktesting.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", headerStyle.Render(output.Sequence))
	for _, s := range output.Scenarios {
		icon := passStyle.Render(glyphPassed)
		switch s.Status {
		case "failed":
			icon = failStyle.Render(glyphFailed)
		case "error":
			icon = failStyle.Render(glyphError)
		case "skipped":
			icon = skippedStyle.Render(glyphSkipped)
		}
		fmt.Fprintf(w, "    %s %s %s\n", icon, s.ScenarioName, dimStyle.Render(fmt.Sprintf("(%dms)", s.DurationMs)))
		if s.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", s.Error)
		}
		for _, a := range s.Assertions {
			if !a.Passed {
				fmt.Fprintf(w, "      %s %s: %s\n", failStyle.Render(glyphFailed), a.Type, a.Message)
			}
		}
	}
	fmt.Fprintf(w, "\n  %d passed, %d failed, %d skipped, %d errors (total: %d)\n",
		output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped, output.Summary.Errors, output.Summary.Total)
}
