package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/executor"
)

func newExecCmd(a *app) *cobra.Command {
	var (
		vars      []string
		tracePath string
		asJSON    bool
		record    string
		ignore    []string
	)

	cmd := &cobra.Command{
		Use:   "exec [sequence.yaml]",
		Short: "Execute a sequence until it completes, aborts or is interrupted",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runID := uuid.NewString()
			if tracePath == "" {
				tracePath = a.cfg.TracePath(runID)
			}
			result, err := executor.Run(ctx, seq, executor.Options{
				RunID:      runID,
				Vars:       overrides,
				Timeout:    a.cfg.Run.Timeout,
				TracePath:  tracePath,
				SigningKey: []byte(a.cfg.Trace.SigningKey),
				KeyID:      a.cfg.Trace.KeyID,
				Engine:     []engine.Option{engine.WithHistoryLimit(a.cfg.Run.HistoryLimit)},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(execReport(result)); err != nil {
					return err
				}
			} else {
				printRun(cmd, result, tracePath)
			}

			if record != "" {
				rec := recorder.New()
				rec.Ignore(ignore...)
				path, err := recorder.Write(args[0], record, rec.Capture(result, overrides, a.cfg.Run.Timeout))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "recorded scenario %s\n", path)
			}

			switch result.Status {
			case engine.StatusCompleted:
				return nil
			case engine.StatusCancelled:
				return fmt.Errorf("run cancelled: %w", result.Error)
			default:
				return fmt.Errorf("run aborted: %w", result.Error)
			}
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "Set a variable (name=value, value parsed as YAML), repeatable")
	cmd.Flags().StringVar(&tracePath, "trace", "", "Write a JSONL trace to this file, replacing it (default trace.dir/<run-id>.jsonl)")
	cmd.Flags().Duration("timeout", 0, "Cancel the run after this long (0 = no deadline)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the run result as JSON")
	cmd.Flags().StringVar(&record, "record", "", "Save the run as a test scenario with this name")
	cmd.Flags().StringSliceVar(&ignore, "record-ignore", nil, "Variables to leave out of the recorded expectations")
	_ = a.v.BindPFlag("run.timeout", cmd.Flags().Lookup("timeout"))
	return cmd
}

type runReport struct {
	RunID         string             `json:"run_id"`
	Sequence      string             `json:"sequence"`
	Status        engine.RunStatus   `json:"status"`
	StepsExecuted int                `json:"steps_executed"`
	Duration      string             `json:"duration"`
	Visits        []engine.StepVisit `json:"visits"`
	Vars          map[string]any     `json:"vars"`
	Error         string             `json:"error,omitempty"`
}

func execReport(r *executor.Result) runReport {
	rep := runReport{
		RunID:         r.RunID,
		Sequence:      r.Sequence,
		Status:        r.Status,
		StepsExecuted: r.StepsExecuted,
		Duration:      r.Duration.String(),
		Visits:        r.Visits,
		Vars:          r.Vars,
	}
	if r.Error != nil {
		rep.Error = r.Error.Error()
	}
	return rep
}

func printRun(cmd *cobra.Command, r *executor.Result, tracePath string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n  %s %s\n", headerStyle.Render(r.Sequence), dimStyle.Render(r.RunID))
	for _, v := range r.Visits {
		glyph := passStyle.Render(glyphPassed)
		if !v.Succeeded {
			glyph = failStyle.Render(glyphFailed)
		}
		fmt.Fprintf(out, "    %s [%d] %s -> %s %s\n", glyph, v.Index, v.ID, v.Route, dimStyle.Render(v.Duration.Round(time.Microsecond).String()))
	}
	if dropped := r.StepsExecuted - len(r.Visits); dropped > 0 {
		fmt.Fprintf(out, "    %s\n", dimStyle.Render(fmt.Sprintf("(%d earlier step executions not shown)", dropped)))
	}

	status := string(r.Status)
	fmt.Fprintf(out, "\n  %s after %d step(s) in %s\n", statusStyle(status).Render(status), r.StepsExecuted, r.Duration.Round(time.Millisecond))
	if r.Error != nil {
		fmt.Fprintf(out, "  error: %v\n", r.Error)
	}
	if tracePath != "" {
		fmt.Fprintf(out, "  trace: %s\n", tracePath)
	}
}
