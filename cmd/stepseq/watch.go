package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/executor"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		stopOn   string
		maxRuns  int
		vars     []string
	)

	cmd := &cobra.Command{
		Use:   "watch [sequence.yaml]",
		Short: "Run a sequence repeatedly at an interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("invalid --interval %s: must be positive", interval)
			}
			stopStatuses := make(map[engine.RunStatus]bool)
			if stopOn != "" {
				for _, s := range strings.Split(stopOn, ",") {
					status := engine.RunStatus(strings.TrimSpace(s))
					switch status {
					case engine.StatusCompleted, engine.StatusAborted, engine.StatusCancelled:
						stopStatuses[status] = true
					default:
						return fmt.Errorf("invalid --stop-on status %q", s)
					}
				}
			}

			// Validate once upfront
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

			out := cmd.OutOrStdout()
			for run := 1; ; run++ {
				runID := fmt.Sprintf("watch-%s-%03d", time.Now().Format("20060102"), run)
				result, err := executor.Run(ctx, seq, executor.Options{
					RunID:      runID,
					Vars:       overrides,
					Timeout:    a.cfg.Run.Timeout,
					TracePath:  a.cfg.TracePath(runID),
					SigningKey: []byte(a.cfg.Trace.SigningKey),
					KeyID:      a.cfg.Trace.KeyID,
					Engine:     []engine.Option{engine.WithHistoryLimit(a.cfg.Run.HistoryLimit)},
				})
				if err != nil {
					return err
				}

				status := string(result.Status)
				fmt.Fprintf(out, "%s  %s %s after %d step(s)   %s\n",
					time.Now().Format("15:04:05"), statusIcon(result.Status), statusStyle(status).Render(status),
					result.StepsExecuted, result.Duration.Truncate(time.Millisecond))

				if ctx.Err() != nil {
					fmt.Fprintf(out, "  Watch stopped: interrupted\n")
					return nil
				}
				if stopStatuses[result.Status] {
					fmt.Fprintf(out, "  Watch stopped: status %q matched --stop-on\n", status)
					return nil
				}
				if maxRuns > 0 && run >= maxRuns {
					fmt.Fprintf(out, "  Watch stopped: %d run(s) done\n", run)
					return nil
				}

				select {
				case <-ctx.Done():
					fmt.Fprintf(out, "  Watch stopped: interrupted\n")
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Time between runs (e.g. 5m, 30s)")
	cmd.Flags().StringVar(&stopOn, "stop-on", "", "Comma-separated run statuses that stop the loop (completed, aborted, cancelled)")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop after this many runs (0 = until interrupted)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Set a variable (name=value, value parsed as YAML), repeatable")
	return cmd
}

func statusIcon(status engine.RunStatus) string {
	switch status {
	case engine.StatusCompleted:
		return passStyle.Render(glyphPassed)
	case engine.StatusAborted:
		return failStyle.Render(glyphFailed)
	default:
		return warnStyle.Render(glyphWarning)
	}
}
