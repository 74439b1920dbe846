package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/replay"
	"github.com/ormasoftchile/stepseq/pkg/kernel/trace"
)

func newTraceCmd(a *app) *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}

	var key string
	verifyCmd := &cobra.Command{
		Use:   "verify [trace.jsonl]",
		Short: "Verify trace file integrity (hash chain + signature)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = a.cfg.Trace.SigningKey
			}
			var keyBytes []byte
			if key != "" {
				keyBytes = []byte(key)
			}
			result, err := trace.VerifyFile(args[0], keyBytes)
			if err != nil {
				return err
			}
			return reportVerify(cmd, result)
		},
	}
	verifyCmd.Flags().StringVar(&key, "key", "", "HMAC key to check the signature with (default trace.signing_key)")

	traceCmd.AddCommand(verifyCmd, newReplayCmd())
	return traceCmd
}

func newReplayCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay [sequence.yaml] [trace.jsonl]",
		Short: "Re-drive a sequence with the step results recorded in a trace",
		Long: `Replays the recorded success or failure of every step through the
sequence's current routing, without running actions or evaluating conditions,
and reports the first step where the paths diverge.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := validateAndReport(cmd.ErrOrStderr(), cmd.ErrOrStderr(), args[0])
			if err != nil {
				return err
			}
			rec, err := replay.Load(args[1])
			if err != nil {
				return err
			}
			if rec.Sequence != "" && rec.Sequence != seq.Meta.Name {
				return fmt.Errorf("trace records sequence %q, not %q", rec.Sequence, seq.Meta.Name)
			}

			result, err := replay.Replay(cmd.Context(), seq, rec, engine.WithRunID(rec.RunID+"-replay"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else if result.Faithful() {
				fmt.Fprintf(out, "%s Replay matches the recording: %d step(s)\n", passStyle.Render(glyphPassed), result.Matched)
			} else {
				d := result.Divergence
				fmt.Fprintf(out, "%s Replay diverges at step %d of %d\n", failStyle.Render(glyphFailed), d.Visit+1, result.Recorded)
				fmt.Fprintf(out, "  recorded: %s\n  replayed: %s\n", d.Recorded, d.Replayed)
			}
			if !result.Faithful() {
				return fmt.Errorf("replay diverged")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the comparison as JSON")
	return cmd
}

func reportVerify(cmd *cobra.Command, result *trace.VerifyResult) error {
	out := cmd.OutOrStdout()
	if !result.Valid {
		fmt.Fprintf(out, "%s Chain broken at event %d\n", failStyle.Render(glyphFailed), result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "%s Chain integrity: %d events, no breaks\n", passStyle.Render(glyphPassed), result.EventCount)

	if result.ChainHash != "" {
		keyLabel := result.SigningKeyID
		switch {
		case result.SignatureOK:
			if keyLabel == "" {
				keyLabel = "(default)"
			}
			fmt.Fprintf(out, "%s Signature valid: signed by key %q\n", passStyle.Render(glyphPassed), keyLabel)
		case result.SignatureNoKey:
			if keyLabel == "" {
				keyLabel = "unknown"
			}
			fmt.Fprintf(out, "%s Signature present (key %q) but no key given to verify it\n", warnStyle.Render(glyphWarning), keyLabel)
		case result.SigningKeyID != "":
			fmt.Fprintf(out, "%s Signature invalid\n", failStyle.Render(glyphFailed))
			return fmt.Errorf("signature verification failed")
		}
	}
	return nil
}
