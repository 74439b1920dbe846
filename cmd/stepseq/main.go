// Package main provides the stepseq CLI entrypoint.
//
//	stepseq validate <file>
//	stepseq exec <file> [--var k=v] [--trace f] [--timeout d]
//	stepseq test <file...>
//	stepseq schema
//	stepseq diagram <file>
//	stepseq debug <file>
//	stepseq mcp
//	stepseq trace verify <trace.jsonl>
//	stepseq trace replay <file> <trace.jsonl>
//	stepseq watch <file> [--interval d] [--stop-on statuses]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ormasoftchile/stepseq/pkg/config"
	"github.com/ormasoftchile/stepseq/pkg/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by subcommands once the root has loaded config.
type app struct {
	v          *viper.Viper
	cfg        *config.Config
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:          "stepseq",
		Short:        "Step sequence engine: run condition-gated steps with explicit routing",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Setup(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Writer: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default ./stepseq.yaml or ~/.config/stepseq/stepseq.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newValidateCmd(a),
		newExecCmd(a),
		newTestCmd(a),
		newSchemaCmd(),
		newDiagramCmd(),
		newDebugCmd(a),
		newMCPCmd(),
		newTraceCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stepseq %s (%s)\n", version, commit)
		},
	}
}
