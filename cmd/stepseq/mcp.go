package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	smcp "github.com/ormasoftchile/stepseq/pkg/ecosystem/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve stepseq tools to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.ServeStdio(smcp.NewServer(version))
		},
	}
}
