package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with stepseq tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stepseq",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("stepseq/validate",
			mcp.WithDescription("Validate a stepseq sequence YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the sequence YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("stepseq/exec",
			mcp.WithDescription("Execute a stepseq sequence and report the run result"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the sequence YAML file")),
			mcp.WithObject("vars", mcp.Description("Variables overriding meta.vars")),
			mcp.WithString("timeout", mcp.Description("Run deadline such as 5s (default 30s)")),
		),
		HandleExec,
	)

	s.AddTool(
		mcp.NewTool("stepseq/test",
			mcp.WithDescription("Run scenario tests for a stepseq sequence"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the sequence YAML file")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		HandleTest,
	)

	s.AddTool(
		mcp.NewTool("stepseq/schema",
			mcp.WithDescription("Export the stepseq sequence JSON Schema"),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("stepseq/diagram",
			mcp.WithDescription("Render the routing graph of a sequence"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the sequence YAML file")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii")),
		),
		HandleDiagram,
	)

	return s
}
