package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/stepseq/pkg/diagram"
	"github.com/ormasoftchile/stepseq/pkg/kernel/engine"
	"github.com/ormasoftchile/stepseq/pkg/kernel/executor"
	kschema "github.com/ormasoftchile/stepseq/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/stepseq/pkg/kernel/testing"
	kvalidate "github.com/ormasoftchile/stepseq/pkg/kernel/validate"
)

// DefaultExecTimeout bounds stepseq/exec runs when the caller gives no timeout.
const DefaultExecTimeout = 30 * time.Second

// HandleValidate implements the stepseq/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	seq, all := kvalidate.ValidateFile(path)
	errs, warnings := kvalidate.Split(all)
	if len(errs) > 0 {
		return errorResult(formatErrors(errs)), nil
	}

	msg := fmt.Sprintf("✓ %s is valid (%d steps)", seq.Meta.Name, len(seq.Steps))
	if len(warnings) > 0 {
		msg += "\nwarnings: " + formatErrors(warnings)
	}
	return textResult(msg), nil
}

// HandleSchema implements the stepseq/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateSequenceJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleExec implements the stepseq/exec MCP tool.
func HandleExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	timeout := DefaultExecTimeout
	if raw := req.GetString("timeout", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errorResult(fmt.Sprintf("invalid timeout %q", raw)), nil
		}
		timeout = d
	}

	seq, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		errs, _ = kvalidate.Split(errs)
		return errorResult(formatErrors(errs)), nil
	}

	vars, _ := req.GetArguments()["vars"].(map[string]any)
	result, err := executor.Run(ctx, seq, executor.Options{
		RunID:   "mcp-" + seq.Meta.Name,
		Vars:    vars,
		Timeout: timeout,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	response := map[string]any{
		"run_id":         result.RunID,
		"status":         result.Status,
		"succeeded":      result.Succeeded(),
		"steps_executed": result.StepsExecuted,
		"visits":         result.VisitedSteps(),
		"vars":           result.Vars,
		"duration":       result.Duration.String(),
	}
	if result.Error != nil {
		response["error"] = result.Error.Error()
	}

	data, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: result.Status == engine.StatusAborted,
	}, nil
}

// HandleTest implements the stepseq/test MCP tool.
func HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioName := req.GetString("scenario", "")

	runner := &ktesting.Runner{
		Timeout: DefaultExecTimeout,
	}

	var output *ktesting.TestOutput
	if scenarioName != "" {
		result, err := runner.RunScenario(ctx, path, scenarioName)
		if err != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", err)), nil
		}
		output = &ktesting.TestOutput{
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
	} else {
		var err error
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
		if output.Sequence == "" {
			output.Sequence = filepath.Base(path)
		}
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: output.Failed(),
	}, nil
}

// HandleDiagram implements the stepseq/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	format := diagram.Format(req.GetString("format", string(diagram.FormatMermaid)))

	seq, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		errs, _ = kvalidate.Split(errs)
		return errorResult(formatErrors(errs)), nil
	}
	out, err := diagram.Generate(seq, format)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
