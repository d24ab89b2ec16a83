package agent

import (
	"context"
	"fmt"
)

// ToolExecutor is the tool surface an iteration controller sees: execute
// one call, enumerate what's callable, release transports when done. The
// production implementation sits in pkg/mcp; StubToolExecutor covers tests
// and tool-less executions.
type ToolExecutor interface {
	// Execute runs a single tool call. The result content is always text —
	// tool output or a formatted error message.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// ListTools returns the tool definitions available to this execution;
	// nil when no tools are configured.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Close releases MCP transports and subprocesses.
	Close() error
}

// ToolResult is the output of one tool execution.
type ToolResult struct {
	CallID  string // matches ToolCall.ID
	Name    string // "server.tool" form
	Content string
	IsError bool
}

// StubToolExecutor answers every call with a canned echo of its arguments.
// Used by tests that exercise control flow rather than tools.
type StubToolExecutor struct {
	tools []ToolDefinition
}

// NewStubToolExecutor creates a stub exposing the given tool definitions.
func NewStubToolExecutor(tools []ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{tools: tools}
}

func (s *StubToolExecutor) Execute(_ context.Context, call ToolCall) (*ToolResult, error) {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] Tool %q called with args: %s", call.Name, call.Arguments),
	}, nil
}

func (s *StubToolExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *StubToolExecutor) Close() error { return nil }
