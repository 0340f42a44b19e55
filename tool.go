package copilot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/dmora/copilot/internal/errfmt"
)

// Tool is a client-side function the agent may call during a turn.
type Tool struct {
	// Name identifies the tool to the model. Tools with an empty name are
	// not registered.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema of the tool's arguments.
	Parameters map[string]any

	// Handler executes the tool.
	Handler ToolHandler
}

// ToolHandler executes a tool call. Runs on its own goroutine; ctx is
// cancelled when the connection closes. A returned error (or a panic) is
// reported to the model as a generic failure; the details stay in
// ToolResult.Error and are never shown to the model.
type ToolHandler func(ctx context.Context, inv ToolInvocation) (ToolResult, error)

// ToolInvocation describes one tool call requested by the agent.
type ToolInvocation struct {
	SessionID  string
	ToolCallID string
	ToolName   string
	Arguments  jsontext.Value
}

// DecodeArguments decodes the call arguments into v.
func (inv ToolInvocation) DecodeArguments(v any) error {
	if len(inv.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(inv.Arguments, v); err != nil {
		return fmt.Errorf("copilot: tool %s arguments: %w", inv.ToolName, err)
	}
	return nil
}

// ToolResultType classifies a tool result.
type ToolResultType string

// Tool result types.
const (
	ToolSuccess  ToolResultType = "success"
	ToolFailure  ToolResultType = "failure"
	ToolRejected ToolResultType = "rejected"
	ToolDenied   ToolResultType = "denied"
)

// ToolResult is returned to the agent after a tool call.
type ToolResult struct {
	// TextResultForLLM is what the model sees.
	TextResultForLLM string `json:"textResultForLlm"`

	ResultType ToolResultType `json:"resultType"`

	// Error holds internal failure details. Not shown to the model.
	Error string `json:"error,omitempty"`

	SessionLog    string         `json:"sessionLog,omitempty"`
	ToolTelemetry map[string]any `json:"toolTelemetry"`
}

// TextResult is a convenience constructor for a successful text result.
func TextResult(text string) ToolResult {
	return ToolResult{TextResultForLLM: text, ResultType: ToolSuccess}
}

func failedToolResult(internal string) ToolResult {
	return ToolResult{
		TextResultForLLM: "Invoking this tool produced an error. Detailed information is not available.",
		ResultType:       ToolFailure,
		Error:            errfmt.Truncate(internal),
	}
}

func unsupportedToolResult(name string) ToolResult {
	return ToolResult{
		TextResultForLLM: fmt.Sprintf("Tool '%s' is not supported by this client instance.", name),
		ResultType:       ToolFailure,
		Error:            fmt.Sprintf("tool '%s' not supported", name),
	}
}

// toolDefinition is the wire form of a Tool sent with session.create and
// session.resume.
type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func toolDefinitions(tools []Tool) []toolDefinition {
	var defs []toolDefinition
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		defs = append(defs, toolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return defs
}

// runTool calls h with panic recovery.
func runTool(ctx context.Context, log *slog.Logger, h ToolHandler, inv ToolInvocation) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool handler panic", "tool", inv.ToolName, "toolCallId", inv.ToolCallID, "panic", r)
			result = failedToolResult(fmt.Sprintf("tool panic: %v", r))
		}
	}()
	result, err := h(ctx, inv)
	if err != nil {
		return failedToolResult(err.Error())
	}
	if result.ResultType == "" {
		result.ResultType = ToolSuccess
	}
	return result
}

// PermissionKind is the outcome of a permission request.
type PermissionKind string

// Permission outcomes understood by the CLI server.
const (
	PermissionApproved             PermissionKind = "approved"
	PermissionDeniedByRules        PermissionKind = "denied-by-rules"
	PermissionDeniedInteractive    PermissionKind = "denied-interactively-by-user"
	PermissionDeniedNoApprovalRule PermissionKind = "denied-no-approval-rule-and-could-not-request-from-user"
)

// PermissionRequest is the agent asking to perform a gated action (shell
// command, file write, URL fetch, MCP call).
type PermissionRequest struct {
	// SessionID is filled in by the client.
	SessionID string `json:"-"`

	// Kind is the action category, e.g. "shell", "write", "read", "url", "mcp".
	Kind string `json:"kind"`

	ToolCallID string `json:"toolCallId,omitempty"`

	// Raw holds the complete request object, including kind-specific fields.
	Raw jsontext.Value `json:"-"`
}

// PermissionDecision answers a PermissionRequest.
type PermissionDecision struct {
	Kind  PermissionKind `json:"kind"`
	Rules []any          `json:"rules,omitempty"`
}

// PermissionHandler decides a permission request. Runs on its own
// goroutine. A nil handler, an error or a panic denies the request.
type PermissionHandler func(ctx context.Context, req PermissionRequest) (PermissionDecision, error)

// ApproveAll is a PermissionHandler that approves every request.
func ApproveAll(context.Context, PermissionRequest) (PermissionDecision, error) {
	return PermissionDecision{Kind: PermissionApproved}, nil
}

func deniedPermission() PermissionDecision {
	return PermissionDecision{Kind: PermissionDeniedNoApprovalRule}
}

// safeCallPermissionHandler calls h with panic recovery.
func safeCallPermissionHandler(ctx context.Context, h PermissionHandler, req PermissionRequest) (d PermissionDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("permission handler panic: %v", r)
		}
	}()
	return h(ctx, req)
}
