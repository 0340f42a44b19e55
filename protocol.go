package copilot

import "github.com/go-json-experiment/json/jsontext"

// JSON-RPC 2.0 methods of the Copilot CLI server protocol.
const (
	MethodPing               = "ping"
	MethodStatusGet          = "status.get"
	MethodSessionCreate      = "session.create"
	MethodSessionResume      = "session.resume"
	MethodSessionSend        = "session.send"
	MethodSessionAbort       = "session.abort"
	MethodSessionGetMessages = "session.getMessages"
	MethodSessionDestroy     = "session.destroy"
	MethodSessionList        = "session.list"
	MethodSessionDelete      = "session.delete"
	MethodSessionGetLastID   = "session.getLastId"

	// Server to client.
	MethodSessionEvent      = "session.event"
	MethodToolCall          = "tool.call"
	MethodPermissionRequest = "permission.request"
)

// ProtocolVersion is the server protocol version this SDK speaks. Start
// fails when the server reports a different one.
const ProtocolVersion = 2

// --- Connection ---

type pingParams struct {
	Message string `json:"message,omitempty"`
}

// PingResponse is the server's answer to Ping.
type PingResponse struct {
	Message         string `json:"message"`
	Timestamp       int64  `json:"timestamp"`
	ProtocolVersion *int   `json:"protocolVersion,omitzero"`
}

// ServerStatus is the server's answer to Status.
type ServerStatus struct {
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// --- Server to client ---

// sessionEventParams is the session.event notification.
type sessionEventParams struct {
	SessionID string         `json:"sessionId"`
	Event     jsontext.Value `json:"event"`
}

// toolCallParams is the tool.call request.
type toolCallParams struct {
	SessionID  string         `json:"sessionId"`
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Arguments  jsontext.Value `json:"arguments,omitzero"`
}

type toolCallResult struct {
	Result ToolResult `json:"result"`
}

// permissionRequestParams is the permission.request request.
type permissionRequestParams struct {
	SessionID         string         `json:"sessionId"`
	PermissionRequest jsontext.Value `json:"permissionRequest"`
}

type permissionResult struct {
	Result PermissionDecision `json:"result"`
}

// --- Sessions ---

type createSessionParams struct {
	Model             string               `json:"model,omitempty"`
	SessionID         string               `json:"sessionId,omitempty"`
	Tools             []toolDefinition     `json:"tools,omitempty"`
	SystemMessage     *SystemMessageConfig `json:"systemMessage,omitzero"`
	AvailableTools    []string             `json:"availableTools,omitempty"`
	ExcludedTools     []string             `json:"excludedTools,omitempty"`
	Streaming         bool                 `json:"streaming,omitzero"`
	Provider          *ProviderConfig      `json:"provider,omitzero"`
	RequestPermission bool                 `json:"requestPermission,omitzero"`
	MCPServers        map[string]any       `json:"mcpServers,omitempty"`
	CustomAgents      []CustomAgentConfig  `json:"customAgents,omitempty"`
	WorkingDirectory  string               `json:"workingDirectory,omitempty"`
}

func (cfg *SessionConfig) params() createSessionParams {
	return createSessionParams{
		Model:             cfg.Model,
		SessionID:         cfg.SessionID,
		Tools:             toolDefinitions(cfg.Tools),
		SystemMessage:     cfg.SystemMessage,
		AvailableTools:    cfg.AvailableTools,
		ExcludedTools:     cfg.ExcludedTools,
		Streaming:         cfg.Streaming,
		Provider:          cfg.Provider,
		RequestPermission: cfg.OnPermissionRequest != nil,
		MCPServers:        cfg.MCPServers,
		CustomAgents:      cfg.CustomAgents,
		WorkingDirectory:  cfg.WorkingDirectory,
	}
}

type resumeSessionParams struct {
	SessionID         string              `json:"sessionId"`
	Tools             []toolDefinition    `json:"tools,omitempty"`
	Provider          *ProviderConfig     `json:"provider,omitzero"`
	Streaming         bool                `json:"streaming,omitzero"`
	RequestPermission bool                `json:"requestPermission,omitzero"`
	MCPServers        map[string]any      `json:"mcpServers,omitempty"`
	CustomAgents      []CustomAgentConfig `json:"customAgents,omitempty"`
}

func (cfg *ResumeSessionConfig) params(id string) resumeSessionParams {
	return resumeSessionParams{
		SessionID:         id,
		Tools:             toolDefinitions(cfg.Tools),
		Provider:          cfg.Provider,
		Streaming:         cfg.Streaming,
		RequestPermission: cfg.OnPermissionRequest != nil,
		MCPServers:        cfg.MCPServers,
		CustomAgents:      cfg.CustomAgents,
	}
}

type sessionResult struct {
	SessionID string `json:"sessionId"`
}

type sendParams struct {
	SessionID   string       `json:"sessionId"`
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mode        MessageMode  `json:"mode,omitempty"`
}

type sendResult struct {
	MessageID string `json:"messageId"`
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

type getMessagesResult struct {
	Events []jsontext.Value `json:"events"`
}

type listSessionsResult struct {
	Sessions []SessionMetadata `json:"sessions"`
}

type deleteSessionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type lastSessionIDResult struct {
	SessionID string `json:"sessionId,omitempty"`
}
