package copilot

import "time"

// SystemMessageMode controls how SystemMessageConfig.Content combines with
// the agent's built-in system prompt.
type SystemMessageMode string

// System message modes.
const (
	SystemMessageAppend  SystemMessageMode = "append"
	SystemMessageReplace SystemMessageMode = "replace"
)

// SystemMessageConfig customizes the session system prompt.
type SystemMessageConfig struct {
	Mode    SystemMessageMode `json:"mode,omitempty"`
	Content string            `json:"content,omitempty"`
}

// ProviderConfig points a session at a custom model provider
// (bring-your-own-key).
type ProviderConfig struct {
	Type        string `json:"type,omitempty"`
	WireAPI     string `json:"wireApi,omitempty"`
	BaseURL     string `json:"baseUrl"`
	APIKey      string `json:"apiKey,omitempty"`
	BearerToken string `json:"bearerToken,omitempty"`
}

// CustomAgentConfig defines a sub-agent the session may delegate to.
type CustomAgentConfig struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName,omitempty"`
	Description string         `json:"description,omitempty"`
	Tools       []string       `json:"tools,omitempty"`
	Prompt      string         `json:"prompt"`
	MCPServers  map[string]any `json:"mcpServers,omitempty"`
	Infer       *bool          `json:"infer,omitzero"`
}

// SessionConfig configures CreateSession. The zero value creates a session
// with the server's defaults.
type SessionConfig struct {
	// SessionID requests a specific ID so the session can be resumed later.
	// Empty lets the server choose.
	SessionID string

	// Model selects the model, e.g. "gpt-5" or "claude-sonnet-4".
	Model string

	Tools         []Tool
	SystemMessage *SystemMessageConfig

	// AvailableTools restricts the built-in tools to this list.
	AvailableTools []string

	// ExcludedTools disables these built-in tools.
	ExcludedTools []string

	// Streaming enables assistant.message_delta and
	// assistant.reasoning_delta events.
	Streaming bool

	Provider *ProviderConfig

	// OnPermissionRequest decides gated actions. When nil the server is not
	// asked to route permission requests to the client.
	OnPermissionRequest PermissionHandler

	// MCPServers is passed through to the server verbatim, keyed by
	// server name.
	MCPServers map[string]any

	CustomAgents []CustomAgentConfig

	// WorkingDirectory sets the directory the agent operates in.
	WorkingDirectory string
}

// ResumeSessionConfig configures ResumeSession.
type ResumeSessionConfig struct {
	Tools               []Tool
	Provider            *ProviderConfig
	Streaming           bool
	OnPermissionRequest PermissionHandler
	MCPServers          map[string]any
	CustomAgents        []CustomAgentConfig
}

// MessageMode controls how a message is delivered when the agent is busy.
type MessageMode string

// Message delivery modes.
const (
	// MessageEnqueue queues the message after the current turn.
	MessageEnqueue MessageMode = "enqueue"

	// MessageImmediate injects the message into the current turn.
	MessageImmediate MessageMode = "immediate"
)

// MessageOptions is one user message.
type MessageOptions struct {
	Prompt      string
	Attachments []Attachment
	Mode        MessageMode
}

// SessionMetadata describes a session known to the server.
type SessionMetadata struct {
	SessionID    string    `json:"sessionId"`
	StartTime    time.Time `json:"startTime,omitzero"`
	ModifiedTime time.Time `json:"modifiedTime,omitzero"`
	Summary      string    `json:"summary,omitempty"`
	IsRemote     bool      `json:"isRemote,omitzero"`
}
