package copilot

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/dmora/copilot/internal/errfmt"
)

// SessionEvent is an asynchronous notification from the agent describing
// session progress. Data holds the kind-specific payload; decode it with
// DecodeData or ParsedData.
type SessionEvent struct {
	// ID uniquely identifies the event.
	ID uuid.UUID `json:"id"`

	// ParentID links the event to the one that caused it, if any.
	ParentID *uuid.UUID `json:"parentId,omitzero"`

	// Timestamp is when the agent produced the event.
	Timestamp time.Time `json:"timestamp"`

	// Ephemeral events (streaming deltas, progress) are not persisted in
	// the session history.
	Ephemeral bool `json:"ephemeral,omitzero"`

	// Type identifies the event kind.
	Type SessionEventType `json:"type"`

	// Data is the raw kind-specific payload.
	Data jsontext.Value `json:"data,omitzero"`
}

// UnmarshalSessionEvent decodes one event object. The type field is
// required; unknown kinds are accepted.
func UnmarshalSessionEvent(data []byte) (SessionEvent, error) {
	var ev SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return SessionEvent{}, &ValidationError{Record: "session event", Reason: errfmt.Truncate(err.Error())}
	}
	if ev.Type == "" {
		return SessionEvent{}, &ValidationError{Record: "session event", Field: "type", Reason: "missing required field"}
	}
	return ev, nil
}

// DecodeData decodes the payload into v.
func (e *SessionEvent) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return &ValidationError{Record: string(e.Type) + " event", Field: "data", Reason: "missing required field"}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &ValidationError{Record: string(e.Type) + " event", Field: "data", Reason: errfmt.Truncate(err.Error())}
	}
	return nil
}

// ParsedData decodes the payload into the typed struct registered for the
// event kind and returns a pointer to it (for example *AssistantMessageData
// for assistant.message). Kinds without a registered type return the raw
// payload as jsontext.Value.
func (e *SessionEvent) ParsedData() (any, error) {
	newData, ok := eventData[e.Type]
	if !ok {
		return e.Data, nil
	}
	v := newData()
	if len(e.Data) == 0 {
		return v, nil
	}
	if err := e.DecodeData(v); err != nil {
		return nil, err
	}
	return v, nil
}

// eventData maps event kinds to their payload types.
// Adding a typed payload = one struct + one map entry.
var eventData = map[SessionEventType]func() any{
	SessionStart:            func() any { return new(SessionStartData) },
	SessionResume:           func() any { return new(SessionResumeData) },
	SessionError:            func() any { return new(SessionErrorData) },
	SessionInfo:             func() any { return new(SessionInfoData) },
	SessionModelChange:      func() any { return new(SessionModelChangeData) },
	SessionSnapshotRewind:   func() any { return new(SessionSnapshotRewindData) },
	SessionUsageInfo:        func() any { return new(SessionUsageInfoData) },
	UserMessage:             func() any { return new(UserMessageData) },
	AssistantTurnStart:      func() any { return new(AssistantTurnData) },
	AssistantTurnEnd:        func() any { return new(AssistantTurnData) },
	AssistantIntent:         func() any { return new(AssistantIntentData) },
	AssistantReasoning:      func() any { return new(AssistantReasoningData) },
	AssistantReasoningDelta: func() any { return new(AssistantReasoningDeltaData) },
	AssistantMessage:        func() any { return new(AssistantMessageData) },
	AssistantMessageDelta:   func() any { return new(AssistantMessageDeltaData) },
	AssistantUsage:          func() any { return new(AssistantUsageData) },
	Abort:                   func() any { return new(AbortData) },
	ToolExecutionStart:      func() any { return new(ToolExecutionStartData) },
	ToolExecutionProgress:   func() any { return new(ToolExecutionProgressData) },
	ToolExecutionComplete:   func() any { return new(ToolExecutionCompleteData) },
	SystemMessage:           func() any { return new(SystemMessageData) },
}

// SessionStartData is the payload of session.start.
type SessionStartData struct {
	SessionID      string    `json:"sessionId"`
	Version        int       `json:"version,omitzero"`
	Producer       string    `json:"producer,omitempty"`
	CopilotVersion string    `json:"copilotVersion,omitempty"`
	StartTime      time.Time `json:"startTime,omitzero"`
	SelectedModel  string    `json:"selectedModel,omitempty"`
}

// SessionResumeData is the payload of session.resume.
type SessionResumeData struct {
	ResumeTime time.Time `json:"resumeTime,omitzero"`
	EventCount int       `json:"eventCount,omitzero"`
}

// SessionErrorData is the payload of session.error.
type SessionErrorData struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
}

// SessionInfoData is the payload of session.info.
type SessionInfoData struct {
	InfoType string `json:"infoType"`
	Message  string `json:"message"`
}

// SessionModelChangeData is the payload of session.model_change.
type SessionModelChangeData struct {
	PreviousModel string `json:"previousModel,omitempty"`
	NewModel      string `json:"newModel"`
}

// SessionSnapshotRewindData is the payload of session.snapshot_rewind.
type SessionSnapshotRewindData struct {
	UpToEventID   string `json:"upToEventId"`
	EventsRemoved int    `json:"eventsRemoved"`
}

// SessionUsageInfoData is the payload of session.usage_info: context
// window fill level.
type SessionUsageInfoData struct {
	TokenLimit     int `json:"tokenLimit"`
	CurrentTokens  int `json:"currentTokens"`
	MessagesLength int `json:"messagesLength"`
}

// UserMessageData is the payload of user.message.
type UserMessageData struct {
	Content            string         `json:"content"`
	TransformedContent string         `json:"transformedContent,omitempty"`
	Attachments        AttachmentList `json:"attachments,omitzero"`
	Source             string         `json:"source,omitempty"`
}

// AssistantTurnData is the payload of assistant.turn_start and
// assistant.turn_end.
type AssistantTurnData struct {
	TurnID string `json:"turnId"`
}

// AssistantIntentData is the payload of assistant.intent.
type AssistantIntentData struct {
	Intent string `json:"intent"`
}

// AssistantReasoningData is the payload of assistant.reasoning.
type AssistantReasoningData struct {
	ReasoningID string `json:"reasoningId"`
	Content     string `json:"content"`
}

// AssistantReasoningDeltaData is the payload of assistant.reasoning_delta.
type AssistantReasoningDeltaData struct {
	ReasoningID  string `json:"reasoningId"`
	DeltaContent string `json:"deltaContent"`
}

// ToolRequest is a tool call requested by the assistant in a message.
type ToolRequest struct {
	ToolCallID string         `json:"toolCallId"`
	Name       string         `json:"name"`
	Arguments  jsontext.Value `json:"arguments,omitzero"`
}

// AssistantMessageData is the payload of assistant.message.
type AssistantMessageData struct {
	MessageID        string        `json:"messageId"`
	Content          string        `json:"content"`
	ToolRequests     []ToolRequest `json:"toolRequests,omitempty"`
	ParentToolCallID string        `json:"parentToolCallId,omitempty"`
}

// AssistantMessageDeltaData is the payload of assistant.message_delta.
type AssistantMessageDeltaData struct {
	MessageID        string `json:"messageId"`
	DeltaContent     string `json:"deltaContent"`
	ParentToolCallID string `json:"parentToolCallId,omitempty"`
}

// AssistantUsageData is the payload of assistant.usage: per-request token
// accounting.
type AssistantUsageData struct {
	Model            string  `json:"model,omitempty"`
	InputTokens      int     `json:"inputTokens,omitzero"`
	OutputTokens     int     `json:"outputTokens,omitzero"`
	CacheReadTokens  int     `json:"cacheReadTokens,omitzero"`
	CacheWriteTokens int     `json:"cacheWriteTokens,omitzero"`
	Cost             float64 `json:"cost,omitzero"`
	Duration         float64 `json:"duration,omitzero"`
}

// AbortData is the payload of abort.
type AbortData struct {
	Reason string `json:"reason"`
}

// ToolExecutionStartData is the payload of tool.execution_start.
type ToolExecutionStartData struct {
	ToolCallID       string         `json:"toolCallId"`
	ToolName         string         `json:"toolName"`
	Arguments        jsontext.Value `json:"arguments,omitzero"`
	ParentToolCallID string         `json:"parentToolCallId,omitempty"`
}

// ToolExecutionProgressData is the payload of tool.execution_progress.
type ToolExecutionProgressData struct {
	ToolCallID      string `json:"toolCallId"`
	ProgressMessage string `json:"progressMessage"`
}

// ToolExecutionCompleteData is the payload of tool.execution_complete.
type ToolExecutionCompleteData struct {
	ToolCallID string               `json:"toolCallId"`
	Success    bool                 `json:"success"`
	Result     *ToolExecutionResult `json:"result,omitzero"`
	Error      *ToolExecutionError  `json:"error,omitzero"`
}

// ToolExecutionResult is the successful output of a tool execution.
type ToolExecutionResult struct {
	Content string `json:"content"`
}

// ToolExecutionError describes a failed tool execution.
type ToolExecutionError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SystemMessageData is the payload of system.message.
type SystemMessageData struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// String renders a short description for logs.
func (e SessionEvent) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.ID)
}
