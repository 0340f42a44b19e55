package copilot

// SessionEventType identifies the kind of an event emitted by the agent.
// Values are dot-separated lowercase identifiers.
type SessionEventType string

// Session lifecycle events.
const (
	SessionStart              SessionEventType = "session.start"
	SessionResume             SessionEventType = "session.resume"
	SessionError              SessionEventType = "session.error"
	SessionIdle               SessionEventType = "session.idle"
	SessionInfo               SessionEventType = "session.info"
	SessionModelChange        SessionEventType = "session.model_change"
	SessionHandoff            SessionEventType = "session.handoff"
	SessionTruncation         SessionEventType = "session.truncation"
	SessionSnapshotRewind     SessionEventType = "session.snapshot_rewind"
	SessionUsageInfo          SessionEventType = "session.usage_info"
	SessionCompactionStart    SessionEventType = "session.compaction_start"
	SessionCompactionComplete SessionEventType = "session.compaction_complete"
	SessionShutdown           SessionEventType = "session.shutdown"
)

// User input events.
const (
	UserMessage             SessionEventType = "user.message"
	PendingMessagesModified SessionEventType = "pending_messages.modified"
)

// Assistant output events. The *_delta kinds are ephemeral streaming chunks.
const (
	AssistantTurnStart      SessionEventType = "assistant.turn_start"
	AssistantIntent         SessionEventType = "assistant.intent"
	AssistantReasoning      SessionEventType = "assistant.reasoning"
	AssistantReasoningDelta SessionEventType = "assistant.reasoning_delta"
	AssistantMessage        SessionEventType = "assistant.message"
	AssistantMessageDelta   SessionEventType = "assistant.message_delta"
	AssistantTurnEnd        SessionEventType = "assistant.turn_end"
	AssistantUsage          SessionEventType = "assistant.usage"
)

// Abort is emitted when the current turn is cancelled.
const Abort SessionEventType = "abort"

// Tool execution events.
const (
	ToolUserRequested          SessionEventType = "tool.user_requested"
	ToolExecutionStart         SessionEventType = "tool.execution_start"
	ToolExecutionPartialResult SessionEventType = "tool.execution_partial_result"
	ToolExecutionProgress      SessionEventType = "tool.execution_progress"
	ToolExecutionComplete      SessionEventType = "tool.execution_complete"
)

// Sub-agent and hook events.
const (
	SubagentStarted   SessionEventType = "subagent.started"
	SubagentCompleted SessionEventType = "subagent.completed"
	SubagentFailed    SessionEventType = "subagent.failed"
	SubagentSelected  SessionEventType = "subagent.selected"
	HookStart         SessionEventType = "hook.start"
	HookEnd           SessionEventType = "hook.end"
)

// SystemMessage carries system-level notices from the agent.
const SystemMessage SessionEventType = "system.message"

var eventTypes = []SessionEventType{
	SessionStart,
	SessionResume,
	SessionError,
	SessionIdle,
	SessionInfo,
	SessionModelChange,
	SessionHandoff,
	SessionTruncation,
	SessionSnapshotRewind,
	SessionUsageInfo,
	SessionCompactionStart,
	SessionCompactionComplete,
	SessionShutdown,
	UserMessage,
	PendingMessagesModified,
	AssistantTurnStart,
	AssistantIntent,
	AssistantReasoning,
	AssistantReasoningDelta,
	AssistantMessage,
	AssistantMessageDelta,
	AssistantTurnEnd,
	AssistantUsage,
	Abort,
	ToolUserRequested,
	ToolExecutionStart,
	ToolExecutionPartialResult,
	ToolExecutionProgress,
	ToolExecutionComplete,
	SubagentStarted,
	SubagentCompleted,
	SubagentFailed,
	SubagentSelected,
	HookStart,
	HookEnd,
	SystemMessage,
}

var knownEventTypes = func() map[SessionEventType]struct{} {
	m := make(map[SessionEventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// EventTypes returns every event kind this SDK recognizes, in declaration
// order. The returned slice is a copy.
func EventTypes() []SessionEventType {
	return append([]SessionEventType(nil), eventTypes...)
}

// Known reports whether t is one of the event kinds this SDK recognizes.
// Events with unknown kinds are still delivered to handlers; newer CLI
// versions add kinds before SDKs learn about them.
func (t SessionEventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

func (t SessionEventType) String() string { return string(t) }
