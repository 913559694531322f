package models

import "time"

// EventType is a member of the closed event taxonomy the core publishes
// (spec §4.1). Values are grouped by the component that emits them.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionUpdated   EventType = "session.updated"
	EventSessionActivated EventType = "session.activated"

	EventMessageCreated        EventType = "message.created"
	EventMessageStreamStarted  EventType = "message.stream_started"
	EventMessageStreamChunk    EventType = "message.stream_chunk"
	EventMessageStreamCompleted EventType = "message.stream_completed"
	EventMessageCompacted      EventType = "message.compacted"

	EventPartCreated EventType = "part.created"
	EventPartUpdated EventType = "part.updated"
	EventPartDeleted EventType = "part.deleted"

	EventToolExecutionStarted   EventType = "tool_execution.started"
	EventToolExecutionProgress  EventType = "tool_execution.progress"
	EventToolExecutionCompleted EventType = "tool_execution.completed"

	EventPermissionRequested EventType = "permission.requested"
	EventPermissionGranted   EventType = "permission.granted"
	EventPermissionDenied    EventType = "permission.denied"

	EventSubSessionCreated       EventType = "sub_session.created"
	EventSubSessionStatusChanged EventType = "sub_session.status_changed"
	EventSubSessionProgress      EventType = "sub_session.progress"
	EventSubSessionCompleted     EventType = "sub_session.completed"
	EventSubSessionFailed        EventType = "sub_session.failed"
	EventSubSessionCancelled     EventType = "sub_session.cancelled"

	EventAgentIterationStarted   EventType = "agent.iteration_started"
	EventAgentIterationCompleted EventType = "agent.iteration_completed"
	EventAgentMaxIterations      EventType = "agent.max_iterations"

	EventSystemError   EventType = "system.error"
	EventSystemWarning EventType = "system.warning"
	EventSystemMetric  EventType = "system.metric"
)

// Event is the envelope every component publishes to the EventBus. Payload
// carries the type-specific fields as a JSON-serializable value; handlers
// that care about a particular EventType type-assert it back.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ToolExecutionPayload is the Payload for tool-execution.* events.
type ToolExecutionPayload struct {
	ToolCallID string     `json:"tool_call_id"`
	ToolName   string     `json:"tool_name"`
	Status     ToolStatus `json:"status"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// PermissionEventPayload is the Payload for permission.* events.
type PermissionEventPayload struct {
	ToolName string           `json:"tool_name"`
	ArgText  string           `json:"arg_text"`
	Action   PermissionAction `json:"action"`
	Rule     string           `json:"rule,omitempty"`
}

// SubSessionEventPayload is the Payload for sub_session.* events.
type SubSessionEventPayload struct {
	SubSessionID string           `json:"sub_session_id"`
	Status       SubSessionStatus `json:"status,omitempty"`
	PartType     PartType         `json:"part_type,omitempty"`
	Content      string           `json:"content,omitempty"`
}

// AgentIterationPayload is the Payload for agent.iteration_* events.
type AgentIterationPayload struct {
	Iteration int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`
}

// SystemEventPayload is the Payload for system.* events.
type SystemEventPayload struct {
	Component string `json:"component"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
}
