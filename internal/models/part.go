package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartType discriminates the MessagePart sum type. Storage persists a Part
// as a discriminator column plus a JSON payload column; Type is that
// discriminator.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeTool       PartType = "tool"
	PartTypeFile       PartType = "file"
	PartTypePatch      PartType = "patch"
	PartTypeStep       PartType = "step"
	PartTypeAgent      PartType = "agent"
	PartTypeRetry      PartType = "retry"
	PartTypeSnapshot   PartType = "snapshot"
	PartTypeCompaction PartType = "compaction"
	PartTypeSubtask    PartType = "subtask"
)

// ToolStatus is the ToolPart state machine: Pending -> Running -> {Completed,
// Error}, never backwards.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

var toolTransitions = map[ToolStatus]map[ToolStatus]bool{
	ToolPending: {ToolRunning: true},
	ToolRunning: {ToolCompleted: true, ToolError: true},
}

// CanTransitionTool reports whether moving a ToolPart from `from` to `to` is
// a legal state transition.
func CanTransitionTool(from, to ToolStatus) bool {
	if from == to {
		return true
	}
	return toolTransitions[from][to]
}

// StepStatus is the state of a step boundary marker.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// Part is one element of a Message's ordered, polymorphic content list. The
// variant-specific fields live in Payload as JSON; GetTyped decodes them.
// This is the single site that knows the discriminator-to-payload mapping
// other than the storage adapter itself (spec §9 design note).
type Part struct {
	ID         string          `json:"id"`
	MessageID  string          `json:"message_id"`
	SessionID  string          `json:"session_id"`
	Type       PartType        `json:"type"`
	OrderIndex int             `json:"order_index"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// WrongTypeError is returned by GetTyped when the Part's discriminator does
// not match the requested variant.
type WrongTypeError struct {
	Want PartType
	Have PartType
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("part: expected type %q, got %q", e.Want, e.Have)
}

// TextPayload backs PartTypeText and PartTypeReasoning.
type TextPayload struct {
	Text string `json:"text"`
}

// ToolPayload backs PartTypeTool.
type ToolPayload struct {
	ToolCallID   string          `json:"tool_call_id"`
	ToolName     string          `json:"tool_name"`
	Title        string          `json:"title,omitempty"`
	Status       ToolStatus      `json:"status"`
	Input        json.RawMessage `json:"input"`
	Output       string          `json:"output,omitempty"`
	IsPruned     bool            `json:"is_pruned"`
	SpillPath    string          `json:"spill_path,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Attachments  []string        `json:"attachments,omitempty"`
}

// FilePayload backs PartTypeFile.
type FilePayload struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// PatchPayload backs PartTypePatch.
type PatchPayload struct {
	FilePath    string `json:"file_path"`
	OldContent  string `json:"old_content"`
	NewContent  string `json:"new_content"`
	UnifiedDiff string `json:"unified_diff"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
}

// StepPayload backs PartTypeStep.
type StepPayload struct {
	StepNumber int        `json:"step_number"`
	Status     StepStatus `json:"status"`
}

// AgentPayload backs PartTypeAgent.
type AgentPayload struct {
	TargetAgentSlug string `json:"target_agent_slug"`
}

// RetryPayload backs PartTypeRetry.
type RetryPayload struct {
	Attempt   int    `json:"attempt"`
	Reason    string `json:"reason"`
	PriorError string `json:"prior_error"`
}

// SnapshotPayload backs PartTypeSnapshot.
type SnapshotPayload struct {
	Label string `json:"label"`
	State string `json:"state"`
}

// CompactionPayload backs PartTypeCompaction.
type CompactionPayload struct {
	Summary               string    `json:"summary"`
	CompactedMessageCount int       `json:"compacted_message_count"`
	CompactedTokenCount   int       `json:"compacted_token_count"`
	CompactedAt           time.Time `json:"compacted_at"`
}

// SubSessionStatus mirrors models.SubSessionStatus for use inside a
// SubtaskPart without importing a cycle.
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskQueued    SubtaskStatus = "queued"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
	SubtaskCancelled SubtaskStatus = "cancelled"
)

// SubtaskPayload backs PartTypeSubtask.
type SubtaskPayload struct {
	SubSessionID string        `json:"sub_session_id"`
	AgentType    string        `json:"agent_type"`
	Prompt       string        `json:"prompt"`
	Status       SubtaskStatus `json:"status"`
	Result       string        `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func marshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// NewTextPart creates an unattached text Part payload for append-to-message
// helpers elsewhere in the package.
func NewTextPart(text string) *Part {
	return &Part{Type: PartTypeText, Payload: marshalPayload(TextPayload{Text: text})}
}

// NewReasoningPart creates an unattached reasoning Part.
func NewReasoningPart(text string) *Part {
	return &Part{Type: PartTypeReasoning, Payload: marshalPayload(TextPayload{Text: text})}
}

// NewPendingToolPart creates a ToolPart in its initial Pending state.
func NewPendingToolPart(toolCallID, toolName string, input json.RawMessage) *Part {
	return &Part{
		Type: PartTypeTool,
		Payload: marshalPayload(ToolPayload{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Status:     ToolPending,
			Input:      input,
		}),
	}
}

// GetText decodes a text/reasoning Part's payload.
func (p *Part) GetText() (TextPayload, error) {
	var out TextPayload
	if p.Type != PartTypeText && p.Type != PartTypeReasoning {
		return out, &WrongTypeError{Want: PartTypeText, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// GetTool decodes a tool Part's payload.
func (p *Part) GetTool() (ToolPayload, error) {
	var out ToolPayload
	if p.Type != PartTypeTool {
		return out, &WrongTypeError{Want: PartTypeTool, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// SetTool replaces a tool Part's payload after validating the state
// transition. It is the only way callers should mutate a ToolPart.
func (p *Part) SetTool(next ToolPayload) error {
	if p.Type != PartTypeTool {
		return &WrongTypeError{Want: PartTypeTool, Have: p.Type}
	}
	cur, err := p.GetTool()
	if err == nil && cur.Status != "" {
		if !CanTransitionTool(cur.Status, next.Status) {
			return fmt.Errorf("tool part: illegal transition %s -> %s", cur.Status, next.Status)
		}
	}
	p.Payload = marshalPayload(next)
	return nil
}

// GetPatch decodes a patch Part's payload.
func (p *Part) GetPatch() (PatchPayload, error) {
	var out PatchPayload
	if p.Type != PartTypePatch {
		return out, &WrongTypeError{Want: PartTypePatch, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// GetCompaction decodes a compaction Part's payload.
func (p *Part) GetCompaction() (CompactionPayload, error) {
	var out CompactionPayload
	if p.Type != PartTypeCompaction {
		return out, &WrongTypeError{Want: PartTypeCompaction, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// GetSubtask decodes a subtask Part's payload.
func (p *Part) GetSubtask() (SubtaskPayload, error) {
	var out SubtaskPayload
	if p.Type != PartTypeSubtask {
		return out, &WrongTypeError{Want: PartTypeSubtask, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// GetFile decodes a file Part's payload.
func (p *Part) GetFile() (FilePayload, error) {
	var out FilePayload
	if p.Type != PartTypeFile {
		return out, &WrongTypeError{Want: PartTypeFile, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}

// GetStep decodes a step Part's payload.
func (p *Part) GetStep() (StepPayload, error) {
	var out StepPayload
	if p.Type != PartTypeStep {
		return out, &WrongTypeError{Want: PartTypeStep, Have: p.Type}
	}
	err := json.Unmarshal(p.Payload, &out)
	return out, err
}
