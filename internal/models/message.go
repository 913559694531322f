package models

import "time"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// FinishReason mirrors the provider's stream completion reason.
type FinishReason string

const (
	FinishStop        FinishReason = "stop"
	FinishToolCalls    FinishReason = "tool_calls"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishContentFilter FinishReason = "content_filter"
	FinishError        FinishReason = "error"
	FinishCancelled    FinishReason = "cancelled"
)

// TokenUsage records the provider's reported token accounting for one
// Message. Billing/usage surfaces treat this as authoritative; the
// ContextManager's own estimate (chars/3.5) is only used for history
// accounting, never reconciled against this.
type TokenUsage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Reasoning  int `json:"reasoning"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

// Message is one turn in a Session's conversation. Content always lives in
// its Parts; the Message itself carries only turn-level metadata.
type Message struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"session_id"`
	ParentMessageID string        `json:"parent_message_id,omitempty"`
	Role            Role          `json:"role"`
	AgentID         string        `json:"agent_id,omitempty"`
	ModelID         string        `json:"model_id,omitempty"`
	ProviderID      string        `json:"provider_id,omitempty"`
	Usage           *TokenUsage   `json:"usage,omitempty"`
	FinishReason    FinishReason  `json:"finish_reason,omitempty"`
	IsCompacted     bool          `json:"is_compacted"`
	Parts           []*Part       `json:"parts"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate enforces the Message-level invariants from the data model: at
// least one Part, and contiguous zero-based order indexes.
func (m *Message) Validate() error {
	if len(m.Parts) == 0 {
		return errInvalidSession("message must own at least one part")
	}
	seen := make(map[int]bool, len(m.Parts))
	for _, p := range m.Parts {
		if seen[p.OrderIndex] {
			return errInvalidSession("duplicate order_index within message")
		}
		seen[p.OrderIndex] = true
	}
	for i := 0; i < len(m.Parts); i++ {
		if !seen[i] {
			return errInvalidSession("order_index values must form the exact range [0, N)")
		}
	}
	return nil
}

// NextOrderIndex returns the order_index a newly appended Part should use.
func (m *Message) NextOrderIndex() int {
	return len(m.Parts)
}

// ToolParts returns the message's Parts that are tool invocations.
func (m *Message) ToolParts() []*Part {
	var out []*Part
	for _, p := range m.Parts {
		if p.Type == PartTypeTool {
			out = append(out, p)
		}
	}
	return out
}
