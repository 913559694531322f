package models

import "time"

// Project is a directory on disk that scopes one or more Sessions.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline is a configured ordered sequence of Agents with a handoff mode.
// The core treats it as an alternative selection of "which Agent runs next"
// at the start of each user turn; handoff semantics beyond sequential
// selection belong to the UI collaborator.
type Pipeline struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	AgentSlugs []string `json:"agent_slugs"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a conversation thread scoped to one Project. It holds either an
// active agent or an active pipeline, never both.
type Session struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Title           string    `json:"title,omitempty"`
	ActiveAgentID   string    `json:"active_agent_id,omitempty"`
	ActivePipelineID string   `json:"active_pipeline_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasActiveAgent reports whether the session is bound to a single agent
// rather than a pipeline.
func (s *Session) HasActiveAgent() bool {
	return s.ActiveAgentID != "" && s.ActivePipelineID == ""
}

// Validate enforces the active_agent_id XOR active_pipeline_id invariant.
func (s *Session) Validate() error {
	if s.ActiveAgentID != "" && s.ActivePipelineID != "" {
		return errInvalidSession("session cannot have both an active agent and an active pipeline")
	}
	if s.ActiveAgentID == "" && s.ActivePipelineID == "" {
		return errInvalidSession("session must have an active agent or an active pipeline")
	}
	return nil
}

type sessionError string

func (e sessionError) Error() string { return string(e) }

func errInvalidSession(msg string) error { return sessionError(msg) }
