// Package storage persists the orchestration runtime's data model: projects,
// sessions, messages, parts, agents, and sub-sessions. It generalizes the
// teacher's Agent/ChannelConnection/User store contracts to this domain
// while keeping the same shape: one interface per aggregate, an in-memory
// implementation for tests and small deployments, and SQL-backed
// implementations for durable ones.
package storage

import (
	"context"
	"errors"

	"github.com/fushugaku/openfork/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ProjectStore persists Project records.
type ProjectStore interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context, limit, offset int) ([]*models.Project, int, error)
	Update(ctx context.Context, p *models.Project) error
	Delete(ctx context.Context, id string) error
}

// SessionStore persists Session records, including their active-agent /
// active-pipeline state (spec §3's XOR invariant is enforced by
// models.Session.Validate before a store call, not by the store itself).
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Session, int, error)
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
}

// MessageStore persists Messages. Parts are owned by PartStore and are not
// embedded on write; callers assemble Message.Parts by calling PartStore
// separately, matching the teacher's split between message and part tables.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error)
	Update(ctx context.Context, m *models.Message) error
	Delete(ctx context.Context, id string) error
}

// PartStore implements the operations spec §4.2 names explicitly: create,
// update, get_by_message, get_tool_parts_by_status, and
// get_most_recent_compaction.
type PartStore interface {
	Create(ctx context.Context, p *models.Part) error
	Update(ctx context.Context, p *models.Part) error
	Get(ctx context.Context, id string) (*models.Part, error)
	GetByMessage(ctx context.Context, messageID string) ([]*models.Part, error)
	GetToolPartsByStatus(ctx context.Context, sessionID string, status models.ToolStatus) ([]*models.Part, error)
	GetMostRecentCompaction(ctx context.Context, sessionID string) (*models.Part, error)
	Delete(ctx context.Context, id string) error
}

// AgentStore persists Agent definitions.
type AgentStore interface {
	Create(ctx context.Context, a *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	GetBySlug(ctx context.Context, slug string) (*models.Agent, error)
	List(ctx context.Context, category models.AgentCategory, limit, offset int) ([]*models.Agent, int, error)
	Update(ctx context.Context, a *models.Agent) error
	Delete(ctx context.Context, id string) error
}

// SubSessionStore persists the supervisor's child-session bookkeeping (spec
// §4.5).
type SubSessionStore interface {
	Create(ctx context.Context, s *models.SubSession) error
	Get(ctx context.Context, id string) (*models.SubSession, error)
	ListByParent(ctx context.Context, parentSessionID string, limit, offset int) ([]*models.SubSession, int, error)
	Update(ctx context.Context, s *models.SubSession) error
}

// StoreSet groups every storage dependency an orchestration runtime needs,
// mirroring the teacher's StoreSet grouping pattern.
type StoreSet struct {
	Projects    ProjectStore
	Sessions    SessionStore
	Messages    MessageStore
	Parts       PartStore
	Agents      AgentStore
	SubSessions SubSessionStore
	closer      func() error
}

// Close releases any underlying resources (DB connections, etc).
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
