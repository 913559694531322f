package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fushugaku/openfork/internal/models"
)

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// MemoryProjectStore is an in-memory ProjectStore.
type MemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
}

func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{projects: make(map[string]*models.Project)}
}

func (s *MemoryProjectStore) Create(ctx context.Context, p *models.Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("project is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return ErrAlreadyExists
	}
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryProjectStore) List(ctx context.Context, limit, offset int) ([]*models.Project, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, limit, offset), len(all), nil
}

func (s *MemoryProjectStore) Update(ctx context.Context, p *models.Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("project is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; !exists {
		return ErrNotFound
	}
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryProjectStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[id]; !exists {
		return ErrNotFound
	}
	delete(s.projects, id)
	return nil
}

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session is required")
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Session, 0)
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID {
			matched = append(matched, sess)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, limit, offset), len(matched), nil
}

func (s *MemorySessionStore) Update(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session is required")
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		return ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; !exists {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// MemoryMessageStore is an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*models.Message)}
}

func (s *MemoryMessageStore) Create(ctx context.Context, m *models.Message) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[m.ID]; exists {
		return ErrAlreadyExists
	}
	s.messages[m.ID] = m
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *MemoryMessageStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Message, 0)
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return paginate(matched, limit, offset), len(matched), nil
}

func (s *MemoryMessageStore) Update(ctx context.Context, m *models.Message) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[m.ID]; !exists {
		return ErrNotFound
	}
	s.messages[m.ID] = m
	return nil
}

func (s *MemoryMessageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[id]; !exists {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

// MemoryPartStore is an in-memory PartStore.
type MemoryPartStore struct {
	mu    sync.RWMutex
	parts map[string]*models.Part
}

func NewMemoryPartStore() *MemoryPartStore {
	return &MemoryPartStore{parts: make(map[string]*models.Part)}
}

func (s *MemoryPartStore) Create(ctx context.Context, p *models.Part) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("part is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.parts[p.ID]; exists {
		return ErrAlreadyExists
	}
	s.parts[p.ID] = p
	return nil
}

func (s *MemoryPartStore) Update(ctx context.Context, p *models.Part) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("part is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.parts[p.ID]; !exists {
		return ErrNotFound
	}
	s.parts[p.ID] = p
	return nil
}

func (s *MemoryPartStore) Get(ctx context.Context, id string) (*models.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryPartStore) GetByMessage(ctx context.Context, messageID string) ([]*models.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Part, 0)
	for _, p := range s.parts {
		if p.MessageID == messageID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].OrderIndex < matched[j].OrderIndex })
	return matched, nil
}

func (s *MemoryPartStore) GetToolPartsByStatus(ctx context.Context, sessionID string, status models.ToolStatus) ([]*models.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Part, 0)
	for _, p := range s.parts {
		if p.SessionID != sessionID || p.Type != models.PartTypeTool {
			continue
		}
		tool, err := p.GetTool()
		if err != nil || tool.Status != status {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return matched, nil
}

func (s *MemoryPartStore) GetMostRecentCompaction(ctx context.Context, sessionID string) (*models.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Part
	for _, p := range s.parts {
		if p.SessionID != sessionID || p.Type != models.PartTypeCompaction {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryPartStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.parts[id]; !exists {
		return ErrNotFound
	}
	delete(s.parts, id)
	return nil
}

// MemoryAgentStore is an in-memory AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.Agent)}
}

func (s *MemoryAgentStore) Create(ctx context.Context, a *models.Agent) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.Slug == a.Slug {
			return ErrAlreadyExists
		}
	}
	if _, exists := s.agents[a.ID]; exists {
		return ErrAlreadyExists
	}
	s.agents[a.ID] = a
	return nil
}

func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *MemoryAgentStore) GetBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Slug == slug {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryAgentStore) List(ctx context.Context, category models.AgentCategory, limit, offset int) ([]*models.Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if category != "" && a.Category != category {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, limit, offset), len(matched), nil
}

func (s *MemoryAgentStore) Update(ctx context.Context, a *models.Agent) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[a.ID]; !exists {
		return ErrNotFound
	}
	s.agents[a.ID] = a
	return nil
}

func (s *MemoryAgentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; !exists {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

// MemorySubSessionStore is an in-memory SubSessionStore.
type MemorySubSessionStore struct {
	mu          sync.RWMutex
	subsessions map[string]*models.SubSession
}

func NewMemorySubSessionStore() *MemorySubSessionStore {
	return &MemorySubSessionStore{subsessions: make(map[string]*models.SubSession)}
}

func (s *MemorySubSessionStore) Create(ctx context.Context, sub *models.SubSession) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("sub-session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subsessions[sub.ID]; exists {
		return ErrAlreadyExists
	}
	s.subsessions[sub.ID] = sub
	return nil
}

func (s *MemorySubSessionStore) Get(ctx context.Context, id string) (*models.SubSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subsessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (s *MemorySubSessionStore) ListByParent(ctx context.Context, parentSessionID string, limit, offset int) ([]*models.SubSession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.SubSession, 0)
	for _, sub := range s.subsessions {
		if sub.ParentSessionID == parentSessionID {
			matched = append(matched, sub)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, limit, offset), len(matched), nil
}

func (s *MemorySubSessionStore) Update(ctx context.Context, sub *models.SubSession) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("sub-session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subsessions[sub.ID]; !exists {
		return ErrNotFound
	}
	s.subsessions[sub.ID] = sub
	return nil
}

// NewMemoryStores constructs a StoreSet backed entirely by memory, used in
// tests and for ephemeral single-shot runs.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Projects:    NewMemoryProjectStore(),
		Sessions:    NewMemorySessionStore(),
		Messages:    NewMemoryMessageStore(),
		Parts:       NewMemoryPartStore(),
		Agents:      NewMemoryAgentStore(),
		SubSessions: NewMemorySubSessionStore(),
	}
}
