package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/fushugaku/openfork/internal/agent"
	"github.com/fushugaku/openfork/internal/eventbus"
	"github.com/fushugaku/openfork/internal/models"
	"github.com/fushugaku/openfork/internal/sessions"
	pkgmodels "github.com/fushugaku/openfork/pkg/models"
)

// stubTaskProvider answers every completion with a fixed reply and no tool calls.
type stubTaskProvider struct{ reply string }

func (p stubTaskProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: p.reply, Done: true}
	close(ch)
	return ch, nil
}
func (stubTaskProvider) Name() string           { return "stub" }
func (stubTaskProvider) Models() []agent.Model  { return nil }
func (stubTaskProvider) SupportsTools() bool    { return false }

// stubTaskStore is a no-op sessions.Store sufficient to drive Runtime.Process.
type stubTaskStore struct{}

func (stubTaskStore) Create(ctx context.Context, s *pkgmodels.Session) error { return nil }
func (stubTaskStore) Get(ctx context.Context, id string) (*pkgmodels.Session, error) {
	return nil, nil
}
func (stubTaskStore) Update(ctx context.Context, s *pkgmodels.Session) error { return nil }
func (stubTaskStore) Delete(ctx context.Context, id string) error           { return nil }
func (stubTaskStore) GetByKey(ctx context.Context, key string) (*pkgmodels.Session, error) {
	return nil, nil
}
func (stubTaskStore) GetOrCreate(ctx context.Context, key, agentID string, channel pkgmodels.ChannelType, channelID string) (*pkgmodels.Session, error) {
	return nil, nil
}
func (stubTaskStore) List(ctx context.Context, agentID string, opts sessions.ListOptions) ([]*pkgmodels.Session, error) {
	return nil, nil
}
func (stubTaskStore) AppendMessage(ctx context.Context, sessionID string, msg *pkgmodels.Message) error {
	return nil
}
func (stubTaskStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*pkgmodels.Message, error) {
	return nil, nil
}

// fakeAgentStore resolves subagent configs by slug from an in-memory map.
type fakeAgentStore struct{ bySlug map[string]*models.Agent }

func (s *fakeAgentStore) Create(ctx context.Context, a *models.Agent) error { return nil }
func (s *fakeAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	for _, a := range s.bySlug {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("not found: %s", id)
}
func (s *fakeAgentStore) GetBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	a, ok := s.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("no such agent: %s", slug)
	}
	return a, nil
}
func (s *fakeAgentStore) List(ctx context.Context, category models.AgentCategory, limit, offset int) ([]*models.Agent, int, error) {
	return nil, 0, nil
}
func (s *fakeAgentStore) Update(ctx context.Context, a *models.Agent) error { return nil }
func (s *fakeAgentStore) Delete(ctx context.Context, id string) error       { return nil }

// fakeSubSessionStore records SubSession writes in memory for assertions.
type fakeSubSessionStore struct {
	mu    sync.Mutex
	byID  map[string]*models.SubSession
}

func newFakeSubSessionStore() *fakeSubSessionStore {
	return &fakeSubSessionStore{byID: make(map[string]*models.SubSession)}
}
func (s *fakeSubSessionStore) Create(ctx context.Context, sub *models.SubSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.byID[sub.ID] = &cp
	return nil
}
func (s *fakeSubSessionStore) Get(ctx context.Context, id string) (*models.SubSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return sub, nil
}
func (s *fakeSubSessionStore) ListByParent(ctx context.Context, parentSessionID string, limit, offset int) ([]*models.SubSession, int, error) {
	return nil, 0, nil
}
func (s *fakeSubSessionStore) Update(ctx context.Context, sub *models.SubSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.byID[sub.ID] = &cp
	return nil
}

func (s *fakeSubSessionStore) status(id string) models.SubSessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].Status
}

func newTestTaskTool(owner *models.Agent, reply string, agents map[string]*models.Agent) (*TaskTool, *fakeSubSessionStore, *eventbus.Bus) {
	runtime := agent.NewRuntime(stubTaskProvider{reply: reply}, stubTaskStore{})
	subStore := newFakeSubSessionStore()
	bus := eventbus.New(nil)
	tool := NewTaskTool(owner, runtime, &fakeAgentStore{bySlug: agents}, subStore, bus, 2)
	return tool, subStore, bus
}

func researcherAgent() *models.Agent {
	return &models.Agent{ID: "a-researcher", Slug: "researcher", Name: "Researcher", Tools: models.ToolFilter{Mode: models.ToolFilterAll}}
}

func TestTaskTool_DeniesWhenOwnerCannotSpawn(t *testing.T) {
	owner := &models.Agent{ID: "a-main", Slug: "main", CanSpawnSubagents: false}
	tool, _, _ := newTestTaskTool(owner, "done", map[string]*models.Agent{"researcher": researcherAgent()})

	params, _ := json.Marshal(map[string]any{"agent_type": "researcher", "prompt": "dig in"})
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected a permission error result, got: %+v", res)
	}
}

func TestTaskTool_DeniesDisallowedSubagentType(t *testing.T) {
	owner := &models.Agent{ID: "a-main", Slug: "main", CanSpawnSubagents: true, AllowedSubagentTypes: []string{"writer"}}
	tool, _, _ := newTestTaskTool(owner, "done", map[string]*models.Agent{"researcher": researcherAgent()})

	params, _ := json.Marshal(map[string]any{"agent_type": "researcher", "prompt": "dig in"})
	res, _ := tool.Execute(context.Background(), params)
	if !res.IsError {
		t.Fatalf("expected researcher to be disallowed, got: %+v", res)
	}
}

func TestTaskTool_UnknownAgentType(t *testing.T) {
	owner := &models.Agent{ID: "a-main", Slug: "main", CanSpawnSubagents: true}
	tool, _, _ := newTestTaskTool(owner, "done", map[string]*models.Agent{})

	params, _ := json.Marshal(map[string]any{"agent_type": "ghost", "prompt": "dig in"})
	res, _ := tool.Execute(context.Background(), params)
	if !res.IsError {
		t.Fatalf("expected unknown-agent error, got: %+v", res)
	}
}

func TestTaskTool_RunsSubagentAndRecordsCompletion(t *testing.T) {
	owner := &models.Agent{ID: "a-main", Slug: "main", CanSpawnSubagents: true}
	tool, subStore, _ := newTestTaskTool(owner, "the answer", map[string]*models.Agent{"researcher": researcherAgent()})

	params, _ := json.Marshal(map[string]any{"agent_type": "researcher", "prompt": "dig in"})
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected success, got error result: %s", res.Content)
	}
	if res.Content == "" {
		t.Fatal("expected non-empty result content")
	}

	var subID string
	for id := range subStore.byID {
		subID = id
	}
	if subStore.status(subID) != models.SubSessionCompleted {
		t.Fatalf("expected sub-session to be Completed, got %s", subStore.status(subID))
	}
}

func TestTaskTool_RunInBackgroundReturnsImmediately(t *testing.T) {
	owner := &models.Agent{ID: "a-main", Slug: "main", CanSpawnSubagents: true}
	tool, _, _ := newTestTaskTool(owner, "done", map[string]*models.Agent{"researcher": researcherAgent()})

	params, _ := json.Marshal(map[string]any{"agent_type": "researcher", "prompt": "dig in", "run_in_background": true})
	res, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
}
