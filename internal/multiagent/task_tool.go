package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fushugaku/openfork/internal/agent"
	"github.com/fushugaku/openfork/internal/eventbus"
	"github.com/fushugaku/openfork/internal/models"
	"github.com/fushugaku/openfork/internal/storage"
	"github.com/fushugaku/openfork/internal/tools/policy"
	pkgmodels "github.com/fushugaku/openfork/pkg/models"
)

// TaskTool is the single tool through which any Agent spawns a subagent
// (replaces the teacher's separate spawn/status/cancel tools with the
// unified task call). One TaskTool is constructed per owning Agent, mirroring
// the Runtime's existing one-config-per-instance shape (LoopConfig.ToolFilter
// is likewise singular per Runtime).
type TaskTool struct {
	owner       *models.Agent
	runtime     *agent.Runtime
	agents      storage.AgentStore
	subSessions storage.SubSessionStore
	bus         *eventbus.Bus
	maxActive   int

	mu          sync.Mutex
	activeCount int
	cancels     map[string]context.CancelFunc
}

// NewTaskTool builds the task tool for a given owning Agent. owner's
// CanSpawnSubagents/AllowedSubagentTypes/Permissions gate every call.
func NewTaskTool(owner *models.Agent, runtime *agent.Runtime, agents storage.AgentStore, subSessions storage.SubSessionStore, bus *eventbus.Bus, maxActive int) *TaskTool {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &TaskTool{
		owner:       owner,
		runtime:     runtime,
		agents:      agents,
		subSessions: subSessions,
		bus:         bus,
		maxActive:   maxActive,
		cancels:     make(map[string]context.CancelFunc),
	}
}

func (t *TaskTool) Name() string { return "task" }

func (t *TaskTool) Description() string {
	return "Delegate a prompt to a named subagent and return its final answer. " +
		"Set run_in_background to true to get the sub-session id immediately instead of waiting."
}

func (t *TaskTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_type": {
				"type": "string",
				"description": "Slug of the subagent to run (see allowed_subagent_types)."
			},
			"prompt": {
				"type": "string",
				"description": "The task to hand to the subagent."
			},
			"run_in_background": {
				"type": "boolean",
				"description": "If true, return the sub-session id immediately and run the subagent asynchronously."
			}
		},
		"required": ["agent_type", "prompt"]
	}`)
}

type taskInput struct {
	AgentType       string `json:"agent_type"`
	Prompt          string `json:"prompt"`
	RunInBackground bool   `json:"run_in_background"`
}

// Execute implements the spec's subagent-spawn algorithm: gate check,
// effective-permission computation, SubSession bookkeeping through every
// lifecycle transition, a nested Runtime.Process loop, and progress
// forwarding over the event bus.
func (t *TaskTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in taskInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid task input: %v", err), IsError: true}, nil
	}
	if in.AgentType == "" || in.Prompt == "" {
		return &agent.ToolResult{Content: "agent_type and prompt are required", IsError: true}, nil
	}

	// Step 1: gate check.
	if !t.owner.AllowsSubagentType(in.AgentType) {
		return &agent.ToolResult{
			Content: fmt.Sprintf("agent %q is not permitted to spawn subagent type %q", t.owner.Slug, in.AgentType),
			IsError: true,
		}, nil
	}

	subAgentCfg, err := t.agents.GetBySlug(ctx, in.AgentType)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("unknown subagent type %q: %v", in.AgentType, err), IsError: true}, nil
	}

	t.mu.Lock()
	if t.activeCount >= t.maxActive {
		t.mu.Unlock()
		return &agent.ToolResult{Content: fmt.Sprintf("max concurrent subagents reached (%d)", t.maxActive), IsError: true}, nil
	}
	t.activeCount++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.activeCount--
		t.mu.Unlock()
	}()

	parentSessionID := ""
	if s, ok := parentSessionFromContext(ctx); ok {
		parentSessionID = s.ID
	}

	// Step 2: effective permissions are the intersection of the caller's and
	// the subagent's own defaults.
	effective := t.owner.Permissions.Intersect(subAgentCfg.Permissions)

	now := time.Now()
	sub := &models.SubSession{
		ID:                   uuid.NewString(),
		ParentSessionID:      parentSessionID,
		ChildSessionID:       uuid.NewString(),
		AgentType:            in.AgentType,
		Status:               models.SubSessionPending,
		Prompt:               in.Prompt,
		EffectivePermissions: effective,
		RunInBackground:      in.RunInBackground,
		CreatedAt:            now,
	}

	// Step 3: persist Pending, publish sub_session.created.
	if err := t.subSessions.Create(ctx, sub); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to create sub-session: %v", err), IsError: true}, nil
	}
	t.publish(models.EventSubSessionCreated, sub.ID, parentSessionID, models.SubSessionEventPayload{
		SubSessionID: sub.ID,
		Status:       sub.Status,
	})

	runOne := func(ctx context.Context) (string, error) {
		return t.run(ctx, sub, subAgentCfg)
	}

	if !in.RunInBackground {
		result, err := runOne(ctx)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("subagent %q failed: %v", in.AgentType, err), IsError: true}, nil
		}
		return &agent.ToolResult{
			Content: fmt.Sprintf("## Subagent Result (%s)\n\n%s", in.AgentType, result),
		}, nil
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancels[sub.ID] = cancel
	t.mu.Unlock()
	go func() {
		defer func() {
			t.mu.Lock()
			delete(t.cancels, sub.ID)
			t.mu.Unlock()
		}()
		_, _ = runOne(bgCtx)
	}()

	return &agent.ToolResult{
		Content: fmt.Sprintf("Subagent %q started in background as sub-session %s", in.AgentType, sub.ID),
	}, nil
}

// Cancel requests cancellation of a running background sub-session.
func (t *TaskTool) Cancel(subSessionID string) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[subSessionID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// run drives the nested AgentLoop for one SubSession through Running to a
// terminal state, forwarding progress over the event bus as it goes.
func (t *TaskTool) run(ctx context.Context, sub *models.SubSession, subAgentCfg *models.Agent) (string, error) {
	sub.Status = models.SubSessionRunning
	_ = t.subSessions.Update(ctx, sub)
	t.publish(models.EventSubSessionStatusChanged, sub.ID, sub.ParentSessionID, models.SubSessionEventPayload{
		SubSessionID: sub.ID,
		Status:       sub.Status,
	})

	childSession := &pkgmodels.Session{
		ID:        sub.ChildSessionID,
		AgentID:   subAgentCfg.ID,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.CreatedAt,
	}
	msg := &pkgmodels.Message{
		ID:        uuid.NewString(),
		SessionID: sub.ChildSessionID,
		Role:      pkgmodels.RoleUser,
		Content:   sub.Prompt,
		CreatedAt: time.Now(),
	}

	nestedCtx := agent.WithSystemPrompt(ctx, subAgentCfg.SystemPrompt)
	if subAgentCfg.ModelID != "" {
		nestedCtx = agent.WithModel(nestedCtx, subAgentCfg.ModelID)
	}
	nestedCtx = agent.WithToolPolicy(nestedCtx, policy.NewResolver(), toolPolicyFor(subAgentCfg))

	chunks, err := t.runtime.Process(nestedCtx, childSession, msg)
	if err != nil {
		t.fail(ctx, sub, err)
		return "", err
	}

	var result strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			t.fail(ctx, sub, chunk.Error)
			return "", chunk.Error
		}
		if chunk.Text != "" {
			result.WriteString(chunk.Text)
			t.publish(models.EventSubSessionProgress, sub.ID, sub.ParentSessionID, models.SubSessionEventPayload{
				SubSessionID: sub.ID,
				PartType:     models.PartTypeText,
				Content:      chunk.Text,
			})
		}
	}

	// Step 8: terminal success.
	completed := time.Now()
	sub.Status = models.SubSessionCompleted
	sub.Result = result.String()
	sub.CompletedAt = &completed
	_ = t.subSessions.Update(ctx, sub)
	t.publish(models.EventSubSessionCompleted, sub.ID, sub.ParentSessionID, models.SubSessionEventPayload{
		SubSessionID: sub.ID,
		Status:       sub.Status,
	})
	return sub.Result, nil
}

// fail marks sub Failed (or Cancelled, if the context was the cause) and
// publishes the matching terminal event (step 9).
func (t *TaskTool) fail(ctx context.Context, sub *models.SubSession, cause error) {
	completed := time.Now()
	sub.CompletedAt = &completed
	sub.Error = cause.Error()
	if ctx.Err() == context.Canceled {
		sub.Status = models.SubSessionCancelled
	} else {
		sub.Status = models.SubSessionFailed
	}
	_ = t.subSessions.Update(context.Background(), sub)

	evt := models.EventSubSessionFailed
	if sub.Status == models.SubSessionCancelled {
		evt = models.EventSubSessionCancelled
	}
	t.publish(evt, sub.ID, sub.ParentSessionID, models.SubSessionEventPayload{
		SubSessionID: sub.ID,
		Status:       sub.Status,
		Content:      sub.Error,
	})
}

func (t *TaskTool) publish(eventType models.EventType, subSessionID, parentSessionID string, payload models.SubSessionEventPayload) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    "task_tool",
		SessionID: parentSessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// toolPolicyFor derives a teacher-style allow/deny Policy from the subagent's
// effective ToolFilter, since Runtime.Process enforces access through the
// policy resolver rather than the ordered rule-set gate.
func toolPolicyFor(a *models.Agent) *policy.Policy {
	switch a.Tools.Mode {
	case models.ToolFilterNone:
		return &policy.Policy{Profile: policy.ProfileMinimal, Deny: []string{"*"}}
	case models.ToolFilterOnlyThese:
		return &policy.Policy{Allow: a.Tools.Names}
	case models.ToolFilterAllExcept:
		return &policy.Policy{Deny: a.Tools.Names}
	default:
		return &policy.Policy{Profile: policy.ProfileFull}
	}
}

// parentSessionFromContext extracts the caller's internal-model Session id,
// if the caller tagged the context with one. The calling AgentLoop runs on
// pkg/models.Session; internal/models.Session only exists at the
// Project/SubSession bookkeeping layer, so TaskTool callers that care about
// SubSession.ParentSessionID must stash it explicitly.
func parentSessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(parentSessionCtxKey{}).(*models.Session)
	return s, ok
}

type parentSessionCtxKey struct{}

// WithParentSession tags ctx with the internal Session record a task call is
// being made from, so the resulting SubSession can record ParentSessionID.
func WithParentSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, parentSessionCtxKey{}, s)
}
