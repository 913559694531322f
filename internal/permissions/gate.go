// Package permissions implements the PermissionGate of spec §4.3: an ordered
// {pattern, action} rule list, first-match-wins, deciding Allow/Ask/Deny for
// every tool invocation before the AgentLoop executes it.
package permissions

import (
	"context"
	"fmt"
	"sync"

	"github.com/fushugaku/openfork/internal/models"
)

// Decision is the gate's verdict for one tool invocation.
type Decision struct {
	Action PermissionAction
	Reason string
}

// PermissionAction mirrors models.PermissionAction so callers outside
// internal/models don't need that import just to branch on a Decision.
type PermissionAction = models.PermissionAction

const (
	Allow = models.PermissionAllow
	Ask   = models.PermissionAsk
	Deny  = models.PermissionDeny
)

// AskResolver records and recalls a user's answer to an Ask decision, scoped
// per spec's PermissionScope (once/session/always). Grounded on the
// teacher's ApprovalChecker's ApprovalStore/pending-request split
// (internal/agent/approval.go), narrowed to the single allow/deny bit a
// resolved Ask needs.
type AskResolver interface {
	// Recall returns a previously-recorded answer for (sessionID, pattern),
	// if one is cached at a scope that still applies.
	Recall(sessionID, pattern string) (allowed bool, cached bool)
	// Record caches the user's answer at the given scope.
	Record(sessionID, pattern string, scope models.PermissionScope, allowed bool)
}

// MemoryAskResolver is an in-process AskResolver, grounded on the teacher's
// MemoryApprovalStore (internal/agent/approval.go).
type MemoryAskResolver struct {
	mu      sync.RWMutex
	always  map[string]bool            // pattern -> allowed, global
	session map[string]map[string]bool // sessionID -> pattern -> allowed
}

// NewMemoryAskResolver constructs an empty in-memory AskResolver.
func NewMemoryAskResolver() *MemoryAskResolver {
	return &MemoryAskResolver{
		always:  make(map[string]bool),
		session: make(map[string]map[string]bool),
	}
}

func (r *MemoryAskResolver) Recall(sessionID, pattern string) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if allowed, ok := r.always[pattern]; ok {
		return allowed, true
	}
	if sess, ok := r.session[sessionID]; ok {
		if allowed, ok := sess[pattern]; ok {
			return allowed, true
		}
	}
	return false, false
}

func (r *MemoryAskResolver) Record(sessionID, pattern string, scope models.PermissionScope, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch scope {
	case models.ScopeAlways:
		r.always[pattern] = allowed
	case models.ScopeSession:
		if r.session[sessionID] == nil {
			r.session[sessionID] = make(map[string]bool)
		}
		r.session[sessionID][pattern] = allowed
	case models.ScopeOnce:
		// Nothing to cache: a "once" answer applies only to the call that
		// prompted it, which the caller already has the answer for.
	}
}

// Gate evaluates an ordered RuleSet against tool invocations, with Ask
// decisions resolved (and optionally cached) through an AskResolver.
type Gate struct {
	rules    models.RuleSet
	resolver AskResolver
}

// NewGate constructs a Gate over the given ordered rule set. resolver may be
// nil, in which case every Ask decision is surfaced fresh (no caching).
func NewGate(rules models.RuleSet, resolver AskResolver) *Gate {
	return &Gate{rules: rules, resolver: resolver}
}

// Rules returns the gate's effective rule set.
func (g *Gate) Rules() models.RuleSet { return g.rules }

// Evaluate decides Allow/Ask/Deny for a tool invocation, first-match-wins
// over the ordered rule set. An unmatched invocation defaults to Ask,
// mirroring the teacher's conservative undeclared-tool handling
// (internal/agent/approval.go's fall-through to requiring approval).
func (g *Gate) Evaluate(ctx context.Context, sessionID, toolName, argText string) Decision {
	action, matched := g.rules.Evaluate(toolName, argText)
	if !matched {
		return Decision{Action: Ask, Reason: "no matching rule; default to ask"}
	}
	if action != models.PermissionAsk || g.resolver == nil {
		return Decision{Action: action, Reason: fmt.Sprintf("matched rule for %s", toolName)}
	}

	pattern := matchedPattern(g.rules, toolName, argText)
	if allowed, cached := g.resolver.Recall(sessionID, pattern); cached {
		if allowed {
			return Decision{Action: Allow, Reason: "cached ask decision"}
		}
		return Decision{Action: Deny, Reason: "cached ask decision"}
	}
	return Decision{Action: Ask, Reason: fmt.Sprintf("matched ask rule for %s", toolName)}
}

// Resolve is called once the UI has answered a pending Ask: it caches the
// answer at scope (if a resolver is configured) for future Evaluate calls.
func (g *Gate) Resolve(sessionID, toolName, argText string, scope models.PermissionScope, allowed bool) {
	if g.resolver == nil {
		return
	}
	pattern := matchedPattern(g.rules, toolName, argText)
	g.resolver.Record(sessionID, pattern, scope, allowed)
}

func matchedPattern(rs models.RuleSet, toolName, argText string) string {
	for _, r := range rs.Rules {
		if r.Matches(toolName, argText) {
			return r.Pattern
		}
	}
	return toolName
}

// SubagentGate computes a spawned subagent's effective Gate as
// parent ∩ subagent-defaults (spec §4.3): a subagent never gains a
// capability its parent lacks, even if the subagent type's own defaults
// would allow it.
func SubagentGate(parent models.RuleSet, subagentDefaults models.RuleSet, resolver AskResolver) *Gate {
	return NewGate(parent.Intersect(subagentDefaults), resolver)
}
