package models

import (
	"path/filepath"
	"strings"
)

// PermissionAction is the outcome of a matched permission rule.
type PermissionAction string

const (
	PermissionAllow PermissionAction = "allow"
	PermissionAsk   PermissionAction = "ask"
	PermissionDeny  PermissionAction = "deny"
)

// PermissionScope controls how long an Ask decision is cached.
type PermissionScope string

const (
	ScopeOnce    PermissionScope = "once"
	ScopeSession PermissionScope = "session"
	ScopeAlways  PermissionScope = "always"
)

// Rule is one entry of an ordered permission rule set. Pattern has the form
// "tool:arg-glob", e.g. "bash:rm *" or "read:*".
type Rule struct {
	Pattern string           `json:"pattern"`
	Action  PermissionAction `json:"action"`
}

// RuleSet is an ordered list of Rules; the first match wins.
type RuleSet struct {
	Rules []Rule `json:"rules"`
}

// splitPattern separates a "tool:arg-glob" pattern into its tool glob and its
// argument glob. A bare pattern with no colon is treated as a tool-only glob
// matching any arguments.
func splitPattern(pattern string) (toolGlob, argGlob string) {
	idx := strings.Index(pattern, ":")
	if idx < 0 {
		return pattern, "*"
	}
	return pattern[:idx], pattern[idx+1:]
}

// Matches reports whether a rule pattern matches a tool invocation. argText
// is a single-line rendering of the tool's input (e.g. the shell command for
// bash, or the path for read/edit) used against the arg-glob half of the
// pattern.
func (r Rule) Matches(toolName, argText string) bool {
	toolGlob, argGlob := splitPattern(r.Pattern)
	if toolGlob != "*" {
		if ok, _ := filepath.Match(toolGlob, toolName); !ok {
			return false
		}
	}
	if argGlob != "*" {
		ok, _ := filepath.Match(argGlob, argText)
		if !ok {
			return false
		}
	}
	return true
}

// Evaluate walks the rule set in order and returns the first matching
// action. The zero value (empty PermissionAction) is returned when nothing
// matches; callers should treat that as Deny-by-default.
func (rs RuleSet) Evaluate(toolName, argText string) (PermissionAction, bool) {
	for _, r := range rs.Rules {
		if r.Matches(toolName, argText) {
			return r.Action, true
		}
	}
	return "", false
}

// Intersect returns the rule set containing only rules present, in the same
// relative order, in both rs and other — used to compute a subagent's
// effective permissions as parent ∩ subagent-defaults (spec §4.3), so a
// subagent never gains a capability its parent lacks.
//
// Two rules are considered equal for intersection purposes when their
// Pattern and Action match exactly; a rule present in the parent with a
// stricter (more restrictive) action than the subagent default still wins
// by appearing first, since intersection preserves relative order from rs.
func (rs RuleSet) Intersect(other RuleSet) RuleSet {
	present := make(map[Rule]bool, len(other.Rules))
	for _, r := range other.Rules {
		present[r] = true
	}
	out := make([]Rule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if present[r] {
			out = append(out, r)
		}
	}
	return RuleSet{Rules: out}
}
