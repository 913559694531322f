package models

import (
	"regexp"
	"time"
)

// AgentCategory classifies an Agent's place in the supervision hierarchy.
type AgentCategory string

const (
	AgentCategoryPrimary  AgentCategory = "primary"
	AgentCategorySubagent AgentCategory = "subagent"
	AgentCategoryHidden   AgentCategory = "hidden"
)

// ExecutionMode controls how the AgentLoop drives an Agent.
type ExecutionMode string

const (
	ExecutionModeAgentic   ExecutionMode = "agentic"
	ExecutionModeSingleShot ExecutionMode = "single_shot"
	ExecutionModeStreaming ExecutionMode = "streaming"
	ExecutionModePlanning  ExecutionMode = "planning"
)

// ToolFilterMode selects which subset of the registry an Agent may call.
type ToolFilterMode string

const (
	ToolFilterAll       ToolFilterMode = "all"
	ToolFilterNone      ToolFilterMode = "none"
	ToolFilterOnlyThese ToolFilterMode = "only_these"
	ToolFilterAllExcept ToolFilterMode = "all_except"
)

// ToolOverride caps per-tool behaviour without changing tool semantics.
type ToolOverride struct {
	MaxOutputLength int               `json:"max_output_length,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	DefaultArguments map[string]any   `json:"default_arguments,omitempty"`
}

// ToolFilter is the effective-tool-list computation for an Agent.
type ToolFilter struct {
	Mode      ToolFilterMode          `json:"mode"`
	Names     []string                `json:"names,omitempty"`
	Overrides map[string]ToolOverride `json:"overrides,omitempty"`
}

// Apply computes the effective tool name set given the registry's full set.
func (f ToolFilter) Apply(registered []string) []string {
	switch f.Mode {
	case ToolFilterNone:
		return nil
	case ToolFilterOnlyThese:
		return intersect(registered, f.Names)
	case ToolFilterAllExcept:
		return difference(registered, f.Names)
	case ToolFilterAll:
		fallthrough
	default:
		out := make([]string, len(registered))
		copy(out, registered)
		return out
	}
}

func intersect(all, names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range all {
		if want[n] {
			out = append(out, n)
		}
	}
	return out
}

func difference(all, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	out := make([]string, 0, len(all))
	for _, n := range all {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether s is a valid Agent slug.
func ValidSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}

// Agent is a configured persona that drives the AgentLoop.
type Agent struct {
	ID                   string         `json:"id"`
	Slug                 string         `json:"slug"`
	Name                 string         `json:"name"`
	Category             AgentCategory  `json:"category"`
	ProviderID           string         `json:"provider_id"`
	ModelID              string         `json:"model_id"`
	SystemPrompt         string         `json:"system_prompt"`
	PromptVariables      map[string]string `json:"prompt_variables,omitempty"`
	ExecutionMode        ExecutionMode  `json:"execution_mode"`
	MaxIterations        int            `json:"max_iterations"`
	Timeout              *time.Duration `json:"timeout,omitempty"`
	CanSpawnSubagents    bool           `json:"can_spawn_subagents"`
	AllowedSubagentTypes []string       `json:"allowed_subagent_types,omitempty"`
	Tools                ToolFilter     `json:"tools"`
	Permissions          RuleSet        `json:"permissions"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// AllowsSubagentType reports whether slug may be spawned by this agent. An
// empty AllowedSubagentTypes list means "any".
func (a *Agent) AllowsSubagentType(slug string) bool {
	if !a.CanSpawnSubagents {
		return false
	}
	if len(a.AllowedSubagentTypes) == 0 {
		return true
	}
	for _, s := range a.AllowedSubagentTypes {
		if s == slug {
			return true
		}
	}
	return false
}
