// Package scheduler implements the Capability Scheduler: the gate
// between an LLM's tool_calls output and the set of abilities actually
// callable at runtime. It unifies three sources of tools — built-in,
// plugin (routed through internal/pluginsupervisor), and MCP — under
// one OpenAI-function-style schema list and one execute entrypoint,
// applying per-"star" enable/allow-tools policy.
//
// Grounded on the teacher's internal/agent/tool_registry.go (registry
// shape, wildcard pattern matching, result-size guarding) and
// internal/tools/policy (profile/allow/deny shape, reworked here into
// the specification's simpler per-source enable/allow-tools/per-
// ability toggle set, since the teacher's multi-profile builder is
// more machinery than the spec's "star" concept calls for).
package scheduler

import "encoding/json"

// Ability describes one callable function: a name, a human
// description, and a JSON-Schema parameter shape. The kernel treats
// "ability", "tool", and "skill" as the same value type, per the
// glossary.
type Ability struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolSchema renders an Ability as an OpenAI-function-style schema.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AbilityContext is threaded into every ability execution, scoped to
// the calling user/session and the permissions the dialogue
// orchestrator's caller attached to this tool call.
type AbilityContext struct {
	UserID      string
	SessionID   string
	Permissions []string
}

// AbilityResult is the tagged-union-style result of an ability call:
// exactly one of Data (on success) or Error (on failure) is
// meaningful, discriminated by Success.
type AbilityResult struct {
	Success     bool
	Data        any
	Error       string
	EmotionHint string
}

// sourceKind identifies which of the three tool sources an ability
// came from, used for name-collision precedence (built-in wins over
// plugin wins over MCP) and for policy lookups.
type sourceKind int

const (
	sourceBuiltin sourceKind = iota
	sourcePlugin
	sourceMCP
)

func (k sourceKind) String() string {
	switch k {
	case sourceBuiltin:
		return "builtin"
	case sourcePlugin:
		return "plugin"
	case sourceMCP:
		return "mcp"
	default:
		return "unknown"
	}
}
