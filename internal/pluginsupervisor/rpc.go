package pluginsupervisor

import (
	"context"
	"encoding/json"
	"time"
)

// RPCRequest is a JSON-RPC 2.0 request. ID is omitted for
// notifications, matching the wire contract exactly.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.Number     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCNotification is a JSON-RPC 2.0 notification (no id).
type RPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// InitializeParams is sent once per plugin load.
type InitializeParams struct {
	PluginName  string          `json:"plugin_name"`
	Config      json.RawMessage `json:"config,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
}

// InitializeResult is the plugin's initialize response. The first
// non-empty of Abilities/Skills/Tools/MCPTools is the effective
// ability set, per the load protocol's name-aliasing rule.
type InitializeResult struct {
	Success   bool              `json:"success"`
	Abilities []ManifestAbility `json:"abilities,omitempty"`
	Skills    []ManifestAbility `json:"skills,omitempty"`
	Tools     []ManifestAbility `json:"tools,omitempty"`
	MCP       *struct {
		Tools []ManifestAbility `json:"tools,omitempty"`
	} `json:"mcp,omitempty"`
}

// effectiveAbilities returns the first populated ability list.
func (r *InitializeResult) effectiveAbilities() []ManifestAbility {
	switch {
	case len(r.Abilities) > 0:
		return r.Abilities
	case len(r.Skills) > 0:
		return r.Skills
	case len(r.Tools) > 0:
		return r.Tools
	case r.MCP != nil && len(r.MCP.Tools) > 0:
		return r.MCP.Tools
	default:
		return nil
	}
}

// ExecuteParams carries the ability name under all four accepted
// keys, and the argument object under both accepted keys, so a
// plugin SDK written against any of the aliased names still works.
type ExecuteParams struct {
	Ability   string          `json:"ability"`
	Skill     string          `json:"skill"`
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Params    json.RawMessage `json:"params"`
	Arguments json.RawMessage `json:"arguments"`
	Context   ExecuteContext  `json:"context"`
}

// newExecuteParams populates all four name aliases and both argument
// aliases with the same values.
func newExecuteParams(ability string, args json.RawMessage, ctx ExecuteContext) ExecuteParams {
	return ExecuteParams{
		Ability:   ability,
		Skill:     ability,
		Tool:      ability,
		Name:      ability,
		Params:    args,
		Arguments: args,
		Context:   ctx,
	}
}

// ExecuteContext is the caller-scoping context forwarded to the plugin.
type ExecuteContext struct {
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// ExecuteResult is the plugin's response to an execute call.
type ExecuteResult struct {
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	EmotionHint string          `json:"emotion_hint,omitempty"`
}

// HealthResult is the plugin's response to a health call.
type HealthResult struct {
	Healthy bool `json:"healthy"`
}

// Transport is the JSON-RPC channel to one running plugin process,
// implemented by a stdio subprocess or an HTTP client.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Notifications() <-chan *RPCNotification
	Connected() bool
}
