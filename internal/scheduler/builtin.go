package scheduler

import "context"

// BuiltinAbility is an in-process tool implementation, the first and
// highest-precedence of the scheduler's three tool sources.
type BuiltinAbility interface {
	Descriptor() Ability
	Execute(ctx context.Context, params []byte, actx AbilityContext) AbilityResult
}

// PluginAbility names an ability as reported by the plugin supervisor,
// carrying the owning plugin's name for policy lookups and routing.
type PluginAbility struct {
	Ability
	PluginName string
}

// PluginProvider is the subset of internal/pluginsupervisor.Supervisor
// the scheduler depends on. Kept as a narrow interface so the
// scheduler never reaches into subprocess/transport details.
type PluginProvider interface {
	ListAbilities() []PluginAbility
	Execute(ctx context.Context, pluginName, ability string, params []byte, actx AbilityContext) AbilityResult
}

// MCPProvider is the subset of an external MCP server manager the
// scheduler depends on. The kernel does not define MCP client
// internals (out of scope); this interface is the seam an embedder's
// MCP manager implements.
type MCPProvider interface {
	ListTools() []Ability
	ExecuteTool(ctx context.Context, name string, params []byte, actx AbilityContext) AbilityResult
}
