package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxResultChars truncates an ability result before it is
// returned to the caller (and, downstream, inserted into prompt
// context), matching the specification's max_result_chars knob.
const DefaultMaxResultChars = 4000

// registeredAbility is one entry in the scheduler's unified table.
type registeredAbility struct {
	ability Ability
	kind    sourceKind
	plugin  string // set when kind == sourcePlugin
}

// Scheduler unifies built-in abilities, plugin abilities, and MCP
// tools under one tool-schema list and one Execute entrypoint, gating
// each call with a Policy. Name collisions are resolved built-in >
// plugin > MCP and logged.
type Scheduler struct {
	logger *slog.Logger
	policy Policy

	maxResultChars int

	mu       sync.RWMutex
	builtins map[string]BuiltinAbility
	table    map[string]registeredAbility // name -> owner, precedence-resolved

	plugins PluginProvider
	mcp     MCPProvider

	schemaCache sync.Map // schema text -> *jsonschema.Schema

	registry  prometheus.Registerer
	execTotal *prometheus.CounterVec
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithPlugins wires the plugin supervisor as the plugin tool source.
func WithPlugins(p PluginProvider) Option { return func(s *Scheduler) { s.plugins = p } }

// WithMCP wires an MCP server manager as the MCP tool source.
func WithMCP(m MCPProvider) Option { return func(s *Scheduler) { s.mcp = m } }

// WithMaxResultChars overrides DefaultMaxResultChars.
func WithMaxResultChars(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxResultChars = n
		}
	}
}

// WithRegistry registers the Scheduler's counters on reg instead of
// the default Prometheus registerer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.registry = reg }
}

// New creates a Scheduler. policy may be nil, in which case every
// ability is allowed (useful for tests and the demo CLI).
func New(logger *slog.Logger, policy Policy, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = allowAllPolicy{}
	}
	s := &Scheduler{
		logger:         logger.With("component", "scheduler"),
		policy:         policy,
		maxResultChars: DefaultMaxResultChars,
		builtins:       make(map[string]BuiltinAbility),
		table:          make(map[string]registeredAbility),
		execTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_kernel_scheduler_executions_total",
			Help: "Capability scheduler ability executions by source and outcome.",
		}, []string{"source", "ability", "outcome"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	reg := s.registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.Unregister(s.execTotal)
	reg.MustRegister(s.execTotal)
	return s
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(string, string) bool { return true }

// RegisterBuiltin adds an in-process ability. If the name is already
// registered by a built-in, the new registration replaces it; a
// built-in registration always wins over any plugin/MCP ability of
// the same name, by construction of resolve().
func (s *Scheduler) RegisterBuiltin(a BuiltinAbility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtins[a.Descriptor().Name] = a
}

// rebuildTable recomputes the unified name->owner table from
// builtins + the current plugin/MCP snapshots, applying built-in >
// plugin > MCP precedence and logging collisions.
func (s *Scheduler) rebuildTable() map[string]registeredAbility {
	table := make(map[string]registeredAbility)

	s.mu.RLock()
	for name, b := range s.builtins {
		table[name] = registeredAbility{ability: b.Descriptor(), kind: sourceBuiltin}
	}
	s.mu.RUnlock()

	if s.plugins != nil {
		for _, pa := range s.plugins.ListAbilities() {
			if existing, ok := table[pa.Name]; ok {
				s.logger.Warn("ability name collision, keeping higher-precedence source",
					"ability", pa.Name, "winner", existing.kind.String(), "loser", "plugin", "plugin_name", pa.PluginName)
				continue
			}
			table[pa.Name] = registeredAbility{ability: pa.Ability, kind: sourcePlugin, plugin: pa.PluginName}
		}
	}

	if s.mcp != nil {
		for _, t := range s.mcp.ListTools() {
			if existing, ok := table[t.Name]; ok {
				s.logger.Warn("ability name collision, keeping higher-precedence source",
					"ability", t.Name, "winner", existing.kind.String(), "loser", "mcp")
				continue
			}
			table[t.Name] = registeredAbility{ability: t, kind: sourceMCP}
		}
	}

	return table
}

// GetToolSchemas returns every ability currently allowed by policy,
// in an OpenAI-function-style schema list sorted by name for
// deterministic output.
func (s *Scheduler) GetToolSchemas() []ToolSchema {
	table := s.rebuildTable()
	out := make([]ToolSchema, 0, len(table))
	for name, entry := range table {
		if !s.policy.Allowed(entry.sourceKey(), name) {
			continue
		}
		out = append(out, ToolSchema{
			Name:        entry.ability.Name,
			Description: entry.ability.Description,
			Parameters:  entry.ability.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r registeredAbility) sourceKey() string {
	if r.kind == sourcePlugin {
		return "plugin:" + r.plugin
	}
	return r.kind.String()
}

// Execute routes name to its owning source, after policy and JSON
// Schema argument validation. An unknown ability returns a failure
// result (never an error) per the specification's tool-call-loop tie-
// break: "Ability not found" without invoking any plugin. A builtin
// panic is recovered and converted to a failure result.
func (s *Scheduler) Execute(ctx context.Context, name string, params json.RawMessage, actx AbilityContext) AbilityResult {
	table := s.rebuildTable()
	entry, ok := table[name]
	if !ok {
		s.execTotal.WithLabelValues("unknown", name, "not_found").Inc()
		return AbilityResult{Success: false, Error: "Ability not found: " + name}
	}

	source := entry.sourceKey()
	if !s.policy.Allowed(source, name) {
		s.execTotal.WithLabelValues(source, name, "denied").Inc()
		return AbilityResult{Success: false, Error: "permission denied: " + name}
	}

	if len(entry.ability.Parameters) > 0 {
		if err := s.validateParams(entry.ability.Parameters, params); err != nil {
			s.execTotal.WithLabelValues(source, name, "invalid_params").Inc()
			return AbilityResult{Success: false, Error: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	result := s.dispatch(ctx, entry, name, params, actx)
	result = s.truncate(result)

	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	s.execTotal.WithLabelValues(source, name, outcome).Inc()
	return result
}

func (s *Scheduler) dispatch(ctx context.Context, entry registeredAbility, name string, params json.RawMessage, actx AbilityContext) (result AbilityResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("ability panicked", "ability", name, "panic", p)
			result = AbilityResult{Success: false, Error: fmt.Sprintf("ability panicked: %v", p)}
		}
	}()

	switch entry.kind {
	case sourceBuiltin:
		s.mu.RLock()
		b := s.builtins[name]
		s.mu.RUnlock()
		if b == nil {
			return AbilityResult{Success: false, Error: "Ability not found: " + name}
		}
		return b.Execute(ctx, params, actx)
	case sourcePlugin:
		if s.plugins == nil {
			return AbilityResult{Success: false, Error: "plugin supervisor not wired"}
		}
		return s.plugins.Execute(ctx, entry.plugin, name, params, actx)
	case sourceMCP:
		if s.mcp == nil {
			return AbilityResult{Success: false, Error: "mcp manager not wired"}
		}
		return s.mcp.ExecuteTool(ctx, name, params, actx)
	default:
		return AbilityResult{Success: false, Error: "Ability not found: " + name}
	}
}

func (s *Scheduler) validateParams(schemaJSON, params json.RawMessage) error {
	schema, err := s.compileSchema(schemaJSON)
	if err != nil {
		// A malformed declared schema should not block execution; log
		// and skip validation rather than fail every call.
		s.logger.Warn("failed to compile ability schema, skipping validation", "error", err)
		return nil
	}
	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("params must be valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}

func (s *Scheduler) compileSchema(schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaJSON)
	if cached, ok := s.schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("ability.schema.json", key)
	if err != nil {
		return nil, err
	}
	s.schemaCache.Store(key, compiled)
	return compiled, nil
}

func (s *Scheduler) truncate(result AbilityResult) AbilityResult {
	if result.Error != "" && len(result.Error) > s.maxResultChars {
		result.Error = result.Error[:s.maxResultChars]
	}
	if str, ok := result.Data.(string); ok && len(str) > s.maxResultChars {
		result.Data = str[:s.maxResultChars]
	}
	return result
}

// Stringify renders an AbilityResult's Data the way the dialogue
// orchestrator's tool loop inserts it into a role=tool message: the
// Go %v-ish rendering of the underlying value, truncated to
// maxResultChars. Exported so internal/dialogue doesn't need to
// reimplement truncation.
func (s *Scheduler) Stringify(result AbilityResult) string {
	var text string
	if result.Success {
		text = fmt.Sprint(result.Data)
	} else if result.Error != "" {
		text = result.Error
	} else {
		text = "Error"
	}
	if len(text) > s.maxResultChars {
		text = text[:s.maxResultChars]
	}
	return text
}
