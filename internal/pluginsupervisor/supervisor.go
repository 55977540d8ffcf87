package pluginsupervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/companion-kernel/internal/eventbus"
	"github.com/haasonsaas/companion-kernel/internal/observability"
	"github.com/haasonsaas/companion-kernel/internal/scheduler"
)

// ManifestFilename is the discovery marker: any immediate
// subdirectory of the plugins directory containing this file
// contributes one manifest.
const ManifestFilename = "manifest.json"

// loadedPlugin is a manifest plus its transport handle, effective
// ability set, and lifecycle state. It is the supervisor's exclusive
// owner of the plugin subprocess's lifetime.
type loadedPlugin struct {
	manifest  Manifest
	dir       string
	transport Transport
	abilities []ManifestAbility // effective, after initialize negotiation
	state     State
	config    json.RawMessage
}

// Supervisor discovers plugin manifests, loads them, and routes
// ability execution to the owning plugin's transport. It implements
// internal/scheduler.PluginProvider.
type Supervisor struct {
	logger      *slog.Logger
	bus         *eventbus.Bus
	tracer      *observability.Tracer
	pluginsDir  string
	installDeps bool

	mu      sync.RWMutex
	plugins map[string]*loadedPlugin
	table   map[string]string // ability name -> owning plugin name
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithBus wires the event bus that lifecycle transitions publish to.
func WithBus(bus *eventbus.Bus) Option { return func(s *Supervisor) { s.bus = bus } }

// WithInstallDeps opts into running the language-specific dependency
// installer before first load, when a marker file is present.
func WithInstallDeps(enabled bool) Option {
	return func(s *Supervisor) { s.installDeps = enabled }
}

// WithTracer replaces the default no-op tracer with the embedder's.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// New creates a Supervisor rooted at pluginsDir.
func New(logger *slog.Logger, pluginsDir string, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "companion-kernel"})
	s := &Supervisor{
		logger:     logger.With("component", "pluginsupervisor"),
		tracer:     tracer,
		pluginsDir: pluginsDir,
		plugins:    make(map[string]*loadedPlugin),
		table:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover walks the plugins directory and returns one manifest per
// immediate subdirectory that does not start with "_" and contains
// manifest.json. Manifests failing name-safety validation are skipped
// with a warning rather than aborting discovery.
func (s *Supervisor) Discover() ([]Manifest, error) {
	entries, err := os.ReadDir(s.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		manifestPath := filepath.Join(s.pluginsDir, entry.Name(), ManifestFilename)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue // no manifest.json, not a plugin directory
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			s.logger.Warn("skipping plugin with unparsable manifest", "dir", entry.Name(), "error", err)
			continue
		}
		if err := m.Validate(); err != nil {
			s.logger.Warn("skipping plugin with invalid manifest", "dir", entry.Name(), "error", err)
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// LoadAll discovers and loads every valid manifest, continuing past
// individual load failures so one bad plugin does not block others.
func (s *Supervisor) LoadAll(ctx context.Context) error {
	manifests, err := s.Discover()
	if err != nil {
		return err
	}
	for _, m := range manifests {
		if err := s.Load(ctx, m, nil, nil); err != nil {
			s.logger.Error("failed to load plugin", "plugin", m.Name, "error", err)
		}
	}
	return nil
}

// Load runs the load protocol for one manifest: optional dependency
// install, transport selection and connect, initialize RPC, and
// ability-table registration. Loading the same name twice while
// already running is a no-op (idempotent load).
func (s *Supervisor) Load(ctx context.Context, m Manifest, cfg json.RawMessage, permissions []string) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	if existing, ok := s.plugins[m.Name]; ok && existing.state == StateRunning {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.setState(m.Name, StateLoading)

	if s.installDeps {
		s.maybeInstallDeps(m)
	}

	dir := filepath.Join(s.pluginsDir, m.Name)
	transport, err := s.newTransport(m)
	if err != nil {
		s.setState(m.Name, StateStopped)
		return err
	}
	if err := transport.Connect(ctx); err != nil {
		s.setState(m.Name, StateStopped)
		return fmt.Errorf("connect plugin %s: %w", m.Name, err)
	}

	initParams := InitializeParams{PluginName: m.Name, Config: cfg, Permissions: permissions}
	rawResult, err := transport.Call(ctx, "initialize", initParams, DefaultExecuteTimeout)
	if err != nil {
		transport.Close()
		s.setState(m.Name, StateStopped)
		return fmt.Errorf("initialize plugin %s: %w", m.Name, err)
	}
	var initResult InitializeResult
	effective := m.declaredAbilities()
	if len(rawResult) > 0 {
		if err := json.Unmarshal(rawResult, &initResult); err == nil {
			if negotiated := initResult.effectiveAbilities(); len(negotiated) > 0 {
				effective = negotiated
			}
		}
	}

	plugin := &loadedPlugin{
		manifest:  m,
		dir:       dir,
		transport: transport,
		abilities: effective,
		state:     StateRunning,
		config:    cfg,
	}

	if err := s.registerAbilities(m.Name, effective); err != nil {
		transport.Close()
		s.setState(m.Name, StateStopped)
		return err
	}

	s.mu.Lock()
	s.plugins[m.Name] = plugin
	s.mu.Unlock()

	s.setState(m.Name, StateRunning)
	go s.relayNotifications(m.Name, transport)
	s.logger.Info("plugin loaded", "plugin", m.Name, "abilities", len(effective))
	return nil
}

// relayNotifications forwards plugin->core notifications onto the
// event bus until the transport disconnects. "event" notifications
// republish the plugin's payload under its declared type; "log"
// notifications go to the supervisor's logger. When no bus is wired,
// the ambient default bus carries event notifications so plugins are
// never silently muted.
func (s *Supervisor) relayNotifications(pluginName string, transport Transport) {
	bus := s.bus
	if bus == nil {
		bus = eventbus.DefaultBus()
	}
	for notif := range transport.Notifications() {
		switch notif.Method {
		case "event":
			var payload struct {
				Type string         `json:"type"`
				Data map[string]any `json:"data,omitempty"`
			}
			if err := json.Unmarshal(notif.Params, &payload); err != nil || payload.Type == "" {
				s.logger.Warn("dropping malformed plugin event notification", "plugin", pluginName)
				continue
			}
			_ = bus.Publish(context.Background(), eventbus.Event{
				Type:    payload.Type,
				Source:  "plugin:" + pluginName,
				Payload: payload.Data,
			})
		case "log":
			var payload struct {
				Level   string `json:"level,omitempty"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(notif.Params, &payload); err != nil {
				continue
			}
			s.logger.Info("plugin log", "plugin", pluginName, "level", payload.Level, "message", payload.Message)
		default:
			s.logger.Debug("ignoring unknown plugin notification", "plugin", pluginName, "method", notif.Method)
		}
	}
}

// registerAbilities adds name->plugin entries to the global ability
// table, rejecting the whole load on any collision with an
// already-registered ability from a different plugin.
func (s *Supervisor) registerAbilities(pluginName string, abilities []ManifestAbility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range abilities {
		if owner, ok := s.table[a.Name]; ok && owner != pluginName {
			return fmt.Errorf("ability name collision: %q already owned by plugin %q", a.Name, owner)
		}
	}
	for _, a := range abilities {
		s.table[a.Name] = pluginName
	}
	return nil
}

func (s *Supervisor) newTransport(m Manifest) (Transport, error) {
	switch m.transportKind() {
	case TransportHTTP:
		return NewHTTPTransport(m.Runtime, s.logger), nil
	case TransportStdio:
		return NewStdioTransport(m.Runtime, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", m.Runtime.Transport)
	}
}

// maybeInstallDeps runs a language-appropriate dependency installer
// iff a marker file for that language is present. Failures are
// logged, not fatal: a plugin with pre-installed dependencies should
// still load.
func (s *Supervisor) maybeInstallDeps(m Manifest) {
	dir := filepath.Join(s.pluginsDir, m.Name)
	markers := map[string]string{
		"requirements.txt": "pip",
		"package.json":      "npm",
		"go.mod":            "go",
	}
	for marker, tool := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			s.logger.Debug("dependency marker found, install deferred to deployment tooling", "plugin", m.Name, "tool", tool, "marker", marker)
			return
		}
	}
}

// Unload tears down a running plugin: best-effort shutdown RPC within
// DefaultShutdownTimeout, then closes the transport regardless and
// removes its abilities from the table and its state from Running.
func (s *Supervisor) Unload(ctx context.Context, name string) error {
	s.mu.Lock()
	plugin, ok := s.plugins[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	for ability, owner := range s.table {
		if owner == name {
			delete(s.table, ability)
		}
	}
	s.mu.Unlock()

	s.setState(name, StateUnloading)

	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	if _, err := plugin.transport.Call(shutdownCtx, "shutdown", nil, DefaultShutdownTimeout); err != nil {
		s.logger.Warn("plugin shutdown RPC failed, closing transport anyway", "plugin", name, "error", err)
	}
	plugin.transport.Close()

	s.setState(name, StateStopped)
	return nil
}

// Reload unloads then reloads a plugin with its previous config.
func (s *Supervisor) Reload(ctx context.Context, name string) error {
	s.mu.RLock()
	plugin, ok := s.plugins[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q not loaded", name)
	}
	manifest, cfg := plugin.manifest, plugin.config

	s.setState(name, StateReloading)
	if err := s.Unload(ctx, name); err != nil {
		return err
	}
	return s.Load(ctx, manifest, cfg, manifest.Permissions)
}

// UnloadAll tears down every running plugin, bounded by
// DefaultShutdownTimeout per plugin, for use at supervisor shutdown.
func (s *Supervisor) UnloadAll(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.plugins))
	for name := range s.plugins {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.Unload(ctx, name); err != nil {
			s.logger.Error("failed to unload plugin during shutdown", "plugin", name, "error", err)
		}
	}
}

// setState records the new state and, if a bus is wired, publishes a
// plugin.state_changed event.
func (s *Supervisor) setState(name string, state State) {
	s.mu.Lock()
	if plugin, ok := s.plugins[name]; ok {
		plugin.state = state
	}
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(context.Background(), eventbus.Event{
		Type:      "plugin.state_changed",
		Source:    "pluginsupervisor",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"plugin": name,
			"state":  state.String(),
		},
	})
}

// ListAbilities implements internal/scheduler.PluginProvider: a
// snapshot of every ability across every running plugin.
func (s *Supervisor) ListAbilities() []scheduler.PluginAbility {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scheduler.PluginAbility
	for name, plugin := range s.plugins {
		if plugin.state != StateRunning {
			continue
		}
		for _, a := range plugin.abilities {
			out = append(out, scheduler.PluginAbility{
				Ability: scheduler.Ability{
					Name:        a.Name,
					Description: a.Description,
					Parameters:  a.Parameters,
				},
				PluginName: name,
			})
		}
	}
	return out
}

// Execute implements internal/scheduler.PluginProvider, routing an
// ability call to its owning plugin's transport. A plugin that has
// stopped running fails fast with "Plugin not running: <name>",
// matching the specification's crash-mid-session scenario.
func (s *Supervisor) Execute(ctx context.Context, pluginName, ability string, params []byte, actx scheduler.AbilityContext) scheduler.AbilityResult {
	s.mu.RLock()
	plugin, ok := s.plugins[pluginName]
	s.mu.RUnlock()
	if !ok || plugin.state != StateRunning {
		return scheduler.AbilityResult{Success: false, Error: fmt.Sprintf("Plugin not running: %s", pluginName)}
	}

	execParams := newExecuteParams(ability, params, ExecuteContext{
		UserID:      actx.UserID,
		SessionID:   actx.SessionID,
		Permissions: actx.Permissions,
	})

	var raw json.RawMessage
	err := observability.WithSpan(ctx, s.tracer, "plugin.execute", func(ctx context.Context, span trace.Span) error {
		s.tracer.SetAttributes(span, "plugin", pluginName, "ability", ability)
		var callErr error
		raw, callErr = plugin.transport.Call(ctx, "execute", execParams, DefaultExecuteTimeout)
		return callErr
	})
	if err != nil {
		if !plugin.transport.Connected() {
			// The process died under us: fail with the same named
			// message a caller would get once the state is Stopped,
			// not the transport's anonymous connection error.
			s.setState(pluginName, StateStopped)
			return scheduler.AbilityResult{Success: false, Error: fmt.Sprintf("Plugin not running: %s", pluginName)}
		}
		return scheduler.AbilityResult{Success: false, Error: err.Error()}
	}

	var result ExecuteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return scheduler.AbilityResult{Success: false, Error: fmt.Sprintf("malformed execute response: %v", err)}
	}
	var data any
	if len(result.Data) > 0 {
		_ = json.Unmarshal(result.Data, &data)
	}
	return scheduler.AbilityResult{
		Success:     result.Success,
		Data:        data,
		Error:       result.Error,
		EmotionHint: result.EmotionHint,
	}
}

// Health calls the health RPC on a single plugin.
func (s *Supervisor) Health(ctx context.Context, name string) bool {
	s.mu.RLock()
	plugin, ok := s.plugins[name]
	s.mu.RUnlock()
	if !ok || plugin.state != StateRunning {
		return false
	}
	raw, err := plugin.transport.Call(ctx, "health", nil, DefaultExecuteTimeout)
	if err != nil {
		return false
	}
	var result HealthResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false
	}
	return result.Healthy
}

// State returns a plugin's current lifecycle state.
func (s *Supervisor) State(name string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plugin, ok := s.plugins[name]
	if !ok {
		return StateStopped, false
	}
	return plugin.state, true
}
