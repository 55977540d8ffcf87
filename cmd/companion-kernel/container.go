package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/companion-kernel/internal/agents"
	"github.com/haasonsaas/companion-kernel/internal/config"
	"github.com/haasonsaas/companion-kernel/internal/dialogue"
	"github.com/haasonsaas/companion-kernel/internal/emotion"
	"github.com/haasonsaas/companion-kernel/internal/eventbus"
	"github.com/haasonsaas/companion-kernel/internal/memorypipeline"
	"github.com/haasonsaas/companion-kernel/internal/observability"
	"github.com/haasonsaas/companion-kernel/internal/pluginsupervisor"
	"github.com/haasonsaas/companion-kernel/internal/providers"
	anthropicprovider "github.com/haasonsaas/companion-kernel/internal/providers/anthropic"
	openaiprovider "github.com/haasonsaas/companion-kernel/internal/providers/openai"
	"github.com/haasonsaas/companion-kernel/internal/scheduler"
	"github.com/haasonsaas/companion-kernel/internal/session"
	"github.com/haasonsaas/companion-kernel/internal/skills"
)

// container is the kernel's dependency graph, built once at startup.
// Every component receives its collaborators by constructor; nothing
// reaches for package-level state.
type container struct {
	cfg        *config.Config
	bus        *eventbus.Bus
	sessions   *session.Store
	registry   *providers.Registry
	supervisor *pluginsupervisor.Supervisor
	scheduler  *scheduler.Scheduler
	memory     *memorypipeline.Pipeline
	emotion    *emotion.Manager
	skills     *skills.Service
	orch       *dialogue.Orchestrator
	agents     *agents.Service
	metrics    *prometheus.Registry
	stats      *observability.Metrics
	events     *observability.MemoryEventStore
	recorder   *observability.EventRecorder
	tracer     *observability.Tracer
	traceStop  func(context.Context) error
}

// buildContainer wires the full graph from cfg.
func buildContainer(logger *slog.Logger, cfg *config.Config) *container {
	c := &container{
		cfg:     cfg,
		bus:     eventbus.New(logger),
		metrics: prometheus.NewRegistry(),
	}

	c.sessions = session.NewStore()
	c.registry = buildProviderRegistry(cfg)

	// No exporter is wired by default, so spans are no-ops until an
	// embedder supplies one; the provider and shutdown path are still
	// real so flipping an exporter on is a one-line change.
	c.tracer, c.traceStop = observability.NewTracer(observability.TraceConfig{
		ServiceName: "companion-kernel",
	})
	c.events = observability.NewMemoryEventStore(1000)
	c.recorder = observability.NewEventRecorder(c.events, nil)

	c.supervisor = pluginsupervisor.New(logger, cfg.Plugins.Dir,
		pluginsupervisor.WithBus(c.bus),
		pluginsupervisor.WithTracer(c.tracer),
		pluginsupervisor.WithInstallDeps(cfg.Plugins.InstallDeps))

	c.scheduler = scheduler.New(logger, scheduler.NewConfigPolicy(cfg),
		scheduler.WithPlugins(c.supervisor),
		scheduler.WithMaxResultChars(cfg.Scheduler.MaxResultChars),
		scheduler.WithRegistry(c.metrics))
	c.scheduler.RegisterBuiltin(scheduler.EchoAbility{})
	c.scheduler.RegisterBuiltin(scheduler.FactsExtractAbility{})

	c.emotion = emotion.NewManager(logger, cfg.Emotion.BaseConfigPath,
		emotion.WithManagerBus(c.bus),
		emotion.WithPluginsGlob(cfg.Emotion.PluginsGlob),
		emotion.WithCharactersDir(cfg.Emotion.CharactersDir))

	memOpts := []memorypipeline.Option{
		memorypipeline.WithRecallTopK(cfg.Memory.RecallTopK),
	}
	if cfg.Memory.EmotionOnIngest {
		memOpts = append(memOpts, memorypipeline.WithEmotionAnalyzer(c.emotion))
	}
	if cfg.Memory.Extractor == "llm" {
		if provider, err := c.registry.Get(cfg.Providers.Default); err == nil {
			model := ""
			if entry, ok := cfg.Providers.Entries[cfg.Providers.Default]; ok {
				model = entry.Model
			}
			memOpts = append(memOpts, memorypipeline.WithExtractor(
				memorypipeline.NewLLMExtractor(logger, provider, model)))
		}
	}
	c.memory = memorypipeline.New(logger, c.bus, memOpts...)

	c.skills = skills.NewService(logger, "skills")

	c.orch = dialogue.New(logger, c.sessions, c.registry, c.bus,
		dialogue.WithDefaults(defaultsFromConfig(cfg)),
		dialogue.WithTools(c.scheduler),
		dialogue.WithMemory(c.memory),
		dialogue.WithSkills(c.skills, 3),
		dialogue.WithTracer(c.tracer),
		dialogue.WithRecorder(c.recorder))

	c.agents = agents.NewService(logger, c.bus, c.orch)

	c.stats = observability.NewMetrics(c.metrics)
	c.observeBusTraffic()
	return c
}

// observeBusTraffic counts events per namespace and lands the
// interesting ones on the debugging timeline. The bus's wildcard
// patterns are one level deep, so each namespace of the closed
// vocabulary is subscribed explicitly.
func (c *container) observeBusTraffic() {
	count := func(namespace string) eventbus.Handler {
		return func(ctx context.Context, e eventbus.Event) error {
			c.stats.RecordEventPublished(namespace)
			if e.SessionID != "" {
				ctx = observability.AddSessionID(ctx, e.SessionID)
			}
			payload, _ := e.Payload.(map[string]any)

			switch e.Type {
			case "dialogue.user_message":
				c.stats.DialogueMessage("user")
				_ = c.recorder.Record(ctx, observability.EventTypeMessage, e.Type, payload)
			case "dialogue.assistant_response":
				c.stats.DialogueMessage("assistant")
				_ = c.recorder.Record(ctx, observability.EventTypeLLMResponse, e.Type, payload)
			case "memory.recorded":
				c.stats.RecordMemoryIngest("message")
			case "emotion.analysis.completed":
				if primary, ok := payload["primary"].(string); ok {
					c.stats.RecordEmotionAnalysis(primary)
				}
			case "agent.created", "agent.message.created", "agent.wakeup.started", "agent.wakeup.completed":
				if agentID, ok := payload["agent_id"].(string); ok {
					ctx = observability.AddAgentID(ctx, agentID)
				}
				if messageID, ok := payload["message_id"].(string); ok {
					ctx = observability.AddMessageID(ctx, messageID)
				}
				_ = c.recorder.Record(ctx, observability.EventTypeCustom, e.Type, payload)
			case "plugin.state_changed":
				name, _ := payload["plugin"].(string)
				state, _ := payload["state"].(string)
				eventType := observability.EventTypeCustom
				switch state {
				case "running":
					eventType = observability.EventTypePluginLoad
				case "stopped":
					eventType = observability.EventTypePluginUnload
				}
				// RecordPluginEvent annotates the data map; hand it a
				// copy so sibling subscribers never see the edit.
				data := make(map[string]any, len(payload)+1)
				for k, v := range payload {
					data[k] = v
				}
				_ = c.recorder.RecordPluginEvent(ctx, eventType, name, data)
			}
			return nil
		}
	}
	for _, ns := range []string{"dialogue", "memory", "emotion.analysis", "plugin", "agent", "agent.message", "agent.wakeup"} {
		c.bus.Subscribe(ns+".*", count(ns), eventbus.WithName("metrics-"+ns), eventbus.WithPriority(eventbus.PriorityLowest))
	}
}

// start attaches bus consumers and loads plugins.
func (c *container) start(ctx context.Context) error {
	c.memory.Attach()
	if err := c.supervisor.LoadAll(ctx); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	return nil
}

// stop tears the graph down in reverse dependency order.
func (c *container) stop(ctx context.Context) {
	c.supervisor.UnloadAll(ctx)
	c.memory.Detach()
	_ = c.bus.WaitEmpty(ctx)
	c.bus.Close()
	_ = c.traceStop(ctx)
}

func defaultsFromConfig(cfg *config.Config) dialogue.Defaults {
	d := dialogue.Defaults{
		Provider:    cfg.Providers.Default,
		Temperature: 0.7,
		TopP:        1.0,
		MaxTokens:   2048,
	}
	if entry, ok := cfg.Providers.Entries[cfg.Providers.Default]; ok {
		d.Model = entry.Model
	}
	if d.Model == "" {
		d.Model = "demo-1"
	}
	return d
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry()
	for id, entry := range cfg.Providers.Entries {
		switch entry.Kind {
		case "openai":
			registry.Register(id, openaiprovider.New(openaiprovider.Config{
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
				Models:  []string{entry.Model},
			}))
		case "anthropic":
			registry.Register(id, anthropicprovider.New(anthropicprovider.Config{
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
				Models:  []string{entry.Model},
			}))
		case "demo":
			registry.Register(id, &demoProvider{})
		}
	}
	if _, err := registry.Get(cfg.Providers.Default); err != nil {
		// Always have something callable so the demo command works
		// without credentials.
		registry.Register(cfg.Providers.Default, &demoProvider{})
	}
	registry.SetDefault(cfg.Providers.Default)
	return registry
}

// demoProvider is an offline provider for the scripted demo: it
// answers with a canned acknowledgement of the last user turn.
type demoProvider struct{}

func (demoProvider) Name() string        { return "demo" }
func (demoProvider) Models() []string    { return []string{"demo-1"} }
func (demoProvider) SupportsTools() bool { return false }

func (demoProvider) TestConnection(context.Context) providers.ConnectionStatus {
	return providers.ConnectionStatus{OK: true, Detail: "in-process demo provider"}
}

func (d demoProvider) Chat(ctx context.Context, req providers.CompletionRequest) (*providers.ChatResponse, error) {
	return providers.DrainStream(ctx, d, req)
}

func (demoProvider) StreamChat(_ context.Context, req providers.CompletionRequest) (<-chan providers.CompletionChunk, error) {
	lastUser := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	reply := "I hear you"
	if lastUser != "" {
		reply = fmt.Sprintf("I hear you: %s", strings.TrimSpace(lastUser))
	}

	ch := make(chan providers.CompletionChunk, len(reply)/8+2)
	for i := 0; i < len(reply); i += 8 {
		end := min(i+8, len(reply))
		ch <- providers.CompletionChunk{Delta: reply[i:end]}
	}
	ch <- providers.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
