// Package dialogue implements the dialogue orchestrator: session
// ownership, deterministic context assembly, provider invocation, the
// tool-call loop, and token streaming.
//
// Concurrency contract: the orchestrator does not lock per session.
// Callers must not issue concurrent Chat/StreamChat calls for the
// same session (the HTTP facade's per-session router enforces this);
// concurrent sessions run independently.
package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/companion-kernel/internal/eventbus"
	"github.com/haasonsaas/companion-kernel/internal/memorypipeline"
	"github.com/haasonsaas/companion-kernel/internal/observability"
	"github.com/haasonsaas/companion-kernel/internal/providers"
	"github.com/haasonsaas/companion-kernel/internal/scheduler"
	"github.com/haasonsaas/companion-kernel/internal/session"
	"github.com/haasonsaas/companion-kernel/pkg/models"
)

// MemoryService is the slice of the memory pipeline the orchestrator
// consumes for context recall.
type MemoryService interface {
	Recall(ctx context.Context, query, sessionID string, limit int) []memorypipeline.Result
	FormatContext(results []memorypipeline.Result) string
}

// SkillService supplies skill-injection blocks for context assembly.
type SkillService interface {
	Search(ctx context.Context, query string, topK int) []SkillMatch
	BuildInjectionBlock(matches []SkillMatch) string
}

// SkillMatch is one skill recall hit.
type SkillMatch struct {
	Name        string
	Description string
	Instruction string
	Score       float64
}

// ToolExecutor is the capability scheduler contract the tool loop
// dispatches through.
type ToolExecutor interface {
	GetToolSchemas() []scheduler.ToolSchema
	Execute(ctx context.Context, name string, params json.RawMessage, actx scheduler.AbilityContext) scheduler.AbilityResult
	Stringify(result scheduler.AbilityResult) string
}

// Defaults are the per-call fallbacks applied when a ChatRequest
// leaves an option unset.
type Defaults struct {
	Provider    string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Orchestrator owns the session store and mediates between callers
// and providers.
type Orchestrator struct {
	logger   *slog.Logger
	bus      *eventbus.Bus
	sessions *session.Store
	registry *providers.Registry
	tools    ToolExecutor
	memory   MemoryService
	skills   SkillService
	tracer   *observability.Tracer
	recorder *observability.EventRecorder

	defaults     Defaults
	memoryRecall bool
	skillRecall  bool
	skillTopK    int
	toolPerms    []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMemory wires memory recall into context assembly.
func WithMemory(m MemoryService) Option {
	return func(o *Orchestrator) { o.memory = m; o.memoryRecall = true }
}

// WithSkills wires skill recall into context assembly.
func WithSkills(s SkillService, topK int) Option {
	return func(o *Orchestrator) {
		o.skills = s
		o.skillRecall = true
		if topK > 0 {
			o.skillTopK = topK
		}
	}
}

// WithTools wires the capability scheduler.
func WithTools(t ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = t }
}

// WithDefaults overrides the built-in call defaults.
func WithDefaults(d Defaults) Option {
	return func(o *Orchestrator) { o.defaults = d }
}

// WithToolPermissions sets the permission set attached to every
// AbilityContext built by the tool loop.
func WithToolPermissions(perms []string) Option {
	return func(o *Orchestrator) { o.toolPerms = perms }
}

// WithTracer replaces the default no-op tracer with one built by the
// embedder (typically carrying a real span exporter).
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRecorder wires an event recorder so each chat turn and tool
// call lands on the debugging timeline.
func WithRecorder(r *observability.EventRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New creates an Orchestrator over the given session store, provider
// registry, and event bus.
func New(logger *slog.Logger, sessions *session.Store, registry *providers.Registry, bus *eventbus.Bus, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "companion-kernel"})
	o := &Orchestrator{
		logger:   logger.With("component", "dialogue"),
		bus:      bus,
		sessions: sessions,
		registry: registry,
		tracer:   tracer,
		defaults: Defaults{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   2048,
		},
		skillTopK: 3,
		toolPerms: []string{"system.execute", "network.http"},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sessions exposes the orchestrator's session store.
func (o *Orchestrator) Sessions() *session.Store { return o.sessions }

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string
	UserID    string

	// Content is the user message: plain text, or multi-part content
	// that is flattened to text.
	Content Content

	// Provider and Model override the defaults. Model may be a
	// qualified "provider/model" reference, in which case it wins
	// over Provider.
	Provider string
	Model    string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string

	// UseTools attaches the scheduler's tool schemas to the provider
	// call and enables the tool loop on tool_calls responses.
	UseTools bool
}

// Chat runs the non-streaming request/response protocol and returns
// the final assistant content.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (content string, err error) {
	userText := req.Content.Flatten()

	if o.recorder != nil {
		runID := uuid.New().String()
		ctx = observability.AddRunID(ctx, runID)
		ctx = observability.AddSessionID(ctx, req.SessionID)
		started := time.Now()
		_ = o.recorder.RecordRunStart(ctx, runID, map[string]any{"session_id": req.SessionID})
		defer func() {
			_ = o.recorder.RecordRunEnd(ctx, time.Since(started), err)
		}()
	}

	sess, provider, providerID, err := o.prepare(ctx, req, userText)
	if err != nil {
		return "", err
	}

	messages, err := o.buildContext(ctx, sess.ID, userText)
	if err != nil {
		return "", err
	}

	creq := o.completionRequest(req, messages)
	if req.UseTools && o.tools != nil {
		creq.Tools = toProviderSchemas(o.tools.GetToolSchemas())
	}

	resp, err := o.callProvider(ctx, provider, providerID, creq)
	if err != nil {
		return "", err
	}

	content = resp.Content
	if len(resp.ToolCalls) > 0 && req.UseTools && o.tools != nil {
		content, err = o.runToolLoop(ctx, sess.ID, providerID, req, provider, creq, resp)
		if err != nil {
			return "", err
		}
	}

	if _, err := o.sessions.AddMessage(sess.ID, models.Message{
		Role:    models.RoleAssistant,
		Content: content,
	}); err != nil {
		return "", err
	}

	o.publish(ctx, "dialogue.assistant_response", sess.ID, map[string]any{
		"session_id": sess.ID,
		"content":    content,
		"model":      resp.Model,
	})
	return content, nil
}

// StreamChat runs the streaming protocol: chunks are yielded on the
// returned channel while being accumulated; when the provider signals
// done, the accumulated content is committed as the assistant message
// and the response event published. If ctx is cancelled mid-stream
// the partial content is NOT committed. Tool calls are not re-entered
// on this path; a stream that ends with tool calls is committed as
// the text received so far.
func (o *Orchestrator) StreamChat(ctx context.Context, req ChatRequest) (<-chan string, error) {
	userText := req.Content.Flatten()

	sess, provider, providerID, err := o.prepare(ctx, req, userText)
	if err != nil {
		return nil, err
	}

	messages, err := o.buildContext(ctx, sess.ID, userText)
	if err != nil {
		return nil, err
	}

	creq := o.completionRequest(req, messages)
	chunks, err := provider.StreamChat(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerID, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var content []byte
		done := false
		for chunk := range chunks {
			if chunk.Err != nil {
				o.logger.Warn("stream chat error", "session_id", sess.ID, "error", chunk.Err)
				return
			}
			if chunk.Delta != "" {
				content = append(content, chunk.Delta...)
				select {
				case out <- chunk.Delta:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				done = true
			}
		}
		if !done || ctx.Err() != nil {
			return
		}
		final := string(content)
		if _, err := o.sessions.AddMessage(sess.ID, models.Message{
			Role:    models.RoleAssistant,
			Content: final,
		}); err != nil {
			o.logger.Warn("failed to commit streamed assistant message", "session_id", sess.ID, "error", err)
			return
		}
		o.publish(ctx, "dialogue.assistant_response", sess.ID, map[string]any{
			"session_id": sess.ID,
			"content":    final,
			"model":      creq.Model,
		})
	}()
	return out, nil
}

// Wakeup generates a proactive assistant message without a prior user
// message: context is assembled around prompt, the provider is called
// without tools, and the result is committed and published as a
// normal assistant response.
func (o *Orchestrator) Wakeup(ctx context.Context, sessionID, prompt string, reqOpts ChatRequest) (string, error) {
	sess, _, err := o.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}

	providerID, model := o.resolveProviderModel(reqOpts)
	provider, err := o.registry.Get(providerID)
	if err != nil {
		return "", err
	}

	messages, err := o.buildContext(ctx, sess.ID, prompt)
	if err != nil {
		return "", err
	}
	messages = append(messages, providers.Message{Role: "user", Content: prompt})

	creq := providers.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: orDefault(reqOpts.Temperature, o.defaults.Temperature),
		TopP:        orDefault(reqOpts.TopP, o.defaults.TopP),
		MaxTokens:   orDefaultInt(reqOpts.MaxTokens, 1024),
	}
	resp, err := o.callProvider(ctx, provider, providerID, creq)
	if err != nil {
		return "", err
	}

	if _, err := o.sessions.AddMessage(sess.ID, models.Message{
		Role:    models.RoleAssistant,
		Content: resp.Content,
	}); err != nil {
		return "", err
	}
	o.publish(ctx, "dialogue.assistant_response", sess.ID, map[string]any{
		"session_id": sess.ID,
		"content":    resp.Content,
		"model":      resp.Model,
	})
	return resp.Content, nil
}

// prepare runs the shared front half of Chat and StreamChat: resolve
// the provider, append the user message, publish the user event.
func (o *Orchestrator) prepare(ctx context.Context, req ChatRequest, userText string) (*models.Session, providers.Provider, string, error) {
	providerID, _ := o.resolveProviderModel(req)
	provider, err := o.registry.Get(providerID)
	if err != nil {
		return nil, nil, "", err
	}

	sess, _, err := o.sessions.Get(req.SessionID)
	if err != nil {
		return nil, nil, "", err
	}

	if _, err := o.sessions.AddMessage(sess.ID, models.Message{
		Role:    models.RoleUser,
		Content: userText,
	}); err != nil {
		return nil, nil, "", err
	}

	o.publish(ctx, "dialogue.user_message", sess.ID, map[string]any{
		"session_id": sess.ID,
		"content":    userText,
	})
	return sess, provider, providerID, nil
}

// resolveProviderModel applies the "provider/model" splitting rule:
// a qualified model reference names its own provider; otherwise the
// request's Provider, then the configured defaults.
func (o *Orchestrator) resolveProviderModel(req ChatRequest) (providerID, model string) {
	model = req.Model
	if model == "" {
		model = o.defaults.Model
	}
	qualifier, bare := providers.SplitModelRef(model)
	if qualifier != "" {
		return qualifier, bare
	}
	if req.Provider != "" {
		return req.Provider, model
	}
	return o.defaults.Provider, model
}

func (o *Orchestrator) completionRequest(req ChatRequest, messages []providers.Message) providers.CompletionRequest {
	_, model := o.resolveProviderModel(req)
	return providers.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: orDefault(req.Temperature, o.defaults.Temperature),
		TopP:        orDefault(req.TopP, o.defaults.TopP),
		MaxTokens:   orDefaultInt(req.MaxTokens, o.defaults.MaxTokens),
		Stop:        req.Stop,
	}
}

func (o *Orchestrator) callProvider(ctx context.Context, provider providers.Provider, providerID string, creq providers.CompletionRequest) (*providers.ChatResponse, error) {
	ctx, span := o.tracer.TraceLLMRequest(ctx, providerID, creq.Model)
	defer span.End()

	resp, err := provider.Chat(ctx, creq)
	if err != nil {
		o.tracer.RecordError(span, err)
		return nil, fmt.Errorf("provider %s: %w", providerID, err)
	}
	return resp, nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType, sessionID string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(ctx, eventbus.Event{
		Type:      eventType,
		Source:    "dialogue",
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func orDefault(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

func orDefaultInt(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func toProviderSchemas(schemas []scheduler.ToolSchema) []providers.ToolSchema {
	out := make([]providers.ToolSchema, len(schemas))
	for i, s := range schemas {
		out[i] = providers.ToolSchema{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return out
}
