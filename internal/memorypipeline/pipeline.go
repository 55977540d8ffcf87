package memorypipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/companion-kernel/internal/emotion"
	"github.com/haasonsaas/companion-kernel/internal/eventbus"
)

// DefaultRecallTopK bounds recall results when the caller does not
// override it.
const DefaultRecallTopK = 5

// EmotionAnalyzer is the slice of the emotion service the pipeline
// needs for ingest-time snapshots.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text, character string) emotion.Result
}

// Pipeline owns the record store and the three layer stores, wires
// ingestion to the event bus, runs the extractor, and answers recall
// queries. Stores are eventually consistent with the bus: the
// memory.recorded event for a record always precedes that record's
// layer events, but consumers may observe it before extraction has
// finished.
type Pipeline struct {
	logger    *slog.Logger
	bus       *eventbus.Bus
	records   *RecordStore
	core      *CoreProfileStore
	facts     *SemanticFactStore
	habits    *ProceduralHabitStore
	extractor Extractor
	scorers   *ScorerRegistry
	emotion   EmotionAnalyzer
	topK      int

	subscriptions []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExtractor overrides the default RuleExtractor.
func WithExtractor(e Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithScorers overrides DefaultScorerRegistry.
func WithScorers(r *ScorerRegistry) Option {
	return func(p *Pipeline) { p.scorers = r }
}

// WithEmotionAnalyzer enables emotion-on-ingest snapshots.
func WithEmotionAnalyzer(a EmotionAnalyzer) Option {
	return func(p *Pipeline) { p.emotion = a }
}

// WithRecallTopK overrides DefaultRecallTopK.
func WithRecallTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// New creates a Pipeline publishing on bus. Call Attach to start
// consuming dialogue events.
func New(logger *slog.Logger, bus *eventbus.Bus, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		logger:    logger.With("component", "memorypipeline"),
		bus:       bus,
		records:   NewRecordStore(),
		core:      NewCoreProfileStore(),
		facts:     NewSemanticFactStore(),
		habits:    NewProceduralHabitStore(),
		extractor: RuleExtractor{},
		scorers:   DefaultScorerRegistry(),
		topK:      DefaultRecallTopK,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Records exposes the record store (read paths for admin surfaces).
func (p *Pipeline) Records() *RecordStore { return p.records }

// CoreProfiles exposes the core profile layer store.
func (p *Pipeline) CoreProfiles() *CoreProfileStore { return p.core }

// Facts exposes the semantic fact layer store.
func (p *Pipeline) Facts() *SemanticFactStore { return p.facts }

// Habits exposes the procedural habit layer store.
func (p *Pipeline) Habits() *ProceduralHabitStore { return p.habits }

// Attach subscribes the pipeline to dialogue events so every user
// message and assistant response is ingested.
func (p *Pipeline) Attach() {
	if p.bus == nil {
		return
	}
	p.subscriptions = append(p.subscriptions,
		p.bus.Subscribe("dialogue.user_message", p.onDialogueEvent("user"),
			eventbus.WithName("memory-ingest-user")),
		p.bus.Subscribe("dialogue.assistant_response", p.onDialogueEvent("assistant"),
			eventbus.WithName("memory-ingest-assistant")),
	)
}

// Detach removes the bus subscriptions added by Attach.
func (p *Pipeline) Detach() {
	for _, id := range p.subscriptions {
		p.bus.Unsubscribe(id)
	}
	p.subscriptions = nil
}

func (p *Pipeline) onDialogueEvent(role string) eventbus.Handler {
	return func(ctx context.Context, event eventbus.Event) error {
		payload, ok := event.Payload.(map[string]any)
		if !ok {
			return nil
		}
		sessionID, _ := payload["session_id"].(string)
		content, _ := payload["content"].(string)
		if content == "" {
			return nil
		}
		var metadata map[string]any
		if m, ok := payload["metadata"].(map[string]any); ok {
			metadata = m
		}
		_, err := p.Ingest(ctx, sessionID, role, content, metadata)
		return err
	}
}

// Ingest appends a record, publishes memory.recorded, optionally
// attaches an emotion snapshot, and runs extraction. The record event
// is published before extraction so consumers always see
// memory.recorded first; extraction failures are logged and produce
// no layer updates.
func (p *Pipeline) Ingest(ctx context.Context, sessionID, role, content string, metadata map[string]any) (Record, error) {
	record := p.records.Add(Record{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	})

	p.publish(ctx, "memory.recorded", sessionID, map[string]any{
		"record_id":  record.ID,
		"session_id": record.SessionID,
	})

	if p.emotion != nil {
		result := p.emotion.Analyze(ctx, content, "")
		p.publish(ctx, "memory.emotional_snapshot.attached", sessionID, map[string]any{
			"record_id":  record.ID,
			"session_id": record.SessionID,
			"emotion":    string(result.Primary),
		})
	}

	extraction, err := p.extractor.Extract(ctx, record)
	if err != nil {
		p.logger.Warn("memory extraction failed", "record_id", record.ID, "error", err)
		return record, nil
	}
	p.applyExtraction(ctx, record, extraction)
	return record, nil
}

// applyExtraction upserts each update into its layer store and emits
// the matching layer event, always after memory.recorded for the same
// record.
func (p *Pipeline) applyExtraction(ctx context.Context, record Record, extraction Extraction) {
	now := time.Now()
	for _, update := range extraction.CoreUpdates {
		profile := p.core.Upsert(update, now)
		p.publish(ctx, "memory.core.updated", record.SessionID, map[string]any{
			"record_id":  record.ID,
			"profile_id": profile.ProfileID,
			"summary":    profile.Summary,
		})
	}
	for _, update := range extraction.Facts {
		fact := p.facts.Upsert(update, now)
		p.publish(ctx, "memory.fact.upserted", record.SessionID, map[string]any{
			"record_id": record.ID,
			"fact_id":   fact.FactID,
			"subject":   fact.Subject,
			"predicate": fact.Predicate,
			"object":    fact.Object,
		})
	}
	for _, update := range extraction.Habits {
		habit := p.habits.Upsert(update, now)
		p.publish(ctx, "memory.habit.recorded", record.SessionID, map[string]any{
			"record_id": record.ID,
			"habit_id":  habit.HabitID,
			"task_type": habit.TaskType,
		})
	}
}

// Recall returns the topK highest-scoring records for query,
// optionally scoped to a session. Zero-scored records are dropped;
// ties break toward newer records, then record id, for deterministic
// output.
func (p *Pipeline) Recall(_ context.Context, query, sessionID string, limit int) []Result {
	if limit <= 0 {
		limit = p.topK
	}
	now := time.Now()
	var results []Result
	for _, record := range p.records.List(sessionID) {
		score := p.scorers.Score(query, record, now)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Record: record, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// FormatContext renders recall results into the compact system-prompt
// block the dialogue orchestrator injects. Empty results render to
// the empty string (no block is injected).
func (p *Pipeline) FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memory:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s\n", r.Record.Role, strings.TrimSpace(r.Record.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Pipeline) publish(ctx context.Context, eventType, sessionID string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, eventbus.Event{
		Type:      eventType,
		Source:    "memorypipeline",
		SessionID: sessionID,
		Payload:   payload,
	}); err != nil {
		p.logger.Warn("memory event publish failed", "event_type", eventType, "error", err)
	}
}
