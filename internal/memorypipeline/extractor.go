package memorypipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/companion-kernel/internal/providers"
)

// Extractor derives structured memory updates from a record. An
// extractor that cannot extract anything returns an empty Extraction
// and a nil error; errors are reserved for infrastructure failures
// and are logged by the pipeline, never surfaced to the conversation.
type Extractor interface {
	Extract(ctx context.Context, record Record) (Extraction, error)
}

// RuleExtractor mines explicit hints from the record's metadata map:
// the keys "core_updates", "facts", and "habits" carry lists of
// update objects placed there by upstream components (plugins, the
// operation subsystem, tests).
type RuleExtractor struct{}

// Extract implements Extractor.
func (RuleExtractor) Extract(_ context.Context, record Record) (Extraction, error) {
	if len(record.Metadata) == 0 {
		return Extraction{}, nil
	}
	var extraction Extraction
	for _, item := range metadataList(record.Metadata, "core_updates") {
		if update, ok := parseCoreUpdate(item, record); ok {
			extraction.CoreUpdates = append(extraction.CoreUpdates, update)
		}
	}
	for _, item := range metadataList(record.Metadata, "facts") {
		if update, ok := parseFactUpdate(item, record); ok {
			extraction.Facts = append(extraction.Facts, update)
		}
	}
	for _, item := range metadataList(record.Metadata, "habits") {
		if update, ok := parseHabitUpdate(item, record); ok {
			extraction.Habits = append(extraction.Habits, update)
		}
	}
	return extraction, nil
}

func metadataList(metadata map[string]any, key string) []any {
	value, ok := metadata[key]
	if !ok {
		return nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	return list
}

func parseCoreUpdate(item any, record Record) (CoreProfileUpdate, bool) {
	switch v := item.(type) {
	case string:
		summary := strings.TrimSpace(v)
		if summary == "" {
			return CoreProfileUpdate{}, false
		}
		return CoreProfileUpdate{Summary: summary, SessionID: record.SessionID}, true
	case map[string]any:
		summary := stringField(v, "summary")
		if summary == "" {
			return CoreProfileUpdate{}, false
		}
		return CoreProfileUpdate{
			Summary:   summary,
			ProfileID: stringField(v, "profile_id"),
			SessionID: firstNonEmpty(stringField(v, "session_id"), record.SessionID),
		}, true
	default:
		return CoreProfileUpdate{}, false
	}
}

func parseFactUpdate(item any, record Record) (SemanticFactUpdate, bool) {
	v, ok := item.(map[string]any)
	if !ok {
		return SemanticFactUpdate{}, false
	}
	subject := firstNonEmpty(stringField(v, "subject"), stringField(v, "entity"))
	predicate := firstNonEmpty(stringField(v, "predicate"), stringField(v, "attribute"))
	object := firstNonEmpty(stringField(v, "object"), stringField(v, "value"))
	if subject == "" || predicate == "" || object == "" {
		return SemanticFactUpdate{}, false
	}
	return SemanticFactUpdate{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		FactID:    stringField(v, "fact_id"),
		SessionID: firstNonEmpty(stringField(v, "session_id"), record.SessionID),
	}, true
}

func parseHabitUpdate(item any, record Record) (ProceduralHabitUpdate, bool) {
	v, ok := item.(map[string]any)
	if !ok {
		return ProceduralHabitUpdate{}, false
	}
	taskType := firstNonEmpty(stringField(v, "task_type"), stringField(v, "type"))
	instruction := firstNonEmpty(stringField(v, "instruction"), stringField(v, "rule"))
	if taskType == "" || instruction == "" {
		return ProceduralHabitUpdate{}, false
	}
	return ProceduralHabitUpdate{
		TaskType:    taskType,
		Instruction: instruction,
		HabitID:     stringField(v, "habit_id"),
		SessionID:   firstNonEmpty(stringField(v, "session_id"), record.SessionID),
	}, true
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

const llmSystemPrompt = "You are a memory extraction assistant. Return strict JSON only, without commentary."

// LLMExtractor submits each record to a provider and parses a strict
// JSON schema back. Any parse or provider failure yields an empty
// extraction; the extractor never synthesizes plausible content.
type LLMExtractor struct {
	logger      *slog.Logger
	provider    providers.Provider
	model       string
	temperature float64
	maxTokens   int
}

// NewLLMExtractor builds an LLM extractor against provider/model.
func NewLLMExtractor(logger *slog.Logger, provider providers.Provider, model string) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		logger:      logger.With("component", "memory_llm_extractor"),
		provider:    provider,
		model:       model,
		temperature: 0.2,
		maxTokens:   800,
	}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, record Record) (Extraction, error) {
	resp, err := e.provider.Chat(ctx, providers.CompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Messages: []providers.Message{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: e.buildPrompt(record)},
		},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("llm extraction: %w", err)
	}
	return e.parse(resp.Content, record), nil
}

func (e *LLMExtractor) buildPrompt(record Record) string {
	metadata, _ := json.Marshal(record.Metadata)
	var b strings.Builder
	b.WriteString("Extract core profile updates, semantic facts, and procedural habits from the message.\n")
	b.WriteString("Return JSON with keys: core_updates, facts, habits.\n")
	b.WriteString("core_updates: list of {summary, profile_id?}\n")
	b.WriteString("facts: list of {subject, predicate, object}\n")
	b.WriteString("habits: list of {task_type, instruction}\n")
	b.WriteString("If nothing, return empty lists. Output JSON only.\n\n")
	fmt.Fprintf(&b, "Session: %s\nRole: %s\nMetadata: %s\nMessage:\n%s\n",
		record.SessionID, record.Role, metadata, record.Content)
	return b.String()
}

// parse decodes the model's output. Markdown fences are tolerated by
// stripping; anything else unparsable yields an empty extraction.
func (e *LLMExtractor) parse(content string, record Record) Extraction {
	payload, ok := safeJSON(content)
	if !ok {
		e.logger.Warn("llm extraction returned unparsable output", "record_id", record.ID)
		return Extraction{}
	}
	var extraction Extraction
	for _, item := range metadataList(payload, "core_updates") {
		if update, ok := parseCoreUpdate(item, record); ok {
			extraction.CoreUpdates = append(extraction.CoreUpdates, update)
		}
	}
	for _, item := range metadataList(payload, "facts") {
		if update, ok := parseFactUpdate(item, record); ok {
			extraction.Facts = append(extraction.Facts, update)
		}
	}
	for _, item := range metadataList(payload, "habits") {
		if update, ok := parseHabitUpdate(item, record); ok {
			extraction.Habits = append(extraction.Habits, update)
		}
	}
	return extraction
}

// safeJSON decodes content as a JSON object, stripping ```json fences
// and falling back to the outermost {...} span.
func safeJSON(content string) (map[string]any, bool) {
	cleaned := strings.TrimSpace(content)
	if cleaned == "" {
		return nil, false
	}
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.Trim(cleaned, "`")
		if rest, ok := strings.CutPrefix(cleaned, "json"); ok {
			cleaned = strings.TrimSpace(rest)
		}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return payload, true
	}
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err == nil {
			return payload, true
		}
	}
	return nil, false
}
