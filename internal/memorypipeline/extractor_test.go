package memorypipeline

import (
	"context"
	"testing"

	"github.com/haasonsaas/companion-kernel/internal/providers"
)

func TestRuleExtractorMinesMetadata(t *testing.T) {
	record := Record{SessionID: "s1", Role: "user", Content: "hello", Metadata: factMetadata()}
	extraction, err := (RuleExtractor{}).Extract(context.Background(), record)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if len(extraction.CoreUpdates) != 1 || extraction.CoreUpdates[0].ProfileID != "profile-1" {
		t.Errorf("core updates = %+v", extraction.CoreUpdates)
	}
	if len(extraction.Facts) != 1 || extraction.Facts[0].Object != "tea" {
		t.Errorf("facts = %+v", extraction.Facts)
	}
	if len(extraction.Habits) != 1 || extraction.Habits[0].TaskType != "coding" {
		t.Errorf("habits = %+v", extraction.Habits)
	}
	if extraction.Facts[0].SessionID != "s1" {
		t.Errorf("fact session = %q, want record's session", extraction.Facts[0].SessionID)
	}
}

func TestRuleExtractorEmptyMetadata(t *testing.T) {
	extraction, err := (RuleExtractor{}).Extract(context.Background(), Record{Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !extraction.Empty() {
		t.Errorf("extraction = %+v, want empty", extraction)
	}
}

func TestRuleExtractorAlternateFieldNames(t *testing.T) {
	record := Record{Metadata: map[string]any{
		"facts":  []any{map[string]any{"entity": "User", "attribute": "drinks", "value": "coffee"}},
		"habits": []any{map[string]any{"type": "review", "rule": "be brief"}},
	}}
	extraction, _ := (RuleExtractor{}).Extract(context.Background(), record)
	if len(extraction.Facts) != 1 || extraction.Facts[0].Predicate != "drinks" {
		t.Errorf("facts = %+v", extraction.Facts)
	}
	if len(extraction.Habits) != 1 || extraction.Habits[0].Instruction != "be brief" {
		t.Errorf("habits = %+v", extraction.Habits)
	}
}

// scriptedProvider returns canned content for LLM extractor tests.
type scriptedProvider struct {
	content string
	err     error
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []string    { return []string{"scripted-1"} }
func (p *scriptedProvider) SupportsTools() bool { return false }

func (p *scriptedProvider) TestConnection(context.Context) providers.ConnectionStatus {
	return providers.ConnectionStatus{OK: true}
}

func (p *scriptedProvider) Chat(context.Context, providers.CompletionRequest) (*providers.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.content, Model: "scripted-1"}, nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req providers.CompletionRequest) (<-chan providers.CompletionChunk, error) {
	ch := make(chan providers.CompletionChunk, 2)
	ch <- providers.CompletionChunk{Delta: p.content}
	ch <- providers.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestLLMExtractorParsesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{content: "```json\n{\"core_updates\": [], \"facts\": [{\"subject\": \"User\", \"predicate\": \"likes\", \"object\": \"tea\"}], \"habits\": []}\n```"}
	e := NewLLMExtractor(nil, provider, "scripted-1")
	extraction, err := e.Extract(context.Background(), Record{SessionID: "s", Content: "I like tea"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if len(extraction.Facts) != 1 || extraction.Facts[0].Object != "tea" {
		t.Errorf("facts = %+v", extraction.Facts)
	}
}

func TestLLMExtractorUnparsableYieldsEmpty(t *testing.T) {
	provider := &scriptedProvider{content: "Sure! The user seems to like tea."}
	e := NewLLMExtractor(nil, provider, "scripted-1")
	extraction, err := e.Extract(context.Background(), Record{Content: "I like tea"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !extraction.Empty() {
		t.Errorf("extraction = %+v, want empty on unparsable output", extraction)
	}
}

func TestLLMExtractorCommentaryAroundJSON(t *testing.T) {
	provider := &scriptedProvider{content: "Here you go: {\"facts\": [{\"subject\": \"a\", \"predicate\": \"b\", \"object\": \"c\"}]} hope that helps"}
	e := NewLLMExtractor(nil, provider, "scripted-1")
	extraction, _ := e.Extract(context.Background(), Record{})
	if len(extraction.Facts) != 1 {
		t.Errorf("facts = %+v, want outermost-braces fallback to parse", extraction.Facts)
	}
}
