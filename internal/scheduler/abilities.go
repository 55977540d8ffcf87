package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// EchoAbility is a minimal built-in demonstrating the BuiltinAbility
// contract; used by the demo CLI and in tests alongside an equivalent
// plugin-side "echo_python" ability to exercise precedence rules.
type EchoAbility struct{}

// Descriptor implements BuiltinAbility.
func (EchoAbility) Descriptor() Ability {
	return Ability{
		Name:        "echo",
		Description: "Echoes the given text back unchanged.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {"text": {"type": "string"}},
  "required": ["text"]
}`),
	}
}

// Execute implements BuiltinAbility.
func (EchoAbility) Execute(_ context.Context, params []byte, _ AbilityContext) AbilityResult {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return AbilityResult{Success: false, Error: fmt.Sprintf("invalid params: %v", err)}
	}
	return AbilityResult{Success: true, Data: map[string]any{"text": input.Text}}
}

var (
	emailRegex = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRegex   = regexp.MustCompile(`https?://[^\s]+`)
)

// FactsExtractAbility extracts simple structured facts (emails, URLs)
// from text via regex heuristics. Grounded on the teacher's
// internal/tools/facts/extract.go, adapted to the scheduler's
// BuiltinAbility contract.
type FactsExtractAbility struct{}

// Descriptor implements BuiltinAbility.
func (FactsExtractAbility) Descriptor() Ability {
	return Ability{
		Name:        "facts_extract",
		Description: "Extracts structured facts (emails, URLs) from text.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {"text": {"type": "string"}},
  "required": ["text"]
}`),
	}
}

// Execute implements BuiltinAbility.
func (FactsExtractAbility) Execute(_ context.Context, params []byte, _ AbilityContext) AbilityResult {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return AbilityResult{Success: false, Error: fmt.Sprintf("invalid params: %v", err)}
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return AbilityResult{Success: false, Error: "text is required"}
	}

	seen := map[string]struct{}{}
	var facts []map[string]string
	add := func(kind, value string) {
		key := kind + ":" + value
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		facts = append(facts, map[string]string{"type": kind, "value": value})
	}
	for _, m := range emailRegex.FindAllString(text, -1) {
		add("email", m)
	}
	for _, m := range urlRegex.FindAllString(text, -1) {
		add("url", m)
	}

	return AbilityResult{Success: true, Data: map[string]any{"facts": facts}}
}
