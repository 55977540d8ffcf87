package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return New(nil, nil, WithRegistry(prometheus.NewRegistry()))
}

func TestScheduler_BuiltinExecute(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterBuiltin(EchoAbility{})

	result := s.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`), AbilityContext{})
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
}

func TestScheduler_UnknownAbility(t *testing.T) {
	s := newTestScheduler(t)
	result := s.Execute(context.Background(), "does_not_exist", nil, AbilityContext{})
	if result.Success {
		t.Fatal("expected failure for unknown ability")
	}
	if result.Error != "Ability not found: does_not_exist" {
		t.Errorf("unexpected error message: %q", result.Error)
	}
}

func TestScheduler_InvalidParamsRejected(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterBuiltin(EchoAbility{})

	result := s.Execute(context.Background(), "echo", json.RawMessage(`{"text": 123}`), AbilityContext{})
	if result.Success {
		t.Fatal("expected schema validation failure for wrong type")
	}
}

type fakePlugin struct {
	abilities []PluginAbility
	executed  bool
}

func (f *fakePlugin) ListAbilities() []PluginAbility { return f.abilities }
func (f *fakePlugin) Execute(_ context.Context, plugin, ability string, _ []byte, _ AbilityContext) AbilityResult {
	f.executed = true
	return AbilityResult{Success: true, Data: "plugin result"}
}

func TestScheduler_BuiltinWinsOverPlugin(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterBuiltin(EchoAbility{})
	fp := &fakePlugin{abilities: []PluginAbility{{Ability: Ability{Name: "echo"}, PluginName: "demo"}}}
	s.plugins = fp

	result := s.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`), AbilityContext{})
	if fp.executed {
		t.Error("expected builtin to win over plugin of same name, but plugin was invoked")
	}
	if !result.Success {
		t.Fatalf("expected success from builtin, got %q", result.Error)
	}
}

func TestScheduler_PluginRouting(t *testing.T) {
	s := newTestScheduler(t)
	fp := &fakePlugin{abilities: []PluginAbility{{Ability: Ability{Name: "greet"}, PluginName: "demo"}}}
	s.plugins = fp

	result := s.Execute(context.Background(), "greet", nil, AbilityContext{})
	if !fp.executed {
		t.Error("expected plugin to be invoked")
	}
	if !result.Success || result.Data != "plugin result" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestScheduler_PolicyDenial(t *testing.T) {
	s := New(nil, denyPolicy{}, WithRegistry(prometheus.NewRegistry()))
	s.RegisterBuiltin(EchoAbility{})

	result := s.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`), AbilityContext{})
	if result.Success {
		t.Fatal("expected denial")
	}
}

func TestScheduler_GetToolSchemas_FiltersDenied(t *testing.T) {
	s := New(nil, denyPolicy{}, WithRegistry(prometheus.NewRegistry()))
	s.RegisterBuiltin(EchoAbility{})

	schemas := s.GetToolSchemas()
	if len(schemas) != 0 {
		t.Errorf("expected no schemas visible under deny policy, got %d", len(schemas))
	}
}

func TestScheduler_ResultTruncation(t *testing.T) {
	s := New(nil, nil, WithMaxResultChars(5), WithRegistry(prometheus.NewRegistry()))
	s.RegisterBuiltin(longResultAbility{})

	result := s.Execute(context.Background(), "long", nil, AbilityContext{})
	text := s.Stringify(result)
	if len(text) != 5 {
		t.Errorf("expected truncated result of length 5, got %d (%q)", len(text), text)
	}
}

type denyPolicy struct{}

func (denyPolicy) Allowed(string, string) bool { return false }

type longResultAbility struct{}

func (longResultAbility) Descriptor() Ability {
	return Ability{Name: "long", Description: "returns a long string"}
}

func (longResultAbility) Execute(context.Context, []byte, AbilityContext) AbilityResult {
	return AbilityResult{Success: true, Data: "0123456789"}
}
