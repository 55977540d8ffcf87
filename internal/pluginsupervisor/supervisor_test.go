package pluginsupervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/companion-kernel/internal/scheduler"
)

func TestManifest_Validate(t *testing.T) {
	cases := []struct {
		name string
		m    Manifest
		ok   bool
	}{
		{"valid", Manifest{Name: "demo-plugin", Version: "1.0.0", Runtime: RuntimeInfo{Entry: "./run.sh"}}, true},
		{"missing name", Manifest{Version: "1.0.0", Runtime: RuntimeInfo{Entry: "./run.sh"}}, false},
		{"bad name chars", Manifest{Name: "Demo_Plugin!", Version: "1.0.0", Runtime: RuntimeInfo{Entry: "./run.sh"}}, false},
		{"missing entry", Manifest{Name: "demo", Version: "1.0.0"}, false},
		{"http missing url", Manifest{Name: "demo", Version: "1.0.0", Runtime: RuntimeInfo{Entry: "x", Transport: TransportHTTP}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.m.Validate()
			if c.ok && err != nil {
				t.Errorf("expected valid, got error %v", err)
			}
			if !c.ok && err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSupervisor_Discover(t *testing.T) {
	dir := t.TempDir()

	writeManifest(t, dir, "good-plugin", Manifest{Name: "good-plugin", Version: "1.0.0", Runtime: RuntimeInfo{Entry: "run.sh"}})
	writeManifest(t, dir, "Bad Name", Manifest{Name: "Bad Name", Version: "1.0.0", Runtime: RuntimeInfo{Entry: "run.sh"}})
	if err := os.MkdirAll(filepath.Join(dir, "_disabled"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "not-a-plugin"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := New(nil, dir)
	manifests, err := s.Discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("expected exactly 1 valid manifest, got %d", len(manifests))
	}
	if manifests[0].Name != "good-plugin" {
		t.Errorf("unexpected manifest: %+v", manifests[0])
	}
}

func TestSupervisor_DiscoverMissingDir(t *testing.T) {
	s := New(nil, filepath.Join(t.TempDir(), "does-not-exist"))
	manifests, err := s.Discover()
	if err != nil {
		t.Fatalf("expected no error for missing plugins dir, got %v", err)
	}
	if manifests != nil {
		t.Errorf("expected nil manifests, got %v", manifests)
	}
}

func writeManifest(t *testing.T, root, subdir string, m Manifest) {
	t.Helper()
	dir := filepath.Join(root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeTransport is an in-memory Transport double used to exercise the
// supervisor's execute/lifecycle logic without a real subprocess.
type fakeTransport struct {
	connected bool
	calls     []string
	response  json.RawMessage
	err       error
}

func (f *fakeTransport) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeTransport) Close() error                  { f.connected = false; return nil }
func (f *fakeTransport) Notifications() <-chan *RPCNotification { return make(chan *RPCNotification) }
func (f *fakeTransport) Connected() bool               { return f.connected }
func (f *fakeTransport) Call(_ context.Context, method string, _ any, _ time.Duration) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newRunningSupervisor(name string, abilities []ManifestAbility, ft *fakeTransport) *Supervisor {
	s := New(nil, "")
	s.plugins[name] = &loadedPlugin{
		manifest:  Manifest{Name: name},
		transport: ft,
		abilities: abilities,
		state:     StateRunning,
	}
	for _, a := range abilities {
		s.table[a.Name] = name
	}
	return s
}

func TestSupervisor_ListAbilities(t *testing.T) {
	ft := &fakeTransport{connected: true}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "greet"}}, ft)

	abilities := s.ListAbilities()
	if len(abilities) != 1 || abilities[0].Name != "greet" || abilities[0].PluginName != "demo" {
		t.Fatalf("unexpected abilities: %+v", abilities)
	}
}

func TestSupervisor_Execute_Success(t *testing.T) {
	ft := &fakeTransport{connected: true, response: json.RawMessage(`{"success":true,"data":{"text":"hi"}}`)}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "echo_python"}}, ft)

	result := s.Execute(context.Background(), "demo", "echo_python", []byte(`{"text":"hi"}`), scheduler.AbilityContext{})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(ft.calls) != 1 || ft.calls[0] != "execute" {
		t.Errorf("expected one execute call, got %v", ft.calls)
	}
}

func TestSupervisor_Execute_PluginNotRunning(t *testing.T) {
	s := New(nil, "")
	result := s.Execute(context.Background(), "ghost", "anything", nil, scheduler.AbilityContext{})
	if result.Success {
		t.Fatal("expected failure for unloaded plugin")
	}
	if result.Error != "Plugin not running: ghost" {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestSupervisor_Execute_CrashMidSession(t *testing.T) {
	ft := &fakeTransport{connected: true, response: json.RawMessage(`{"success":true}`)}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "echo_python"}}, ft)

	first := s.Execute(context.Background(), "demo", "echo_python", nil, scheduler.AbilityContext{})
	if !first.Success {
		t.Fatalf("expected first execute to succeed, got %+v", first)
	}

	ft.connected = false
	ft.err = errConnReset{}

	second := s.Execute(context.Background(), "demo", "echo_python", nil, scheduler.AbilityContext{})
	if second.Success {
		t.Fatal("expected second execute to fail after crash")
	}
	if state, ok := s.State("demo"); !ok || state != StateStopped {
		t.Errorf("expected plugin state Stopped after crash, got %v", state)
	}
}

type errConnReset struct{}

func (errConnReset) Error() string { return "connection reset by peer" }

func TestSupervisor_RegisterAbilities_Collision(t *testing.T) {
	s := New(nil, "")
	if err := s.registerAbilities("plugin-a", []ManifestAbility{{Name: "shared"}}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := s.registerAbilities("plugin-b", []ManifestAbility{{Name: "shared"}}); err == nil {
		t.Fatal("expected collision error when a second plugin declares the same ability name")
	}
}

func TestSupervisor_Unload_RemovesAbilities(t *testing.T) {
	ft := &fakeTransport{connected: true, response: json.RawMessage(`{}`)}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "greet"}}, ft)

	if err := s.Unload(context.Background(), "demo"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(s.ListAbilities()) != 0 {
		t.Error("expected no abilities after unload")
	}
	if state, ok := s.State("demo"); !ok || state != StateStopped {
		t.Errorf("expected Stopped state after unload, got %v", state)
	}
	result := s.Execute(context.Background(), "demo", "greet", nil, scheduler.AbilityContext{})
	if result.Success {
		t.Error("expected execute against unloaded plugin to fail")
	}
}

func TestSupervisor_Load_IdempotentWhileRunning(t *testing.T) {
	ft := &fakeTransport{connected: true}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "greet"}}, ft)

	// A second load of a running plugin is a no-op: no new transport
	// is spawned and the ability table is unchanged.
	m := Manifest{
		Name:    "demo",
		Version: "1.0.0",
		Runtime: RuntimeInfo{Entry: "./demo"},
	}
	if err := s.Load(context.Background(), m, nil, nil); err != nil {
		t.Fatalf("re-load: %v", err)
	}
	if len(ft.calls) != 0 {
		t.Errorf("re-load spoke to the existing transport: %v", ft.calls)
	}
	if got := len(s.ListAbilities()); got != 1 {
		t.Errorf("ability mappings = %d, want exactly 1", got)
	}
	if state, _ := s.State("demo"); state != StateRunning {
		t.Errorf("state = %v, want Running", state)
	}
}

func TestSupervisor_Execute_CrashErrorIsNamed(t *testing.T) {
	ft := &fakeTransport{connected: true, response: json.RawMessage(`{"success":true}`)}
	s := newRunningSupervisor("demo", []ManifestAbility{{Name: "echo_python"}}, ft)

	ft.connected = false
	ft.err = errConnReset{}

	result := s.Execute(context.Background(), "demo", "echo_python", nil, scheduler.AbilityContext{})
	if result.Error != "Plugin not running: demo" {
		t.Errorf("error = %q, want the named plugin-not-running message", result.Error)
	}
}
