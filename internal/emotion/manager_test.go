package emotion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// touch bumps a file's mtime far enough that coarse filesystem
// timestamp granularity can't mask the change.
func touch(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestManagerCachesPipelinePerCharacter(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, "lexicon:\n  keywords:\n    happy:\n      - [sunny, 1.0]\n")

	m := NewManager(nil, base)
	first := m.GetPipeline("alice")
	second := m.GetPipeline("alice")
	if first != second {
		t.Error("expected cached pipeline on unchanged sources")
	}
	if m.GetPipeline("bob") == first {
		t.Error("characters must not share cache entries")
	}
}

func TestManagerHotReloadOnBaseChange(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, "lexicon:\n  keywords:\n    happy:\n      - [sunny, 1.0]\n")

	m := NewManager(nil, base)
	r := m.Analyze(context.Background(), "sunny", "")
	if r.Primary != Happy {
		t.Fatalf("primary = %s, want happy", r.Primary)
	}

	writeFile(t, base, "lexicon:\n  keywords:\n    sad:\n      - [sunny, 1.0]\n")
	touch(t, base)

	r = m.Analyze(context.Background(), "sunny", "")
	if r.Primary != Sad {
		t.Fatalf("primary after reload = %s, want sad", r.Primary)
	}
}

func TestManagerCharacterOverlayOverridesBase(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, "lexicon:\n  keywords:\n    happy:\n      - [sunny, 1.0]\n")

	m := NewManager(nil, base)
	if r := m.Analyze(context.Background(), "sunny", "alice"); r.Primary != Happy {
		t.Fatalf("pre-overlay primary = %s, want happy", r.Primary)
	}

	// A new character file is a source-set change, which must
	// invalidate alice's cache on the next call.
	writeFile(t, filepath.Join(dir, "characters", "alice.yaml"),
		"lexicon:\n  keywords:\n    sad:\n      - [sunny, 2.0]\n")

	if r := m.Analyze(context.Background(), "sunny", "alice"); r.Primary != Sad {
		t.Fatalf("post-overlay primary = %s, want sad", r.Primary)
	}
	// The default profile never saw alice's overlay.
	if r := m.Analyze(context.Background(), "sunny", ""); r.Primary != Happy {
		t.Fatalf("default profile primary = %s, want happy", r.Primary)
	}
}

func TestManagerPluginOverlayMergesInGlobOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, "lexicon:\n  keywords:\n    happy:\n      - [sunny, 1.0]\n")
	writeFile(t, filepath.Join(dir, "plugins", "a", "emotion.yaml"),
		"lexicon:\n  keywords:\n    curious:\n      - [quark, 1.0]\n")

	m := NewManager(nil, base, WithPluginsGlob("plugins/*/emotion.yaml"))
	if r := m.Analyze(context.Background(), "quark", ""); r.Primary != Curious {
		t.Fatalf("plugin keyword primary = %s, want curious", r.Primary)
	}
	if r := m.Analyze(context.Background(), "sunny", ""); r.Primary != Happy {
		t.Fatalf("base keyword primary = %s, want happy", r.Primary)
	}
}

func TestManagerDisableRuleViaConfig(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, "rules:\n  disabled: [emoticon]\n")

	m := NewManager(nil, base)
	r := m.Analyze(context.Background(), "hahaha", "")
	if r.Primary == Happy {
		t.Errorf("emoticon rule scored despite being disabled: %+v", r)
	}
}

func TestManagerCustomRuleFromConfig(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "emotion.yaml")
	writeFile(t, base, `rules:
  custom:
    - name: codeword
      emotion: surprised
      weight: 3.0
      kind: contains
      patterns: [xyzzy]
`)

	m := NewManager(nil, base)
	r := m.Analyze(context.Background(), "xyzzy", "")
	if r.Primary != Surprised {
		t.Fatalf("custom rule primary = %s, want surprised", r.Primary)
	}
}

func TestMergeSemantics(t *testing.T) {
	base := FileConfig{
		Lexicon: LexiconConfig{
			Keywords:     map[string][]KeywordEntry{"happy": {{"Sunny", 1.0}}},
			Intensifiers: []string{"very"},
		},
	}
	overlay := FileConfig{
		Lexicon: LexiconConfig{
			// Case-insensitive keyword key: overrides Sunny's weight.
			Keywords:     map[string][]KeywordEntry{"happy": {{"sunny", 0.2}, {"beaming", 1.0}}},
			Intensifiers: []string{"very", "super"},
		},
	}
	merged := Merge(base, overlay)

	happy := merged.Lexicon.Keywords["happy"]
	if len(happy) != 2 {
		t.Fatalf("merged happy keywords = %v, want 2 entries", happy)
	}
	if happy[0].Weight != 0.2 {
		t.Errorf("override weight = %v, want 0.2 (last writer wins)", happy[0].Weight)
	}
	if len(merged.Lexicon.Intensifiers) != 2 {
		t.Errorf("intensifiers = %v, want union-deduped pair", merged.Lexicon.Intensifiers)
	}
}
