package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const teaSkill = `---
name: brew-tea
description: How to brew tea properly
tags: [tea, beverage]
---
Use freshly boiled water and steep for three minutes.`

func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name, SkillFilename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseSkill(t *testing.T) {
	skill, err := ParseSkill([]byte(teaSkill))
	if err != nil {
		t.Fatalf("ParseSkill error: %v", err)
	}
	if skill.Name != "brew-tea" || skill.Description == "" {
		t.Errorf("skill = %+v", skill)
	}
	if !strings.Contains(skill.Instruction, "steep") {
		t.Errorf("instruction = %q", skill.Instruction)
	}
	if len(skill.Tags) != 2 {
		t.Errorf("tags = %v", skill.Tags)
	}
}

func TestParseSkillRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no frontmatter": "just a body",
		"unclosed":       "---\nname: x",
		"missing name":   "---\ndescription: d\n---\nbody",
		"bad name":       "---\nname: Bad Name\ndescription: d\n---\nbody",
		"missing desc":   "---\nname: ok-name\n---\nbody",
		"empty file":     "",
	}
	for label, content := range cases {
		if _, err := ParseSkill([]byte(content)); err == nil {
			t.Errorf("%s: expected error", label)
		}
	}
}

func TestServiceDiscoversAndSearches(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "brew-tea", teaSkill)
	writeSkill(t, dir, "fix-bugs", `---
name: fix-bugs
description: Debugging workflow
---
Reproduce first, then bisect.`)

	s := NewService(nil, dir)
	if got := len(s.List()); got != 2 {
		t.Fatalf("List() = %d skills, want 2", got)
	}

	matches := s.Search(context.Background(), "how do I brew some tea", 3)
	if len(matches) == 0 || matches[0].Name != "brew-tea" {
		t.Fatalf("matches = %+v", matches)
	}

	block := s.BuildInjectionBlock(matches)
	if !strings.Contains(block, "brew-tea") || !strings.Contains(block, "boiled water") {
		t.Errorf("injection block = %q", block)
	}
	if s.BuildInjectionBlock(nil) != "" {
		t.Error("empty matches must render empty block")
	}
}

func TestServiceReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "brew-tea", teaSkill)

	s := NewService(nil, dir)
	if len(s.Search(context.Background(), "tea", 3)) == 0 {
		t.Fatal("initial search found nothing")
	}

	updated := strings.Replace(teaSkill, "three minutes", "five minutes", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	bumpMtime(t, path)

	matches := s.Search(context.Background(), "tea", 3)
	if len(matches) == 0 || !strings.Contains(matches[0].Instruction, "five minutes") {
		t.Errorf("reload missed file change: %+v", matches)
	}
}

func TestServiceUpsertShadowsFileSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "brew-tea", teaSkill)

	s := NewService(nil, dir)
	if err := s.Upsert(Skill{Name: "brew-tea", Description: "override", Instruction: "Cold brew only."}); err != nil {
		t.Fatal(err)
	}

	var found int
	for _, skill := range s.List() {
		if skill.Name == "brew-tea" {
			found++
			if skill.Description != "override" {
				t.Errorf("upsert did not shadow file skill: %+v", skill)
			}
		}
	}
	if found != 1 {
		t.Errorf("brew-tea appears %d times, want 1", found)
	}

	if !s.Delete("brew-tea") {
		t.Error("Delete returned false for registered skill")
	}
}

func TestServiceSkipsUnderscoreDirsAndBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "_disabled", teaSkill)
	writeSkill(t, dir, "broken", "no frontmatter here")

	s := NewService(nil, dir)
	if got := len(s.List()); got != 0 {
		t.Errorf("List() = %d skills, want 0", got)
	}
}
