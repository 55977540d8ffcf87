package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/haasonsaas/companion-kernel/internal/dialogue"
)

// Service holds the skill library and answers recall queries. Skills
// come from two places: SKILL.md files under a directory (reloaded
// lazily when any file's mtime changes, like the emotion config
// chain) and programmatic Upsert calls. It implements
// dialogue.SkillService.
type Service struct {
	logger *slog.Logger
	dir    string

	mu       sync.Mutex
	loaded   map[string]Skill // from dir, keyed by name
	manual   map[string]Skill // from Upsert, wins over loaded
	mtimes   map[string]time.Time
	scanned  bool
	lastScan time.Time
}

// NewService creates a Service. dir may be empty for a purely
// programmatic library.
func NewService(logger *slog.Logger, dir string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger.With("component", "skills"),
		dir:    dir,
		loaded: make(map[string]Skill),
		manual: make(map[string]Skill),
		mtimes: make(map[string]time.Time),
	}
}

// Upsert registers or replaces a skill by name.
func (s *Service) Upsert(skill Skill) error {
	if err := Validate(&skill); err != nil {
		return err
	}
	skill.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual[skill.Name] = skill
	return nil
}

// Delete removes a programmatically registered skill. File-backed
// skills are removed by deleting their file.
func (s *Service) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.manual[name]
	delete(s.manual, name)
	return ok
}

// List returns every known skill sorted by name.
func (s *Service) List() []Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
	out := make([]Skill, 0, len(s.loaded)+len(s.manual))
	for name, skill := range s.loaded {
		if _, shadowed := s.manual[name]; !shadowed {
			out = append(out, skill)
		}
	}
	for _, skill := range s.manual {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search ranks skills by keyword overlap between the query and each
// skill's name, description, tags, and instruction, returning the
// topK non-zero matches.
func (s *Service) Search(_ context.Context, query string, topK int) []dialogue.SkillMatch {
	if topK <= 0 {
		topK = 3
	}
	queryTokens := tokens(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var matches []Match
	for _, skill := range s.List() {
		score := overlap(queryTokens, skill)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Skill: skill, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Skill.Name < matches[j].Skill.Name
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	out := make([]dialogue.SkillMatch, len(matches))
	for i, m := range matches {
		out[i] = dialogue.SkillMatch{
			Name:        m.Skill.Name,
			Description: m.Skill.Description,
			Instruction: m.Skill.Instruction,
			Score:       m.Score,
		}
	}
	return out
}

// BuildInjectionBlock renders matches into the system-prompt block
// the orchestrator injects. Empty matches render to the empty string.
func (s *Service) BuildInjectionBlock(matches []dialogue.SkillMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant skills:\n")
	for _, m := range matches {
		b.WriteString("## " + m.Name)
		if m.Description != "" {
			b.WriteString(" — " + m.Description)
		}
		b.WriteString("\n")
		if m.Instruction != "" {
			b.WriteString(m.Instruction + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// reloadLocked rescans the skills directory if any SKILL.md changed
// since the last scan. Walks one level of subdirectories plus the dir
// itself, matching <dir>/SKILL.md and <dir>/<name>/SKILL.md.
func (s *Service) reloadLocked() {
	if s.dir == "" {
		return
	}

	paths := s.skillFiles()
	changed := !s.scanned || len(paths) != len(s.mtimes)
	if !changed {
		for _, path := range paths {
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().Equal(s.mtimes[path]) {
				changed = true
				break
			}
		}
	}
	if !changed {
		return
	}

	loaded := make(map[string]Skill, len(paths))
	mtimes := make(map[string]time.Time, len(paths))
	for _, path := range paths {
		skill, err := ParseSkillFile(path)
		if err != nil {
			s.logger.Warn("skipping unparsable skill", "path", path, "error", err)
			continue
		}
		if info, err := os.Stat(path); err == nil {
			skill.UpdatedAt = info.ModTime()
			mtimes[path] = info.ModTime()
		}
		if existing, ok := loaded[skill.Name]; ok {
			s.logger.Warn("duplicate skill name, keeping first", "name", skill.Name, "kept", existing.Path, "dropped", path)
			continue
		}
		loaded[skill.Name] = *skill
	}
	s.loaded = loaded
	s.mtimes = mtimes
	s.scanned = true
	s.lastScan = time.Now()
}

func (s *Service) skillFiles() []string {
	var paths []string
	if direct := filepath.Join(s.dir, SkillFilename); fileExists(direct) {
		paths = append(paths, direct)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return paths
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name(), SkillFilename)
		if fileExists(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// overlap scores the share of query tokens found in the skill's
// searchable text, with name/tag hits weighted double.
func overlap(queryTokens []string, skill Skill) float64 {
	primary := make(map[string]struct{})
	for _, tok := range tokens(skill.Name) {
		primary[tok] = struct{}{}
	}
	for _, tag := range skill.Tags {
		for _, tok := range tokens(tag) {
			primary[tok] = struct{}{}
		}
	}
	secondary := make(map[string]struct{})
	for _, tok := range tokens(skill.Description + " " + skill.Instruction) {
		secondary[tok] = struct{}{}
	}

	score := 0.0
	for _, tok := range queryTokens {
		if _, ok := primary[tok]; ok {
			score += 2
			continue
		}
		if _, ok := secondary[tok]; ok {
			score++
		}
	}
	return score / float64(len(queryTokens))
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
