package emotion

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/companion-kernel/internal/eventbus"
)

// Manager loads the per-character emotion config chain (base yaml ->
// plugin yamls matching a glob -> characters/<name>.yaml) and caches
// one built pipeline per character. The cache is invalidated lazily:
// each GetPipeline call re-stats every source file and rebuilds when
// any mtime changed or the set of source files changed. There is no
// background watcher; staleness is bounded by the next call.
type Manager struct {
	logger        *slog.Logger
	bus           *eventbus.Bus
	basePath      string
	pluginsGlob   string
	charactersDir string

	mu    sync.Mutex
	cache map[string]*cachedPipeline
}

type cachedPipeline struct {
	pipeline *Pipeline
	sources  []string
	mtimes   map[string]time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerBus wires the bus built pipelines publish analysis
// events to.
func WithManagerBus(bus *eventbus.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithPluginsGlob sets the glob for plugin emotion overlays, e.g.
// "plugins/*/emotion.yaml" relative to the base config's directory
// (or absolute).
func WithPluginsGlob(glob string) ManagerOption {
	return func(m *Manager) { m.pluginsGlob = glob }
}

// WithCharactersDir sets the directory holding per-character overlay
// files named <character>.yaml. Defaults to "characters" next to the
// base config.
func WithCharactersDir(dir string) ManagerOption {
	return func(m *Manager) { m.charactersDir = dir }
}

// NewManager creates a Manager rooted at basePath (the base emotion
// yaml, which need not exist yet).
func NewManager(logger *slog.Logger, basePath string, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:   logger.With("component", "emotion"),
		basePath: basePath,
		cache:    make(map[string]*cachedPipeline),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.charactersDir == "" && basePath != "" {
		m.charactersDir = filepath.Join(filepath.Dir(basePath), "characters")
	}
	return m
}

// GetPipeline returns the composed pipeline for character (empty for
// the default profile), rebuilding it if any config source changed
// since the cached build.
func (m *Manager) GetPipeline(character string) *Pipeline {
	key := character
	if key == "" {
		key = "default"
	}

	sources := m.resolveSources(character)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[key]; ok && !sourcesChanged(cached, sources) {
		return cached.pipeline
	}

	pipeline := m.build(sources)
	m.cache[key] = &cachedPipeline{
		pipeline: pipeline,
		sources:  sources,
		mtimes:   statAll(sources),
	}
	return pipeline
}

// Analyze is a convenience over GetPipeline(character).Analyze.
func (m *Manager) Analyze(ctx context.Context, text, character string) Result {
	return m.GetPipeline(character).Analyze(ctx, text)
}

// resolveSources returns the ordered config chain for character:
// base, then plugin overlays in sorted path order, then the character
// overlay. Missing files are excluded (so their later appearance is a
// set change that invalidates the cache).
func (m *Manager) resolveSources(character string) []string {
	var sources []string
	if m.basePath != "" && fileExists(m.basePath) {
		sources = append(sources, m.basePath)
	}
	if m.pluginsGlob != "" {
		glob := m.pluginsGlob
		if !filepath.IsAbs(glob) && m.basePath != "" {
			glob = filepath.Join(filepath.Dir(m.basePath), glob)
		}
		matches, err := filepath.Glob(glob)
		if err != nil {
			m.logger.Warn("bad emotion plugins glob", "glob", m.pluginsGlob, "error", err)
		} else {
			sort.Strings(matches)
			sources = append(sources, matches...)
		}
	}
	if character != "" && m.charactersDir != "" {
		path := filepath.Join(m.charactersDir, character+".yaml")
		if fileExists(path) {
			sources = append(sources, path)
		}
	}
	return sources
}

func (m *Manager) build(sources []string) *Pipeline {
	configs := make([]FileConfig, 0, len(sources))
	for _, path := range sources {
		cfg, err := LoadFileConfig(path)
		if err != nil {
			m.logger.Warn("skipping unreadable emotion config", "path", path, "error", err)
			continue
		}
		configs = append(configs, cfg)
	}

	var merged FileConfig
	if len(configs) > 0 {
		merged = Merge(configs[0], configs[1:]...)
	}

	lex := buildLexicon(merged)
	rules := buildRules(merged, lex)

	var opts []PipelineOption
	if m.bus != nil {
		opts = append(opts, WithBus(m.bus))
	}
	return NewPipeline(rules, opts...)
}

func sourcesChanged(cached *cachedPipeline, sources []string) bool {
	if len(cached.sources) != len(sources) {
		return true
	}
	for i, path := range sources {
		if cached.sources[i] != path {
			return true
		}
	}
	for _, path := range sources {
		info, err := os.Stat(path)
		if err != nil {
			return true
		}
		if !info.ModTime().Equal(cached.mtimes[path]) {
			return true
		}
	}
	return false
}

func statAll(sources []string) map[string]time.Time {
	mtimes := make(map[string]time.Time, len(sources))
	for _, path := range sources {
		if info, err := os.Stat(path); err == nil {
			mtimes[path] = info.ModTime()
		}
	}
	return mtimes
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
