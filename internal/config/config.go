package config

import "fmt"

// Config is the kernel's root configuration, mirroring the persisted
// state layout named in the specification: base settings plus
// providers, plugins, memory, emotion, per-character, and scheduler
// ("star") policy sections. The kernel treats this data as opaque
// settings; it never reaches into a concrete provider's wire format.
type Config struct {
	Version   int                        `yaml:"version" json:"version"`
	Providers ProvidersConfig            `yaml:"providers" json:"providers"`
	Plugins   PluginsConfig              `yaml:"plugins" json:"plugins"`
	Memory    MemoryConfig               `yaml:"memory" json:"memory"`
	Emotion   EmotionConfig              `yaml:"emotion" json:"emotion"`
	Session   SessionConfig              `yaml:"session" json:"session"`
	Scheduler SchedulerConfig            `yaml:"scheduler" json:"scheduler"`
	Characters map[string]CharacterConfig `yaml:"characters,omitempty" json:"characters,omitempty"`
}

// ProvidersConfig selects the default LLM provider and lists per-provider entries.
type ProvidersConfig struct {
	Default string                   `yaml:"default" json:"default"`
	Entries map[string]ProviderEntry `yaml:"entries,omitempty" json:"entries,omitempty"`
}

// ProviderEntry configures one provider adapter.
type ProviderEntry struct {
	Kind    string `yaml:"kind" json:"kind"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
}

// PluginsConfig controls plugin discovery and per-plugin overrides.
type PluginsConfig struct {
	Dir         string                 `yaml:"dir" json:"dir"`
	InstallDeps bool                   `yaml:"install_deps" json:"install_deps"`
	Entries     map[string]PluginEntry `yaml:"entries,omitempty" json:"entries,omitempty"`
}

// PluginEntry is the per-plugin "star" toggle the capability scheduler
// consults for enable/allow-tools/per-ability policy.
type PluginEntry struct {
	Enabled     bool            `yaml:"enabled" json:"enabled"`
	AllowTools  bool            `yaml:"allow_tools" json:"allow_tools"`
	Abilities   map[string]bool `yaml:"abilities,omitempty" json:"abilities,omitempty"`
	Permissions []string        `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Config      map[string]any  `yaml:"config,omitempty" json:"config,omitempty"`
}

// MemoryConfig configures the layered memory pipeline.
type MemoryConfig struct {
	RecallTopK      int    `yaml:"recall_top_k" json:"recall_top_k"`
	EmotionOnIngest bool   `yaml:"emotion_on_ingest" json:"emotion_on_ingest"`
	Extractor       string `yaml:"extractor" json:"extractor"` // "rule" | "llm"
}

// EmotionConfig points at the hot-reloadable config chain.
type EmotionConfig struct {
	BaseConfigPath string `yaml:"base_config_path" json:"base_config_path"`
	PluginsGlob    string `yaml:"plugins_glob,omitempty" json:"plugins_glob,omitempty"`
	CharactersDir  string `yaml:"characters_dir,omitempty" json:"characters_dir,omitempty"`
}

// SessionConfig sets session-service defaults.
type SessionConfig struct {
	MaxHistory int `yaml:"max_history" json:"max_history"`
}

// SchedulerConfig sets capability-scheduler-wide defaults; per-source
// policy lives in PluginsConfig.Entries and built-in Stars below.
type SchedulerConfig struct {
	MaxResultChars int                   `yaml:"max_result_chars" json:"max_result_chars"`
	Stars          map[string]StarPolicy `yaml:"stars,omitempty" json:"stars,omitempty"`
}

// StarPolicy is the enable/allow-tools/per-ability toggle set the
// glossary calls a "star": a configurable unit (plugin or built-in
// group) the capability scheduler gates on.
type StarPolicy struct {
	Enabled    bool            `yaml:"enabled" json:"enabled"`
	AllowTools bool            `yaml:"allow_tools" json:"allow_tools"`
	Abilities  map[string]bool `yaml:"abilities,omitempty" json:"abilities,omitempty"`
}

// CharacterConfig carries per-character persona and emotion overlay settings.
type CharacterConfig struct {
	SystemPrompt      string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	EmotionConfigPath string `yaml:"emotion_config_path,omitempty" json:"emotion_config_path,omitempty"`
}

// Load reads path (resolving $include directives), decodes it into a
// Config with KnownFields enforcement, and validates its version.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if issues := pluginValidationIssues(cfg); len(issues) > 0 {
		return nil, fmt.Errorf("config: plugin validation failed: %v", issues)
	}
	return cfg, nil
}

// Default returns a Config with the kernel's built-in defaults, for
// callers that want to run without a config file (e.g. the demo CLI).
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Providers: ProvidersConfig{
			Default: "demo",
		},
		Plugins: PluginsConfig{
			Dir: "plugins",
		},
		Memory: MemoryConfig{
			RecallTopK: 5,
			Extractor:  "rule",
		},
		Session: SessionConfig{
			MaxHistory: 50,
		},
		Scheduler: SchedulerConfig{
			MaxResultChars: 4000,
		},
	}
}
