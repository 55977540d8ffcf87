package emotion

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape of one emotion config source (base
// file, plugin overlay, or character overlay). Sources compose by
// ordered overlay; see Merge.
type FileConfig struct {
	Lexicon LexiconConfig `yaml:"lexicon"`
	Rules   RulesConfig   `yaml:"rules"`
}

// LexiconConfig is the lexicon section of a FileConfig. Keyword maps
// are keyed by emotion name; each entry is [keyword, weight] or a bare
// keyword string (weight 1.0).
type LexiconConfig struct {
	Keywords      map[string][]KeywordEntry `yaml:"keywords,omitempty"`
	Intensifiers  []string                  `yaml:"intensifiers,omitempty"`
	Diminishers   []string                  `yaml:"diminishers,omitempty"`
	Negations     []string                  `yaml:"negations,omitempty"`
	PositiveHints []string                  `yaml:"positive_hints,omitempty"`
	NegativeHints []string                  `yaml:"negative_hints,omitempty"`
}

// KeywordEntry decodes either "keyword" or ["keyword", weight].
type KeywordEntry struct {
	Text   string
	Weight float64
}

// UnmarshalYAML accepts both scalar and [text, weight] forms.
func (k *KeywordEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		k.Text = node.Value
		k.Weight = 1.0
		return nil
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("keyword entry must be [text, weight], got %d elements", len(node.Content))
		}
		if err := node.Content[0].Decode(&k.Text); err != nil {
			return err
		}
		return node.Content[1].Decode(&k.Weight)
	default:
		return fmt.Errorf("keyword entry must be a string or [text, weight]")
	}
}

// RulesConfig enables/disables built-in rules and declares custom
// pattern rules.
type RulesConfig struct {
	Enabled  []string           `yaml:"enabled,omitempty"`
	Disabled []string           `yaml:"disabled,omitempty"`
	Custom   []CustomRuleConfig `yaml:"custom,omitempty"`
}

// CustomRuleConfig declares one PatternRule from configuration.
type CustomRuleConfig struct {
	Name     string   `yaml:"name"`
	Emotion  string   `yaml:"emotion"`
	Weight   float64  `yaml:"weight,omitempty"`
	Patterns []string `yaml:"patterns"`
	Kind     string   `yaml:"kind,omitempty"`     // "regex" (default) | "contains"
	Priority int      `yaml:"priority,omitempty"` // default PriorityCustomDefault
}

// LoadFileConfig reads and decodes one YAML source.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read emotion config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse emotion config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge composes base with overlays in order: later sources override
// earlier ones. List fields union-dedup preserving first-seen order;
// keyword maps merge per emotion by case-insensitive keyword with the
// later weight winning; rule lists union-dedup and custom rules with
// the same name are replaced by the later declaration.
func Merge(base FileConfig, overlays ...FileConfig) FileConfig {
	merged := FileConfig{
		Lexicon: LexiconConfig{
			Keywords:      cloneKeywords(base.Lexicon.Keywords),
			Intensifiers:  append([]string(nil), base.Lexicon.Intensifiers...),
			Diminishers:   append([]string(nil), base.Lexicon.Diminishers...),
			Negations:     append([]string(nil), base.Lexicon.Negations...),
			PositiveHints: append([]string(nil), base.Lexicon.PositiveHints...),
			NegativeHints: append([]string(nil), base.Lexicon.NegativeHints...),
		},
		Rules: RulesConfig{
			Enabled:  append([]string(nil), base.Rules.Enabled...),
			Disabled: append([]string(nil), base.Rules.Disabled...),
			Custom:   append([]CustomRuleConfig(nil), base.Rules.Custom...),
		},
	}

	for _, overlay := range overlays {
		merged.Lexicon.Keywords = mergeKeywords(merged.Lexicon.Keywords, overlay.Lexicon.Keywords)
		merged.Lexicon.Intensifiers = mergeList(merged.Lexicon.Intensifiers, overlay.Lexicon.Intensifiers)
		merged.Lexicon.Diminishers = mergeList(merged.Lexicon.Diminishers, overlay.Lexicon.Diminishers)
		merged.Lexicon.Negations = mergeList(merged.Lexicon.Negations, overlay.Lexicon.Negations)
		merged.Lexicon.PositiveHints = mergeList(merged.Lexicon.PositiveHints, overlay.Lexicon.PositiveHints)
		merged.Lexicon.NegativeHints = mergeList(merged.Lexicon.NegativeHints, overlay.Lexicon.NegativeHints)
		merged.Rules.Enabled = mergeList(merged.Rules.Enabled, overlay.Rules.Enabled)
		merged.Rules.Disabled = mergeList(merged.Rules.Disabled, overlay.Rules.Disabled)
		merged.Rules.Custom = mergeCustomRules(merged.Rules.Custom, overlay.Rules.Custom)
	}
	return merged
}

func mergeList(base, additions []string) []string {
	seen := make(map[string]struct{}, len(base))
	merged := append([]string(nil), base...)
	for _, item := range base {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		merged = append(merged, item)
	}
	return merged
}

func cloneKeywords(m map[string][]KeywordEntry) map[string][]KeywordEntry {
	if m == nil {
		return nil
	}
	out := make(map[string][]KeywordEntry, len(m))
	for emotion, entries := range m {
		out[emotion] = append([]KeywordEntry(nil), entries...)
	}
	return out
}

func mergeKeywords(base, additions map[string][]KeywordEntry) map[string][]KeywordEntry {
	if len(additions) == 0 {
		return base
	}
	merged := cloneKeywords(base)
	if merged == nil {
		merged = make(map[string][]KeywordEntry)
	}
	for emotion, entries := range additions {
		existing := merged[emotion]
		index := make(map[string]int, len(existing))
		for i, e := range existing {
			index[strings.ToLower(e.Text)] = i
		}
		for _, entry := range entries {
			key := strings.ToLower(entry.Text)
			if i, ok := index[key]; ok {
				existing[i] = entry
				continue
			}
			index[key] = len(existing)
			existing = append(existing, entry)
		}
		merged[emotion] = existing
	}
	return merged
}

func mergeCustomRules(base, additions []CustomRuleConfig) []CustomRuleConfig {
	if len(additions) == 0 {
		return base
	}
	merged := append([]CustomRuleConfig(nil), base...)
	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.Name] = i
	}
	for _, r := range additions {
		if i, ok := index[r.Name]; ok {
			merged[i] = r
			continue
		}
		index[r.Name] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// buildLexicon converts a composed config's lexicon section into a
// runtime Lexicon, overlaying it on the defaults: a config that only
// adds a few keywords still inherits the built-in modifier lists.
func buildLexicon(cfg FileConfig) Lexicon {
	lex := DefaultLexicon()
	for emotionKey, entries := range cfg.Lexicon.Keywords {
		emotion, ok := TypeFromString(strings.ToLower(emotionKey))
		if !ok {
			continue
		}
		existing := lex.Keywords[emotion]
		index := make(map[string]int, len(existing))
		for i, kw := range existing {
			index[strings.ToLower(kw.Text)] = i
		}
		for _, entry := range entries {
			kw := Keyword{Text: entry.Text, Weight: entry.Weight}
			if i, ok := index[strings.ToLower(entry.Text)]; ok {
				existing[i] = kw
				continue
			}
			index[strings.ToLower(entry.Text)] = len(existing)
			existing = append(existing, kw)
		}
		lex.Keywords[emotion] = existing
	}
	lex.Intensifiers = mergeList(lex.Intensifiers, cfg.Lexicon.Intensifiers)
	lex.Diminishers = mergeList(lex.Diminishers, cfg.Lexicon.Diminishers)
	lex.Negations = mergeList(lex.Negations, cfg.Lexicon.Negations)
	lex.PositiveHints = mergeList(lex.PositiveHints, cfg.Lexicon.PositiveHints)
	lex.NegativeHints = mergeList(lex.NegativeHints, cfg.Lexicon.NegativeHints)
	return lex
}

// buildRules turns a composed config into the pipeline's rule list:
// built-in rules filtered by enabled/disabled, plus custom pattern
// rules at their configured priorities.
func buildRules(cfg FileConfig, lex Lexicon) []PrioritizedRule {
	rules := DefaultRules(lex)

	if len(cfg.Rules.Enabled) > 0 {
		enabled := toLowerSet(cfg.Rules.Enabled)
		rules = filterRules(rules, func(name string) bool { _, ok := enabled[name]; return ok })
	}
	if len(cfg.Rules.Disabled) > 0 {
		disabled := toLowerSet(cfg.Rules.Disabled)
		rules = filterRules(rules, func(name string) bool { _, ok := disabled[name]; return !ok })
	}

	for _, rc := range cfg.Rules.Custom {
		emotion, ok := TypeFromString(strings.ToLower(rc.Emotion))
		if !ok {
			continue
		}
		priority := rc.Priority
		if priority == 0 {
			priority = PriorityCustomDefault
		}
		kind := PatternKind(rc.Kind)
		if kind == "" {
			kind = PatternRegex
		}
		rules = append(rules, PrioritizedRule{
			Priority: priority,
			Rule:     NewPatternRule(rc.Name, emotion, rc.Patterns, rc.Weight, kind),
		})
	}
	return rules
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = struct{}{}
	}
	return set
}

func filterRules(rules []PrioritizedRule, keep func(name string) bool) []PrioritizedRule {
	out := rules[:0]
	for _, pr := range rules {
		if keep(strings.ToLower(pr.Rule.Name())) {
			out = append(out, pr)
		}
	}
	return out
}
