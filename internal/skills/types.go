// Package skills implements the skill library: a directory of
// SKILL.md definitions whose instructions are recalled by keyword
// relevance and injected into dialogue context as a system block.
package skills

import "time"

// Skill is one loaded skill definition.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when it applies.
	// Search matches against it alongside Tags and the instruction
	// body.
	Description string `json:"description" yaml:"description"`

	// Tags are extra recall keywords.
	Tags []string `json:"tags,omitempty" yaml:"tags"`

	// Instruction is the markdown body injected into context when the
	// skill is recalled.
	Instruction string `json:"-" yaml:"-"`

	// Path is the file the skill was loaded from; empty for skills
	// registered programmatically via Upsert.
	Path string `json:"path,omitempty" yaml:"-"`

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Match is one search hit.
type Match struct {
	Skill Skill   `json:"skill"`
	Score float64 `json:"score"`
}
