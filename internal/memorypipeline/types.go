// Package memorypipeline implements the layered memory pipeline:
// ingestion of conversation events into an append-only record store,
// extraction of structured updates (rule-based or LLM-based) into the
// three layer stores (core profiles, semantic facts, procedural
// habits), and scored recall back into prompt context.
package memorypipeline

import "time"

// Record is one ingested conversation message. Immutable once stored.
type Record struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Result is one recall hit: a record and its composite score.
type Result struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// CoreProfile is a durable per-id persona summary.
type CoreProfile struct {
	ProfileID string    `json:"profile_id"`
	Summary   string    `json:"summary"`
	SessionID string    `json:"session_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SemanticFact is one subject/predicate/object triple.
type SemanticFact struct {
	FactID    string    `json:"fact_id"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	SessionID string    `json:"session_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProceduralHabit maps a task type to a standing instruction.
type ProceduralHabit struct {
	HabitID     string    `json:"habit_id"`
	TaskType    string    `json:"task_type"`
	Instruction string    `json:"instruction"`
	SessionID   string    `json:"session_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CoreProfileUpdate is an extracted profile change. An empty
// ProfileID lets the store assign one.
type CoreProfileUpdate struct {
	Summary   string `json:"summary"`
	ProfileID string `json:"profile_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SemanticFactUpdate is an extracted fact upsert.
type SemanticFactUpdate struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	FactID    string `json:"fact_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ProceduralHabitUpdate is an extracted habit upsert.
type ProceduralHabitUpdate struct {
	TaskType    string `json:"task_type"`
	Instruction string `json:"instruction"`
	HabitID     string `json:"habit_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Extraction is everything one extractor pass produced for a record.
// All lists may be empty; an extractor that fails returns the zero
// Extraction rather than guessing.
type Extraction struct {
	CoreUpdates []CoreProfileUpdate
	Facts       []SemanticFactUpdate
	Habits      []ProceduralHabitUpdate
}

// Empty reports whether the extraction produced nothing.
func (e Extraction) Empty() bool {
	return len(e.CoreUpdates) == 0 && len(e.Facts) == 0 && len(e.Habits) == 0
}
