package memorypipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordStore is the append-only conversation record store. Records
// are immutable once added; reads return copies.
type RecordStore struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{byID: make(map[string]int)}
}

// Add stores a record, assigning ID and CreatedAt if unset, and
// returns the stored copy.
func (s *RecordStore) Add(record Record) Record {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ID] = len(s.records)
	s.records = append(s.records, record)
	return record
}

// Get returns a record by id.
func (s *RecordStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// List returns all records, optionally scoped to a session, in
// insertion order.
func (s *RecordStore) List(sessionID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len reports the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PruneBefore drops records older than cutoff and returns how many
// were removed. Used by the optional maintenance job; recall quality
// degrades gracefully since scoring already prefers recent records.
func (s *RecordStore) PruneBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if !r.CreatedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i, r := range s.records {
		s.byID[r.ID] = i
	}
	return removed
}

// CoreProfileStore holds per-id persona summaries with
// last-writer-wins upsert semantics on UpdatedAt.
type CoreProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]CoreProfile
}

// NewCoreProfileStore creates an empty store.
func NewCoreProfileStore() *CoreProfileStore {
	return &CoreProfileStore{profiles: make(map[string]CoreProfile)}
}

// Upsert applies update, assigning a profile id when absent, and
// returns the stored profile. A stale update (older than the stored
// UpdatedAt) is ignored and the stored value returned.
func (s *CoreProfileStore) Upsert(update CoreProfileUpdate, at time.Time) CoreProfile {
	id := update.ProfileID
	if id == "" {
		id = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[id]; ok && existing.UpdatedAt.After(at) {
		return existing
	}
	profile := CoreProfile{
		ProfileID: id,
		Summary:   update.Summary,
		SessionID: update.SessionID,
		UpdatedAt: at,
	}
	s.profiles[id] = profile
	return profile
}

// Get returns a profile by id.
func (s *CoreProfileStore) Get(id string) (CoreProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// List returns all profiles sorted by id for deterministic output.
func (s *CoreProfileStore) List() []CoreProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CoreProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out
}

// SemanticFactStore holds subject/predicate/object triples keyed by
// fact id, upsert last-writer-wins.
type SemanticFactStore struct {
	mu    sync.RWMutex
	facts map[string]SemanticFact
}

// NewSemanticFactStore creates an empty store.
func NewSemanticFactStore() *SemanticFactStore {
	return &SemanticFactStore{facts: make(map[string]SemanticFact)}
}

// Upsert applies update and returns the stored fact.
func (s *SemanticFactStore) Upsert(update SemanticFactUpdate, at time.Time) SemanticFact {
	id := update.FactID
	if id == "" {
		id = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.facts[id]; ok && existing.UpdatedAt.After(at) {
		return existing
	}
	fact := SemanticFact{
		FactID:    id,
		Subject:   update.Subject,
		Predicate: update.Predicate,
		Object:    update.Object,
		SessionID: update.SessionID,
		UpdatedAt: at,
	}
	s.facts[id] = fact
	return fact
}

// Get returns a fact by id.
func (s *SemanticFactStore) Get(id string) (SemanticFact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	return f, ok
}

// List returns all facts sorted by id.
func (s *SemanticFactStore) List() []SemanticFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SemanticFact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactID < out[j].FactID })
	return out
}

// ProceduralHabitStore holds task-type instructions keyed by habit
// id, upsert last-writer-wins.
type ProceduralHabitStore struct {
	mu     sync.RWMutex
	habits map[string]ProceduralHabit
}

// NewProceduralHabitStore creates an empty store.
func NewProceduralHabitStore() *ProceduralHabitStore {
	return &ProceduralHabitStore{habits: make(map[string]ProceduralHabit)}
}

// Upsert applies update and returns the stored habit.
func (s *ProceduralHabitStore) Upsert(update ProceduralHabitUpdate, at time.Time) ProceduralHabit {
	id := update.HabitID
	if id == "" {
		id = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.habits[id]; ok && existing.UpdatedAt.After(at) {
		return existing
	}
	habit := ProceduralHabit{
		HabitID:     id,
		TaskType:    update.TaskType,
		Instruction: update.Instruction,
		SessionID:   update.SessionID,
		UpdatedAt:   at,
	}
	s.habits[id] = habit
	return habit
}

// Get returns a habit by id.
func (s *ProceduralHabitStore) Get(id string) (ProceduralHabit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.habits[id]
	return h, ok
}

// List returns all habits sorted by id.
func (s *ProceduralHabitStore) List() []ProceduralHabit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProceduralHabit, 0, len(s.habits))
	for _, h := range s.habits {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HabitID < out[j].HabitID })
	return out
}
