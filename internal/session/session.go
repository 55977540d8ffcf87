// Package session implements the Session Service: in-memory
// conversation state owned exclusively by the dialogue orchestrator.
// It is grounded on the teacher's internal/sessions/memory.go
// MemoryStore (mutex-guarded map, defensive deep copies on read), with
// its naive head-trim replaced by one that preserves every system
// message, as the specification requires.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/companion-kernel/pkg/models"
)

// DefaultMaxHistory is the trim cap applied when a session does not
// specify its own.
const DefaultMaxHistory = 50

// ErrNotFound is returned by Get/Delete/AddMessage for an unknown session ID.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("session: unknown session %q", e.ID)
}

// Store owns the session table. A map lock guards create/delete/list;
// per the specification the orchestrator itself serializes concurrent
// chat calls for a single session, so Store does not lock per-session
// mutation beyond the table lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
}

// NewStore creates an empty, in-memory session store. Sessions never
// survive process restarts, per the specification's Non-goals.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
	}
}

// CreateOptions configures a new session.
type CreateOptions struct {
	ID           string
	CharacterID  string
	SystemPrompt string
	MaxHistory   int
	Metadata     map[string]any
}

// Create creates and stores a new session, returning a defensive copy.
func (s *Store) Create(opts CreateOptions) *models.Session {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	now := time.Now()
	sess := &models.Session{
		ID:           id,
		CharacterID:  opts.CharacterID,
		SystemPrompt: opts.SystemPrompt,
		MaxHistory:   maxHistory,
		Metadata:     cloneMap(opts.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
	s.messages[id] = nil
	return cloneSession(sess)
}

// Get returns a defensive copy of the session and its messages.
func (s *Store) Get(id string) (*models.Session, []models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, &ErrNotFound{ID: id}
	}
	return cloneSession(sess), cloneMessages(s.messages[id]), nil
}

// Delete removes a session. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// List returns defensive copies of all known sessions.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out
}

// AddMessage appends msg to the session's history, stamping its ID,
// SessionID, and CreatedAt if unset, then applies the trim invariant:
// after trimming, the history holds every role=system message plus
// the most recent (MaxHistory - len(system)) non-system messages, in
// arrival order.
func (s *Store) AddMessage(id string, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Message{}, &ErrNotFound{ID: id}
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.SessionID = id
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	history := append(s.messages[id], msg)
	s.messages[id] = trim(history, sess.MaxHistory)
	sess.UpdatedAt = time.Now()
	return msg, nil
}

// trim preserves every system message and the most recent
// (max - len(system)) non-system messages, in their original arrival
// order. If max <= 0 or the system messages alone meet/exceed max, all
// system messages are kept and no non-system message is dropped below
// what fits.
func trim(history []models.Message, max int) []models.Message {
	if max <= 0 || len(history) <= max {
		return history
	}

	var system, rest []models.Message
	for _, m := range history {
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	budget := max - len(system)
	if budget < 0 {
		budget = 0
	}
	if len(rest) > budget {
		rest = rest[len(rest)-budget:]
	}

	// Re-merge preserving original relative order: walk history once
	// more, keeping an item iff it was selected into system or rest.
	keepSystem := make(map[string]int, len(system))
	for i, m := range system {
		keepSystem[m.ID] = i
	}
	keepRest := make(map[string]struct{}, len(rest))
	for _, m := range rest {
		keepRest[m.ID] = struct{}{}
	}

	out := make([]models.Message, 0, len(system)+len(rest))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			if _, ok := keepSystem[m.ID]; ok {
				out = append(out, m)
			}
			continue
		}
		if _, ok := keepRest[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

func cloneSession(sess *models.Session) *models.Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	cp.Metadata = cloneMap(sess.Metadata)
	return &cp
}

func cloneMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		out[i].Metadata = cloneMap(msgs[i].Metadata)
		if msgs[i].ToolCalls != nil {
			out[i].ToolCalls = append([]models.ToolCall(nil), msgs[i].ToolCalls...)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Export is the transport-serializable form of a session: the session
// fields plus its message history, round-trippable through JSON.
type Export struct {
	Session  models.Session   `json:"session"`
	Messages []models.Message `json:"messages"`
}

// Export snapshots a session and its history for transport.
func (s *Store) Export(id string) (*Export, error) {
	sess, history, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &Export{Session: *sess, Messages: history}, nil
}

// Import installs an exported session, replacing any existing session
// with the same ID. Messages are validated and re-trimmed against the
// session's cap so a hand-edited export cannot violate the invariant.
func (s *Store) Import(export *Export) (*models.Session, error) {
	if export == nil || export.Session.ID == "" {
		return nil, fmt.Errorf("session: import requires a session with an ID")
	}
	for _, msg := range export.Messages {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
	}

	sess := export.Session
	if sess.MaxHistory <= 0 {
		sess.MaxHistory = DefaultMaxHistory
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := sess
	s.sessions[sess.ID] = &stored
	s.messages[sess.ID] = trim(cloneMessages(export.Messages), sess.MaxHistory)
	return cloneSession(&stored), nil
}
