// Package agents implements the lightweight agent service: named
// secondary actors built on top of the dialogue orchestrator. An
// agent owns a session, accumulates pending notes, and on wakeup
// turns them into one proactive assistant message.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/companion-kernel/internal/dialogue"
	"github.com/haasonsaas/companion-kernel/internal/eventbus"
	"github.com/haasonsaas/companion-kernel/internal/session"
)

// Agent is one registered actor.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is one pending item queued for an agent's next wakeup.
type Note struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrUnknownAgent is returned for operations on unregistered agents.
type ErrUnknownAgent struct {
	ID string
}

func (e *ErrUnknownAgent) Error() string {
	return fmt.Sprintf("agents: unknown agent %q", e.ID)
}

// Service owns the agent table and drives wakeups through the
// dialogue orchestrator.
type Service struct {
	logger *slog.Logger
	bus    *eventbus.Bus
	orch   *dialogue.Orchestrator

	mu      sync.Mutex
	agents  map[string]*Agent
	pending map[string][]Note
}

// NewService creates the agent service.
func NewService(logger *slog.Logger, bus *eventbus.Bus, orch *dialogue.Orchestrator) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger.With("component", "agents"),
		bus:     bus,
		orch:    orch,
		agents:  make(map[string]*Agent),
		pending: make(map[string][]Note),
	}
}

// Create registers an agent with its own session and publishes
// agent.created.
func (s *Service) Create(ctx context.Context, name, parentID, systemPrompt string) *Agent {
	sess := s.orch.Sessions().Create(session.CreateOptions{SystemPrompt: systemPrompt})
	agent := &Agent{
		ID:        uuid.New().String(),
		Name:      name,
		ParentID:  parentID,
		SessionID: sess.ID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.agents[agent.ID] = agent
	s.mu.Unlock()

	s.publish(ctx, "agent.created", map[string]any{
		"agent_id":  agent.ID,
		"parent_id": agent.ParentID,
		"name":      agent.Name,
	})
	return agent
}

// Get returns an agent by id.
func (s *Service) Get(id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, &ErrUnknownAgent{ID: id}
	}
	cp := *agent
	return &cp, nil
}

// PostNote queues a note for the agent's next wakeup and publishes
// agent.message.created.
func (s *Service) PostNote(ctx context.Context, agentID, role, content string) (Note, error) {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return Note{}, &ErrUnknownAgent{ID: agentID}
	}
	note := Note{
		ID:        uuid.New().String(),
		AgentID:   agent.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.pending[agentID] = append(s.pending[agentID], note)
	s.mu.Unlock()

	s.publish(ctx, "agent.message.created", map[string]any{
		"message_id": note.ID,
		"agent_id":   note.AgentID,
		"role":       note.Role,
		"content":    note.Content,
	})
	return note, nil
}

// Wakeup drains the agent's pending notes into one prompt, generates
// a proactive assistant message, and publishes the wakeup lifecycle
// events. With no pending notes the agent still wakes with a generic
// check-in prompt.
func (s *Service) Wakeup(ctx context.Context, agentID string) (string, error) {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return "", &ErrUnknownAgent{ID: agentID}
	}
	notes := s.pending[agentID]
	s.pending[agentID] = nil
	s.mu.Unlock()

	s.publish(ctx, "agent.wakeup.started", map[string]any{
		"agent_id":      agent.ID,
		"pending_count": len(notes),
	})

	started := time.Now()
	content, err := s.orch.Wakeup(ctx, agent.SessionID, wakeupPrompt(notes), dialogue.ChatRequest{})
	if err != nil {
		// Re-queue so the notes are not lost to a transient provider
		// failure.
		s.mu.Lock()
		s.pending[agentID] = append(notes, s.pending[agentID]...)
		s.mu.Unlock()
		return "", fmt.Errorf("agent wakeup: %w", err)
	}

	messageID := uuid.New().String()
	s.publish(ctx, "agent.message.created", map[string]any{
		"message_id": messageID,
		"agent_id":   agent.ID,
		"role":       "assistant",
		"content":    content,
	})
	s.publish(ctx, "agent.wakeup.completed", map[string]any{
		"agent_id":    agent.ID,
		"message_id":  messageID,
		"duration_ms": float64(time.Since(started)) / float64(time.Millisecond),
	})
	return content, nil
}

func wakeupPrompt(notes []Note) string {
	if len(notes) == 0 {
		return "Check in with a brief proactive message for the user."
	}
	var b strings.Builder
	b.WriteString("Address the following pending items in one message:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "- (%s) %s\n", n.Role, n.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, eventbus.Event{
		Type:    eventType,
		Source:  "agents",
		Payload: payload,
	})
}
