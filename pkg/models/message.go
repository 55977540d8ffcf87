// Package models defines the core data types shared across the kernel.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	errMissingToolCallID    = errors.New("models: role=tool message requires a non-empty tool_call_id")
	errUnexpectedToolCallID = errors.New("models: tool_call_id is only valid on role=tool messages")
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in a session's history. Role=tool messages
// carry exactly one ToolCallID, matching the id of the assistant
// ToolCall they answer; the orchestrator's tool loop never puts
// ToolResults directly on a message, it answers each tool call with
// its own role=tool Message.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate enforces the role=tool <=> non-empty ToolCallID invariant.
func (m Message) Validate() error {
	if m.Role == RoleTool && m.ToolCallID == "" {
		return errMissingToolCallID
	}
	if m.Role != RoleTool && m.ToolCallID != "" {
		return errUnexpectedToolCallID
	}
	return nil
}

// ToolCall represents an LLM's request to execute an ability.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of an ability execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message renders the result as the role=tool message answering its
// tool call. name is the ability name, recorded for downstream
// consumers that want to know which tool produced the content.
func (tr ToolResult) Message(name string) Message {
	return Message{
		Role:       RoleTool,
		Name:       name,
		Content:    tr.Content,
		ToolCallID: tr.ToolCallID,
	}
}

// Session represents a conversation thread owned by the dialogue orchestrator.
type Session struct {
	ID           string         `json:"id"`
	CharacterID  string         `json:"character_id,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	MaxHistory   int            `json:"max_history,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
