package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:        "msg-123",
		SessionID: "session-456",
		Role:      RoleAssistant,
		Content:   "Hello!",
		ToolCalls: []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role = %v, want %v", decoded.Role, original.Role)
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
}

func TestMessage_Validate(t *testing.T) {
	if err := (Message{Role: RoleTool, ToolCallID: "tc-1"}).Validate(); err != nil {
		t.Errorf("tool message with tool_call_id should validate, got %v", err)
	}
	if err := (Message{Role: RoleTool}).Validate(); err == nil {
		t.Error("tool message without tool_call_id should fail validation")
	}
	if err := (Message{Role: RoleAssistant, ToolCallID: "tc-1"}).Validate(); err == nil {
		t.Error("non-tool message with tool_call_id should fail validation")
	}
	if err := (Message{Role: RoleUser}).Validate(); err != nil {
		t.Errorf("plain user message should validate, got %v", err)
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "tc-123",
		Name:  "web_search",
		Input: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{
		ToolCallID: "tc-123",
		Content:    "Search results here",
		IsError:    false,
	}

	if tr.ToolCallID != "tc-123" {
		t.Errorf("ToolCallID = %q, want %q", tr.ToolCallID, "tc-123")
	}
	if tr.IsError {
		t.Error("IsError should be false")
	}

	trError := ToolResult{
		ToolCallID: "tc-456",
		Content:    "Error occurred",
		IsError:    true,
	}
	if !trError.IsError {
		t.Error("IsError should be true")
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:           "session-123",
		CharacterID:  "character-456",
		SystemPrompt: "You are a helpful companion.",
		MaxHistory:   50,
		Metadata:     map[string]any{"test": true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if session.CharacterID != "character-456" {
		t.Errorf("CharacterID = %v, want %v", session.CharacterID, "character-456")
	}
	if session.MaxHistory != 50 {
		t.Errorf("MaxHistory = %d, want 50", session.MaxHistory)
	}
}
