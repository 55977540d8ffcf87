package session

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/companion-kernel/pkg/models"
)

func newMsg(role models.Role, content string) models.Message {
	m := models.Message{Role: role, Content: content}
	if role == models.RoleTool {
		m.ToolCallID = "tc-stub"
	}
	return m
}

func TestStore_CreateGetDelete(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{SystemPrompt: "You are X"})
	if sess.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, msgs, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SystemPrompt != "You are X" {
		t.Errorf("SystemPrompt = %q", got.SystemPrompt)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}

	if err := s.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get(sess.ID); err == nil {
		t.Error("expected ErrNotFound after delete")
	}
}

func TestStore_AddMessage_RequiresSession(t *testing.T) {
	s := NewStore()
	if _, err := s.AddMessage("missing", newMsg(models.RoleUser, "hi")); err == nil {
		t.Error("expected error adding message to unknown session")
	}
}

func TestStore_AddMessage_ToolRequiresCallID(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{})
	if _, err := s.AddMessage(sess.ID, models.Message{Role: models.RoleTool}); err == nil {
		t.Error("expected validation error for tool message without tool_call_id")
	}
}

// TestTrim_PreservesSystemMessages verifies the session trim invariant
// (spec ยง8): all system messages survive, plus the most recent
// non-system messages up to the cap, in arrival order.
func TestTrim_PreservesSystemMessages(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{MaxHistory: 3})
	s.AddMessage(sess.ID, newMsg(models.RoleSystem, "sys"))
	for i := 0; i < 10; i++ {
		s.AddMessage(sess.ID, newMsg(models.RoleUser, "msg"))
	}

	_, msgs, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (cap), got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Errorf("expected system message retained first, got role %v", msgs[0].Role)
	}
	sysCount := 0
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			sysCount++
		}
	}
	if sysCount != 1 {
		t.Errorf("expected exactly 1 system message, got %d", sysCount)
	}
}

func TestTrim_MultipleSystemMessagesAllSurvive(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{MaxHistory: 2})
	s.AddMessage(sess.ID, newMsg(models.RoleSystem, "sys1"))
	s.AddMessage(sess.ID, newMsg(models.RoleSystem, "sys2"))
	s.AddMessage(sess.ID, newMsg(models.RoleUser, "hi"))
	s.AddMessage(sess.ID, newMsg(models.RoleAssistant, "hello"))

	_, msgs, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sysCount := 0
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			sysCount++
		}
	}
	if sysCount != 2 {
		t.Fatalf("expected both system messages preserved even though cap < total system count, got %d of %d messages: %+v", sysCount, len(msgs), msgs)
	}
}

func TestStore_List(t *testing.T) {
	s := NewStore()
	s.Create(CreateOptions{})
	s.Create(CreateOptions{})
	if len(s.List()) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(s.List()))
	}
}

func TestStore_Get_DefensiveCopy(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{Metadata: map[string]any{"k": "v"}})
	got, _, _ := s.Get(sess.ID)
	got.Metadata["k"] = "mutated"

	got2, _, _ := s.Get(sess.ID)
	if got2.Metadata["k"] != "v" {
		t.Error("mutating returned session leaked into store")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewStore()
	sess := s.Create(CreateOptions{SystemPrompt: "persona", MaxHistory: 10})
	if _, err := s.AddMessage(sess.ID, models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(sess.ID, models.Message{Role: models.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	export, err := s.Export(sess.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := json.Marshal(export)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	var decoded Export
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}

	other := NewStore()
	if _, err := other.Import(&decoded); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, history, err := other.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SystemPrompt != "persona" || len(history) != 2 {
		t.Errorf("imported session = %+v with %d messages", got, len(history))
	}
}

func TestImportRejectsInvalidMessages(t *testing.T) {
	s := NewStore()
	_, err := s.Import(&Export{
		Session:  models.Session{ID: "x"},
		Messages: []models.Message{{Role: models.RoleTool, Content: "no id"}},
	})
	if err == nil {
		t.Fatal("expected validation error for tool message without tool_call_id")
	}
}
