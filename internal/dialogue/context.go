package dialogue

import (
	"context"
	"strings"

	"github.com/haasonsaas/companion-kernel/internal/providers"
	"github.com/haasonsaas/companion-kernel/pkg/models"
)

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     string `json:"type"` // "text" | "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Content is a user message body: plain text, or a multi-part list
// that flattens to text for providers without multi-modal support.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string.
func TextContent(text string) Content { return Content{Text: text} }

// Flatten renders the content as a single string: text parts joined
// by newlines, image parts replaced by an "[image]" placeholder.
func (c Content) Flatten() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	parts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		case "image_url":
			parts = append(parts, "[image]")
		default:
			parts = append(parts, "[content]")
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// buildContext assembles the provider message list in the
// specification's deterministic order:
//
//  1. the session's system prompt, if any
//  2. the rendered memory-recall block, immediately after (1) or at
//     position 0 when (1) is absent
//  3. the skill-injection block, at the earliest non-system position
//  4. the session's messages in order, excluding stored role=system
//     entries to avoid double-injection
func (o *Orchestrator) buildContext(ctx context.Context, sessionID, query string) ([]providers.Message, error) {
	sess, history, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	var messages []providers.Message
	if sess.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: sess.SystemPrompt})
	}

	if o.memory != nil && o.memoryRecall {
		block := o.recallBlock(ctx, query, sessionID)
		if block != "" {
			messages = append(messages, providers.Message{Role: "system", Content: block})
		}
	}

	if o.skills != nil && o.skillRecall {
		if block := o.skillBlock(ctx, query); block != "" {
			messages = append(messages, providers.Message{Role: "system", Content: block})
		}
	}

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		pm := providers.Message{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, providers.ToolCallRequest{
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Input,
			})
		}
		messages = append(messages, pm)
	}
	return messages, nil
}

// recallBlock queries memory and renders the context block. Recall is
// best-effort: a panicking memory service contributes nothing rather
// than failing the chat.
func (o *Orchestrator) recallBlock(ctx context.Context, query, sessionID string) (block string) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Warn("memory recall panicked", "session_id", sessionID, "panic", p)
			block = ""
		}
	}()
	results := o.memory.Recall(ctx, query, sessionID, 0)
	return o.memory.FormatContext(results)
}

func (o *Orchestrator) skillBlock(ctx context.Context, query string) (block string) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Warn("skill recall panicked", "panic", p)
			block = ""
		}
	}()
	matches := o.skills.Search(ctx, query, o.skillTopK)
	if len(matches) == 0 {
		return ""
	}
	return o.skills.BuildInjectionBlock(matches)
}
