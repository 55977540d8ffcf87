package dialogue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/companion-kernel/internal/observability"
	"github.com/haasonsaas/companion-kernel/internal/providers"
	"github.com/haasonsaas/companion-kernel/internal/scheduler"
	"github.com/haasonsaas/companion-kernel/pkg/models"
)

// runToolLoop handles an assistant response carrying tool calls:
// every call is executed through the capability scheduler in order,
// the assistant message and one role=tool message per call are
// appended to the session, and the provider is re-invoked on the
// extended context with tools disabled so the loop cannot recurse.
// The second response's content is the final assistant answer.
func (o *Orchestrator) runToolLoop(ctx context.Context, sessionID, providerID string, req ChatRequest, provider providers.Provider, creq providers.CompletionRequest, resp *providers.ChatResponse) (string, error) {
	assistantMsg := models.Message{
		Role:    models.RoleAssistant,
		Content: resp.Content,
	}
	for _, tc := range resp.ToolCalls {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Input,
		})
	}
	if _, err := o.sessions.AddMessage(sessionID, assistantMsg); err != nil {
		return "", err
	}

	actx := scheduler.AbilityContext{
		UserID:      req.UserID,
		SessionID:   sessionID,
		Permissions: o.toolPerms,
	}
	for _, tc := range resp.ToolCalls {
		result := o.executeToolCall(ctx, tc, actx)
		toolResult := models.ToolResult{
			ToolCallID: tc.ID,
			Content:    o.tools.Stringify(result),
			IsError:    !result.Success,
		}
		if _, err := o.sessions.AddMessage(sessionID, toolResult.Message(tc.Name)); err != nil {
			return "", err
		}
	}

	// Rebuild context from the session, which now carries the
	// assistant tool_calls message and the tool results.
	messages, err := o.buildContext(ctx, sessionID, "")
	if err != nil {
		return "", err
	}
	wrapup := creq
	wrapup.Messages = messages
	wrapup.Tools = nil
	wrapup.ToolsDisabled = true

	final, err := o.callProvider(ctx, provider, providerID, wrapup)
	if err != nil {
		return "", err
	}
	return final.Content, nil
}

// executeToolCall normalizes the call's arguments and dispatches it.
// Failures never propagate: the scheduler already converts unknown
// abilities, policy denials, and panics into failure results, and a
// nil scheduler result cannot occur.
func (o *Orchestrator) executeToolCall(ctx context.Context, tc providers.ToolCallRequest, actx scheduler.AbilityContext) scheduler.AbilityResult {
	ctx = observability.AddToolCallID(ctx, tc.ID)
	ctx, span := o.tracer.TraceToolExecution(ctx, tc.Name)
	defer span.End()
	o.tracer.SetAttributes(span, "tool_call_id", tc.ID)

	args := normalizeArguments(tc.Input)
	started := time.Now()
	if o.recorder != nil {
		_ = o.recorder.RecordToolStart(ctx, tc.Name, json.RawMessage(args))
	}

	o.logger.Info("executing tool", "ability", tc.Name, "tool_call_id", tc.ID)
	result := o.tools.Execute(ctx, tc.Name, args, actx)

	var execErr error
	if !result.Success {
		execErr = errString(result.Error)
		o.tracer.RecordError(span, execErr)
	}
	if o.recorder != nil {
		_ = o.recorder.RecordToolEnd(ctx, tc.Name, time.Since(started), result.Data, execErr)
	}
	return result
}

// normalizeArguments accepts both tool-call argument encodings: a
// JSON object, or an OpenAI-style JSON-encoded string containing an
// object. The scheduler always receives the decoded object form.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner)
		}
		return raw
	}
	return raw
}

type errString string

func (e errString) Error() string { return string(e) }
