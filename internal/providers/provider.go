// Package providers defines the abstract contract the dialogue
// orchestrator uses to talk to language model backends. It deliberately
// stops at the interface: concrete wire protocols for any given vendor
// are out of scope here (see internal/providers/openai and
// internal/providers/anthropic for demonstration adapters built against
// real SDKs).
package providers

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one turn of chat history sent to a provider. Assistant
// turns that requested tools carry their ToolCalls; role=tool turns
// carry the ToolCallID they answer, so the tool-loop wrap-up call
// presents the provider with a well-formed transcript.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string
}

// ToolSchema describes an ability the provider may call.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCallRequest is a provider's request to invoke an ability.
type ToolCallRequest struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// CompletionRequest is a single provider call. ToolsDisabled forces the
// provider to ignore Tools even if set, used by the dialogue
// orchestrator's tool-call loop to prevent recursive tool calls on the
// wrap-up turn (spec ยง4.3.1).
type CompletionRequest struct {
	Model         string
	Messages      []Message
	Temperature   float64
	TopP          float64
	MaxTokens     int
	Stop          []string
	Tools         []ToolSchema
	ToolsDisabled bool
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatResponse is the result of a non-streaming Chat call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCallRequest
	Model     string
	Usage     Usage
}

// CompletionChunk is one piece of a streamed response. Done is true on
// the final chunk; ToolCalls is only populated on the final chunk, once
// the provider has finished assembling any tool call arguments.
type CompletionChunk struct {
	Delta     string
	ToolCalls []ToolCallRequest
	Done      bool
	Err       error
}

// ConnectionStatus is the result of a connectivity probe.
type ConnectionStatus struct {
	OK     bool
	Detail string
}

// Provider is the abstract contract implemented by each LLM backend.
// Implementations must not retry internally in a way that is visible
// to callers as added latency without bound; any transient-network
// retry is the concrete adapter's own concern, never something the
// orchestrator configures or relies on.
type Provider interface {
	// Name identifies the provider, e.g. "openai", "anthropic".
	Name() string

	// Models lists model identifiers this provider can serve.
	Models() []string

	// SupportsTools reports whether Chat/StreamChat honor
	// CompletionRequest.Tools.
	SupportsTools() bool

	// TestConnection probes the backend cheaply (auth + reachability)
	// without running a completion.
	TestConnection(ctx context.Context) ConnectionStatus

	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req CompletionRequest) (*ChatResponse, error)

	// StreamChat performs a completion and returns a channel of chunks.
	// The channel is closed after the final chunk (Done == true) or
	// after a chunk carrying a non-nil Err.
	StreamChat(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// DrainStream runs req through p.StreamChat and assembles a
// ChatResponse from the resulting chunks. It exists so a Provider
// implementation only has to implement StreamChat natively and get
// Chat for free, mirroring how many real SDKs expose a single
// streaming primitive underneath both modes.
func DrainStream(ctx context.Context, p Provider, req CompletionRequest) (*ChatResponse, error) {
	chunks, err := p.StreamChat(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &ChatResponse{Model: req.Model}
	var content []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, fmt.Errorf("stream chat: %w", chunk.Err)
		}
		content = append(content, chunk.Delta...)
		if chunk.Done && len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = chunk.ToolCalls
		}
	}
	resp.Content = string(content)
	return resp, nil
}
