// Package openai adapts the OpenAI Chat Completions API (and any
// compatible endpoint, via BaseURL) to the kernel's provider
// contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/companion-kernel/internal/providers"
)

// Config configures the adapter.
type Config struct {
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint; empty means
	// the official API.
	BaseURL string

	// Models advertises the model list returned by Models(). Optional.
	Models []string
}

// Provider implements providers.Provider against go-openai.
type Provider struct {
	client *openai.Client
	models []string
}

// New creates the adapter.
func New(cfg Config) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		models: cfg.Models,
	}
}

// Name implements providers.Provider.
func (p *Provider) Name() string { return "openai" }

// Models implements providers.Provider.
func (p *Provider) Models() []string { return p.models }

// SupportsTools implements providers.Provider.
func (p *Provider) SupportsTools() bool { return true }

// TestConnection implements providers.Provider by listing models.
func (p *Provider) TestConnection(ctx context.Context) providers.ConnectionStatus {
	if _, err := p.client.ListModels(ctx); err != nil {
		return providers.ConnectionStatus{OK: false, Detail: p.classify(err).Error()}
	}
	return providers.ConnectionStatus{OK: true, Detail: "models endpoint reachable"}
}

// Chat implements providers.Provider.
func (p *Provider) Chat(ctx context.Context, req providers.CompletionRequest) (*providers.ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.convertRequest(req))
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return &providers.ChatResponse{Model: resp.Model}, nil
	}

	choice := resp.Choices[0]
	out := &providers.ChatResponse{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, providers.ToolCallRequest{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// StreamChat implements providers.Provider.
func (p *Provider) StreamChat(ctx context.Context, req providers.CompletionRequest) (<-chan providers.CompletionChunk, error) {
	creq := p.convertRequest(req)
	creq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, p.classify(err)
	}

	chunks := make(chan providers.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		// Tool call arguments arrive as fragments; assemble per index.
		type pendingCall struct {
			id   string
			name string
			args []byte
		}
		pending := map[int]*pendingCall{}
		order := []int{}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				final := providers.CompletionChunk{Done: true}
				for _, i := range order {
					pc := pending[i]
					final.ToolCalls = append(final.ToolCalls, providers.ToolCallRequest{
						ID:    pc.id,
						Name:  pc.name,
						Input: json.RawMessage(pc.args),
					})
				}
				chunks <- final
				return
			}
			if err != nil {
				chunks <- providers.CompletionChunk{Err: p.classify(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				select {
				case chunks <- providers.CompletionChunk{Delta: delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := pending[idx]
				if !ok {
					pc = &pendingCall{}
					pending[idx] = pc
					order = append(order, idx)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args = append(pc.args, tc.Function.Arguments...)
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) convertRequest(req providers.CompletionRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	if !req.ToolsDisabled {
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}
	return out
}

func (p *Provider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providers.Classify(p.Name(), apiErr.HTTPStatusCode, err)
	}
	return providers.Classify(p.Name(), 0, err)
}
