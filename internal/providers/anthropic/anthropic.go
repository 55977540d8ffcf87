// Package anthropic adapts Anthropic's Messages API to the kernel's
// provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/companion-kernel/internal/providers"
)

const defaultMaxTokens = 2048

// Config configures the adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
}

// Provider implements providers.Provider against the official
// Anthropic SDK.
type Provider struct {
	client anthropic.Client
	models []string
}

// New creates the adapter.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		models: cfg.Models,
	}
}

// Name implements providers.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Models implements providers.Provider.
func (p *Provider) Models() []string { return p.models }

// SupportsTools implements providers.Provider.
func (p *Provider) SupportsTools() bool { return true }

// TestConnection implements providers.Provider by listing models.
func (p *Provider) TestConnection(ctx context.Context) providers.ConnectionStatus {
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return providers.ConnectionStatus{OK: false, Detail: p.classify(err).Error()}
	}
	return providers.ConnectionStatus{OK: true, Detail: "models endpoint reachable"}
}

// Chat implements providers.Provider.
func (p *Provider) Chat(ctx context.Context, req providers.CompletionRequest) (*providers.ChatResponse, error) {
	params, err := p.convertRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	out := &providers.ChatResponse{
		Model: string(msg.Model),
		Usage: providers.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, providers.ToolCallRequest{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: json.RawMessage(toolUse.Input),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// StreamChat implements providers.Provider.
func (p *Provider) StreamChat(ctx context.Context, req providers.CompletionRequest) (<-chan providers.CompletionChunk, error) {
	params, err := p.convertRequest(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan providers.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		type pendingCall struct {
			id   string
			name string
			args strings.Builder
		}
		var calls []*pendingCall
		var current *pendingCall

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				start := event.AsContentBlockStart()
				if start.ContentBlock.Type == "tool_use" {
					toolUse := start.ContentBlock.AsToolUse()
					current = &pendingCall{id: toolUse.ID, name: toolUse.Name}
					calls = append(calls, current)
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						select {
						case chunks <- providers.CompletionChunk{Delta: delta.Text}:
						case <-ctx.Done():
							return
						}
					}
				case "input_json_delta":
					if current != nil {
						current.args.WriteString(delta.PartialJSON)
					}
				}
			case "content_block_stop":
				current = nil
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- providers.CompletionChunk{Err: p.classify(err)}
			return
		}

		final := providers.CompletionChunk{Done: true}
		for _, pc := range calls {
			final.ToolCalls = append(final.ToolCalls, providers.ToolCallRequest{
				ID:    pc.id,
				Name:  pc.name,
				Input: json.RawMessage(pc.args.String()),
			})
		}
		chunks <- final
	}()
	return chunks, nil
}

// convertRequest maps the kernel request onto MessageNewParams.
// System-role messages become the System blocks; assistant tool
// calls become tool_use blocks and role=tool messages become
// tool_result blocks inside a user message, preserving the id
// linkage the API requires.
func (p *Provider) convertRequest(req providers.CompletionRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 && req.TopP < 1 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == "tool" {
			content = []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			}
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return params, providers.Classify(p.Name(), 400, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}

	if !req.ToolsDisabled {
		for _, t := range req.Tools {
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return params, providers.Classify(p.Name(), 400, err)
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Description)
			}
			params.Tools = append(params.Tools, toolParam)
		}
	}
	return params, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.Classify(p.Name(), apiErr.StatusCode, err)
	}
	return providers.Classify(p.Name(), 0, err)
}
