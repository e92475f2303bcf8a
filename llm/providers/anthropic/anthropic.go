// Package anthropic provides an alternate fast-path llm.ChatModel for the
// gateway's hybrid LLM node (spec.md §4.4), backed by the Anthropic
// Messages API. It registers under the name "anthropic" so a deployment
// can switch LLM_MODEL/the provider registry key to use Claude instead of
// the default OpenAI-backed fast path without any other code change.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/llm"
	"github.com/lookatitude/letta-voice-gateway/schema"
)

const defaultMaxTokens = 1024

func init() {
	llm.Register("anthropic", func(cfg config.ProviderConfig) (llm.ChatModel, error) {
		return New(cfg)
	})
}

// Model implements llm.ChatModel over the Anthropic Messages API.
type Model struct {
	client anthropicSDK.Client
	model  string
	tools  []schema.ToolDefinition
}

// New creates a Model from a ProviderConfig. cfg.Model is required: unlike
// the openai provider there is no sane fallback model name to guess for a
// different vendor's API.
func New(cfg config.ProviderConfig) (*Model, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	opts := []anthropicOption.RequestOption{anthropicOption.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, anthropicOption.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicOption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, anthropicOption.WithRequestTimeout(cfg.Timeout))
	}
	return &Model{
		client: anthropicSDK.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// ModelID returns the configured model identifier.
func (m *Model) ModelID() string { return m.model }

// BindTools returns a new Model that includes the given tools in every
// request. The hybrid fast path (llmnode) does not use tools today, but
// slow-path parity with the stateful mode keeps this implemented rather
// than stubbed.
func (m *Model) BindTools(tools []schema.ToolDefinition) llm.ChatModel {
	cp := *m
	cp.tools = append([]schema.ToolDefinition(nil), tools...)
	return &cp
}

// Generate sends a non-streaming Messages API request.
func (m *Model) Generate(ctx context.Context, msgs []schema.Message, opts ...llm.GenerateOption) (*schema.AIMessage, error) {
	params, err := m.buildParams(msgs, opts)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: generate: %w", err)
	}
	return convertResponse(resp), nil
}

// Stream sends a streaming Messages API request. The gateway's fast path
// (llmnode.Node.fastPath) consumes this directly, applying its own 10s
// overall timeout around the iteration rather than relying on the SDK.
func (m *Model) Stream(ctx context.Context, msgs []schema.Message, opts ...llm.GenerateOption) iter.Seq2[schema.StreamChunk, error] {
	params, err := m.buildParams(msgs, opts)
	if err != nil {
		return func(yield func(schema.StreamChunk, error) bool) {
			yield(schema.StreamChunk{}, err)
		}
	}
	stream := m.client.Messages.NewStreaming(ctx, params)
	return func(yield func(schema.StreamChunk, error) bool) {
		defer stream.Close()
		for stream.Next() {
			chunk := convertStreamEvent(stream.Current(), m.model)
			if chunk == nil {
				continue
			}
			if !yield(*chunk, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(schema.StreamChunk{}, fmt.Errorf("anthropic: stream: %w", err))
		}
	}
}

func (m *Model) buildParams(msgs []schema.Message, opts []llm.GenerateOption) (anthropicSDK.MessageNewParams, error) {
	genOpts := llm.ApplyOptions(opts...)
	maxTokens := int64(defaultMaxTokens)
	if genOpts.MaxTokens > 0 {
		maxTokens = int64(genOpts.MaxTokens)
	}

	converted, system, err := convertMessages(msgs)
	if err != nil {
		return anthropicSDK.MessageNewParams{}, err
	}

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(m.model),
		MaxTokens: maxTokens,
		Messages:  converted,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(m.tools) > 0 {
		params.Tools = convertTools(m.tools)
	}
	if genOpts.Temperature != nil {
		params.Temperature = anthropicSDK.Float(*genOpts.Temperature)
	}
	if genOpts.TopP != nil {
		params.TopP = anthropicSDK.Float(*genOpts.TopP)
	}
	if len(genOpts.StopSequences) > 0 {
		params.StopSequences = genOpts.StopSequences
	}
	return params, nil
}

func convertMessages(msgs []schema.Message) ([]anthropicSDK.MessageParam, []anthropicSDK.TextBlockParam, error) {
	var system []anthropicSDK.TextBlockParam
	out := make([]anthropicSDK.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch tm := msg.(type) {
		case *schema.SystemMessage:
			system = append(system, anthropicSDK.TextBlockParam{Text: tm.Text()})
		case *schema.HumanMessage:
			out = append(out, anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(tm.Text())))
		case *schema.AIMessage:
			out = append(out, anthropicSDK.NewAssistantMessage(convertAIBlocks(tm)...))
		case *schema.ToolMessage:
			out = append(out, anthropicSDK.NewUserMessage(
				anthropicSDK.NewToolResultBlock(tm.ToolCallID, tm.Text(), false),
			))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message type %T", msg)
		}
	}
	return out, system, nil
}

func convertAIBlocks(m *schema.AIMessage) []anthropicSDK.ContentBlockParamUnion {
	var blocks []anthropicSDK.ContentBlockParamUnion
	if text := m.Text(); text != "" {
		blocks = append(blocks, anthropicSDK.NewTextBlock(text))
	}
	for _, tc := range m.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Arguments), &input)
		blocks = append(blocks, anthropicSDK.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	return blocks
}

func convertTools(tools []schema.ToolDefinition) []anthropicSDK.ToolUnionParam {
	out := make([]anthropicSDK.ToolUnionParam, len(tools))
	for i, t := range tools {
		tp := anthropicSDK.ToolParam{
			Name: t.Name,
			InputSchema: anthropicSDK.ToolInputSchemaParam{
				Properties: t.InputSchema["properties"],
			},
		}
		if t.Description != "" {
			tp.Description = anthropicSDK.String(t.Description)
		}
		out[i] = anthropicSDK.ToolUnionParam{OfTool: &tp}
	}
	return out
}

func convertResponse(resp *anthropicSDK.Message) *schema.AIMessage {
	if resp == nil {
		return &schema.AIMessage{}
	}
	ai := &schema.AIMessage{
		ModelID: string(resp.Model),
		Usage: schema.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			ai.Parts = append(ai.Parts, schema.TextPart{Text: block.Text})
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			ai.ToolCalls = append(ai.ToolCalls, schema.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	return ai
}

func convertStreamEvent(event anthropicSDK.MessageStreamEventUnion, modelID string) *schema.StreamChunk {
	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type != "text_delta" {
			return nil
		}
		return &schema.StreamChunk{ModelID: modelID, Delta: event.Delta.Text}
	case "message_delta":
		return &schema.StreamChunk{
			ModelID:      modelID,
			FinishReason: mapStopReason(string(event.Delta.StopReason)),
		}
	default:
		return nil
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
