// Package openai provides the fast-path llm.ChatModel implementation used
// by the gateway's hybrid LLM node: a direct streaming chat completion call
// against an OpenAI-compatible endpoint, with no agent-side state.
package openai

import (
	"context"
	"fmt"
	"io"
	"iter"

	openaiClient "github.com/sashabaranov/go-openai"

	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/llm"
	"github.com/lookatitude/letta-voice-gateway/schema"
)

const defaultModel = "gpt-4o-mini"

func init() {
	llm.Register("openai", func(cfg config.ProviderConfig) (llm.ChatModel, error) {
		return New(cfg)
	})
}

// Model implements llm.ChatModel over the OpenAI chat completions API.
type Model struct {
	client *openaiClient.Client
	model  string
	tools  []schema.ToolDefinition
}

// New creates a Model from a ProviderConfig. cfg.Model defaults to
// gpt-4o-mini when empty, but callers driving the gateway's fast path should
// always set it explicitly from LLM_MODEL (mandatory configuration, no
// gateway-level default).
func New(cfg config.ProviderConfig) (*Model, error) {
	clientCfg := openaiClient.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Model{
		client: openaiClient.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// ModelID returns the configured model identifier.
func (m *Model) ModelID() string { return m.model }

// BindTools returns a new Model that sends the given tool definitions with
// every request.
func (m *Model) BindTools(tools []schema.ToolDefinition) llm.ChatModel {
	cp := *m
	cp.tools = append([]schema.ToolDefinition(nil), tools...)
	return &cp
}

// Generate sends a non-streaming chat completion request.
func (m *Model) Generate(ctx context.Context, msgs []schema.Message, opts ...llm.GenerateOption) (*schema.AIMessage, error) {
	req := m.buildRequest(msgs, opts)
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &schema.AIMessage{ModelID: m.model}, nil
	}
	choice := resp.Choices[0]
	return &schema.AIMessage{
		ModelID: resp.Model,
		Parts:   []schema.ContentPart{schema.TextPart{Text: choice.Message.Content}},
		Usage: schema.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request and yields one
// StreamChunk per delta received from the server.
func (m *Model) Stream(ctx context.Context, msgs []schema.Message, opts ...llm.GenerateOption) iter.Seq2[schema.StreamChunk, error] {
	req := m.buildRequest(msgs, opts)
	req.Stream = true

	return func(yield func(schema.StreamChunk, error) bool) {
		stream, err := m.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(schema.StreamChunk{}, fmt.Errorf("openai: stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(schema.StreamChunk{}, fmt.Errorf("openai: stream recv: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			chunk := schema.StreamChunk{
				ModelID: resp.Model,
				Delta:   choice.Delta.Content,
			}
			if choice.FinishReason != "" {
				chunk.FinishReason = string(choice.FinishReason)
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (m *Model) buildRequest(msgs []schema.Message, opts []llm.GenerateOption) openaiClient.ChatCompletionRequest {
	genOpts := llm.ApplyOptions(opts...)

	req := openaiClient.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertMessages(msgs),
	}
	if genOpts.Temperature != nil {
		req.Temperature = float32(*genOpts.Temperature)
	}
	if genOpts.MaxTokens > 0 {
		req.MaxTokens = genOpts.MaxTokens
	}
	if genOpts.TopP != nil {
		req.TopP = float32(*genOpts.TopP)
	}
	if len(genOpts.StopSequences) > 0 {
		req.Stop = genOpts.StopSequences
	}
	return req
}

func convertMessages(msgs []schema.Message) []openaiClient.ChatCompletionMessage {
	out := make([]openaiClient.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		role := openaiClient.ChatMessageRoleUser
		switch msg.GetRole() {
		case schema.RoleSystem:
			role = openaiClient.ChatMessageRoleSystem
		case schema.RoleAI:
			role = openaiClient.ChatMessageRoleAssistant
		case schema.RoleTool:
			role = openaiClient.ChatMessageRoleTool
		}
		out = append(out, openaiClient.ChatCompletionMessage{
			Role:    role,
			Content: msg.Text(),
		})
	}
	return out
}
