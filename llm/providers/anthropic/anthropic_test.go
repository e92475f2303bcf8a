package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/llm"
	"github.com/lookatitude/letta-voice-gateway/schema"
)

func mockAnthropicResponse(content string) string {
	resp := map[string]any{
		"id": "msg_test", "type": "message", "role": "assistant",
		"model": "claude-sonnet-4-5-20250929", "stop_reason": "end_turn",
		"content": []map[string]any{{"type": "text", "text": content}},
		"usage":   map[string]any{"input_tokens": 10, "output_tokens": 20},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func streamAnthropicResponse(text string) string {
	var sb strings.Builder
	write := func(event string, payload map[string]any) {
		b, _ := json.Marshal(payload)
		sb.WriteString("event: " + event + "\ndata: ")
		sb.Write(b)
		sb.WriteString("\n\n")
	}
	write("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "msg_stream", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-5-20250929", "content": []any{},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 0},
		},
	})
	write("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
	for _, ch := range strings.Split(text, "") {
		write("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": ch},
		})
	}
	write("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	write("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn"},
		"usage": map[string]any{"output_tokens": 5},
	})
	write("message_stop", map[string]any{"type": "message_stop"})
	return sb.String()
}

func newTestModel(handler http.HandlerFunc) (*httptest.Server, *Model) {
	ts := httptest.NewServer(handler)
	m, _ := New(config.ProviderConfig{
		Model: "claude-sonnet-4-5-20250929", APIKey: "test-key", BaseURL: ts.URL,
	})
	return ts, m
}

func TestRegistration(t *testing.T) {
	found := false
	for _, n := range llm.List() {
		if n == "anthropic" {
			found = true
		}
	}
	if !found {
		t.Error("anthropic provider not registered")
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(config.ProviderConfig{APIKey: "test"}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestGenerateReturnsText(t *testing.T) {
	ts, m := newTestModel(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, mockAnthropicResponse("hello from claude"))
	})
	defer ts.Close()

	resp, err := m.Generate(context.Background(), []schema.Message{schema.NewHumanMessage("hi")})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Text() != "hello from claude" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", resp.Usage.TotalTokens)
	}
}

func TestGenerateWithSystemMessageSetsSystemParam(t *testing.T) {
	ts, m := newTestModel(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if _, ok := req["system"]; !ok {
			t.Error("expected system parameter in request")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, mockAnthropicResponse("ok"))
	})
	defer ts.Close()

	_, err := m.Generate(context.Background(), []schema.Message{
		schema.NewSystemMessage("you are helpful"),
		schema.NewHumanMessage("hi"),
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
}

func TestStreamYieldsDeltasAndFinishReason(t *testing.T) {
	ts, m := newTestModel(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamAnthropicResponse("Hi"))
	})
	defer ts.Close()

	var text strings.Builder
	var finish string
	for chunk, err := range m.Stream(context.Background(), []schema.Message{schema.NewHumanMessage("hello")}) {
		if err != nil {
			t.Fatalf("Stream() error: %v", err)
		}
		text.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text.String() != "Hi" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hi")
	}
	if finish != "stop" {
		t.Errorf("FinishReason = %q, want stop", finish)
	}
}

func TestBindToolsDoesNotMutateOriginal(t *testing.T) {
	m, _ := New(config.ProviderConfig{Model: "claude-sonnet-4-5-20250929", APIKey: "test"})
	bound := m.BindTools([]schema.ToolDefinition{{Name: "lookup", Description: "look things up"}})
	if len(m.tools) != 0 {
		t.Error("original model should not gain tools")
	}
	if bound.(*Model).tools[0].Name != "lookup" {
		t.Error("bound model should carry the tool")
	}
}

func TestErrorHandlingOnAuthFailure(t *testing.T) {
	ts, m := newTestModel(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid api key"}}`)
	})
	defer ts.Close()

	if _, err := m.Generate(context.Background(), []schema.Message{schema.NewHumanMessage("hi")}); err == nil {
		t.Fatal("expected error from 401 response")
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]string{
		"end_turn": "stop", "tool_use": "tool_calls", "max_tokens": "length", "stop_sequence": "stop_sequence",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistryNewConstructsModel(t *testing.T) {
	m, err := llm.New("anthropic", config.ProviderConfig{Model: "claude-sonnet-4-5-20250929", APIKey: "test"})
	if err != nil {
		t.Fatalf("llm.New() error: %v", err)
	}
	if m.ModelID() != "claude-sonnet-4-5-20250929" {
		t.Errorf("ModelID() = %q", m.ModelID())
	}
}
