package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/schema"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateReturnsFirstChoice(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}
		}`)
	})

	m, err := New(config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg, err := m.Generate(context.Background(), []schema.Message{schema.NewHumanMessage("hello")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if msg.Text() != "hi there" {
		t.Errorf("Text() = %q, want %q", msg.Text(), "hi there")
	}
	if msg.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", msg.Usage.TotalTokens)
	}
}

func TestStreamYieldsDeltas(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	m, err := New(config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got strings.Builder
	var finish string
	for chunk, err := range m.Stream(context.Background(), []schema.Message{schema.NewHumanMessage("hi")}) {
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		got.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if got.String() != "Hi there" {
		t.Errorf("accumulated = %q, want %q", got.String(), "Hi there")
	}
	if finish != "stop" {
		t.Errorf("FinishReason = %q, want %q", finish, "stop")
	}
}

func TestStreamPropagatesTransportError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	})

	m, _ := New(config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})

	var gotErr error
	for _, err := range m.Stream(context.Background(), []schema.Message{schema.NewHumanMessage("hi")}) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Error("expected a transport error from Stream()")
	}
}

func TestBindToolsDoesNotMutateOriginal(t *testing.T) {
	m, _ := New(config.ProviderConfig{APIKey: "k", Model: "gpt-4o-mini"})
	bound := m.BindTools([]schema.ToolDefinition{{Name: "lookup"}})
	if len(m.tools) != 0 {
		t.Error("original model should not gain tools")
	}
	if bound.(*Model).tools[0].Name != "lookup" {
		t.Error("bound model should carry the tool")
	}
}

func TestModelIDDefaultsWhenUnset(t *testing.T) {
	m, _ := New(config.ProviderConfig{APIKey: "k"})
	if m.ModelID() != defaultModel {
		t.Errorf("ModelID() = %q, want %q", m.ModelID(), defaultModel)
	}
}
