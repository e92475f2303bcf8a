package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/internal/httpclient"
	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/resilience"
)

// Timeouts and circuit parameters for the stateful agent service, per
// spec.md §4.5/§5: memory GET 10s, health check 2s, per-attempt message
// call 10s with up to 3 attempts total, circuit opens after 3 consecutive
// failures and half-opens after 30s.
const (
	fetchAgentTimeout   = 10 * time.Second
	healthCheckTimeout  = 2 * time.Second
	messageAttemptTimeout = 10 * time.Second

	circuitFailureThreshold = 3
	circuitOpenTimeout      = 30 * time.Second
)

// AgentRecord is the REST representation of an external agent, including
// its memory blocks. This is the authoritative shape for persona loading;
// the streaming SDK's equivalent returns empty blocks for the same agent
// and must never be used to populate memory (spec.md §3, §9).
type AgentRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Memory struct {
		Blocks []MemoryBlock `json:"blocks"`
	} `json:"memory"`
}

// messageChunk is one SSE event body from the messages streaming API.
type messageChunk struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

// AgentClient is the reliability-wrapped REST client for the stateful
// agent/memory service: GET /v1/agents/{id}, POST /v1/agents/{id}/messages
// (streaming), and a health endpoint. A single AgentClient is shared by
// every AgentInstance in the process, since the circuit breaker it owns
// protects one dependency process-wide (spec.md §4.5, §5).
type AgentClient struct {
	http    *httpclient.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	logger  *o11y.Logger
}

// AgentClientOption configures an AgentClient.
type AgentClientOption func(*AgentClient)

// WithAgentClientLogger overrides the client's logger.
func WithAgentClientLogger(l *o11y.Logger) AgentClientOption {
	return func(c *AgentClient) { c.logger = l }
}

// NewAgentClient creates an AgentClient bound to baseURL. apiKey, if
// non-empty, is sent as a bearer token on every request.
func NewAgentClient(baseURL, apiKey string, opts ...AgentClientOption) *AgentClient {
	httpOpts := []httpclient.Option{httpclient.WithBaseURL(baseURL)}
	if apiKey != "" {
		httpOpts = append(httpOpts, httpclient.WithBearerToken(apiKey))
	}
	c := &AgentClient{
		http:    httpclient.New(httpOpts...),
		breaker: resilience.NewCircuitBreaker(circuitFailureThreshold, circuitOpenTimeout),
		retry: resilience.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     4 * time.Second,
			BackoffFactor:  2,
		},
		logger: o11y.NewLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAgent issues GET /v1/agents/{id}. It is not gated by the circuit
// breaker: spec.md §4.3 treats a failed memory load as locally recoverable
// (fall back to base instructions) rather than as a reason to fast-fail
// every other call to the same dependency.
func (c *AgentClient) FetchAgent(ctx context.Context, agentID string) (AgentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchAgentTimeout)
	defer cancel()

	rec, err := httpclient.DoJSON[AgentRecord](ctx, c.http, http.MethodGet, "/v1/agents/"+agentID, nil)
	if err != nil {
		return AgentRecord{}, c.wrapErr("memory.fetch_agent", err)
	}
	return rec, nil
}

// ListAgents issues GET /v1/agents, used only at process startup to resolve
// PRIMARY_AGENT_NAME to an agent_id (spec.md §9). Like FetchAgent, it is not
// gated by the circuit breaker.
func (c *AgentClient) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchAgentTimeout)
	defer cancel()

	recs, err := httpclient.DoJSON[[]AgentRecord](ctx, c.http, http.MethodGet, "/v1/agents", nil)
	if err != nil {
		return nil, c.wrapErr("memory.list_agents", err)
	}
	return recs, nil
}

// HealthCheck issues a 2-second-bounded GET against the service's health
// endpoint, through the circuit breaker: a failed check counts as a
// dependency failure (spec.md §4.5).
func (c *AgentClient) HealthCheck(ctx context.Context) error {
	_, err := c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		resp, err := c.http.Do(hctx, http.MethodGet, "/v1/health", nil, nil)
		if err != nil {
			return nil, fmt.Errorf("health check: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("health check: unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return c.wrapErr("memory.health_check", err)
	}
	return nil
}

// SendMessage runs the slow path: a health check, then a streaming call to
// the messages API, retried up to 3 attempts total with 2s/4s backoff, each
// attempt re-checking the circuit (spec.md §4.4 slow-path algorithm). It
// returns the accumulated assistant_message text.
func (c *AgentClient) SendMessage(ctx context.Context, agentID, text string) (string, error) {
	if err := c.HealthCheck(ctx); err != nil {
		return "", err
	}

	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
			return c.streamOnce(ctx, agentID, text)
		})
	})
	if err != nil {
		return "", c.wrapErr("memory.send_message", err)
	}
	reply, _ := result.(string)
	return reply, nil
}

func (c *AgentClient) streamOnce(ctx context.Context, agentID, text string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, messageAttemptTimeout)
	defer cancel()

	body := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": text}},
		"stream":   true,
	}

	var reply strings.Builder
	for ev, err := range httpclient.StreamSSEBody(actx, c.http, http.MethodPost, "/v1/agents/"+agentID+"/messages", body) {
		if err != nil {
			return "", retryableTransportErr(err)
		}
		var chunk messageChunk
		if jsonErr := json.Unmarshal([]byte(ev.Data), &chunk); jsonErr != nil {
			continue
		}
		if chunk.MessageType == "assistant_message" {
			reply.WriteString(chunk.Content)
		}
	}
	return reply.String(), nil
}

// retryableTransportErr classifies a transport-level failure (connection
// refused, timeout, non-2xx status, stream scan error) as a core.Error with
// a retryable code, so resilience.Retry's default RetryableErrors set
// actually fires on it. A plain error would never be retried, since
// RetryPolicy.retryable only recognizes *core.Error codes.
func retryableTransportErr(err error) error {
	code := core.ErrProviderDown
	var apiErr *httpclient.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		code = core.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = core.ErrTimeout
	}
	return core.NewError("memory.agent_stream", code, "agent message stream failed", err)
}

// Mirror best-effort POSTs a completed fast-path turn (user + assistant
// text) to the messages API so the stateful agent's long-term memory stays
// in sync. It retries internally but never blocks the caller on the
// outcome beyond its own deadline, and never touches message_history
// (spec.md §4.4 step 4).
func (c *AgentClient) Mirror(ctx context.Context, agentID, userText, agentText string) error {
	_, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, messageAttemptTimeout)
		defer cancel()
		body := map[string]any{
			"messages": []map[string]string{
				{"role": "user", "content": userText},
				{"role": "assistant", "content": agentText},
			},
		}
		resp, err := c.http.Do(actx, http.MethodPost, "/v1/agents/"+agentID+"/messages", body, nil)
		if err != nil {
			return struct{}{}, retryableTransportErr(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return struct{}{}, retryableTransportErr(&httpclient.APIError{StatusCode: resp.StatusCode})
		}
		return struct{}{}, nil
	})
	if err != nil {
		return c.wrapErr("memory.mirror", err)
	}
	return nil
}

func (c *AgentClient) wrapErr(op string, err error) error {
	code := core.ErrProviderDown
	var apiErr *httpclient.APIError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		code = core.ErrCircuitOpen
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		code = core.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = core.ErrTimeout
	}
	return core.NewError(op, code, "agent service call failed", err)
}
