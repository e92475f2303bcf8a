package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lookatitude/letta-voice-gateway/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgentTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAgentClientFetchAgentParsesBlocks(t *testing.T) {
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/agent-1", r.URL.Path)
		fmt.Fprint(w, `{"id":"agent-1","name":"Ava","memory":{"blocks":[
			{"label":"persona","value":"Ava the assistant"},
			{"label":"workspace","value":"proj-x"}
		]}}`)
	})

	c := NewAgentClient(srv.URL, "")
	rec, err := c.FetchAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", rec.ID)
	require.Len(t, rec.Memory.Blocks, 2)
	assert.Equal(t, "persona", rec.Memory.Blocks[0].Label)
	assert.Equal(t, "Ava the assistant", rec.Memory.Blocks[0].Value)
}

func TestAgentClientFetchAgentWrapsNotFound(t *testing.T) {
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"no such agent"}`)
	})

	c := NewAgentClient(srv.URL, "")
	_, err := c.FetchAgent(context.Background(), "missing")
	require.Error(t, err)
}

func TestAgentClientHealthCheckOpensCircuitAfterThreshold(t *testing.T) {
	var calls int32
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := NewAgentClient(srv.URL, "")
	c.breaker = newFastCircuitBreaker()

	for i := 0; i < 3; i++ {
		err := c.HealthCheck(context.Background())
		require.Error(t, err)
	}

	before := atomic.LoadInt32(&calls)
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "circuit should fast-fail without another request")
}

func TestAgentClientSendMessageAccumulatesAssistantDeltas(t *testing.T) {
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"message_type\":\"assistant_message\",\"content\":\"Hi\"}\n\n")
		fmt.Fprint(w, "data: {\"message_type\":\"assistant_message\",\"content\":\" there\"}\n\n")
		fmt.Fprint(w, "data: {\"message_type\":\"internal_monologue\",\"content\":\"ignored\"}\n\n")
	})

	c := NewAgentClient(srv.URL, "")
	reply, err := c.SendMessage(context.Background(), "agent-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
}

func TestAgentClientSendMessageFailsFastWhenHealthDown(t *testing.T) {
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := NewAgentClient(srv.URL, "")
	c.breaker = newFastCircuitBreaker()

	_, err := c.SendMessage(context.Background(), "agent-1", "hello")
	require.Error(t, err)
}

func TestAgentClientMirrorIsBestEffort(t *testing.T) {
	var bodies int32
	srv := newAgentTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&bodies, 1)
		w.WriteHeader(http.StatusAccepted)
	})

	c := NewAgentClient(srv.URL, "")
	err := c.Mirror(context.Background(), "agent-1", "hello", "hi there")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bodies))
}

func newFastCircuitBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(2, time.Hour)
}
