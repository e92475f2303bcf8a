package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lookatitude/letta-voice-gateway/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceEnsureMemoryLoadedComposesInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"a1","name":"Ava","memory":{"blocks":[
			{"label":"persona","value":"Ava the assistant"},
			{"label":"workspace","value":"proj-x"}
		]}}`)
	}))
	t.Cleanup(srv.Close)

	client := memory.NewAgentClient(srv.URL, "")
	inst := NewInstance("a1", "Ava", "Ava", "", client)

	require.NoError(t, inst.EnsureMemoryLoaded(context.Background()))
	assert.True(t, inst.MemoryLoaded())
	assert.Contains(t, inst.SystemInstructions(), "Ava the assistant")
	assert.Contains(t, inst.SystemInstructions(), "### workspace\nproj-x")
}

func TestInstanceEnsureMemoryLoadedFallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := memory.NewAgentClient(srv.URL, "")
	inst := NewInstance("a1", "Ava", "Ava", "", client)

	err := inst.EnsureMemoryLoaded(context.Background())
	require.Error(t, err)
	assert.False(t, inst.MemoryLoaded())
	assert.Equal(t, BaseInstructions, inst.SystemInstructions())
}

func TestInstanceEnsureMemoryLoadedIsShortCircuitedOnceLoaded(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"id":"a1","name":"Ava","memory":{"blocks":[{"label":"persona","value":"Ava"}]}}`)
	}))
	t.Cleanup(srv.Close)

	client := memory.NewAgentClient(srv.URL, "")
	inst := NewInstance("a1", "Ava", "Ava", "", client)

	require.NoError(t, inst.EnsureMemoryLoaded(context.Background()))
	require.NoError(t, inst.EnsureMemoryLoaded(context.Background()))
	assert.Equal(t, 1, calls, "a second call should short-circuit without refetching")
}

func TestInstanceSwitchAgentRejectsWrongName(t *testing.T) {
	inst := NewInstance("a1", "Ava", "Ava", "", nil)
	inst.AppendTurn("hi", "hello")

	err := inst.SwitchAgent("other-id", "OtherAgent")
	require.Error(t, err)
	assert.Len(t, inst.RecentHistory(), 2, "a rejected switch must not change state")
}

func TestInstanceSwitchAgentRejectsWrongIDWhenConfigured(t *testing.T) {
	inst := NewInstance("a1", "Ava", "Ava", "a1", nil)

	err := inst.SwitchAgent("a2", "Ava")
	require.Error(t, err, "name matches but configured id does not")
}

func TestInstanceSwitchAgentAcceptsMatchAndResets(t *testing.T) {
	inst := NewInstance("a1", "Ava", "Ava", "", nil)
	inst.AppendTurn("hi", "hello")

	err := inst.SwitchAgent("a1", "Ava")
	require.NoError(t, err)
	assert.Empty(t, inst.RecentHistory())
}

func TestInstanceAppendTurnBoundsHistory(t *testing.T) {
	inst := NewInstance("a1", "Ava", "Ava", "", nil)
	for i := 0; i < 20; i++ {
		inst.AppendTurn(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	history := inst.RecentHistory()
	assert.Len(t, history, defaultHistoryTurns*2)
	assert.Equal(t, "u10", history[0].Text, "oldest turns should be trimmed")
}

func TestInstanceResetForReconnectCancelsBackgroundTasks(t *testing.T) {
	inst := NewInstance("a1", "Ava", "Ava", "", nil)

	var cancelled bool
	_, cancel := context.WithCancel(context.Background())
	inst.TrackBackgroundTask(func() { cancelled = true; cancel() })

	inst.ResetForReconnect()
	assert.True(t, cancelled)
}
