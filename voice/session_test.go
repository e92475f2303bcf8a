package voice

import (
	"testing"
	"time"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession("test-123")
	if s.ID != "test-123" {
		t.Errorf("ID = %q, want %q", s.ID, "test-123")
	}
	if s.State != StateIdle {
		t.Errorf("State = %q, want %q", s.State, StateIdle)
	}
	if s.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if s.Metadata == nil {
		t.Error("Metadata should be initialized")
	}
	if s.TurnCount() != 0 {
		t.Errorf("TurnCount() = %d, want 0", s.TurnCount())
	}
}

func TestSessionTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionState
		to      SessionState
		wantErr bool
	}{
		{"idle to listening", StateIdle, StateListening, false},
		{"listening to speaking", StateListening, StateSpeaking, false},
		{"speaking to listening", StateSpeaking, StateListening, false},
		{"speaking to idle", StateSpeaking, StateIdle, false},
		{"listening to idle", StateListening, StateIdle, false},
		{"idle to idle (reconnect replay)", StateIdle, StateIdle, false},
		{"idle to speaking skips listening", StateIdle, StateSpeaking, true},
		{"listening to listening", StateListening, StateListening, true},
		{"speaking to speaking", StateSpeaking, StateSpeaking, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &VoiceSession{State: tt.from}
			err := s.Transition(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("Transition(%s->%s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err == nil && s.State != tt.to {
				t.Errorf("State = %q, want %q", s.State, tt.to)
			}
		})
	}
}

func TestSessionCurrentState(t *testing.T) {
	s := NewSession("test")
	if s.CurrentState() != StateIdle {
		t.Errorf("CurrentState() = %q, want %q", s.CurrentState(), StateIdle)
	}
	_ = s.Transition(StateListening)
	if s.CurrentState() != StateListening {
		t.Errorf("CurrentState() = %q, want %q", s.CurrentState(), StateListening)
	}
}

func TestSessionAddTurnAndLastTurn(t *testing.T) {
	s := NewSession("test")
	s.AddTurn(Turn{ID: "turn-1", UserText: "hello", AgentText: "hi there", StartTime: time.Now(), EndTime: time.Now()})

	if s.TurnCount() != 1 {
		t.Errorf("TurnCount() = %d, want 1", s.TurnCount())
	}
	last := s.LastTurn()
	if last == nil {
		t.Fatal("LastTurn() returned nil")
	}
	if last.ID != "turn-1" || last.UserText != "hello" {
		t.Errorf("LastTurn() = %+v, want ID=turn-1 UserText=hello", last)
	}
}

func TestSessionLastTurnEmpty(t *testing.T) {
	if s := NewSession("test"); s.LastTurn() != nil {
		t.Error("LastTurn() should be nil for a fresh session")
	}
}

func TestSessionAddTurnWithToolCalls(t *testing.T) {
	s := NewSession("test")
	s.AddTurn(Turn{ID: "turn-1", ToolCalls: []string{"call-1", "call-2"}, StartTime: time.Now()})

	last := s.LastTurn()
	if len(last.ToolCalls) != 2 {
		t.Errorf("ToolCalls = %d, want 2", len(last.ToolCalls))
	}
}

func TestSessionHistoryIsBounded(t *testing.T) {
	s := NewSession("test")
	for i := 0; i < defaultMaxTurns+5; i++ {
		s.AddTurn(Turn{ID: string(rune('a' + i)), StartTime: time.Now()})
	}
	if s.TurnCount() != defaultMaxTurns {
		t.Errorf("TurnCount() = %d, want %d (history should be trimmed)", s.TurnCount(), defaultMaxTurns)
	}
}

func TestSessionShutdownClosesDone(t *testing.T) {
	s := NewSession("test")
	select {
	case <-s.Done():
		t.Fatal("Done() should not be closed before Shutdown")
	default:
	}

	s.Shutdown()
	s.Shutdown() // must not panic when called twice

	select {
	case <-s.Done():
	default:
		t.Fatal("Done() should be closed after Shutdown")
	}
}
