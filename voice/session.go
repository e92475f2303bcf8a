package voice

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is where a VoiceSession sits in the listen/speak cycle.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateListening SessionState = "listening"
	StateSpeaking  SessionState = "speaking"
)

// allowedTransitions enumerates the legal SessionState graph. Same-state
// transitions are rejected except idle→idle, which a reconnect replays
// harmlessly.
var allowedTransitions = map[SessionState]map[SessionState]bool{
	StateIdle:      {StateIdle: true, StateListening: true},
	StateListening: {StateSpeaking: true, StateIdle: true},
	StateSpeaking:  {StateListening: true, StateIdle: true},
}

// Turn is one user/assistant exchange kept in a VoiceSession's bounded
// history.
type Turn struct {
	ID        string
	UserText  string
	AgentText string
	ToolCalls []string
	StartTime time.Time
	EndTime   time.Time
}

// defaultMaxTurns bounds the message history a VoiceSession mirrors back to
// the agent service: roughly N user/assistant pairs, not the full transcript.
const defaultMaxTurns = 10

// VoiceSession binds one room connection to the pipeline instance serving
// it. It tracks the listen/speak state machine, the recent-turn history
// mirrored to the agent service, and the identifiers a health monitor or
// dispatcher needs to find this session again (RoomName, AgentInstanceRef).
type VoiceSession struct {
	ID               string
	RoomName         string
	AgentInstanceRef string
	IdleTimeout      time.Duration
	State            SessionState
	CreatedAt        time.Time
	Metadata         map[string]any

	mu       sync.Mutex
	Turns    []Turn
	maxTurns int
	shutdown chan struct{}
	once     sync.Once
}

// NewSession creates an idle VoiceSession with a default 10-turn history
// bound and a 300s idle timeout (overridden by config.IdleTimeoutSeconds).
func NewSession(id string) *VoiceSession {
	return &VoiceSession{
		ID:          id,
		State:       StateIdle,
		CreatedAt:   time.Now(),
		Metadata:    make(map[string]any),
		IdleTimeout: 300 * time.Second,
		maxTurns:    defaultMaxTurns,
		shutdown:    make(chan struct{}),
	}
}

// Transition moves the session to state to, rejecting transitions not in
// allowedTransitions.
func (s *VoiceSession) Transition(to SessionState) error {
	if !allowedTransitions[s.State][to] {
		return fmt.Errorf("voice: invalid session transition %s -> %s", s.State, to)
	}
	s.State = to
	return nil
}

// CurrentState returns the session's SessionState.
func (s *VoiceSession) CurrentState() SessionState {
	return s.State
}

// AddTurn appends a completed turn, trimming the oldest entries once
// maxTurns is exceeded.
func (s *VoiceSession) AddTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	if s.maxTurns > 0 && len(s.Turns) > s.maxTurns {
		s.Turns = s.Turns[len(s.Turns)-s.maxTurns:]
	}
}

// TurnCount returns the number of turns currently retained.
func (s *VoiceSession) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Turns)
}

// LastTurn returns a copy of the most recent turn, or nil if none exist.
func (s *VoiceSession) LastTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Turns) == 0 {
		return nil
	}
	t := s.Turns[len(s.Turns)-1]
	return &t
}

// Shutdown signals Done and is safe to call more than once or concurrently.
func (s *VoiceSession) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Done returns a channel closed once Shutdown has been called, so a
// pipeline goroutine or the room health monitor can observe the session's
// shutdown signal.
func (s *VoiceSession) Done() <-chan struct{} {
	return s.shutdown
}
