package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lookatitude/letta-voice-gateway/memory"
	"github.com/lookatitude/letta-voice-gateway/o11y"
)

// defaultHistoryTurns bounds message_history to roughly N user/assistant
// pairs kept in the LLM context; full conversations live in the stateful
// agent service via the slow-path mirror (spec.md §4.3 "Message-history
// bound").
const defaultHistoryTurns = 10

// DefaultIdleTimeout is how long an Instance waits with no activity and no
// human present before requesting graceful shutdown (spec.md §4.3 "Idle
// monitor").
const DefaultIdleTimeout = 300 * time.Second

// DefaultIdlePollInterval is how often the idle monitor re-checks.
const DefaultIdlePollInterval = 15 * time.Second

// Message is one turn of message_history.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// BaseInstructions is prefixed to every composed system prompt before the
// persona/memory blocks, per spec.md §4.3 step 4.
const BaseInstructions = "You are a helpful voice assistant. Keep replies concise and conversational."

// Instance is one voice-assistant instance bound to a single agent identity
// (spec.md §4.3). A Registry owns the agent_id -> *Instance mapping; an
// Instance itself owns its persona/memory state, bounded history, and the
// primary-agent lock that rejects impersonation attempts from the browser.
type Instance struct {
	AgentID string
	Name    string

	primaryAgentName string
	primaryAgentID   string // optional; empty means "any id under this name"

	client *memory.AgentClient
	core   *memory.Core
	logger *o11y.Logger

	mu                sync.Mutex
	personaText       string
	systemInstructions string
	memoryLoaded      bool
	history           []Message
	lastActivityAt    time.Time

	tasksMu sync.Mutex
	cancels []context.CancelFunc
}

// InstanceOption configures an Instance at construction.
type InstanceOption func(*Instance)

// WithLogger overrides the Instance's logger.
func WithLogger(l *o11y.Logger) InstanceOption {
	return func(i *Instance) { i.logger = l }
}

// NewInstance creates an Instance for agentID/name, bound to the
// process-wide primary-agent identity (primaryAgentName required,
// primaryAgentID optional) used by SwitchAgent's lock check.
func NewInstance(agentID, name, primaryAgentName, primaryAgentID string, client *memory.AgentClient, opts ...InstanceOption) *Instance {
	inst := &Instance{
		AgentID:          agentID,
		Name:             name,
		primaryAgentName: primaryAgentName,
		primaryAgentID:   primaryAgentID,
		client:           client,
		core:             memory.NewCore(memory.CoreConfig{}),
		logger:           o11y.NewLogger(),
		lastActivityAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Start marks the instance active. The pipeline attachment itself is the
// caller's responsibility (package voice); Start only resets the activity
// clock so a freshly-acquired instance doesn't look immediately idle.
func (i *Instance) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastActivityAt = time.Now()
}

// Touch updates last_activity_at, called on every user utterance or
// data-channel message.
func (i *Instance) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastActivityAt = time.Now()
}

// IdleSince reports how long it has been since the last recorded activity.
func (i *Instance) IdleSince() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return time.Since(i.lastActivityAt)
}

// EnsureMemoryLoaded runs load_memory if it hasn't already succeeded this
// session (spec.md §4.3 steps 1-6). A failure is non-fatal: the instance
// falls back to BaseInstructions and memoryLoaded stays false so the next
// call retries.
func (i *Instance) EnsureMemoryLoaded(ctx context.Context) error {
	i.mu.Lock()
	if i.memoryLoaded {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()

	rec, err := i.client.FetchAgent(ctx, i.AgentID)
	if err != nil {
		i.logger.Warn(ctx, "memory load failed, using base instructions",
			"agent_id", i.AgentID, "error", err)
		i.mu.Lock()
		i.systemInstructions = BaseInstructions
		i.mu.Unlock()
		return err
	}

	persona := i.core.LoadBlocks(rec.Memory.Blocks)
	instructions := i.core.SystemInstructions(BaseInstructions, persona)

	i.mu.Lock()
	i.personaText = persona
	i.systemInstructions = instructions
	i.memoryLoaded = true
	i.mu.Unlock()
	return nil
}

// SystemInstructions returns the composed system prompt, falling back to
// BaseInstructions if memory has never successfully loaded.
func (i *Instance) SystemInstructions() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.systemInstructions == "" {
		return BaseInstructions
	}
	return i.systemInstructions
}

// MemoryLoaded reports whether load_memory has succeeded at least once.
func (i *Instance) MemoryLoaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.memoryLoaded
}

// RecentHistory returns up to the last N messages, oldest first.
func (i *Instance) RecentHistory() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Message, len(i.history))
	copy(out, i.history)
	return out
}

// AppendTurn records a validated (user, assistant) exchange, trimming the
// oldest entries once the bound is exceeded.
func (i *Instance) AppendTurn(userText, assistantText string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = append(i.history, Message{Role: "user", Text: userText}, Message{Role: "assistant", Text: assistantText})
	maxMessages := defaultHistoryTurns * 2
	if len(i.history) > maxMessages {
		i.history = i.history[len(i.history)-maxMessages:]
	}
}

// TrackBackgroundTask registers cancel so ResetForReconnect can stop it.
// Callers invoke this immediately after starting a background goroutine
// (e.g. the memory-sync mirror, the idle monitor).
func (i *Instance) TrackBackgroundTask(cancel context.CancelFunc) {
	i.tasksMu.Lock()
	defer i.tasksMu.Unlock()
	i.cancels = append(i.cancels, cancel)
}

// ResetForReconnect cancels every tracked background task, clears history,
// resets last_activity_at, and forces the next query to reload memory
// (spec.md §4.3 "reset_for_reconnect").
func (i *Instance) ResetForReconnect() {
	i.tasksMu.Lock()
	cancels := i.cancels
	i.cancels = nil
	i.tasksMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = nil
	i.lastActivityAt = time.Now()
	i.memoryLoaded = false
	i.systemInstructions = ""
	i.personaText = ""
}

// PrimaryAgentName returns the agent name this instance is locked to, used
// to compose the browser-facing rejection message when SwitchAgent rejects
// a requested switch (spec.md §4.3/§8 scenario 3).
func (i *Instance) PrimaryAgentName() string {
	return i.primaryAgentName
}

// ErrAgentLockRejected is returned by SwitchAgent when the requested
// identity does not match the configured primary agent.
type ErrAgentLockRejected struct {
	RequestedName string
	RequestedID   string
}

func (e *ErrAgentLockRejected) Error() string {
	return fmt.Sprintf("agent: switch to %q (%q) rejected by primary-agent lock", e.RequestedName, e.RequestedID)
}

// SwitchAgent enforces the agent-lock policy (spec.md §4.3): a switch is
// accepted only if newName matches the configured primary_agent_name, and,
// when primary_agent_id is configured, newID matches it too. An accepted
// switch resets the instance exactly like ResetForReconnect, since it is a
// new identity context despite reusing the same Instance object.
func (i *Instance) SwitchAgent(newID, newName string) error {
	if newName != i.primaryAgentName {
		return &ErrAgentLockRejected{RequestedName: newName, RequestedID: newID}
	}
	if i.primaryAgentID != "" && newID != i.primaryAgentID {
		return &ErrAgentLockRejected{RequestedName: newName, RequestedID: newID}
	}
	i.ResetForReconnect()
	return nil
}
