// Package llmnode implements the hybrid fast/slow LLM node of spec.md §4.4:
// a fast path that streams directly from a general chat model, with a
// background best-effort mirror to the stateful agent service, and a slow
// path that routes every turn through that same stateful service. Every
// call is guaranteed to return a non-empty, user-safe reply (§4.5's
// "guaranteed fallback" contract) regardless of what fails underneath.
package llmnode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/lookatitude/letta-voice-gateway/agent"
	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/llm"
	"github.com/lookatitude/letta-voice-gateway/memory"
	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/schema"
)

// fastPathTimeout bounds the whole fast-path stream (spec.md §4.4 step 3).
const fastPathTimeout = 10 * time.Second

// minValidLength is the shortest a validated response may be (spec.md §4.5).
const minValidLength = 3

// Mode selects which algorithm Reply runs.
type Mode string

const (
	// ModeHybrid runs the fast path first, falling back to the slow path on
	// irrecoverable failure.
	ModeHybrid Mode = "hybrid"
	// ModeStateful always routes through the stateful agent service.
	ModeStateful Mode = "stateful"
)

// Fallback is one of the guaranteed-fallback catalog entries (spec.md §4.5).
type Fallback string

const (
	FallbackLettaDown  Fallback = "I'm having trouble reaching my memory right now, but I'm still here with you."
	FallbackLLMTimeout Fallback = "That took a little longer than I expected. Could you say that again?"
	FallbackUnknown    Fallback = "Sorry, I didn't quite catch that. Could you try once more?"
)

// workingOnIt is spoken when a duplicate request arrives while the original
// is still in flight and no prior cached reply exists to replay instead
// (spec.md §4.4 "Request deduplication").
const workingOnIt = "Still working on that one, one moment."

// errorMarkers are literal strings providers sometimes return in place of a
// real reply; a response equal to one of these (case-insensitively, after
// trimming) is treated as invalid rather than spoken to the user.
var errorMarkers = map[string]bool{
	"error":             true,
	"an error occurred": true,
	"null":              true,
	"undefined":         true,
	"[object object]":   true,
}

// Node is the hybrid LLM node bound to one configured mode, fast-path chat
// model, and slow-path agent client.
type Node struct {
	mode     Mode
	fast     llm.ChatModel
	slow     *memory.AgentClient
	cache    *agent.ResponseCache
	logger   *o11y.Logger
	exporter o11y.TraceExporter
}

// Option configures a Node at construction.
type Option func(*Node)

// WithLogger overrides the Node's logger.
func WithLogger(l *o11y.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithTraceExporter attaches a best-effort LLM call exporter (e.g.
// o11y/providers/langfuse). A nil exporter, the default, disables exporting
// entirely rather than erroring.
func WithTraceExporter(e o11y.TraceExporter) Option {
	return func(n *Node) { n.exporter = e }
}

// New creates a Node. fast may be nil when mode is ModeStateful.
func New(mode Mode, fast llm.ChatModel, slow *memory.AgentClient, cache *agent.ResponseCache, opts ...Option) *Node {
	n := &Node{mode: mode, fast: fast, slow: slow, cache: cache, logger: o11y.NewLogger()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fingerprint computes spec.md §4.4's request fingerprint:
// hash(normalize(user_message) + agent_id).
func Fingerprint(userMessage, agentID string) string {
	sum := sha256.Sum256([]byte(normalize(userMessage) + agentID))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate reports whether text is an acceptable reply per spec.md §4.5:
// non-empty after trimming, length >= 3, contains at least one alphanumeric
// rune, and is not a literal provider error-marker string.
func Validate(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minValidLength {
		return false
	}
	if errorMarkers[strings.ToLower(trimmed)] {
		return false
	}
	hasAlnum := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	return hasAlnum
}

// Reply produces a reply to userMessage for inst, routing through the
// request-deduplication cache and guaranteeing a non-empty, validated result.
func (n *Node) Reply(ctx context.Context, inst *agent.Instance, userMessage string) string {
	start := time.Now()
	defer func() {
		o11y.Histogram(ctx, "llmnode.reply.duration_ms", float64(time.Since(start).Milliseconds()))
	}()

	fp := Fingerprint(userMessage, inst.AgentID)
	placeholder, proceed := n.cache.Begin(fp)
	if !proceed {
		if placeholder == "" {
			return workingOnIt
		}
		return placeholder
	}

	var text string
	var err error
	switch n.mode {
	case ModeStateful:
		text, err = n.slowPath(ctx, inst, userMessage)
	default:
		text, err = n.fastPath(ctx, inst, userMessage)
		if err != nil {
			n.logger.Warn(ctx, "fast path failed, falling through to slow path",
				"agent_id", inst.AgentID, "error", err)
			text, err = n.slowPath(ctx, inst, userMessage)
		}
	}

	if err != nil || !Validate(text) {
		reply := n.fallbackFor(err)
		n.logger.Error(ctx, "CRITICAL FALLBACK", "agent_id", inst.AgentID, "reply", reply, "error", err)
		n.exportCall(ctx, inst, userMessage, "", start, err)
		n.cache.Abort(fp)
		return reply
	}

	n.exportCall(ctx, inst, userMessage, text, start, nil)
	n.cache.Complete(fp, text)
	return text
}

// exportCall records the turn to n.exporter, if one is configured. Export
// failures are logged, never surfaced: tracing is an observability
// side-channel, not part of the guaranteed-reply contract.
func (n *Node) exportCall(ctx context.Context, inst *agent.Instance, userMessage, reply string, start time.Time, replyErr error) {
	if n.exporter == nil {
		return
	}

	model := string(n.mode)
	if n.fast != nil {
		model = n.fast.ModelID()
	}

	data := o11y.LLMCallData{
		Model:    model,
		Provider: string(n.mode),
		Duration: time.Since(start),
		Messages: []map[string]any{{"role": "user", "content": userMessage}},
		Response: map[string]any{"content": reply},
		Metadata: map[string]any{"agent_id": inst.AgentID},
	}
	if replyErr != nil {
		data.Error = replyErr.Error()
	}

	exportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.exporter.ExportLLMCall(exportCtx, data); err != nil {
		n.logger.Debug(ctx, "trace export failed", "agent_id", inst.AgentID, "error", err)
	}
}

func (n *Node) fastPath(ctx context.Context, inst *agent.Instance, userMessage string) (string, error) {
	// Memory-load failure is survivable (spec.md §4.4 step 1): the instance
	// already falls back to BaseInstructions on its own, so its error here
	// is logged but not propagated.
	if err := inst.EnsureMemoryLoaded(ctx); err != nil {
		n.logger.Debug(ctx, "proceeding with base instructions", "agent_id", inst.AgentID)
	}

	fctx, cancel := context.WithTimeout(ctx, fastPathTimeout)
	defer cancel()

	msgs := []schema.Message{schema.NewSystemMessage(inst.SystemInstructions())}
	for _, m := range inst.RecentHistory() {
		if m.Role == "assistant" {
			msgs = append(msgs, schema.NewAIMessage(m.Text))
		} else {
			msgs = append(msgs, schema.NewHumanMessage(m.Text))
		}
	}
	msgs = append(msgs, schema.NewHumanMessage(userMessage))

	start := time.Now()
	loggedFirstToken := false
	var reply strings.Builder
	for chunk, err := range n.fast.Stream(fctx, msgs) {
		if err != nil {
			return "", core.NewError("llmnode.fast_path", classifyStreamErr(err), "fast path stream failed", err)
		}
		if !loggedFirstToken {
			n.logger.Debug(ctx, "time to first token", "agent_id", inst.AgentID, "latency", time.Since(start))
			loggedFirstToken = true
		}
		reply.WriteString(chunk.Delta)
	}

	text := reply.String()
	if !Validate(text) {
		return "", core.NewError("llmnode.fast_path", core.ErrInvalidInput, "fast path returned an invalid response", nil)
	}

	inst.AppendTurn(userMessage, text)
	n.mirrorInBackground(inst, userMessage, text)
	return text, nil
}

// mirrorInBackground enqueues the best-effort sync to the stateful agent
// service (spec.md §4.4 step 4): never blocks the caller, and is registered
// with the instance so a reconnect or agent switch can cancel it in flight.
func (n *Node) mirrorInBackground(inst *agent.Instance, userText, agentText string) {
	mctx, cancel := context.WithCancel(context.Background())
	inst.TrackBackgroundTask(cancel)
	go func() {
		defer cancel()
		if err := n.slow.Mirror(mctx, inst.AgentID, userText, agentText); err != nil {
			n.logger.Warn(mctx, "memory mirror failed", "agent_id", inst.AgentID, "error", err)
		}
	}()
}

func (n *Node) slowPath(ctx context.Context, inst *agent.Instance, userMessage string) (string, error) {
	text, err := n.slow.SendMessage(ctx, inst.AgentID, userMessage)
	if err != nil {
		return "", err
	}
	if !Validate(text) {
		return "", core.NewError("llmnode.slow_path", core.ErrInvalidInput, "slow path returned an invalid response", nil)
	}
	return text, nil
}

func classifyStreamErr(err error) core.ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout
	}
	return core.ErrProviderDown
}

// fallbackFor maps a failure's error code to the guaranteed-fallback
// catalog entry spec.md §4.5 names. Anything unrecognized, including a nil
// err (an invalid-but-no-error response), maps to FallbackUnknown.
func (n *Node) fallbackFor(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case core.ErrCircuitOpen, core.ErrProviderDown, core.ErrNotFound:
			return string(FallbackLettaDown)
		case core.ErrTimeout:
			return string(FallbackLLMTimeout)
		}
	}
	return string(FallbackUnknown)
}

// ModeFromConfig maps HYBRID_STREAMING's boolean to a Mode.
func ModeFromConfig(hybridStreaming bool) Mode {
	if hybridStreaming {
		return ModeHybrid
	}
	return ModeStateful
}
