// Command voiceworker is the long-lived process described in spec.md §4.1:
// it registers with the media fabric under a well-known agent name, accepts
// JobRequests, and for each one spins up a full STT -> LLM node -> TTS
// pipeline bound to the configured primary agent.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lookatitude/letta-voice-gateway/agent"
	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/healthmonitor"
	"github.com/lookatitude/letta-voice-gateway/llm"
	_ "github.com/lookatitude/letta-voice-gateway/llm/providers/anthropic"
	_ "github.com/lookatitude/letta-voice-gateway/llm/providers/openai"
	"github.com/lookatitude/letta-voice-gateway/llmnode"
	"github.com/lookatitude/letta-voice-gateway/memory"
	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/o11y/providers/langfuse"
	"github.com/lookatitude/letta-voice-gateway/roomfabric"
	"github.com/lookatitude/letta-voice-gateway/voice"
	"github.com/lookatitude/letta-voice-gateway/voice/stt"
	_ "github.com/lookatitude/letta-voice-gateway/voice/stt/providers/openai"
	"github.com/lookatitude/letta-voice-gateway/voice/transport"
	_ "github.com/lookatitude/letta-voice-gateway/voice/transport/providers/livekit"
	"github.com/lookatitude/letta-voice-gateway/voice/tts"
	_ "github.com/lookatitude/letta-voice-gateway/voice/tts/providers/openai"
	"github.com/lookatitude/letta-voice-gateway/worker"
)

// dispatchPath is the fabric's agent-dispatch websocket path this worker
// registers against (spec.md §4.1).
const dispatchPath = "/agent/register"

func main() {
	logger := o11y.NewLogger()
	if err := o11y.InitMeter("voiceworker"); err != nil {
		log.Fatalf("voiceworker: init meter: %v", err)
	}
	shutdownTracer, err := o11y.InitTracer("voiceworker")
	if err != nil {
		log.Fatalf("voiceworker: init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("voiceworker: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("voiceworker: invalid config: %v", err)
	}

	agentClient := memory.NewAgentClient(cfg.AgentServiceURL, "", memory.WithAgentClientLogger(logger))

	primaryAgentID, err := agent.ResolvePrimaryAgent(ctx, agentClient, cfg.PrimaryAgentName, cfg.PrimaryAgentID, logger)
	if err != nil {
		log.Fatalf("voiceworker: resolve primary agent: %v", err)
	}

	fastModel, err := llm.New(providerForModel(cfg.LLMModel), config.ProviderConfig{
		Model:  cfg.LLMModel,
		APIKey: cfg.LLMAPIKey,
	})
	if err != nil {
		log.Fatalf("voiceworker: construct LLM provider: %v", err)
	}

	registry := agent.NewRegistry()
	cache := agent.NewResponseCache(0, 0)
	nodeOpts := []llmnode.Option{llmnode.WithLogger(logger)}
	if exporter, expErr := newTraceExporter(cfg); expErr != nil {
		logger.Warn(ctx, "langfuse exporter disabled", "error", expErr)
	} else if exporter != nil {
		nodeOpts = append(nodeOpts, llmnode.WithTraceExporter(exporter))
	}
	node := llmnode.New(llmnode.ModeFromConfig(cfg.HybridStreaming), fastModel, agentClient, cache, nodeOpts...)

	fabric := roomfabric.New(cfg.FabricURL, cfg.FabricAPIKey, cfg.FabricAPISecret)

	transcriber, err := stt.New("openai", map[string]any{"api_key": cfg.STTAPIKey})
	if err != nil {
		log.Fatalf("voiceworker: construct STT provider: %v", err)
	}
	synth, err := tts.New("openai", map[string]any{"api_key": cfg.TTSAPIKey})
	if err != nil {
		log.Fatalf("voiceworker: construct TTS provider: %v", err)
	}

	dispatchURL := strings.Replace(cfg.FabricURL, "http", "ws", 1) + dispatchPath
	w := worker.New(dispatchURL, cfg.PrimaryAgentName, primaryAgentID, registry, fabric,
		runVoiceSession(registry, agentClient, fabric, node, transcriber, synth, cfg, logger),
		worker.WithLogger(logger))

	monitor := healthmonitor.New(fabric, cfg.PrimaryAgentName, roomfabric.AgentIdentityPrefix, healthmonitor.WithLogger(logger))

	app := core.NewApp()
	app.Register(
		newBackgroundComponent("worker", logger, reconnectingWorkerRun(w, logger)),
		newBackgroundComponent("health_monitor", logger, func(ctx context.Context) error {
			monitor.Run(ctx)
			return nil
		}),
	)

	logger.Info(ctx, "voiceworker starting", "primary_agent_name", cfg.PrimaryAgentName, "primary_agent_id", primaryAgentID)
	if err := app.Start(ctx); err != nil {
		log.Fatalf("voiceworker: start: %v", err)
	}

	<-ctx.Done()

	logger.Info(ctx, "voiceworker shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "voiceworker shutdown error", "error", err)
	}
}

// reconnectingWorkerRun wraps w.Run in the outer retry loop worker.Run's doc
// comment invites: a lost connection is not a fatal error, it's retried with
// a fixed backoff until ctx is cancelled.
func reconnectingWorkerRun(w *worker.Worker, logger *o11y.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			if err := w.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error(ctx, "worker connection lost, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
					continue
				}
			}
			return nil
		}
	}
}

// runVoiceSession returns the worker.Handoff invoked once a JobRequest is
// accepted: it acquires (or reuses) the agent instance bound to agentID,
// mints a worker-identity token, joins the room over the media fabric, and
// runs the STT -> LLM -> TTS pipeline until the room empties or ctx is
// cancelled.
func runVoiceSession(
	registry *agent.Registry,
	agentClient *memory.AgentClient,
	fabric *roomfabric.Client,
	node *llmnode.Node,
	transcriber stt.Transcriber,
	synth tts.Synthesizer,
	cfg config.Config,
	logger *o11y.Logger,
) worker.Handoff {
	return func(ctx context.Context, roomName, agentID string) {
		defer registry.UnassignRoom(roomName)

		inst, wasExisting := registry.AcquireInstance(agentID, func() *agent.Instance {
			return agent.NewInstance(agentID, cfg.PrimaryAgentName, cfg.PrimaryAgentName, cfg.PrimaryAgentID, agentClient, agent.WithLogger(logger))
		})
		if wasExisting {
			inst.ResetForReconnect()
		}
		inst.Start()

		workerIdentity := roomfabric.AgentIdentityPrefix + roomName
		token, err := fabric.MintToken(roomName, workerIdentity, roomfabric.DefaultTokenTTL)
		if err != nil {
			logger.Error(ctx, "mint worker token failed, aborting session", "room", roomName, "error", err)
			return
		}

		tr, err := transport.New("livekit", transport.Config{
			URL: fabric.URL(), Token: token, SampleRate: 16000, Channels: 1,
			Extra: map[string]any{"room": roomName},
		})
		if err != nil {
			logger.Error(ctx, "construct transport failed", "room", roomName, "error", err)
			return
		}
		connector, ok := tr.(interface{ Connect(context.Context) error })
		if ok {
			if err := connector.Connect(ctx); err != nil {
				logger.Error(ctx, "join room failed", "room", roomName, "error", err)
				return
			}
		}
		defer tr.Close()

		hooks := voice.Hooks{
			OnTranscript: func(ctx context.Context, text string) { inst.Touch() },
		}

		pipeline := voice.NewPipeline(
			voice.WithTransport(tr),
			voice.WithVAD(voice.NewEnergyVAD(voice.EnergyVADConfig{})),
			voice.WithSTT(stt.NewProcessor(transcriber, 16000, hooks)),
			voice.WithLLM(llmnode.NewProcessor(node, inst)),
			voice.WithTTS(tts.NewProcessor(synth, cfg.TTSVoice, true, hooks)),
			voice.WithSession(voice.NewSession(roomName)),
			voice.WithHooks(hooks),
		)

		idleCtx, idleCancel := context.WithCancel(ctx)
		inst.TrackBackgroundTask(idleCancel)
		go watchIdle(idleCtx, inst, cfg.IdleTimeout(), idleCancel)

		if err := pipeline.Run(idleCtx); err != nil {
			if errors.Is(err, llmnode.ErrRoomCleanupRequested) {
				logger.Info(ctx, "voice session ended by room_cleanup request", "room", roomName)
			} else {
				logger.Warn(ctx, "voice session ended", "room", roomName, "error", err)
			}
		}
	}
}

// watchIdle requests shutdown once inst has had no activity for timeout,
// per spec.md §4.3's idle monitor.
func watchIdle(ctx context.Context, inst *agent.Instance, timeout time.Duration, shutdown context.CancelFunc) {
	if timeout <= 0 {
		timeout = agent.DefaultIdleTimeout
	}
	ticker := time.NewTicker(agent.DefaultIdlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if inst.IdleSince() >= timeout {
				shutdown()
				return
			}
		}
	}
}

// backgroundComponent adapts a blocking run function, driven entirely by
// context cancellation, into a core.Lifecycle: Start launches it in a
// goroutine and returns immediately, Stop cancels its context and waits for
// it to exit.
type backgroundComponent struct {
	name   string
	logger *o11y.Logger
	run    func(context.Context) error

	cancel context.CancelFunc
	done   chan error
}

func newBackgroundComponent(name string, logger *o11y.Logger, run func(context.Context) error) *backgroundComponent {
	return &backgroundComponent{name: name, logger: logger, run: run}
}

func (c *backgroundComponent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan error, 1)
	go func() { c.done <- c.run(runCtx) }()
	return nil
}

func (c *backgroundComponent) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *backgroundComponent) Health() core.HealthStatus {
	status := core.HealthHealthy
	select {
	case err := <-c.done:
		status = core.HealthUnhealthy
		c.done <- err
	default:
	}
	return core.HealthStatus{Status: status, Message: c.name, Timestamp: time.Now()}
}

// newTraceExporter builds the optional Langfuse exporter for llmnode calls.
// An unset LANGFUSE_PUBLIC_KEY is not an error: tracing is opt-in.
func newTraceExporter(cfg config.Config) (o11y.TraceExporter, error) {
	if cfg.LangfusePublicKey == "" {
		return nil, nil
	}
	opts := []langfuse.Option{
		langfuse.WithPublicKey(cfg.LangfusePublicKey),
		langfuse.WithSecretKey(cfg.LangfuseSecretKey),
	}
	if cfg.LangfuseBaseURL != "" {
		opts = append(opts, langfuse.WithBaseURL(cfg.LangfuseBaseURL))
	}
	return langfuse.New(opts...)
}

// providerForModel picks the registered llm provider by model name: Claude
// model identifiers route to the anthropic provider, everything else to the
// OpenAI-compatible default (spec.md's LLM_MODEL is mandatory and
// single-valued; there is no separate provider-name setting).
func providerForModel(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return "anthropic"
	}
	return "openai"
}
