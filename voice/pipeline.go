package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Transport is the subset of transport.AudioTransport the Pipeline drives.
// It is declared independently (rather than importing the transport
// package) so pipeline tests can supply minimal fakes, and so voice itself
// stays free of a dependency on any one room-fabric SDK.
type Transport interface {
	Recv(ctx context.Context) (<-chan Frame, error)
	Send(ctx context.Context, frame Frame) error
	// AudioOut returns a writer for synthesized audio samples. A transport
	// with no separate audio track (e.g. text-only debugging) may return
	// io.Discard.
	AudioOut() io.Writer
	Close() error
}

type pipelineConfig struct {
	Transport         Transport
	VAD               VAD
	STT               FrameProcessor
	LLM               FrameProcessor
	TTS               FrameProcessor
	Session           *VoiceSession
	Hooks             Hooks
	ChannelBufferSize int
}

// Pipeline cascades a room's audio through VAD, STT, an LLM hook, and TTS,
// in that order, back out to the transport. Any stage may be omitted: a
// pipeline with only STT+transport is a valid (if unusual) configuration,
// useful in tests and for text-only debugging sessions.
type Pipeline struct {
	config pipelineConfig
}

// Option configures a Pipeline built by NewPipeline.
type Option func(*pipelineConfig)

func WithTransport(t Transport) Option { return func(c *pipelineConfig) { c.Transport = t } }
func WithVAD(v VAD) Option             { return func(c *pipelineConfig) { c.VAD = v } }
func WithSTT(p FrameProcessor) Option  { return func(c *pipelineConfig) { c.STT = p } }
func WithLLM(p FrameProcessor) Option  { return func(c *pipelineConfig) { c.LLM = p } }
func WithTTS(p FrameProcessor) Option  { return func(c *pipelineConfig) { c.TTS = p } }
func WithSession(s *VoiceSession) Option {
	return func(c *pipelineConfig) { c.Session = s }
}
func WithHooks(h Hooks) Option { return func(c *pipelineConfig) { c.Hooks = h } }
func WithChannelBufferSize(n int) Option {
	return func(c *pipelineConfig) { c.ChannelBufferSize = n }
}

// NewPipeline builds a Pipeline from opts. The default channel buffer is 64
// frames, generous enough to absorb a burst of VAD-filtered audio without
// applying backpressure to the transport's receive loop.
func NewPipeline(opts ...Option) *Pipeline {
	cfg := pipelineConfig{ChannelBufferSize: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{config: cfg}
}

// Run drains the transport's inbound frames through the configured stages
// until the transport closes, a stage fails, or ctx is cancelled. It blocks
// until the session ends.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.config
	if cfg.Transport == nil {
		return errors.New("voice: pipeline requires a transport")
	}
	if cfg.VAD == nil && cfg.STT == nil && cfg.LLM == nil && cfg.TTS == nil {
		return errors.New("voice: pipeline requires at least one processor")
	}

	frames, err := cfg.Transport.Recv(ctx)
	if err != nil {
		return fmt.Errorf("voice: transport recv: %w", err)
	}

	procs := make([]FrameProcessor, 0, 4)
	if cfg.VAD != nil {
		procs = append(procs, p.vadProcessor(cfg.VAD, cfg.Hooks))
	}
	if cfg.STT != nil {
		procs = append(procs, cfg.STT)
	}
	if cfg.LLM != nil {
		procs = append(procs, cfg.LLM)
	}
	if cfg.TTS != nil {
		procs = append(procs, cfg.TTS)
	}

	out := make(chan Frame, cfg.ChannelBufferSize)
	chainErr := make(chan error, 1)
	go func() {
		chainErr <- Chain(procs...).Process(ctx, frames, out)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-out:
			if !ok {
				return <-chainErr
			}
			if frame.Type == FrameAudio {
				if _, err := cfg.Transport.AudioOut().Write(frame.Data); err != nil {
					return fmt.Errorf("voice: transport audio write: %w", err)
				}
				continue
			}
			if err := cfg.Transport.Send(ctx, frame); err != nil {
				return fmt.Errorf("voice: transport send: %w", err)
			}
		}
	}
}

// vadProcessor wraps vad as a FrameProcessor: non-audio frames pass through
// untouched; audio frames are classified, drive the Hooks' speech-boundary
// callbacks, and are forwarded downstream only while IsSpeech is true. A
// detection error is handed to hooks.OnError; a nil OnError (or one that
// returns nil) skips the frame and continues, a non-nil return aborts the
// pipeline.
func (p *Pipeline) vadProcessor(vad VAD, hooks Hooks) FrameProcessor {
	return FrameProcessorFunc(func(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
		defer close(out)
		for f := range in {
			if f.Type != FrameAudio {
				out <- f
				continue
			}

			res, err := vad.DetectActivity(ctx, f.Data)
			if err != nil {
				if hooks.OnError != nil {
					if herr := hooks.OnError(ctx, err); herr != nil {
						return herr
					}
				}
				continue
			}

			switch res.EventType {
			case VADSpeechStart:
				if hooks.OnSpeechStart != nil {
					hooks.OnSpeechStart(ctx)
				}
			case VADSpeechEnd:
				if hooks.OnSpeechEnd != nil {
					hooks.OnSpeechEnd(ctx)
				}
			}

			if !res.IsSpeech {
				continue
			}
			out <- f
		}
		return nil
	})
}

// Events runs the pipeline to completion and surfaces its terminal error (if
// any) as a single iteration. It does not stream individual frames; use
// Hooks for per-frame observation. Intended for callers that prefer
// range-over-func error handling to a plain err return, e.g. a worker's main
// select loop alongside other event sources.
func (p *Pipeline) Events(ctx context.Context) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		if err := p.Run(ctx); err != nil {
			yield(Frame{}, err)
		}
	}
}
