// Package stt defines the speech-to-text stage of the voice pipeline: a
// provider registry (mirroring voice/transport and voice.VAD) so a concrete
// vendor is selected by name from STT_API_KEY/config rather than compiled
// in directly, and a FrameProcessor adapter that turns an utterance's
// accumulated audio frames into a single text frame per
// voice.SignalEndOfUtterance boundary.
package stt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lookatitude/letta-voice-gateway/voice"
)

// Transcriber converts one utterance's raw PCM audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error)
}

// Factory constructs a Transcriber from provider-specific parameters.
type Factory func(params map[string]any) (Transcriber, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory to the registry. Called from provider
// init() functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs a Transcriber by provider name.
func New(name string, params map[string]any) (Transcriber, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stt: unknown provider %q (registered: %v)", name, List())
	}
	return f(params)
}

// List returns the sorted names of registered providers.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Processor adapts a Transcriber into a voice.FrameProcessor: it buffers
// audio frames between end_of_utterance control frames (VAD already
// filtered out silence upstream), transcribes the buffered utterance, and
// emits a single text frame carrying the transcript. Control and text
// frames pass through untouched so downstream stages still see interrupt
// signals.
type Processor struct {
	transcriber Transcriber
	sampleRate  int
	hooks       voice.Hooks
}

// NewProcessor creates a Processor. sampleRate defaults to 16000 if <= 0.
func NewProcessor(t Transcriber, sampleRate int, hooks voice.Hooks) *Processor {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Processor{transcriber: t, sampleRate: sampleRate, hooks: hooks}
}

func (p *Processor) Process(ctx context.Context, in <-chan voice.Frame, out chan<- voice.Frame) error {
	defer close(out)

	var buf []byte
	for f := range in {
		switch f.Type {
		case voice.FrameAudio:
			buf = append(buf, f.Data...)
		case voice.FrameControl:
			if f.Signal() != voice.SignalEndOfUtterance || len(buf) == 0 {
				out <- f
				continue
			}
			text, err := p.transcriber.Transcribe(ctx, buf, p.sampleRate)
			buf = nil
			if err != nil {
				if p.hooks.OnError != nil {
					if herr := p.hooks.OnError(ctx, err); herr != nil {
						return herr
					}
				}
				continue
			}
			if text == "" {
				continue
			}
			if p.hooks.OnTranscript != nil {
				p.hooks.OnTranscript(ctx, text)
			}
			out <- voice.NewTextFrame(text)
		default:
			out <- f
		}
	}
	return nil
}
