// Package tts defines the text-to-speech stage of the voice pipeline: a
// provider registry like voice/stt and voice/transport, and a FrameProcessor
// adapter that turns the LLM node's reply text frames into synthesized
// audio frames.
package tts

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lookatitude/letta-voice-gateway/voice"
)

// Synthesizer renders text as raw 16-bit PCM audio at sampleRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voiceName string) (audio []byte, sampleRate int, err error)
}

// Factory constructs a Synthesizer from provider-specific parameters.
type Factory func(params map[string]any) (Synthesizer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory to the registry.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs a Synthesizer by provider name.
func New(name string, params map[string]any) (Synthesizer, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tts: unknown provider %q (registered: %v)", name, List())
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

// Processor adapts a Synthesizer into a voice.FrameProcessor: every inbound
// text frame (the LLM node's reply, already validated) is synthesized and
// re-emitted as an audio frame; every other frame type passes through
// untouched. audioEnabled gates synthesis per spec.md's "audio_enabled must
// be set explicitly true" requirement — when false, text frames pass
// through unchanged and no synthesis is attempted.
type Processor struct {
	synth        Synthesizer
	voiceName    string
	audioEnabled bool
	hooks        voice.Hooks
}

// NewProcessor creates a Processor.
func NewProcessor(s Synthesizer, voiceName string, audioEnabled bool, hooks voice.Hooks) *Processor {
	return &Processor{synth: s, voiceName: voiceName, audioEnabled: audioEnabled, hooks: hooks}
}

func (p *Processor) Process(ctx context.Context, in <-chan voice.Frame, out chan<- voice.Frame) error {
	defer close(out)

	for f := range in {
		if f.Type != voice.FrameText || !p.audioEnabled || f.Role() == "user" {
			out <- f
			continue
		}

		if p.hooks.OnResponse != nil {
			p.hooks.OnResponse(ctx, f.Text())
		}
		out <- f // transcript still goes out on the data channel

		audio, sampleRate, err := p.synth.Synthesize(ctx, f.Text(), p.voiceName)
		if err != nil {
			if p.hooks.OnError != nil {
				if herr := p.hooks.OnError(ctx, err); herr != nil {
					return herr
				}
			}
			continue
		}
		out <- voice.NewAudioFrame(audio, sampleRate)
	}
	return nil
}
