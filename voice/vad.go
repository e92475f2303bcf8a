package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Event types an ActivityResult can carry. VADSpeaking marks a frame that
// continues an utterance already in progress (as opposed to VADSpeechStart,
// which marks the frame that opened it).
const (
	VADSilence     = "silence"
	VADSpeechStart = "speech_start"
	VADSpeaking    = "speaking"
	VADSpeechEnd   = "speech_end"
)

// ActivityResult is VAD's verdict on one audio frame.
type ActivityResult struct {
	IsSpeech   bool
	EventType  string
	Confidence float64
}

// VAD classifies raw PCM audio as speech or silence. Implementations are
// stateful: EventType reflects the transition from the previous call, not
// just the current frame in isolation.
type VAD interface {
	DetectActivity(ctx context.Context, data []byte) (ActivityResult, error)
}

// VADFactory constructs a VAD from provider-specific parameters.
type VADFactory func(params map[string]any) (VAD, error)

var (
	vadRegistryMu sync.RWMutex
	vadRegistry   = make(map[string]VADFactory)
)

// RegisterVAD adds a provider factory to the registry. Called from provider
// init() functions.
func RegisterVAD(name string, f VADFactory) {
	vadRegistryMu.Lock()
	defer vadRegistryMu.Unlock()
	vadRegistry[name] = f
}

// NewVAD constructs a VAD by provider name.
func NewVAD(name string, params map[string]any) (VAD, error) {
	vadRegistryMu.RLock()
	f, ok := vadRegistry[name]
	vadRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("voice: unknown VAD provider %q (registered: %v)", name, ListVAD())
	}
	return f(params)
}

// ListVAD returns the sorted names of registered VAD providers.
func ListVAD() []string {
	vadRegistryMu.RLock()
	defer vadRegistryMu.RUnlock()
	names := make([]string, 0, len(vadRegistry))
	for name := range vadRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnergyVADConfig configures EnergyVAD.
type EnergyVADConfig struct {
	// Threshold is the RMS sample magnitude above which audio counts as
	// speech. <= 0 defaults to 1000.
	Threshold float64
}

// EnergyVAD is a simple RMS-energy voice activity detector: no model, no
// external dependency, good enough to gate which frames reach STT so the
// pipeline isn't transcribing dead air between utterances.
type EnergyVAD struct {
	Threshold float64

	mu       sync.Mutex
	speaking bool
}

func init() {
	RegisterVAD("energy", func(params map[string]any) (VAD, error) {
		var cfg EnergyVADConfig
		if th, ok := params["threshold"].(float64); ok {
			cfg.Threshold = th
		}
		return NewEnergyVAD(cfg), nil
	})
}

// NewEnergyVAD constructs an EnergyVAD.
func NewEnergyVAD(cfg EnergyVADConfig) *EnergyVAD {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 1000
	}
	return &EnergyVAD{Threshold: threshold}
}

func (v *EnergyVAD) DetectActivity(_ context.Context, data []byte) (ActivityResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rms := computeRMS(data)
	isSpeech := rms > v.Threshold

	var eventType string
	switch {
	case !v.speaking && !isSpeech:
		eventType = VADSilence
	case !v.speaking && isSpeech:
		eventType = VADSpeechStart
	case v.speaking && isSpeech:
		eventType = VADSpeaking
	default:
		eventType = VADSpeechEnd
	}
	v.speaking = isSpeech

	confidence := rms / v.Threshold
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}

	return ActivityResult{IsSpeech: isSpeech, EventType: eventType, Confidence: confidence}, nil
}

// computeRMS returns the root-mean-square magnitude of 16-bit little-endian
// PCM samples in data. Trailing bytes that don't complete a sample are
// ignored; fewer than one full sample yields 0.
func computeRMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		sumSquares += float64(sample) * float64(sample)
	}
	return math.Sqrt(sumSquares / float64(n))
}
