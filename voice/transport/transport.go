// Package transport defines the AudioTransport interface a room-fabric
// connection implements, and a provider registry so concrete fabrics
// (livekit, daily, pipecat, ...) register themselves via init().
package transport

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/lookatitude/letta-voice-gateway/voice"
)

// AudioTransport is a bidirectional media connection into a room: it
// delivers inbound frames (the human's microphone audio, text/control
// messages from the data channel) and accepts outbound frames (the
// assistant's synthesized audio and transcripts).
type AudioTransport interface {
	// Recv returns a channel of inbound frames. The channel is closed when
	// the transport is closed or the remote room session ends.
	Recv(ctx context.Context) (<-chan voice.Frame, error)

	// Send publishes a single frame (text/control/image) to the room.
	Send(ctx context.Context, frame voice.Frame) error

	// AudioOut returns a writer for streaming synthesized audio bytes into
	// the room's outbound audio track.
	AudioOut() io.Writer

	// Close tears down the connection. Idempotent.
	Close() error
}

// Config configures a transport provider.
type Config struct {
	URL        string
	Token      string
	SampleRate int
	Channels   int
	Extra      map[string]any
}

// Option mutates a Config.
type Option func(*Config)

func WithURL(url string) Option          { return func(c *Config) { c.URL = url } }
func WithToken(token string) Option      { return func(c *Config) { c.Token = token } }
func WithSampleRate(rate int) Option     { return func(c *Config) { c.SampleRate = rate } }
func WithChannels(channels int) Option   { return func(c *Config) { c.Channels = channels } }

// Factory constructs an AudioTransport from a Config.
type Factory func(cfg Config) (AudioTransport, error)

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

// New creates an AudioTransport by provider name.
func New(name string, cfg Config) (AudioTransport, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown provider %q (registered: %v)", name, List())
	}
	return f(cfg)
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
