// Package livekit implements voice/transport.AudioTransport on top of the
// LiveKit room SDK: it joins a room as the worker's participant, subscribes
// to the human's microphone track, and exposes an io.Writer that publishes
// synthesized speech back as an outbound audio track.
package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"layeh.com/gopus"

	"github.com/lookatitude/letta-voice-gateway/voice"
	"github.com/lookatitude/letta-voice-gateway/voice/transport"
)

// opusFrameMs is the Opus packetization interval LiveKit publishes inbound
// microphone tracks at; it determines the per-packet frame size handed to
// the Opus decoder.
const opusFrameMs = 20

func init() {
	transport.Register("livekit", New)
}

// Transport is a LiveKit-backed AudioTransport. One instance is bound to one
// room connection for the lifetime of a VoiceSession.
type Transport struct {
	url        string
	token      string
	room       string
	sampleRate int
	channels   int

	mu     sync.Mutex
	closed bool

	conn       *lksdk.Room
	frames     chan voice.Frame
	outTrack   *lksdk.LocalTrack
	audioOut   io.Writer
}

// New dials a LiveKit room using cfg.URL/cfg.Token (issued by the HTTP
// control plane's token endpoint) and returns a ready Transport. cfg.Extra
// may carry "room" for logging; LiveKit itself derives the room from the
// token's grants.
func New(cfg transport.Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("livekit: URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("livekit: Token is required")
	}

	room, _ := cfg.Extra["room"].(string)
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	t := &Transport{
		url:        cfg.URL,
		token:      cfg.Token,
		room:       room,
		sampleRate: sampleRate,
		channels:   channels,
		frames:     make(chan voice.Frame, 256),
	}
	return t, nil
}

// Connect joins the room over WebRTC. Callers invoke this explicitly (rather
// than from New) so construction stays side-effect free for unit tests.
func (t *Transport) Connect(ctx context.Context) error {
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: t.onTrackSubscribed,
			OnDataReceived:    t.onDataReceived,
		},
	}
	room, err := lksdk.ConnectToRoomWithToken(t.url, t.token, cb)
	if err != nil {
		return fmt.Errorf("livekit: connect: %w", err)
	}
	t.conn = room

	track, err := lksdk.NewLocalSampleTrack(nil)
	if err != nil {
		return fmt.Errorf("livekit: create outbound track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: "assistant-voice"}); err != nil {
		return fmt.Errorf("livekit: publish track: %w", err)
	}
	t.outTrack = track
	t.audioOut = &sampleWriter{track: track}
	return nil
}

// onTrackSubscribed starts a reader goroutine for the human's subscribed
// microphone track: it reads Opus-encoded RTP packets, decodes them to PCM,
// and pushes the result onto t.frames as audio frames for the VAD/STT
// stages.
func (t *Transport) onTrackSubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	dec, err := gopus.NewDecoder(t.sampleRate, t.channels)
	if err != nil {
		return
	}
	frameSize := t.sampleRate * opusFrameMs / 1000
	go t.readTrack(track, dec, frameSize)
}

func (t *Transport) readTrack(track *webrtc.TrackRemote, dec *gopus.Decoder, frameSize int) {
	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		pcm, err := dec.Decode(pkt.Payload, frameSize, false)
		if err != nil {
			continue
		}
		t.pushFrame(voice.NewAudioFrame(int16sToBytes(pcm), t.sampleRate))
	}
}

// onDataReceived parses the browser's reliable-channel control messages
// (spec.md §4.3: agent_selection, room_cleanup) and forwards them into the
// pipeline as control frames for the llmnode stage to act on.
func (t *Transport) onDataReceived(data []byte, _ lksdk.DataReceiveParams) {
	var msg struct {
		Type      string `json:"type"`
		AgentID   string `json:"agent_id"`
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "agent_selection":
		t.pushFrame(voice.NewAgentSelectionFrame(msg.AgentID, msg.AgentName))
	case "room_cleanup":
		t.pushFrame(voice.NewRoomCleanupFrame())
	}
}

// int16sToBytes converts decoded PCM samples to little-endian bytes, the
// wire format voice.NewAudioFrame and the STT stage expect.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func (t *Transport) pushFrame(f voice.Frame) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.frames <- f:
	default:
	}
}

// Recv returns the channel of inbound frames (decoded microphone audio and
// data-channel messages). Returns an error once the transport is closed.
func (t *Transport) Recv(ctx context.Context) (<-chan voice.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("livekit: transport closed")
	}
	return t.frames, nil
}

// Send publishes a frame. Text/control frames go out on the reliable data
// channel; audio frames are not expected here (use AudioOut instead).
func (t *Transport) Send(ctx context.Context, frame voice.Frame) error {
	t.mu.Lock()
	closed := t.closed
	conn := t.conn
	t.mu.Unlock()
	if closed {
		return errors.New("livekit: transport closed")
	}
	if conn == nil {
		return nil
	}
	payload, err := encodeFrame(frame)
	if err != nil {
		return fmt.Errorf("livekit: encode frame: %w", err)
	}
	return conn.LocalParticipant.PublishData(payload, lksdk.WithDataPublishReliable(true))
}

// AudioOut returns a writer that streams raw PCM samples to the published
// outbound audio track.
func (t *Transport) AudioOut() io.Writer {
	if t.audioOut != nil {
		return t.audioOut
	}
	return io.Discard
}

// Close disconnects from the room. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.frames)
	if t.conn != nil {
		t.conn.Disconnect()
	}
	return nil
}

// sampleWriter adapts an io.Writer onto a LiveKit local sample track by
// wrapping raw PCM bytes into media.Sample frames.
type sampleWriter struct {
	track *lksdk.LocalTrack
}

func (w *sampleWriter) Write(p []byte) (int, error) {
	if err := w.track.WriteSample(media.Sample{Data: p, Duration: 0}, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

// encodeFrame renders a text/control Frame as the JSON payload expected by
// the browser's data-channel listener. Text frames are role-tagged
// transcripts per spec.md §4.3: `{"type":"transcript","role":"user"|
// "assistant","text":...}`.
func encodeFrame(f voice.Frame) ([]byte, error) {
	switch f.Type {
	case voice.FrameControl:
		return json.Marshal(map[string]any{"type": "control", "signal": f.Signal()})
	case voice.FrameText:
		role := f.Role()
		if role == "" {
			role = "assistant"
		}
		return json.Marshal(map[string]any{"type": "transcript", "role": role, "text": f.Text()})
	default:
		return json.Marshal(map[string]any{"type": "text", "text": f.Text()})
	}
}
