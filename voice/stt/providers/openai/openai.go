// Package openai implements stt.Transcriber over OpenAI's Whisper
// transcription endpoint.
package openai

import (
	"bytes"
	"fmt"

	"context"

	openaiClient "github.com/sashabaranov/go-openai"

	"github.com/lookatitude/letta-voice-gateway/voice/stt"
)

func init() {
	stt.Register("openai", func(params map[string]any) (stt.Transcriber, error) {
		apiKey, _ := params["api_key"].(string)
		if apiKey == "" {
			return nil, fmt.Errorf("stt/openai: api_key is required")
		}
		baseURL, _ := params["base_url"].(string)
		return NewWithBaseURL(apiKey, baseURL), nil
	})
}

// Transcriber calls the Whisper transcription API with raw 16-bit PCM audio
// wrapped as a WAV container, since the API requires a container format
// rather than bare samples.
type Transcriber struct {
	client *openaiClient.Client
}

// New creates a Transcriber authenticated with apiKey.
func New(apiKey string) *Transcriber {
	return NewWithBaseURL(apiKey, "")
}

// NewWithBaseURL creates a Transcriber pointed at a non-default API base,
// for use against an OpenAI-compatible endpoint or a test double.
func NewWithBaseURL(apiKey, baseURL string) *Transcriber {
	cfg := openaiClient.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Transcriber{client: openaiClient.NewClientWithConfig(cfg)}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	wav := wrapWAV(audio, sampleRate)
	resp, err := t.client.CreateTranscription(ctx, openaiClient.AudioRequest{
		Model:    openaiClient.Whisper1,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openaiClient.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("stt/openai: transcribe: %w", err)
	}
	return resp.Text, nil
}

// wrapWAV wraps raw 16-bit mono little-endian PCM samples in a minimal WAV
// container header, since Whisper's API expects a recognizable audio
// container rather than bare samples.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeUint32(&buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeUint32(&buf, 16)
	writeUint16(&buf, 1) // PCM
	writeUint16(&buf, channels)
	writeUint32(&buf, uint32(sampleRate))
	writeUint32(&buf, uint32(byteRate))
	writeUint16(&buf, uint16(blockAlign))
	writeUint16(&buf, bitsPerSample)
	buf.WriteString("data")
	writeUint32(&buf, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}
