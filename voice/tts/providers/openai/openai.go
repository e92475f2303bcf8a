// Package openai implements tts.Synthesizer over OpenAI's speech synthesis
// endpoint, requesting raw PCM so the pipeline never has to decode a
// compressed container before writing samples to the outbound audio track.
package openai

import (
	"context"
	"fmt"
	"io"

	openaiClient "github.com/sashabaranov/go-openai"

	"github.com/lookatitude/letta-voice-gateway/voice/tts"
)

// outputSampleRate is fixed by the API for the pcm response format.
const outputSampleRate = 24000

func init() {
	tts.Register("openai", func(params map[string]any) (tts.Synthesizer, error) {
		apiKey, _ := params["api_key"].(string)
		if apiKey == "" {
			return nil, fmt.Errorf("tts/openai: api_key is required")
		}
		baseURL, _ := params["base_url"].(string)
		return NewWithBaseURL(apiKey, baseURL), nil
	})
}

// Synthesizer calls the speech synthesis API.
type Synthesizer struct {
	client *openaiClient.Client
}

// New creates a Synthesizer authenticated with apiKey.
func New(apiKey string) *Synthesizer {
	return NewWithBaseURL(apiKey, "")
}

// NewWithBaseURL creates a Synthesizer pointed at a non-default API base,
// for use against an OpenAI-compatible endpoint or a test double.
func NewWithBaseURL(apiKey, baseURL string) *Synthesizer {
	cfg := openaiClient.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Synthesizer{client: openaiClient.NewClientWithConfig(cfg)}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voiceName string) ([]byte, int, error) {
	if voiceName == "" {
		voiceName = string(openaiClient.VoiceAlloy)
	}
	resp, err := s.client.CreateSpeech(ctx, openaiClient.CreateSpeechRequest{
		Model:          openaiClient.TTSModel1,
		Input:          text,
		Voice:          openaiClient.SpeechVoice(voiceName),
		ResponseFormat: openaiClient.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("tts/openai: synthesize: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, 0, fmt.Errorf("tts/openai: read response: %w", err)
	}
	return audio, outputSampleRate, nil
}
