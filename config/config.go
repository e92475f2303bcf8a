// Package config loads the gateway's environment-driven configuration using
// Viper. There is no config file for this deployment: every setting comes
// from the environment, matching how the worker and HTTP plane processes
// are actually started (a fixed env-var surface, no on-disk config).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lookatitude/letta-voice-gateway/core"
)

// Config holds every environment-driven setting the gateway reads at
// startup. Fields map 1:1 to the env vars named alongside them.
type Config struct {
	// PrimaryAgentName is required: the agent identity this deployment
	// serves, enforced by the agent lock in the voice assistant instance.
	PrimaryAgentName string `mapstructure:"primary_agent_name"`
	// PrimaryAgentID optionally pins the primary agent's id in addition to
	// its name.
	PrimaryAgentID string `mapstructure:"primary_agent_id"`

	// HybridStreaming selects the LLM node's mode: true runs the fast/slow
	// hybrid path, false runs legacy stateful-only mode.
	HybridStreaming bool `mapstructure:"hybrid_streaming"`

	// IdleTimeoutSeconds bounds how long a VoiceSession waits with no human
	// present before requesting shutdown.
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`

	AgentServiceURL string `mapstructure:"agent_service_url"`

	FabricURL       string `mapstructure:"fabric_url"`
	FabricAPIKey    string `mapstructure:"fabric_api_key"`
	FabricAPISecret string `mapstructure:"fabric_api_secret"`

	LLMAPIKey string `mapstructure:"llm_api_key"`
	// LLMModel is mandatory with no default: guessing a model identifier on
	// the operator's behalf risks picking one the configured provider
	// doesn't serve, so its absence fails startup instead.
	LLMModel string `mapstructure:"llm_model"`

	STTAPIKey string `mapstructure:"stt_api_key"`
	TTSAPIKey string `mapstructure:"tts_api_key"`
	TTSVoice  string `mapstructure:"tts_voice"`

	// HTTPAddr is the control plane's bind address. Must bind all
	// interfaces (0.0.0.0), never loopback-only: a browser reaching the
	// plane from outside the worker's network namespace needs a route in.
	HTTPAddr string `mapstructure:"http_addr"`

	// LangfusePublicKey/LangfuseSecretKey enable best-effort LLM call
	// tracing (see o11y/providers/langfuse). Leaving LangfusePublicKey
	// unset disables the exporter entirely; it is never required.
	LangfusePublicKey string `mapstructure:"langfuse_public_key"`
	LangfuseSecretKey string `mapstructure:"langfuse_secret_key"`
	LangfuseBaseURL   string `mapstructure:"langfuse_base_url"`
}

// IdleTimeout returns IdleTimeoutSeconds as a time.Duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Validate reports the invariants Load's defaults cannot satisfy on their
// own: PRIMARY_AGENT_NAME and LLM_MODEL have no sane default, so their
// absence is a fatal startup condition, not a recoverable one.
func (c Config) Validate() error {
	var missing []string
	if c.PrimaryAgentName == "" {
		missing = append(missing, "PRIMARY_AGENT_NAME")
	}
	if c.LLMModel == "" {
		missing = append(missing, "LLM_MODEL")
	}
	if len(missing) > 0 {
		return core.NewError("config.validate", core.ErrInvalidInput,
			fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

var envKeys = []string{
	"primary_agent_name", "primary_agent_id", "hybrid_streaming",
	"idle_timeout_seconds", "agent_service_url",
	"fabric_url", "fabric_api_key", "fabric_api_secret",
	"llm_api_key", "llm_model", "stt_api_key", "tts_api_key",
	"tts_voice", "http_addr",
	"langfuse_public_key", "langfuse_secret_key", "langfuse_base_url",
}

// Load reads configuration purely from the environment: Viper's
// AutomaticEnv with an underscore key replacer maps e.g. AGENT_SERVICE_URL
// to agent_service_url. Call Validate on the result before relying on it.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("hybrid_streaming", true)
	v.SetDefault("idle_timeout_seconds", 300)
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("tts_voice", "alloy")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}
