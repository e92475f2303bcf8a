package config

import "time"

// ProviderConfig holds common configuration for a pluggable external
// provider (LLM, VAD, transport, memory tier, ...). Provider-specific
// options live in the Options map so each provider package can read its own
// keys without widening this struct.
type ProviderConfig struct {
	// Provider is the registered provider name (e.g. "openai", "energy").
	Provider string

	// APIKey is the authentication key for the provider, when applicable.
	APIKey string

	// Model is the model identifier, when applicable (e.g. "gpt-4o").
	Model string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string

	// Timeout bounds a single request to the provider.
	Timeout time.Duration

	// Options holds provider-specific key-value configuration.
	Options map[string]any
}

// GetOption retrieves a typed value from the provider's Options map. It
// returns the value and true if the key exists and the type assertion
// succeeds, or the zero value of T and false otherwise.
func GetOption[T any](cfg ProviderConfig, key string) (T, bool) {
	var zero T
	if cfg.Options == nil {
		return zero, false
	}
	v, ok := cfg.Options[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
