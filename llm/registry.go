package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lookatitude/letta-voice-gateway/config"
)

// Factory creates a ChatModel from a ProviderConfig. Each provider package
// registers a Factory via Register in its init() function.
type Factory func(cfg config.ProviderConfig) (ChatModel, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory to the global registry. Intended to be
// called from provider init() functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates a ChatModel by looking up the provider name in the registry
// and calling its factory with the given configuration.
func New(name string, cfg config.ProviderConfig) (ChatModel, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q (registered: %v)", name, List())
	}
	return f(cfg)
}

// List returns the names of all registered providers, sorted alphabetically.
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
