package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veltoai/founder-launch/internal/config"
)

// Set holds the configured providers by name plus the default selection.
type Set struct {
	providers   map[string]Provider
	defaultName string
}

// NewSet builds a Set. The first provider becomes the default when
// defaultName is empty.
func NewSet(defaultName string, ps ...Provider) *Set {
	s := &Set{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		if p == nil {
			continue
		}
		s.providers[p.Name()] = p
		if s.defaultName == "" {
			s.defaultName = p.Name()
		}
	}
	if name := strings.ToLower(strings.TrimSpace(defaultName)); name != "" {
		s.defaultName = name
	}
	return s
}

// Get returns the provider registered under name, or the default when name
// is empty.
func (s *Set) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.defaultName
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Default returns the default provider name.
func (s *Set) Default() string {
	return s.defaultName
}

// Names returns the registered provider names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig creates the provider set described by the AI settings.
// Providers without an API key are skipped.
func NewFromConfig(cfg *config.AIConfig) (*Set, error) {
	if cfg == nil {
		return nil, fmt.Errorf("AI config is nil")
	}

	timeout := cfg.GetRequestTimeout()
	var ps []Provider
	if cfg.OpenRouterAPIKey != "" {
		ps = append(ps, NewOpenRouterClient(cfg.OpenRouterAPIKey, "", cfg.OpenRouterBaseURL, timeout))
	}
	if cfg.GroqAPIKey != "" {
		ps = append(ps, NewGroqClient(cfg.GroqAPIKey, "", cfg.GroqBaseURL, timeout))
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("no completion provider configured: set OPENROUTER_API_KEY or GROQ_API_KEY")
	}

	set := NewSet(cfg.Provider, ps...)
	if _, err := set.Get(""); err != nil {
		return nil, fmt.Errorf("default provider %q has no API key", set.Default())
	}
	return set, nil
}
