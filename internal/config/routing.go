package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelRoute names the premium model for a task/tier cell and the model to
// retry with when the premium one is rejected.
type ModelRoute struct {
	Model    string `yaml:"model"`
	Fallback string `yaml:"fallback,omitempty"`
}

// RoutingOverrides is the parsed routing file:
//
//	tasks:
//	  coaching:
//	    ultra: {model: anthropic/claude-sonnet-4, fallback: anthropic/claude-3.7-sonnet}
//	defaults:
//	  free: {model: meta-llama/llama-3.3-70b-instruct}
//
// Defaults apply to every task for a tier unless a task entry overrides it.
type RoutingOverrides struct {
	Tasks    map[string]map[string]ModelRoute `yaml:"tasks,omitempty"`
	Defaults map[string]ModelRoute            `yaml:"defaults,omitempty"`
}

// Empty reports whether the overrides carry no entries.
func (r *RoutingOverrides) Empty() bool {
	return r == nil || (len(r.Tasks) == 0 && len(r.Defaults) == 0)
}

// LoadRouting reads routing overrides from path. A missing file yields empty
// overrides.
func LoadRouting(path string) (*RoutingOverrides, error) {
	if strings.TrimSpace(path) == "" {
		return &RoutingOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RoutingOverrides{}, nil
		}
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	return ParseRouting(data)
}

// ParseRouting decodes routing overrides and normalises keys to lower case.
func ParseRouting(data []byte) (*RoutingOverrides, error) {
	var raw RoutingOverrides
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse routing file: %w", err)
	}

	out := &RoutingOverrides{
		Tasks:    make(map[string]map[string]ModelRoute, len(raw.Tasks)),
		Defaults: make(map[string]ModelRoute, len(raw.Defaults)),
	}
	for tier, route := range raw.Defaults {
		if err := route.validate(); err != nil {
			return nil, fmt.Errorf("defaults.%s: %w", tier, err)
		}
		out.Defaults[normalizeKey(tier)] = route.trimmed()
	}
	for task, tiers := range raw.Tasks {
		key := normalizeKey(task)
		if out.Tasks[key] == nil {
			out.Tasks[key] = make(map[string]ModelRoute, len(tiers))
		}
		for tier, route := range tiers {
			if err := route.validate(); err != nil {
				return nil, fmt.Errorf("tasks.%s.%s: %w", task, tier, err)
			}
			out.Tasks[key][normalizeKey(tier)] = route.trimmed()
		}
	}
	return out, nil
}

func (r ModelRoute) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (r ModelRoute) trimmed() ModelRoute {
	return ModelRoute{Model: strings.TrimSpace(r.Model), Fallback: strings.TrimSpace(r.Fallback)}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
