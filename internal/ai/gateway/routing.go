package gateway

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

// Task names the kind of completion being requested.
type Task string

const (
	TaskContent  Task = "content"
	TaskCoaching Task = "coaching"
	TaskResearch Task = "research"
	TaskQA       Task = "qa"
)

// AllTasks returns the routed tasks in display order.
func AllTasks() []Task {
	return []Task{TaskContent, TaskCoaching, TaskResearch, TaskQA}
}

// ErrUnknownTask is returned when a request names a task with no routing entry.
var ErrUnknownTask = errors.New("unknown task")

// ParseTask normalizes a raw task name. An empty name is content.
func ParseTask(raw string) (Task, error) {
	task := Task(strings.ToLower(strings.TrimSpace(raw)))
	if task == "" {
		return TaskContent, nil
	}
	for _, known := range AllTasks() {
		if task == known {
			return task, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTask, raw)
}

// Route is the model chosen for a task/tier cell.
type Route = config.ModelRoute

type table map[Task]map[licensing.Tier]Route

const (
	llama70B      = "meta-llama/llama-3.3-70b-instruct"
	mistralSmall  = "mistralai/mistral-small-3.1-24b-instruct"
	geminiFlash   = "google/gemini-2.0-flash-001"
	geminiLite    = "google/gemini-2.0-flash-lite-001"
	gemini25Flash = "google/gemini-2.5-flash"
	gemini25Pro   = "google/gemini-2.5-pro"
	claudeHaiku   = "anthropic/claude-3.5-haiku"
	claudeSonnet4 = "anthropic/claude-sonnet-4"
	claudeSonnet3 = "anthropic/claude-3.7-sonnet"
	claudeOpus    = "anthropic/claude-opus-4"
)

// openRouterDefaults returns the built-in OpenRouter table. Every task has an
// entry for every tier.
func openRouterDefaults() table {
	base := map[licensing.Tier]Route{
		licensing.TierFree:     {Model: llama70B, Fallback: mistralSmall},
		licensing.TierStarter:  {Model: geminiFlash, Fallback: llama70B},
		licensing.TierIndustry: {Model: claudeHaiku, Fallback: geminiFlash},
		licensing.TierUltra:    {Model: claudeSonnet4, Fallback: claudeSonnet3},
		licensing.TierLifetime: {Model: claudeOpus, Fallback: claudeSonnet4},
	}

	t := make(table, len(AllTasks()))
	for _, task := range AllTasks() {
		row := make(map[licensing.Tier]Route, len(base))
		for tier, route := range base {
			row[tier] = route
		}
		t[task] = row
	}

	t[TaskResearch][licensing.TierIndustry] = Route{Model: gemini25Flash, Fallback: geminiFlash}
	t[TaskResearch][licensing.TierUltra] = Route{Model: gemini25Pro, Fallback: gemini25Flash}
	t[TaskResearch][licensing.TierLifetime] = Route{Model: gemini25Pro, Fallback: gemini25Flash}

	t[TaskQA][licensing.TierStarter] = Route{Model: geminiLite, Fallback: llama70B}
	t[TaskQA][licensing.TierUltra] = Route{Model: claudeHaiku, Fallback: geminiFlash}
	t[TaskQA][licensing.TierLifetime] = Route{Model: claudeSonnet4, Fallback: claudeSonnet3}
	return t
}

// groqDefaults returns the Groq table. Groq serves fewer models, so every
// task shares one row per tier.
func groqDefaults() table {
	row := map[licensing.Tier]Route{
		licensing.TierFree:     {Model: "llama-3.1-8b-instant", Fallback: "gemma2-9b-it"},
		licensing.TierStarter:  {Model: "llama-3.3-70b-versatile", Fallback: "llama-3.1-8b-instant"},
		licensing.TierIndustry: {Model: "llama-3.3-70b-versatile", Fallback: "llama-3.1-8b-instant"},
		licensing.TierUltra:    {Model: "deepseek-r1-distill-llama-70b", Fallback: "llama-3.3-70b-versatile"},
		licensing.TierLifetime: {Model: "deepseek-r1-distill-llama-70b", Fallback: "llama-3.3-70b-versatile"},
	}
	t := make(table, len(AllTasks()))
	for _, task := range AllTasks() {
		t[task] = row
	}
	return t
}

// Router resolves (provider, task, tier) to a model route. The OpenRouter
// table can be replaced at runtime from the routing file.
type Router struct {
	mu     sync.RWMutex
	tables map[string]table
}

// NewRouter returns a router holding the built-in tables.
func NewRouter() *Router {
	return &Router{tables: map[string]table{
		providers.ProviderOpenRouter: openRouterDefaults(),
		providers.ProviderGroq:       groqDefaults(),
	}}
}

// Resolve returns the route for a cell. Unknown tiers route as free.
func (r *Router) Resolve(provider string, task Task, tier licensing.Tier) (Route, error) {
	if !tier.IsKnown() {
		tier = licensing.TierFree
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return Route{}, fmt.Errorf("no routing table for provider %q", provider)
	}
	row, ok := t[task]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	route, ok := row[tier]
	if !ok || route.Model == "" {
		return Route{}, fmt.Errorf("no model routed for %s/%s", task, tier)
	}
	return route, nil
}

// Apply rebuilds the OpenRouter table from the defaults plus overrides.
// Defaults in the file apply to every task; task entries win over them.
// Unknown tasks and tiers in the file are ignored.
func (r *Router) Apply(overrides *config.RoutingOverrides) {
	t := openRouterDefaults()
	if !overrides.Empty() {
		for rawTier, route := range overrides.Defaults {
			tier, ok := licensing.ParseTier(rawTier)
			if !ok {
				continue
			}
			for _, task := range AllTasks() {
				t[task][tier] = route
			}
		}
		for rawTask, cells := range overrides.Tasks {
			task, err := ParseTask(rawTask)
			if err != nil {
				continue
			}
			for rawTier, route := range cells {
				if tier, ok := licensing.ParseTier(rawTier); ok {
					t[task][tier] = route
				}
			}
		}
	}

	r.mu.Lock()
	r.tables[providers.ProviderOpenRouter] = t
	r.mu.Unlock()
}

// Table returns a copy of the routing table for provider, for display.
func (r *Router) Table(provider string) map[Task]map[licensing.Tier]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := r.tables[strings.ToLower(strings.TrimSpace(provider))]
	out := make(map[Task]map[licensing.Tier]Route, len(t))
	for task, row := range t {
		cp := make(map[licensing.Tier]Route, len(row))
		for tier, route := range row {
			cp[tier] = route
		}
		out[task] = cp
	}
	return out
}
