package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

func TestDefaultTablesCoverEveryCell(t *testing.T) {
	r := NewRouter()
	for _, provider := range []string{providers.ProviderOpenRouter, providers.ProviderGroq} {
		for _, task := range AllTasks() {
			for _, tier := range licensing.AllTiers() {
				route, err := r.Resolve(provider, task, tier)
				require.NoError(t, err, "%s/%s/%s", provider, task, tier)
				assert.NotEmpty(t, route.Model)
				assert.NotEmpty(t, route.Fallback)
				assert.NotEqual(t, route.Model, route.Fallback)
			}
		}
	}
}

func TestResolve(t *testing.T) {
	r := NewRouter()
	tests := []struct {
		provider string
		task     Task
		tier     licensing.Tier
		want     string
	}{
		{providers.ProviderOpenRouter, TaskContent, licensing.TierFree, llama70B},
		{providers.ProviderOpenRouter, TaskQA, licensing.TierStarter, geminiLite},
		{providers.ProviderOpenRouter, TaskResearch, licensing.TierIndustry, gemini25Flash},
		{providers.ProviderOpenRouter, TaskCoaching, licensing.TierUltra, claudeSonnet4},
		{providers.ProviderOpenRouter, TaskContent, licensing.TierLifetime, claudeOpus},
		{providers.ProviderOpenRouter, TaskContent, licensing.Tier("platinum"), llama70B},
		{" GROQ ", TaskQA, licensing.TierUltra, "deepseek-r1-distill-llama-70b"},
	}
	for _, tt := range tests {
		route, err := r.Resolve(tt.provider, tt.task, tt.tier)
		require.NoError(t, err)
		assert.Equal(t, tt.want, route.Model, "%s/%s/%s", tt.provider, tt.task, tt.tier)
	}

	_, err := r.Resolve("openai", TaskContent, licensing.TierFree)
	assert.Error(t, err)
	_, err = r.Resolve(providers.ProviderOpenRouter, Task("poetry"), licensing.TierFree)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestParseTask(t *testing.T) {
	task, err := ParseTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskContent, task)

	task, err = ParseTask(" Coaching ")
	require.NoError(t, err)
	assert.Equal(t, TaskCoaching, task)

	_, err = ParseTask("poetry")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestApplyOverrides(t *testing.T) {
	r := NewRouter()
	r.Apply(&config.RoutingOverrides{
		Defaults: map[string]config.ModelRoute{
			"free":     {Model: "acme/free-model"},
			"platinum": {Model: "ignored"},
		},
		Tasks: map[string]map[string]config.ModelRoute{
			"coaching": {"free": {Model: "acme/coach", Fallback: "acme/free-model"}},
			"poetry":   {"free": {Model: "ignored"}},
		},
	})

	route, err := r.Resolve(providers.ProviderOpenRouter, TaskContent, licensing.TierFree)
	require.NoError(t, err)
	assert.Equal(t, Route{Model: "acme/free-model"}, route)

	route, err = r.Resolve(providers.ProviderOpenRouter, TaskCoaching, licensing.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "acme/coach", route.Model)

	route, err = r.Resolve(providers.ProviderOpenRouter, TaskContent, licensing.TierStarter)
	require.NoError(t, err)
	assert.Equal(t, geminiFlash, route.Model, "untouched cells keep defaults")

	route, err = r.Resolve(providers.ProviderGroq, TaskContent, licensing.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", route.Model, "groq table is not overridden")

	// Reapplying empty overrides restores the defaults.
	r.Apply(nil)
	route, err = r.Resolve(providers.ProviderOpenRouter, TaskContent, licensing.TierFree)
	require.NoError(t, err)
	assert.Equal(t, llama70B, route.Model)
}

func TestTableReturnsCopy(t *testing.T) {
	r := NewRouter()
	table := r.Table(providers.ProviderOpenRouter)
	table[TaskContent][licensing.TierFree] = Route{Model: "mutated"}

	route, err := r.Resolve(providers.ProviderOpenRouter, TaskContent, licensing.TierFree)
	require.NoError(t, err)
	assert.Equal(t, llama70B, route.Model)
}
