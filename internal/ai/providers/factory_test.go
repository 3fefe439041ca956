package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltoai/founder-launch/internal/config"
)

type stubProvider struct{ name string }

func (s stubProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: s.name}, nil
}

func (s stubProvider) Name() string { return s.name }

func TestSet(t *testing.T) {
	set := NewSet("", stubProvider{"groq"}, nil, stubProvider{"openrouter"})
	assert.Equal(t, "groq", set.Default())
	assert.Equal(t, []string{"groq", "openrouter"}, set.Names())

	p, err := set.Get("")
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())

	p, err = set.Get(" OpenRouter ")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", p.Name())

	_, err = set.Get("anthropic")
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *config.AIConfig
		wantErr     bool
		wantDefault string
		wantNames   []string
	}{
		{name: "nil", cfg: nil, wantErr: true},
		{name: "no keys", cfg: &config.AIConfig{Provider: "openrouter"}, wantErr: true},
		{
			name:        "openrouter only",
			cfg:         &config.AIConfig{Provider: "openrouter", OpenRouterAPIKey: "sk"},
			wantDefault: "openrouter",
			wantNames:   []string{"openrouter"},
		},
		{
			name:        "both keys groq default",
			cfg:         &config.AIConfig{Provider: "groq", OpenRouterAPIKey: "sk", GroqAPIKey: "gsk"},
			wantDefault: "groq",
			wantNames:   []string{"groq", "openrouter"},
		},
		{
			name:    "default provider missing key",
			cfg:     &config.AIConfig{Provider: "groq", OpenRouterAPIKey: "sk"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewFromConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, set.Default())
			assert.Equal(t, tt.wantNames, set.Names())
		})
	}
}
