package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseRouting(t *testing.T) {
	overrides, err := ParseRouting([]byte(`
tasks:
  Coaching:
    ULTRA:
      model: " anthropic/claude-sonnet-4 "
      fallback: anthropic/claude-3.7-sonnet
defaults:
  free:
    model: mistralai/mistral-small-3.1-24b-instruct
`))
	require.NoError(t, err)
	assert.False(t, overrides.Empty())
	assert.Equal(t, ModelRoute{
		Model:    "anthropic/claude-sonnet-4",
		Fallback: "anthropic/claude-3.7-sonnet",
	}, overrides.Tasks["coaching"]["ultra"])
	assert.Equal(t, "mistralai/mistral-small-3.1-24b-instruct", overrides.Defaults["free"].Model)
}

func TestParseRouting_Errors(t *testing.T) {
	_, err := ParseRouting([]byte("tasks: [not, a, map]"))
	assert.Error(t, err)

	_, err = ParseRouting([]byte("defaults:\n  free:\n    fallback: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.free")
}

func TestLoadRouting_MissingFile(t *testing.T) {
	overrides, err := LoadRouting(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, overrides.Empty())

	overrides, err = LoadRouting("")
	require.NoError(t, err)
	assert.True(t, overrides.Empty())
}

func TestRoutingWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, "defaults:\n  free:\n    model: a\n")

	got := make(chan *RoutingOverrides, 4)
	rw, err := NewRoutingWatcher(path, func(o *RoutingOverrides) { got <- o })
	require.NoError(t, err)
	rw.debounce = 10 * time.Millisecond
	require.NoError(t, rw.Start())
	defer rw.Stop()

	writeFile(t, path, "defaults:\n  free:\n    model: b\n")

	require.Eventually(t, func() bool {
		select {
		case o := <-got:
			return o.Defaults["free"].Model == "b"
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRoutingWatcher_KeepsPreviousOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, "defaults: [broken")

	called := false
	rw, err := NewRoutingWatcher(path, func(*RoutingOverrides) { called = true })
	require.NoError(t, err)
	defer rw.Stop()

	rw.Reload()
	assert.False(t, called)

	writeFile(t, path, "defaults:\n  free:\n    model: a\n")
	rw.Reload()
	assert.True(t, called)
	rw.Stop()
}
