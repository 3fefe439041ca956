package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func runCreditsCLI(t *testing.T, args ...string) credits.View {
	t.Helper()
	out, err := runCLI(t, append([]string{"credits"}, args...)...)
	require.NoError(t, err, out)
	var view credits.View
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	return view
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Velto "+Version))
}

func TestCreditsCommands(t *testing.T) {
	t.Setenv("VELTO_DATA_DIR", t.TempDir())

	view := runCreditsCLI(t, "show", "founder-1")
	assert.Equal(t, "founder-1", view.Identity)
	assert.Equal(t, licensing.TierFree, view.Tier)
	assert.Equal(t, 10_000, view.RemainingCredits)

	view = runCreditsCLI(t, "add", "founder-1", "500")
	assert.Equal(t, 500, view.CreditsGranted)

	view = runCreditsCLI(t, "set-tier", "founder-1", "industry", "--payment")
	assert.Equal(t, licensing.TierIndustry, view.Tier)
	assert.Equal(t, licensing.PaymentActive, view.PaymentStatus)
	require.NotNil(t, view.LastPaymentAt)

	// Each command is its own process-level session; state comes back from disk.
	view = runCreditsCLI(t, "show", "founder-1")
	assert.Equal(t, licensing.TierIndustry, view.Tier)
	assert.Equal(t, 400_000, view.Quota)

	view = runCreditsCLI(t, "reset", "founder-1")
	assert.Equal(t, licensing.TierIndustry, view.Tier, "monthly reset never changes the tier")
}

func TestCreditsCommandErrors(t *testing.T) {
	t.Setenv("VELTO_DATA_DIR", t.TempDir())

	_, err := runCLI(t, "credits", "set-tier", "founder-1", "platinum")
	assert.ErrorIs(t, err, credits.ErrUnknownTier)

	_, err = runCLI(t, "credits", "add", "founder-1", "lots")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)

	_, err = runCLI(t, "credits", "add", "--", "founder-1", "-5")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)

	_, err = runCLI(t, "credits", "show")
	assert.Error(t, err)
}
