package engine

import (
	"context"
	"testing"

	"risk-manager/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransitionCoversAllCrossModeMoves(t *testing.T) {
	modes := []types.Mode{types.ModeNormal, types.ModeDefensive, types.ModeLockdown}
	for _, from := range modes {
		for _, to := range modes {
			if from == to {
				continue
			}
			assert.True(t, validTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, validTransition(types.ModeNormal, types.ModeError))
	assert.False(t, validTransition(types.ModeNormal, types.Mode("bogus")))
}

func TestTransitionPublishesOnlyOnChange(t *testing.T) {
	eng, _, bus := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.mu.Lock()
	changed := eng.transition(ctx, types.ModeNormal, "no-op")
	eng.mu.Unlock()
	assert.False(t, changed)
	assert.NotContains(t, bus.subjects(), "risk.mode-change")

	eng.mu.Lock()
	changed = eng.transition(ctx, types.ModeDefensive, "test escalation")
	eng.mu.Unlock()
	require.True(t, changed)
	assert.Equal(t, types.ModeDefensive, eng.Mode())
	assert.Contains(t, bus.subjects(), "risk.mode-change")

	// Repeating the same target is silent.
	before := len(bus.subjects())
	eng.mu.Lock()
	eng.transition(ctx, types.ModeDefensive, "again")
	eng.mu.Unlock()
	assert.Len(t, bus.subjects(), before)
}

func TestTransitionRefusesInvalidTarget(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())

	eng.mu.Lock()
	changed := eng.transition(context.Background(), types.ModeError, "never stored")
	eng.mu.Unlock()

	assert.False(t, changed)
	assert.Equal(t, types.ModeNormal, eng.Mode())
}

func TestForceModeRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.ForceMode(ctx, types.ModeLockdown, "incident response"))
	assert.Equal(t, types.ModeLockdown, eng.Mode())
	assert.Equal(t, "incident response", eng.Status().ModeReason)

	require.NoError(t, eng.ForceMode(ctx, types.ModeNormal, ""))
	assert.Equal(t, types.ModeNormal, eng.Mode())
}
