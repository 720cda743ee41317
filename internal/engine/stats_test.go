package engine

import (
	"context"
	"errors"
	"testing"

	"risk-manager/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestApplyRealizedStreaks(t *testing.T) {
	s := newDailyStats("2026-08-29", 100000)

	applyRealized(&s, 100, 100000)
	applyRealized(&s, 50, 100000)
	assert.Equal(t, 2, s.ConsecutiveWins)
	assert.Equal(t, 0, s.ConsecutiveLosses)

	applyRealized(&s, -30, 100000)
	assert.Equal(t, 0, s.ConsecutiveWins)
	assert.Equal(t, 1, s.ConsecutiveLosses)

	// Zero P&L moves neither streak.
	applyRealized(&s, 0, 100000)
	assert.Equal(t, 0, s.ConsecutiveWins)
	assert.Equal(t, 1, s.ConsecutiveLosses)

	assert.InDelta(t, 120.0, s.RealizedPnL, 1e-9)
}

func TestApplyRealizedPeakRatchetsUpOnly(t *testing.T) {
	s := newDailyStats("2026-08-29", 100000)

	applyRealized(&s, 500, 100000)
	assert.InDelta(t, 100500.0, s.PeakEquity, 1e-9)
	assert.InDelta(t, 100500.0, s.CurrentEquity, 1e-9)

	applyRealized(&s, -800, 100000)
	assert.InDelta(t, 100500.0, s.PeakEquity, 1e-9, "peak never moves down")
	assert.InDelta(t, 99700.0, s.CurrentEquity, 1e-9)

	assert.InDelta(t, 800.0/100500.0, s.Drawdown(), 1e-9)
}

func TestDrawdownClampedNonNegative(t *testing.T) {
	s := types.DailyStats{PeakEquity: 100, CurrentEquity: 120}
	assert.Equal(t, 0.0, s.Drawdown())

	s = types.DailyStats{PeakEquity: 0, CurrentEquity: 100}
	assert.Equal(t, 0.0, s.Drawdown())
}

func TestLoadStatsFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	// No persisted row.
	s := loadStats(ctx, &fakeStore{}, "2026-08-29", 100000)
	assert.Equal(t, "2026-08-29", s.Date)
	assert.InDelta(t, 100000.0, s.CurrentEquity, 1e-9)
	assert.Equal(t, 0, s.TotalTrades)

	// Store error also falls back rather than failing startup.
	s = loadStats(ctx, &fakeStore{loadErr: errors.New("db down")}, "2026-08-29", 100000)
	assert.InDelta(t, 100000.0, s.PeakEquity, 1e-9)

	// Persisted row wins when present.
	persisted := &types.DailyStats{Date: "2026-08-29", TotalTrades: 7, PeakEquity: 101000, CurrentEquity: 100500}
	s = loadStats(ctx, &fakeStore{persisted: persisted}, "2026-08-29", 100000)
	assert.Equal(t, 7, s.TotalTrades)
	assert.InDelta(t, 101000.0, s.PeakEquity, 1e-9)
}
