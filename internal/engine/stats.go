package engine

import (
	"context"

	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"
	"risk-manager/internal/types"
)

const dateLayout = "2006-01-02"

// newDailyStats returns the day's defaults: all counters zero, equity
// seeded from configured initial capital.
func newDailyStats(date string, initialCapital float64) types.DailyStats {
	return types.DailyStats{
		Date:          date,
		PeakEquity:    initialCapital,
		CurrentEquity: initialCapital,
	}
}

// applyRealized folds a realized P&L delta into the statistics: streak
// counters move on strictly positive or strictly negative deltas (zero
// affects neither), equity is recomputed and the peak only ratchets
// upward.
func applyRealized(s *types.DailyStats, pnl, initialCapital float64) {
	s.RealizedPnL += pnl

	switch {
	case pnl > 0:
		s.ConsecutiveWins++
		s.ConsecutiveLosses = 0
	case pnl < 0:
		s.ConsecutiveLosses++
		s.ConsecutiveWins = 0
	}

	s.CurrentEquity = initialCapital + s.RealizedPnL + s.UnrealizedPnL
	if s.CurrentEquity > s.PeakEquity {
		s.PeakEquity = s.CurrentEquity
	}
}

// loadStats reads the day's persisted row, falling back to defaults when
// no row exists.
func loadStats(ctx context.Context, store interfaces.Store, date string, initialCapital float64) types.DailyStats {
	persisted, err := store.LoadDailyStats(ctx, date)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load daily statistics, starting from defaults", err, "date", date)
		return newDailyStats(date, initialCapital)
	}
	if persisted == nil {
		logger.Info(ctx, "No persisted statistics for today, starting fresh", "date", date)
		return newDailyStats(date, initialCapital)
	}
	logger.Info(ctx, "Loaded persisted daily statistics",
		"date", date,
		"total_trades", persisted.TotalTrades,
		"realized_pnl", persisted.RealizedPnL,
	)
	return *persisted
}
