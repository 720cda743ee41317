package interfaces

import (
	"context"

	"risk-manager/internal/types"
)

// Store is the durable-storage boundary: audit rows, daily statistics and
// the same-day fills record used for position reconciliation.
type Store interface {
	InsertAuditEvent(ctx context.Context, ev types.AuditEvent) error
	QueryAuditEvents(ctx context.Context, decision string, limit int) ([]types.AuditEvent, error)
	RecentRejections(ctx context.Context, limit int) ([]types.AuditEvent, error)

	// LoadDailyStats returns (nil, nil) when no row exists for the date.
	LoadDailyStats(ctx context.Context, date string) (*types.DailyStats, error)
	SaveDailyStats(ctx context.Context, stats types.DailyStats) error

	RecordFill(ctx context.Context, fill types.Fill) error
	// NetPositions derives net quantity and average cost per symbol from the
	// day's fills. This is the reconciliation source of truth.
	NetPositions(ctx context.Context, date string) (map[string]types.Position, error)

	Close() error
}
