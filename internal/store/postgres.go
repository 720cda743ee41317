// Package store implements the durable-storage boundary on Postgres:
// audit events per decision, the daily statistics row, and the fills
// record that reconciliation treats as the source of truth.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"risk-manager/internal/types"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the schema exists. The engine
// never runs without its audit trail, so connectivity failure here stops
// startup.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) InsertAuditEvent(ctx context.Context, ev types.AuditEvent) error {
	scores, err := json.Marshal(ev.RiskScores)
	if err != nil {
		return fmt.Errorf("marshal risk scores: %w", err)
	}
	positions, err := json.Marshal(ev.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	stats, err := json.Marshal(ev.DailyStats)
	if err != nil {
		return fmt.Errorf("marshal daily stats: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_audit_events
		(strategy_id, symbol, action, quantity, price, approved, rejection_reason,
		 risk_scores, positions, daily_stats, mode, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.StrategyID, ev.Symbol, ev.Action, ev.Quantity, ev.Price, ev.Approved,
		ev.RejectionReason, scores, positions, stats, string(ev.Mode), ev.ProcessingMs,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (p *Postgres) QueryAuditEvents(ctx context.Context, decision string, limit int) ([]types.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, created_at, strategy_id, symbol, action, quantity, price,
		       approved, rejection_reason, risk_scores, positions, daily_stats,
		       mode, processing_ms
		FROM risk_audit_events`
	args := []any{}
	switch decision {
	case "approved":
		query += ` WHERE approved = true`
	case "rejected":
		query += ` WHERE approved = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []types.AuditEvent
	for rows.Next() {
		var ev types.AuditEvent
		var mode string
		var scores, positions, stats []byte
		if err := rows.Scan(&ev.ID, &ev.CreatedAt, &ev.StrategyID, &ev.Symbol,
			&ev.Action, &ev.Quantity, &ev.Price, &ev.Approved, &ev.RejectionReason,
			&scores, &positions, &stats, &mode, &ev.ProcessingMs); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Mode = types.Mode(mode)
		_ = json.Unmarshal(scores, &ev.RiskScores)
		_ = json.Unmarshal(positions, &ev.Positions)
		_ = json.Unmarshal(stats, &ev.DailyStats)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) RecentRejections(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	return p.QueryAuditEvents(ctx, "rejected", limit)
}

func (p *Postgres) LoadDailyStats(ctx context.Context, date string) (*types.DailyStats, error) {
	var s types.DailyStats
	err := p.db.QueryRowContext(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), total_trades, approved_trades, rejected_trades,
		       realized_pnl, unrealized_pnl, consecutive_wins, consecutive_losses,
		       peak_equity, current_equity
		FROM risk_daily_stats WHERE date = $1`, date,
	).Scan(&s.Date, &s.TotalTrades, &s.ApprovedTrades, &s.RejectedTrades,
		&s.RealizedPnL, &s.UnrealizedPnL, &s.ConsecutiveWins, &s.ConsecutiveLosses,
		&s.PeakEquity, &s.CurrentEquity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load daily stats for %s: %w", date, err)
	}
	return &s, nil
}

func (p *Postgres) SaveDailyStats(ctx context.Context, s types.DailyStats) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_daily_stats
		(date, total_trades, approved_trades, rejected_trades, realized_pnl,
		 unrealized_pnl, consecutive_wins, consecutive_losses, peak_equity,
		 current_equity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (date) DO UPDATE SET
			total_trades = EXCLUDED.total_trades,
			approved_trades = EXCLUDED.approved_trades,
			rejected_trades = EXCLUDED.rejected_trades,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			consecutive_wins = EXCLUDED.consecutive_wins,
			consecutive_losses = EXCLUDED.consecutive_losses,
			peak_equity = EXCLUDED.peak_equity,
			current_equity = EXCLUDED.current_equity,
			updated_at = now()`,
		s.Date, s.TotalTrades, s.ApprovedTrades, s.RejectedTrades, s.RealizedPnL,
		s.UnrealizedPnL, s.ConsecutiveWins, s.ConsecutiveLosses, s.PeakEquity,
		s.CurrentEquity,
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

func (p *Postgres) RecordFill(ctx context.Context, f types.Fill) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fills (strategy_id, symbol, action, quantity, price, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.StrategyID, f.Symbol, f.Action, f.Quantity, f.Price, f.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// NetPositions derives the net quantity per symbol from the day's fills.
// The average price is the quantity-weighted cost of the day's BUY fills,
// matching the ledger's cost-basis rule (SELLs never reduce cost basis).
// Symbols that net out to zero are omitted.
func (p *Postgres) NetPositions(ctx context.Context, date string) (map[string]types.Position, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT symbol,
		       SUM(CASE WHEN action = 'BUY' THEN quantity ELSE -quantity END) AS net_qty,
		       COALESCE(
		           SUM(CASE WHEN action = 'BUY' THEN quantity * price END) /
		           NULLIF(SUM(CASE WHEN action = 'BUY' THEN quantity END), 0),
		           0) AS avg_price
		FROM fills
		WHERE created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day'
		GROUP BY symbol
		HAVING SUM(CASE WHEN action = 'BUY' THEN quantity ELSE -quantity END) <> 0`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query net positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]types.Position)
	for rows.Next() {
		var pos types.Position
		if err := rows.Scan(&pos.Symbol, &pos.Quantity, &pos.AveragePrice); err != nil {
			return nil, fmt.Errorf("scan net position: %w", err)
		}
		positions[pos.Symbol] = pos
	}
	return positions, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
