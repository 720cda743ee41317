package store

const schema = `
CREATE TABLE IF NOT EXISTS risk_audit_events (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	strategy_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price DOUBLE PRECISION NOT NULL DEFAULT 0,
	approved BOOLEAN NOT NULL,
	rejection_reason TEXT NOT NULL DEFAULT '',
	risk_scores JSONB,
	positions JSONB,
	daily_stats JSONB,
	mode TEXT NOT NULL,
	processing_ms DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_risk_audit_created ON risk_audit_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_risk_audit_approved ON risk_audit_events(approved, created_at DESC);

CREATE TABLE IF NOT EXISTS risk_daily_stats (
	date DATE PRIMARY KEY,
	total_trades INTEGER NOT NULL DEFAULT 0,
	approved_trades INTEGER NOT NULL DEFAULT 0,
	rejected_trades INTEGER NOT NULL DEFAULT 0,
	realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
	consecutive_wins INTEGER NOT NULL DEFAULT 0,
	consecutive_losses INTEGER NOT NULL DEFAULT 0,
	peak_equity DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_equity DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fills (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	strategy_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fills_day ON fills(created_at, symbol);
`
