package types

import (
	"fmt"
	"time"
)

// Mode is the engine-wide operating gate. It is a closed enumeration:
// only the three values below are ever persisted as the engine mode.
// ModeError appears on individual decisions when evaluation itself fails,
// but is never stored as the engine mode.
type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModeDefensive Mode = "DEFENSIVE"
	ModeLockdown  Mode = "LOCKDOWN"
	ModeError     Mode = "ERROR"
)

// ParseMode validates an externally supplied mode name. ModeError is not
// accepted: it is a decision state, not an operating mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeDefensive, ModeLockdown:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: must be NORMAL, DEFENSIVE or LOCKDOWN", s)
}

// Signal is a strategy-originated proposed trade submitted for admission.
type Signal struct {
	StrategyID string    `json:"strategy_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"` // BUY or SELL
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Notional returns the signal's gross value at its stated price.
func (s Signal) Notional() float64 {
	return float64(s.Quantity) * s.Price
}

// Fill confirms an executed trade. RealizedPnL is only present on
// position-reducing fills reported by the execution venue.
type Fill struct {
	StrategyID  string    `json:"strategy_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Position is the net holding for one symbol. Exposure is always derived
// from quantity and average price, never stored independently.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"` // signed, positive = long
	AveragePrice float64 `json:"averagePrice"`
}

func (p Position) Exposure() float64 {
	return float64(p.Quantity) * p.AveragePrice
}

// DailyStats is the singleton per-trading-day statistics row.
type DailyStats struct {
	Date              string  `json:"date"` // YYYY-MM-DD
	TotalTrades       int     `json:"totalTrades"`
	ApprovedTrades    int     `json:"approvedTrades"`
	RejectedTrades    int     `json:"rejectedTrades"`
	RealizedPnL       float64 `json:"realizedPnL"`
	UnrealizedPnL     float64 `json:"unrealizedPnL"`
	ConsecutiveWins   int     `json:"consecutiveWins"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	PeakEquity        float64 `json:"peakEquity"`
	CurrentEquity     float64 `json:"currentEquity"`
}

// Drawdown is the fractional decline from the day's peak equity,
// clamped non-negative.
func (d DailyStats) Drawdown() float64 {
	if d.PeakEquity <= 0 {
		return 0
	}
	dd := (d.PeakEquity - d.CurrentEquity) / d.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Verdict is one rule evaluator's output for a single risk dimension.
type Verdict struct {
	Passed  bool           `json:"passed"`
	Score   float64        `json:"score"` // [0,1], 1 = limit fully consumed
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// RiskDecision is the admission outcome for one signal.
type RiskDecision struct {
	Approved        bool               `json:"approved"`
	Mode            Mode               `json:"mode"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
	Verdicts        map[string]Verdict `json:"riskChecks"`
	OverallScore    float64            `json:"overallScore"`
	PortfolioValue  float64            `json:"portfolioValue"`
	ProcessingMs    float64            `json:"processingTimeMs"`
}

// AuditEvent is the durable record of one admission decision.
type AuditEvent struct {
	ID              int64              `json:"id,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	StrategyID      string             `json:"strategyId"`
	Symbol          string             `json:"symbol"`
	Action          string             `json:"action"`
	Quantity        int                `json:"quantity"`
	Price           float64            `json:"price"`
	Approved        bool               `json:"approved"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
	RiskScores      map[string]Verdict `json:"riskScores"`
	Positions       []Position         `json:"positions"`
	DailyStats      DailyStats         `json:"dailyStats"`
	Mode            Mode               `json:"mode"`
	ProcessingMs    float64            `json:"processingTimeMs"`
}

// StatusReport is the control-plane view of the engine.
type StatusReport struct {
	Mode          Mode       `json:"mode"`
	ModeReason    string     `json:"modeReason,omitempty"`
	Stats         DailyStats `json:"dailyStats"`
	Positions     []Position `json:"positions"`
	TotalExposure float64    `json:"totalExposure"`
	Drawdown      float64    `json:"drawdown"`
}
