package engine

import (
	"context"
	"encoding/json"
	"time"

	"risk-manager/internal/logger"
	"risk-manager/internal/types"
)

const (
	subjectApprovedPrefix = "risk.approved."
	subjectRejectedPrefix = "risk.rejected."
	subjectStats          = "risk.stats"
	subjectModeChange     = "risk.mode-change"
)

// publish is best-effort: the decision has already been taken and
// audited, a bus fault must not fail the caller.
func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to encode bus payload", err, "subject", subject)
		return
	}
	if err := e.bus.Publish(subject, data); err != nil {
		logger.ErrorWithErr(ctx, "Failed to publish", err, "subject", subject)
	}
}

// publishDecision routes the outcome to the per-strategy approved or
// rejected subject. Execution listens on risk.approved.*; strategies
// observe their own rejections.
func (e *Engine) publishDecision(ctx context.Context, sig types.Signal, dec types.RiskDecision) {
	strategy := sig.StrategyID
	if strategy == "" {
		strategy = "unknown"
	}

	payload := map[string]any{
		"strategy_id": strategy,
		"symbol":      sig.Symbol,
		"action":      sig.Action,
		"quantity":    sig.Quantity,
		"price":       sig.Price,
		"decision":    dec,
		"mode":        dec.Mode,
	}

	subject := subjectApprovedPrefix + strategy
	if !dec.Approved {
		subject = subjectRejectedPrefix + strategy
		payload["rejectionReason"] = dec.RejectionReason
		payload["rejectedAt"] = e.now().UTC().Format(time.RFC3339Nano)
	}
	e.publish(ctx, subject, payload)
}

// publishStats emits the current daily statistics after every decision
// and on administrative resets. Callers must hold e.mu.
func (e *Engine) publishStats(ctx context.Context) {
	e.publish(ctx, subjectStats, map[string]any{
		"timestamp":      e.now().UTC().Format(time.RFC3339Nano),
		"mode":           e.mode,
		"dailyStats":     e.stats,
		"portfolioValue": e.portfolioValue(),
	})
}

// publishModeChange is invoked from transition, which already holds e.mu.
func (e *Engine) publishModeChange(to types.Mode, reason string) {
	e.publish(context.Background(), subjectModeChange, map[string]any{
		"timestamp": e.now().UTC().Format(time.RFC3339Nano),
		"mode":      to,
		"reason":    reason,
	})
}

// auditLocked writes the durable decision record. Audit failures are
// logged and swallowed: the in-memory decision stands either way.
// Callers must hold e.mu.
func (e *Engine) auditLocked(ctx context.Context, sig types.Signal, dec types.RiskDecision) {
	ev := types.AuditEvent{
		CreatedAt:       e.now().UTC(),
		StrategyID:      sig.StrategyID,
		Symbol:          sig.Symbol,
		Action:          sig.Action,
		Quantity:        sig.Quantity,
		Price:           sig.Price,
		Approved:        dec.Approved,
		RejectionReason: dec.RejectionReason,
		RiskScores:      dec.Verdicts,
		Positions:       e.ledger.all(),
		DailyStats:      e.stats,
		Mode:            dec.Mode,
		ProcessingMs:    dec.ProcessingMs,
	}
	if err := e.store.InsertAuditEvent(ctx, ev); err != nil {
		logger.ErrorWithErr(ctx, "Failed to write audit event", err, "symbol", sig.Symbol)
	}
}

// auditAdminLocked records administrative actions (daily reset, mode
// override) in the same audit trail as decisions. Callers must hold e.mu.
func (e *Engine) auditAdminLocked(ctx context.Context, action, reason string) {
	ev := types.AuditEvent{
		CreatedAt:       e.now().UTC(),
		Action:          action,
		Approved:        true,
		RejectionReason: reason,
		Positions:       e.ledger.all(),
		DailyStats:      e.stats,
		Mode:            e.mode,
	}
	if err := e.store.InsertAuditEvent(ctx, ev); err != nil {
		logger.ErrorWithErr(ctx, "Failed to write audit event", err, "action", action)
	}
}
