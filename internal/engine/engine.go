// Package engine implements the real-time risk-admission engine: it
// intercepts every trading signal, evaluates it against the independent
// risk rules, maintains authoritative position and daily-statistics
// state, and enforces the NORMAL/DEFENSIVE/LOCKDOWN operating mode.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risk-manager/internal/config"
	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"
	"risk-manager/internal/metrics"
	"risk-manager/internal/types"

	"golang.org/x/sync/errgroup"
)

const lockdownReason = "trading halted: risk engine is in LOCKDOWN mode"

// Engine owns all mutable risk state. A single mutex serializes signal
// checks, fill updates, reconciliation, persistence and administrative
// actions, so no interleaved partial update can produce an inconsistent
// portfolio valuation. Within one check, rule evaluators run
// concurrently against a read-only snapshot.
type Engine struct {
	mu sync.Mutex

	cfg   *config.Config
	store interfaces.Store
	bus   interfaces.Bus

	ledger     *ledger
	stats      types.DailyStats
	history    *tradeHistory
	mode       types.Mode
	modeReason string

	evaluators []Evaluator

	now func() time.Time
}

var _ interfaces.RiskEngine = (*Engine)(nil)

func New(cfg *config.Config, store interfaces.Store, bus interfaces.Bus) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		ledger:     newLedger(),
		history:    newTradeHistory(cfg.Frequency.WindowSize),
		mode:       types.ModeNormal,
		evaluators: defaultEvaluators(),
		now:        time.Now,
	}
}

// Start loads today's persisted statistics and re-derives the operating
// mode from them, so a restart inside a breached day resumes in
// DEFENSIVE or LOCKDOWN rather than NORMAL.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats = loadStats(ctx, e.store, e.today(), e.cfg.Capital.InitialCapital)
	metrics.SetMode(e.mode)
	e.updateModeLocked(ctx)
}

func (e *Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

// portfolioValue returns the configured current equity. Live
// exposure-based pricing is deliberately not used here; the drawdown and
// mode thresholds are calibrated against this value.
func (e *Engine) portfolioValue() float64 {
	return e.cfg.Capital.CurrentEquity
}

// CheckSignal runs one admission decision. It never returns an error:
// any internal failure is converted into a rejection with mode ERROR.
func (e *Engine) CheckSignal(ctx context.Context, sig types.Signal) (dec types.RiskDecision) {
	start := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			dec = e.failSafeLocked(ctx, sig, start, fmt.Errorf("panic during decision assembly: %v", r))
		}
	}()

	// LOCKDOWN gates everything: reject immediately, skip all evaluators.
	if e.mode == types.ModeLockdown {
		logger.Warn(ctx, "Signal rejected in LOCKDOWN", "symbol", sig.Symbol, "strategy", sig.StrategyID)
		dec = types.RiskDecision{
			Approved:        false,
			Mode:            types.ModeLockdown,
			RejectionReason: lockdownReason,
			Verdicts:        map[string]types.Verdict{},
			OverallScore:    1.0,
			PortfolioValue:  e.portfolioValue(),
			ProcessingMs:    e.sinceMs(start),
		}
		e.recordDecisionLocked(ctx, sig, dec)
		return dec
	}

	snap := e.snapshotLocked()
	verdicts, err := e.evaluate(ctx, sig, snap)
	if err != nil {
		return e.failSafeLocked(ctx, sig, start, err)
	}

	dec = e.assembleDecision(sig, snap, verdicts)
	e.applyVerdictModeLocked(ctx, verdicts)
	dec.Mode = e.mode
	if dec.Approved {
		e.history.record(sig.Symbol, e.now())
	}
	dec.ProcessingMs = e.sinceMs(start)
	e.recordDecisionLocked(ctx, sig, dec)
	return dec
}

func (e *Engine) sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// snapshotLocked builds the consistent read-only state for one
// evaluation batch. Callers must hold e.mu.
func (e *Engine) snapshotLocked() Snapshot {
	counts, recent := e.history.snapshot()
	return Snapshot{
		Positions:         e.ledger.snapshotPositions(),
		TotalExposure:     e.ledger.totalExposure(),
		Stats:             e.stats,
		SymbolTradeCounts: counts,
		RecentTrades:      recent,
		PortfolioValue:    e.portfolioValue(),
		Now:               e.now(),
		Cfg:               e.cfg,
	}
}

// evaluate fans out to all evaluators concurrently and waits for every
// one of them; there is no partial-result policy. Evaluator panics and
// batch timeouts surface as errors so the caller can fail safe.
func (e *Engine) evaluate(ctx context.Context, sig types.Signal, snap Snapshot) ([]types.Verdict, error) {
	verdicts := make([]types.Verdict, len(e.evaluators))

	g, _ := errgroup.WithContext(ctx)
	for i, ev := range e.evaluators {
		i, ev := i, ev
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("evaluator %s panicked: %v", ev.Name(), r)
				}
			}()
			verdicts[i] = ev.Evaluate(sig, snap)
			return nil
		})
	}

	timeout := time.Duration(e.cfg.Evaluation.TimeoutMs) * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return verdicts, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("rule evaluation timed out after %s", timeout)
	}
}

// assembleDecision aggregates verdicts: approved iff every rule passed,
// the rejection reason comes from the first failing rule in declared
// order, and the overall score is the fixed weighted sum clamped to 1.
func (e *Engine) assembleDecision(sig types.Signal, snap Snapshot, verdicts []types.Verdict) types.RiskDecision {
	dec := types.RiskDecision{
		Approved:       true,
		Verdicts:       make(map[string]types.Verdict, len(verdicts)),
		PortfolioValue: snap.PortfolioValue,
	}

	var score float64
	for i, ev := range e.evaluators {
		v := verdicts[i]
		dec.Verdicts[ev.Name()] = v
		score += ruleWeights[ev.Name()] * v.Score
		if !v.Passed && dec.Approved {
			dec.Approved = false
			dec.RejectionReason = v.Reason
		}
	}
	dec.OverallScore = clamp01(score)
	return dec
}

// applyVerdictModeLocked re-derives the operating mode from the loss and
// drawdown escalation hints. Callers must hold e.mu.
func (e *Engine) applyVerdictModeLocked(ctx context.Context, verdicts []types.Verdict) {
	target := types.ModeNormal
	reason := "all risk thresholds clear"

	for i, ev := range e.evaluators {
		name := ev.Name()
		if name != ruleLossLimits && name != ruleDrawdown {
			continue
		}
		hint, _ := verdicts[i].Details["mode"].(string)
		switch types.Mode(hint) {
		case types.ModeLockdown:
			target = types.ModeLockdown
			reason = hintReason(name, verdicts[i])
		case types.ModeDefensive:
			if target != types.ModeLockdown {
				target = types.ModeDefensive
				reason = hintReason(name, verdicts[i])
			}
		}
	}
	e.transition(ctx, target, reason)
}

func hintReason(rule string, v types.Verdict) string {
	if v.Reason != "" {
		return v.Reason
	}
	return fmt.Sprintf("%s defensive threshold crossed", rule)
}

// recordDecisionLocked orders the post-decision effects: statistics are
// updated in memory first, then the audit row is written and the
// decision published, so a concurrent status read already reflects the
// decision that triggered it. Callers must hold e.mu.
func (e *Engine) recordDecisionLocked(ctx context.Context, sig types.Signal, dec types.RiskDecision) {
	e.stats.TotalTrades++
	if dec.Approved {
		e.stats.ApprovedTrades++
		metrics.Decisions.WithLabelValues("approved").Inc()
	} else {
		e.stats.RejectedTrades++
		metrics.Decisions.WithLabelValues("rejected").Inc()
		metrics.Rejections.WithLabelValues(firstFailedRule(e.evaluators, dec)).Inc()
	}
	metrics.EvalDuration.Observe(dec.ProcessingMs / 1000.0)

	logger.Decision(ctx, sig.Symbol, dec.Approved, dec.RejectionReason,
		"strategy", sig.StrategyID,
		"mode", string(dec.Mode),
		"overall_score", dec.OverallScore,
		"processing_ms", dec.ProcessingMs,
	)

	e.auditLocked(ctx, sig, dec)
	e.publishDecision(ctx, sig, dec)
	e.publishStats(ctx)
}

func firstFailedRule(evaluators []Evaluator, dec types.RiskDecision) string {
	for _, ev := range evaluators {
		if v, ok := dec.Verdicts[ev.Name()]; ok && !v.Passed {
			return ev.Name()
		}
	}
	return "lockdown"
}

// failSafeLocked converts an internal failure into a rejection: the
// engine never lets an evaluation fault approve a trade. The persisted
// operating mode is left untouched; ERROR exists only on the decision.
func (e *Engine) failSafeLocked(ctx context.Context, sig types.Signal, start time.Time, cause error) types.RiskDecision {
	logger.ErrorWithErr(ctx, "Risk evaluation failed, rejecting signal", cause,
		"symbol", sig.Symbol, "strategy", sig.StrategyID)

	dec := types.RiskDecision{
		Approved:        false,
		Mode:            types.ModeError,
		RejectionReason: fmt.Sprintf("risk evaluation error: %v", cause),
		Verdicts:        map[string]types.Verdict{},
		OverallScore:    1.0,
		PortfolioValue:  e.portfolioValue(),
		ProcessingMs:    e.sinceMs(start),
	}
	e.stats.TotalTrades++
	e.stats.RejectedTrades++
	metrics.Decisions.WithLabelValues("error").Inc()

	e.auditLocked(ctx, sig, dec)
	e.publishDecision(ctx, sig, dec)
	e.publishStats(ctx)
	return dec
}

// UpdateFromFill applies an execution confirmation: position update,
// realized P&L and streak accounting, equity recomputation, then the
// authoritative mode re-derivation.
func (e *Engine) UpdateFromFill(ctx context.Context, fill types.Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.applyFill(fill)
	if err := e.store.RecordFill(ctx, fill); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record fill, position cache may drift until reconciliation", err,
			"symbol", fill.Symbol)
	}

	if fill.RealizedPnL != 0 {
		applyRealized(&e.stats, fill.RealizedPnL, e.cfg.Capital.InitialCapital)
	}

	logger.Info(ctx, "Fill applied",
		"symbol", fill.Symbol,
		"action", fill.Action,
		"quantity", fill.Quantity,
		"price", fill.Price,
		"realized_pnl", fill.RealizedPnL,
		"net_position", e.ledger.get(fill.Symbol).Quantity,
	)

	e.updateModeLocked(ctx)
}

// updateModeLocked is the authoritative mode computation used when no
// signal is in flight: realized P&L against the loss thresholds and
// drawdown against the configured thresholds. Callers must hold e.mu.
func (e *Engine) updateModeLocked(ctx context.Context) {
	realized := e.stats.RealizedPnL
	dd := e.stats.Drawdown()

	switch {
	case realized < -e.cfg.LossLimits.MaxDailyLoss:
		e.transition(ctx, types.ModeLockdown,
			fmt.Sprintf("daily loss limit breached: realized %.2f vs max loss %.2f", realized, e.cfg.LossLimits.MaxDailyLoss))
	case dd > e.cfg.Drawdown.LockdownThreshold:
		e.transition(ctx, types.ModeLockdown,
			fmt.Sprintf("drawdown %.2f%% breached lockdown threshold %.2f%%", dd*100, e.cfg.Drawdown.LockdownThreshold*100))
	case dd > e.cfg.Drawdown.DefensiveThreshold:
		e.transition(ctx, types.ModeDefensive,
			fmt.Sprintf("drawdown %.2f%% above defensive threshold %.2f%%", dd*100, e.cfg.Drawdown.DefensiveThreshold*100))
	case e.cfg.LossLimits.DefensiveLoss > 0 && realized < -e.cfg.LossLimits.DefensiveLoss:
		e.transition(ctx, types.ModeDefensive,
			fmt.Sprintf("realized %.2f approaching daily loss limit %.2f", realized, e.cfg.LossLimits.MaxDailyLoss))
	default:
		e.transition(ctx, types.ModeNormal, "all risk thresholds clear")
	}
}

// Reconcile corrects the in-memory position view against the durable
// fills record. The store query runs outside the state lock; only the
// correction itself competes with the decision path.
func (e *Engine) Reconcile(ctx context.Context) error {
	durable, err := e.store.NetPositions(ctx, e.today())
	if err != nil {
		return fmt.Errorf("reconciliation query failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fixes := e.ledger.reconcile(durable)
	for _, fix := range fixes {
		metrics.ReconcileDiscrepancies.Inc()
		if fix.Dropped {
			logger.Reconcile(ctx, fix.Symbol,
				"memory_quantity", fix.Memory.Quantity,
				"action", "dropped",
			)
			continue
		}
		logger.Reconcile(ctx, fix.Symbol,
			"memory_quantity", fix.Memory.Quantity,
			"memory_avg_price", fix.Memory.AveragePrice,
			"durable_quantity", fix.Durable.Quantity,
			"durable_avg_price", fix.Durable.AveragePrice,
			"action", "overwritten",
		)
	}
	if len(fixes) == 0 {
		logger.Debug(ctx, "Reconciliation clean", "symbols", len(durable))
	}
	return nil
}

// SaveStats persists the daily statistics row. The snapshot is taken
// under the lock; the upsert runs outside it so a slow store never
// blocks admissions.
func (e *Engine) SaveStats(ctx context.Context) error {
	e.mu.Lock()
	snapshot := e.stats
	e.mu.Unlock()

	if err := e.store.SaveDailyStats(ctx, snapshot); err != nil {
		return fmt.Errorf("persist daily stats: %w", err)
	}
	return nil
}

// ResetDaily zeroes statistics and trade history back to configured
// initial capital and re-derives the mode.
func (e *Engine) ResetDaily(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger.Warn(ctx, "Administrative daily reset",
		"previous_total_trades", e.stats.TotalTrades,
		"previous_realized_pnl", e.stats.RealizedPnL,
	)

	e.stats = newDailyStats(e.today(), e.cfg.Capital.InitialCapital)
	e.history.reset()
	e.updateModeLocked(ctx)
	e.auditAdminLocked(ctx, "RESET_DAILY", "administrative daily reset")
	e.publishStats(ctx)
}

// ForceMode overrides the automatic derivation. The override is logged
// and published like any other transition.
func (e *Engine) ForceMode(ctx context.Context, mode types.Mode, reason string) error {
	if _, err := types.ParseMode(string(mode)); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if reason == "" {
		reason = "administrative override"
	}
	logger.Warn(ctx, "Mode override requested", "mode", string(mode), "reason", reason)
	e.transition(ctx, mode, reason)
	e.auditAdminLocked(ctx, "FORCE_MODE", reason)
	return nil
}

func (e *Engine) Mode() types.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *Engine) Status() types.StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	return types.StatusReport{
		Mode:          e.mode,
		ModeReason:    e.modeReason,
		Stats:         e.stats,
		Positions:     e.ledger.all(),
		TotalExposure: e.ledger.totalExposure(),
		Drawdown:      e.stats.Drawdown(),
	}
}
