package engineobs

import (
	"context"
	"time"

	"risk-manager/internal/interfaces"
	"risk-manager/internal/logger"
	"risk-manager/internal/trace"
	"risk-manager/internal/types"
)

type observableEngine struct {
	engine interfaces.RiskEngine
}

var _ interfaces.RiskEngine = (*observableEngine)(nil)

func Wrap(eng interfaces.RiskEngine) interfaces.RiskEngine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) CheckSignal(ctx context.Context, sig types.Signal) types.RiskDecision {
	ctx, span := trace.StartSpan(ctx, "engine.CheckSignal")
	defer span.End()

	start := time.Now()

	logger.Debug(ctx, "Checking signal",
		"symbol", sig.Symbol,
		"strategy", sig.StrategyID,
		"action", sig.Action,
		"quantity", sig.Quantity,
	)

	dec := oe.engine.CheckSignal(ctx, sig)

	logger.Info(ctx, "Signal checked",
		"symbol", sig.Symbol,
		"strategy", sig.StrategyID,
		"approved", dec.Approved,
		"mode", string(dec.Mode),
		"overall_score", dec.OverallScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return dec
}

func (oe *observableEngine) UpdateFromFill(ctx context.Context, fill types.Fill) {
	ctx, span := trace.StartSpan(ctx, "engine.UpdateFromFill")
	defer span.End()

	oe.engine.UpdateFromFill(ctx, fill)
}

func (oe *observableEngine) Reconcile(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Reconcile")
	defer span.End()

	start := time.Now()

	err := oe.engine.Reconcile(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Position reconciliation failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	logger.Debug(ctx, "Position reconciliation completed",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (oe *observableEngine) SaveStats(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.SaveStats")
	defer span.End()

	return oe.engine.SaveStats(ctx)
}

func (oe *observableEngine) ResetDaily(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "engine.ResetDaily")
	defer span.End()

	oe.engine.ResetDaily(ctx)
}

func (oe *observableEngine) ForceMode(ctx context.Context, mode types.Mode, reason string) error {
	ctx, span := trace.StartSpan(ctx, "engine.ForceMode")
	defer span.End()

	return oe.engine.ForceMode(ctx, mode, reason)
}

func (oe *observableEngine) Mode() types.Mode {
	return oe.engine.Mode()
}

func (oe *observableEngine) Status() types.StatusReport {
	return oe.engine.Status()
}
