package engine

import (
	"fmt"
	"math"
	"time"

	"risk-manager/internal/config"
	"risk-manager/internal/types"
)

// Snapshot is the consistent read-only state handed to every rule
// evaluator for one admission check. It contains value copies only, so
// the six evaluators can run concurrently without coordination.
type Snapshot struct {
	Positions         map[string]types.Position
	TotalExposure     float64
	Stats             types.DailyStats
	SymbolTradeCounts map[string]int
	RecentTrades      []time.Time
	PortfolioValue    float64
	Now               time.Time
	Cfg               *config.Config
}

// Evaluator is one independent, side-effect-free risk check.
type Evaluator interface {
	Name() string
	Evaluate(sig types.Signal, snap Snapshot) types.Verdict
}

// Rule names, in the fixed declared order used for first-failure reason
// selection and score weighting.
const (
	rulePosition    = "positionLimits"
	rulePortfolio   = "portfolioLimits"
	ruleLossLimits  = "lossLimits"
	ruleDrawdown    = "drawdown"
	ruleFrequency   = "frequency"
	ruleBuyingPower = "buyingPower"
)

func defaultEvaluators() []Evaluator {
	return []Evaluator{
		positionLimits{},
		portfolioLimits{},
		lossLimits{},
		drawdown{},
		frequency{},
		buyingPower{},
	}
}

// ruleWeights is the fixed contribution of each rule to the overall score.
var ruleWeights = map[string]float64{
	rulePosition:    0.20,
	rulePortfolio:   0.20,
	ruleLossLimits:  0.25,
	ruleDrawdown:    0.25,
	ruleFrequency:   0.05,
	ruleBuyingPower: 0.05,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// signedQuantity is the position delta the signal proposes.
func signedQuantity(sig types.Signal) int {
	if sig.Action == "SELL" {
		return -sig.Quantity
	}
	return sig.Quantity
}

// positionLimits rejects signals whose projected post-trade position
// would exceed the per-symbol size or exposure caps.
type positionLimits struct{}

func (positionLimits) Name() string { return rulePosition }

func (positionLimits) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	maxSize, maxValue := snap.Cfg.SymbolLimits(sig.Symbol)

	current := snap.Positions[sig.Symbol]
	projected := current.Quantity + signedQuantity(sig)
	projectedAbs := math.Abs(float64(projected))

	price := sig.Price
	if price == 0 {
		price = current.AveragePrice
	}
	projectedValue := projectedAbs * price

	sizeUtil := 0.0
	if maxSize > 0 {
		sizeUtil = projectedAbs / float64(maxSize)
	}
	valueUtil := 0.0
	if maxValue > 0 {
		valueUtil = projectedValue / maxValue
	}

	v := types.Verdict{
		Passed: true,
		Score:  clamp01(math.Max(sizeUtil, valueUtil)),
		Details: map[string]any{
			"projectedQuantity": projected,
			"projectedValue":    projectedValue,
			"maxPositionSize":   maxSize,
			"maxPositionValue":  maxValue,
		},
	}
	if maxSize > 0 && projectedAbs > float64(maxSize) {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("position limit exceeded for %s: projected %d shares vs max %d", sig.Symbol, projected, maxSize)
	} else if maxValue > 0 && projectedValue > maxValue {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("position value limit exceeded for %s: projected %.2f vs max %.2f", sig.Symbol, projectedValue, maxValue)
	}
	return v
}

// portfolioLimits rejects signals whose projected total exposure across
// all symbols would exceed the portfolio-wide cap.
type portfolioLimits struct{}

func (portfolioLimits) Name() string { return rulePortfolio }

func (portfolioLimits) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	max := snap.Cfg.PortfolioLimits.MaxTotalExposure

	delta := float64(signedQuantity(sig)) * sig.Price
	projected := snap.TotalExposure + delta
	if projected < 0 {
		projected = 0
	}

	v := types.Verdict{
		Passed: true,
		Details: map[string]any{
			"currentExposure":   snap.TotalExposure,
			"projectedExposure": projected,
			"maxTotalExposure":  max,
		},
	}
	if max > 0 {
		v.Score = clamp01(projected / max)
		if projected > max {
			v.Passed = false
			v.Score = 1.0
			v.Reason = fmt.Sprintf("portfolio exposure limit exceeded: projected %.2f vs max %.2f", projected, max)
		}
	}
	return v
}

// lossLimits rejects once realized P&L breaches the daily-loss threshold
// and carries the mode-escalation hint used by the state machine.
type lossLimits struct{}

func (lossLimits) Name() string { return ruleLossLimits }

func (lossLimits) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	maxLoss := snap.Cfg.LossLimits.MaxDailyLoss
	defensiveLoss := snap.Cfg.LossLimits.DefensiveLoss
	realized := snap.Stats.RealizedPnL

	loss := -realized
	if loss < 0 {
		loss = 0
	}

	v := types.Verdict{
		Passed: true,
		Score:  clamp01(loss / maxLoss),
		Details: map[string]any{
			"realizedPnL":  realized,
			"maxDailyLoss": maxLoss,
		},
	}
	switch {
	case realized < -maxLoss:
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("daily loss limit breached: realized %.2f vs max loss %.2f", realized, maxLoss)
		v.Details["mode"] = string(types.ModeLockdown)
	case defensiveLoss > 0 && realized < -defensiveLoss:
		v.Details["mode"] = string(types.ModeDefensive)
	}
	return v
}

// drawdown rejects or escalates when decline from peak equity crosses
// the configured thresholds.
type drawdown struct{}

func (drawdown) Name() string { return ruleDrawdown }

func (drawdown) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	defensive := snap.Cfg.Drawdown.DefensiveThreshold
	lockdown := snap.Cfg.Drawdown.LockdownThreshold

	dd := 0.0
	if snap.Stats.PeakEquity > 0 {
		dd = (snap.Stats.PeakEquity - snap.PortfolioValue) / snap.Stats.PeakEquity
		if dd < 0 {
			dd = 0
		}
	}

	v := types.Verdict{
		Passed: true,
		Score:  clamp01(dd / lockdown),
		Details: map[string]any{
			"drawdown":           dd,
			"peakEquity":         snap.Stats.PeakEquity,
			"portfolioValue":     snap.PortfolioValue,
			"defensiveThreshold": defensive,
			"lockdownThreshold":  lockdown,
		},
	}
	switch {
	case dd > lockdown:
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("drawdown %.2f%% breached lockdown threshold %.2f%%", dd*100, lockdown*100)
		v.Details["mode"] = string(types.ModeLockdown)
	case dd > defensive:
		v.Details["mode"] = string(types.ModeDefensive)
	}
	return v
}

// frequency rejects once the symbol's same-day trade count or the
// rolling per-minute rate exceeds the configured limits.
type frequency struct{}

func (frequency) Name() string { return ruleFrequency }

func (frequency) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	maxPerSymbol := snap.Cfg.Frequency.MaxTradesPerSymbol
	maxPerMinute := snap.Cfg.Frequency.MaxTradesPerMinute

	symbolCount := snap.SymbolTradeCounts[sig.Symbol]
	cutoff := snap.Now.Add(-time.Minute)
	recentCount := 0
	for i := len(snap.RecentTrades) - 1; i >= 0; i-- {
		if snap.RecentTrades[i].Before(cutoff) {
			break
		}
		recentCount++
	}

	symbolUtil := 0.0
	if maxPerSymbol > 0 {
		symbolUtil = float64(symbolCount) / float64(maxPerSymbol)
	}
	rateUtil := 0.0
	if maxPerMinute > 0 {
		rateUtil = float64(recentCount) / float64(maxPerMinute)
	}

	v := types.Verdict{
		Passed: true,
		Score:  clamp01(math.Max(symbolUtil, rateUtil)),
		Details: map[string]any{
			"symbolTradesToday":  symbolCount,
			"tradesLastMinute":   recentCount,
			"maxTradesPerSymbol": maxPerSymbol,
			"maxTradesPerMinute": maxPerMinute,
		},
	}
	if maxPerSymbol > 0 && symbolCount >= maxPerSymbol {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("trade frequency limit reached for %s: %d trades today vs max %d", sig.Symbol, symbolCount, maxPerSymbol)
	} else if maxPerMinute > 0 && recentCount >= maxPerMinute {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("trade rate limit reached: %d trades in the last minute vs max %d", recentCount, maxPerMinute)
	}
	return v
}

// buyingPower rejects BUY signals whose notional value exceeds available
// capital net of current exposure.
type buyingPower struct{}

func (buyingPower) Name() string { return ruleBuyingPower }

func (buyingPower) Evaluate(sig types.Signal, snap Snapshot) types.Verdict {
	available := snap.Stats.CurrentEquity*snap.Cfg.BuyingPower.MaxLeverage - snap.TotalExposure
	notional := sig.Notional()

	v := types.Verdict{
		Passed: true,
		Details: map[string]any{
			"notional":       notional,
			"availableFunds": available,
		},
	}
	if sig.Action != "BUY" || notional == 0 {
		return v
	}
	if available <= 0 {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("insufficient buying power: no available funds for notional %.2f", notional)
		return v
	}
	v.Score = clamp01(notional / available)
	if notional > available {
		v.Passed = false
		v.Score = 1.0
		v.Reason = fmt.Sprintf("insufficient buying power: notional %.2f vs available %.2f", notional, available)
	}
	return v
}
