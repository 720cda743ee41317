package engine

import (
	"context"

	"risk-manager/internal/logger"
	"risk-manager/internal/metrics"
	"risk-manager/internal/types"
)

// modeTransitions is the explicit state table for the operating-mode
// machine. Transitions are re-derived on every signal and fill with no
// hysteresis: a single improving data point can move the mode back
// toward NORMAL.
var modeTransitions = map[types.Mode][]types.Mode{
	types.ModeNormal:    {types.ModeDefensive, types.ModeLockdown},
	types.ModeDefensive: {types.ModeNormal, types.ModeLockdown},
	types.ModeLockdown:  {types.ModeNormal, types.ModeDefensive},
}

func validTransition(from, to types.Mode) bool {
	for _, m := range modeTransitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// transition moves the engine to the target mode if it differs from the
// current one. Every actual transition is logged, reflected in metrics and
// published; repeated sets of the same mode are silent no-ops.
// Callers must hold e.mu.
func (e *Engine) transition(ctx context.Context, to types.Mode, reason string) bool {
	if to == e.mode {
		return false
	}
	if !validTransition(e.mode, to) {
		// The table admits every cross-mode move, so this only guards
		// against values outside the closed enumeration.
		logger.Error(ctx, "Refusing invalid mode transition", "from", string(e.mode), "to", string(to))
		return false
	}

	from := e.mode
	e.mode = to
	e.modeReason = reason

	logger.ModeChange(ctx, string(from), string(to), reason)
	metrics.SetMode(to)
	e.publishModeChange(to, reason)
	return true
}
