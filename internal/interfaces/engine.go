package interfaces

import (
	"context"

	"risk-manager/internal/types"
)

// RiskEngine admits or rejects trading signals and owns all mutable risk
// state. CheckSignal never returns an error: any internal failure is
// converted into a rejection.
type RiskEngine interface {
	CheckSignal(ctx context.Context, sig types.Signal) types.RiskDecision
	UpdateFromFill(ctx context.Context, fill types.Fill)
	Reconcile(ctx context.Context) error
	SaveStats(ctx context.Context) error
	ResetDaily(ctx context.Context)
	ForceMode(ctx context.Context, mode types.Mode, reason string) error
	Mode() types.Mode
	Status() types.StatusReport
}
