package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"risk-manager/internal/config"
	"risk-manager/internal/interfaces"
	"risk-manager/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu           sync.Mutex
	audits       []types.AuditEvent
	fills        []types.Fill
	saved        []types.DailyStats
	persisted    *types.DailyStats
	loadErr      error
	netPositions map[string]types.Position
	netErr       error
	fillErr      error
}

func (s *fakeStore) InsertAuditEvent(ctx context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, ev)
	return nil
}

func (s *fakeStore) QueryAuditEvents(ctx context.Context, decision string, limit int) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AuditEvent
	for _, ev := range s.audits {
		if decision == "approved" && !ev.Approved {
			continue
		}
		if decision == "rejected" && ev.Approved {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *fakeStore) RecentRejections(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	return s.QueryAuditEvents(ctx, "rejected", limit)
}

func (s *fakeStore) LoadDailyStats(ctx context.Context, date string) (*types.DailyStats, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.persisted, nil
}

func (s *fakeStore) SaveDailyStats(ctx context.Context, stats types.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, stats)
	return nil
}

func (s *fakeStore) RecordFill(ctx context.Context, f types.Fill) error {
	if s.fillErr != nil {
		return s.fillErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
	return nil
}

func (s *fakeStore) NetPositions(ctx context.Context, date string) (map[string]types.Position, error) {
	if s.netErr != nil {
		return nil, s.netErr
	}
	return s.netPositions, nil
}

func (s *fakeStore) Close() error { return nil }

type published struct {
	subject string
	data    []byte
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
}

type fakeSub struct{}

func (fakeSub) Unsubscribe() error { return nil }

func (b *fakeBus) Subscribe(subject string, handler func(subject string, data []byte)) (interfaces.Subscription, error) {
	return fakeSub{}, nil
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{subject: subject, data: data})
	return nil
}

func (b *fakeBus) Drain() error { return nil }

func (b *fakeBus) subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, p := range b.published {
		out[i] = p.subject
	}
	return out
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Capital.InitialCapital = 100000
	cfg.Capital.CurrentEquity = 100000
	cfg.PositionLimits.MaxPositionSize = 100
	cfg.PositionLimits.MaxPositionValue = 50000
	cfg.PortfolioLimits.MaxTotalExposure = 200000
	cfg.LossLimits.MaxDailyLoss = 1000
	cfg.LossLimits.DefensiveLoss = 500
	cfg.Drawdown.DefensiveThreshold = 0.05
	cfg.Drawdown.LockdownThreshold = 0.10
	cfg.Frequency.MaxTradesPerSymbol = 20
	cfg.Frequency.MaxTradesPerMinute = 100
	cfg.Frequency.WindowSize = 100
	cfg.BuyingPower.MaxLeverage = 2.0
	cfg.Evaluation.TimeoutMs = 1000
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *fakeStore, *fakeBus) {
	t.Helper()
	store := &fakeStore{}
	bus := &fakeBus{}
	eng := New(cfg, store, bus)
	eng.Start(context.Background())
	return eng, store, bus
}

func testSignal() types.Signal {
	return types.Signal{
		StrategyID: "momentum",
		Symbol:     "AAPL",
		Action:     "BUY",
		Quantity:   10,
		Price:      150,
		Timestamp:  time.Now(),
	}
}

func TestCheckSignalApproves(t *testing.T) {
	eng, store, bus := newTestEngine(t, testConfig())
	ctx := context.Background()

	dec := eng.CheckSignal(ctx, testSignal())

	require.True(t, dec.Approved)
	assert.Equal(t, types.ModeNormal, dec.Mode)
	assert.Empty(t, dec.RejectionReason)
	assert.Len(t, dec.Verdicts, 6)
	for name, v := range dec.Verdicts {
		assert.True(t, v.Passed, "rule %s should pass", name)
	}
	assert.GreaterOrEqual(t, dec.OverallScore, 0.0)
	assert.LessOrEqual(t, dec.OverallScore, 1.0)

	st := eng.Status()
	assert.Equal(t, 1, st.Stats.TotalTrades)
	assert.Equal(t, 1, st.Stats.ApprovedTrades)
	assert.Equal(t, 0, st.Stats.RejectedTrades)

	require.Len(t, store.audits, 1)
	assert.True(t, store.audits[0].Approved)

	subjects := bus.subjects()
	assert.Contains(t, subjects, "risk.approved.momentum")
	assert.Contains(t, subjects, "risk.stats")
}

func TestCheckSignalRejectsOversizedPosition(t *testing.T) {
	eng, store, bus := newTestEngine(t, testConfig())

	sig := testSignal()
	sig.Quantity = 200 // max is 100 shares

	dec := eng.CheckSignal(context.Background(), sig)

	require.False(t, dec.Approved)
	assert.Contains(t, dec.RejectionReason, "position limit exceeded")
	assert.False(t, dec.Verdicts[rulePosition].Passed)

	st := eng.Status()
	assert.Equal(t, 1, st.Stats.RejectedTrades)
	assert.Equal(t, 0, st.Stats.ApprovedTrades)

	require.Len(t, store.audits, 1)
	assert.False(t, store.audits[0].Approved)
	assert.Contains(t, bus.subjects(), "risk.rejected.momentum")
}

func TestRejectionReasonComesFromFirstFailingRule(t *testing.T) {
	cfg := testConfig()
	cfg.PositionLimits.MaxPositionSize = 5
	cfg.PortfolioLimits.MaxTotalExposure = 100
	eng, _, _ := newTestEngine(t, cfg)

	// Both positionLimits and portfolioLimits fail; the reported reason
	// must come from positionLimits, the first in declared order.
	dec := eng.CheckSignal(context.Background(), testSignal())

	require.False(t, dec.Approved)
	assert.Contains(t, dec.RejectionReason, "position limit exceeded")
	assert.False(t, dec.Verdicts[rulePortfolio].Passed)
	assert.LessOrEqual(t, dec.OverallScore, 1.0, "score stays clamped with multiple failures")
}

func TestLargeSignalWithinLimitsApproved(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())

	dec := eng.CheckSignal(context.Background(), types.Signal{
		StrategyID: "momentum",
		Symbol:     "SPY",
		Action:     "BUY",
		Quantity:   100,
		Price:      470,
	})

	require.True(t, dec.Approved)
	assert.Less(t, dec.OverallScore, 1.0)
	assert.Equal(t, 1, eng.history.symbolCount("SPY"))
}

func TestLockdownShortCircuitsEvaluation(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.ForceMode(ctx, types.ModeLockdown, "manual halt"))

	dec := eng.CheckSignal(ctx, testSignal())

	require.False(t, dec.Approved)
	assert.Equal(t, types.ModeLockdown, dec.Mode)
	assert.Contains(t, dec.RejectionReason, "LOCKDOWN")
	assert.Empty(t, dec.Verdicts, "no rules should run in lockdown")

	// One audit row for the override, one for the rejected signal.
	require.Len(t, store.audits, 2)
	assert.Equal(t, "FORCE_MODE", store.audits[0].Action)
	assert.Equal(t, types.ModeLockdown, store.audits[1].Mode)
	assert.Equal(t, "AAPL", store.audits[1].Symbol)
}

func TestDailyLossBreachTriggersLockdown(t *testing.T) {
	eng, _, bus := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{
		Symbol: "AAPL", Action: "SELL", Quantity: 10, Price: 100,
		RealizedPnL: -1500, // max daily loss is 1000
	})

	assert.Equal(t, types.ModeLockdown, eng.Mode())
	assert.Contains(t, bus.subjects(), "risk.mode-change")

	dec := eng.CheckSignal(ctx, testSignal())
	assert.False(t, dec.Approved)
}

func TestDefensiveLossStillAdmits(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{
		Symbol: "AAPL", Action: "SELL", Quantity: 5, Price: 100,
		RealizedPnL: -600, // past defensive (500), under lockdown (1000)
	})

	assert.Equal(t, types.ModeDefensive, eng.Mode())

	dec := eng.CheckSignal(ctx, testSignal())
	assert.True(t, dec.Approved, "DEFENSIVE mode still admits signals")
	assert.Equal(t, types.ModeDefensive, dec.Mode)
}

func TestModeRecoversWhenLossesClear(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{
		Symbol: "AAPL", Action: "SELL", Quantity: 5, Price: 100, RealizedPnL: -600,
	})
	require.Equal(t, types.ModeDefensive, eng.Mode())

	eng.UpdateFromFill(ctx, types.Fill{
		Symbol: "MSFT", Action: "SELL", Quantity: 5, Price: 100, RealizedPnL: 600,
	})
	assert.Equal(t, types.ModeNormal, eng.Mode())
}

func TestFrequencyLimitRejectsExcessTrades(t *testing.T) {
	cfg := testConfig()
	cfg.Frequency.MaxTradesPerSymbol = 2
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	sig := testSignal()
	sig.Quantity = 1

	require.True(t, eng.CheckSignal(ctx, sig).Approved)
	require.True(t, eng.CheckSignal(ctx, sig).Approved)

	dec := eng.CheckSignal(ctx, sig)
	require.False(t, dec.Approved)
	assert.Contains(t, dec.RejectionReason, "trade frequency limit")
	assert.Len(t, dec.Verdicts, 6, "every rule's verdict lands in the audit record")

	// Other symbols are unaffected.
	other := sig
	other.Symbol = "MSFT"
	assert.True(t, eng.CheckSignal(ctx, other).Approved)
}

func TestRejectedSignalsDoNotCountTowardFrequency(t *testing.T) {
	cfg := testConfig()
	cfg.Frequency.MaxTradesPerSymbol = 1
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	oversized := testSignal()
	oversized.Quantity = 500
	require.False(t, eng.CheckSignal(ctx, oversized).Approved)

	ok := testSignal()
	ok.Quantity = 1
	assert.True(t, eng.CheckSignal(ctx, ok).Approved,
		"rejected signals do not count toward the frequency limit")
}

type panickingEvaluator struct{}

func (panickingEvaluator) Name() string { return "panicking" }
func (panickingEvaluator) Evaluate(types.Signal, Snapshot) types.Verdict {
	panic("boom")
}

func TestEvaluatorPanicFailsSafe(t *testing.T) {
	eng, store, bus := newTestEngine(t, testConfig())
	eng.evaluators = []Evaluator{panickingEvaluator{}}

	dec := eng.CheckSignal(context.Background(), testSignal())

	require.False(t, dec.Approved, "internal faults must never approve")
	assert.Equal(t, types.ModeError, dec.Mode)
	assert.Contains(t, dec.RejectionReason, "risk evaluation error")
	assert.Equal(t, 1.0, dec.OverallScore)

	// The persisted engine mode is untouched by the decision-level ERROR.
	assert.Equal(t, types.ModeNormal, eng.Mode())

	require.Len(t, store.audits, 1)
	assert.Contains(t, bus.subjects(), "risk.rejected.momentum")
}

type slowEvaluator struct{}

func (slowEvaluator) Name() string { return "slow" }
func (slowEvaluator) Evaluate(types.Signal, Snapshot) types.Verdict {
	time.Sleep(500 * time.Millisecond)
	return types.Verdict{Passed: true}
}

func TestEvaluationTimeoutFailsSafe(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.TimeoutMs = 20
	eng, _, _ := newTestEngine(t, cfg)
	eng.evaluators = []Evaluator{slowEvaluator{}}

	dec := eng.CheckSignal(context.Background(), testSignal())

	require.False(t, dec.Approved)
	assert.Equal(t, types.ModeError, dec.Mode)
	assert.Contains(t, dec.RejectionReason, "timed out")
}

func TestUpdateFromFillTracksPositions(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150})
	eng.UpdateFromFill(ctx, types.Fill{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 160})

	st := eng.Status()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 20, st.Positions[0].Quantity)
	assert.InDelta(t, 155.0, st.Positions[0].AveragePrice, 1e-9)
	assert.InDelta(t, 3100.0, st.TotalExposure, 1e-9)

	require.Len(t, store.fills, 2)
}

func TestUpdateFromFillSurvivesStoreFailure(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	store.fillErr = errors.New("db down")

	eng.UpdateFromFill(context.Background(), types.Fill{
		Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150,
	})

	// In-memory state still advances; reconciliation corrects drift later.
	st := eng.Status()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 10, st.Positions[0].Quantity)
}

func TestReconcileOverwritesMemoryFromStore(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150})
	eng.UpdateFromFill(ctx, types.Fill{Symbol: "GOOG", Action: "BUY", Quantity: 5, Price: 100})

	store.netPositions = map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 20, AveragePrice: 149},
		"MSFT": {Symbol: "MSFT", Quantity: 3, AveragePrice: 400},
	}

	require.NoError(t, eng.Reconcile(ctx))

	st := eng.Status()
	require.Len(t, st.Positions, 2)
	bySymbol := map[string]types.Position{}
	for _, p := range st.Positions {
		bySymbol[p.Symbol] = p
	}
	assert.Equal(t, 20, bySymbol["AAPL"].Quantity)
	assert.InDelta(t, 149.0, bySymbol["AAPL"].AveragePrice, 1e-9)
	assert.Equal(t, 3, bySymbol["MSFT"].Quantity)
	_, hasGoog := bySymbol["GOOG"]
	assert.False(t, hasGoog, "memory-only position must be dropped")
}

func TestReconcileStoreErrorLeavesMemoryIntact(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150})
	store.netErr = errors.New("query failed")

	require.Error(t, eng.Reconcile(ctx))

	st := eng.Status()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 10, st.Positions[0].Quantity)
}

func TestSaveStatsPersistsCurrentDay(t *testing.T) {
	eng, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.CheckSignal(ctx, testSignal())
	require.NoError(t, eng.SaveStats(ctx))

	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, store.saved[0].TotalTrades)
	assert.Equal(t, time.Now().UTC().Format(dateLayout), store.saved[0].Date)
}

func TestStartRestoresPersistedStatsAndMode(t *testing.T) {
	cfg := testConfig()
	store := &fakeStore{
		persisted: &types.DailyStats{
			Date:          time.Now().UTC().Format(dateLayout),
			TotalTrades:   42,
			RealizedPnL:   -1200, // past the 1000 daily loss limit
			PeakEquity:    100000,
			CurrentEquity: 98800,
		},
	}
	eng := New(cfg, store, &fakeBus{})
	eng.Start(context.Background())

	assert.Equal(t, types.ModeLockdown, eng.Mode(),
		"restart inside a breached day must resume in LOCKDOWN")
	assert.Equal(t, 42, eng.Status().Stats.TotalTrades)
}

func TestResetDailyClearsStateAndMode(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	eng.UpdateFromFill(ctx, types.Fill{
		Symbol: "AAPL", Action: "SELL", Quantity: 10, Price: 100, RealizedPnL: -1500,
	})
	require.Equal(t, types.ModeLockdown, eng.Mode())

	eng.ResetDaily(ctx)

	st := eng.Status()
	assert.Equal(t, types.ModeNormal, st.Mode)
	assert.Equal(t, 0, st.Stats.TotalTrades)
	assert.Equal(t, 0.0, st.Stats.RealizedPnL)
	assert.Equal(t, 100000.0, st.Stats.CurrentEquity)
}

func TestForceModeRejectsInvalidMode(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())

	err := eng.ForceMode(context.Background(), types.ModeError, "nope")
	require.Error(t, err)
	assert.Equal(t, types.ModeNormal, eng.Mode())
}

func TestConcurrentChecksAndFills(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.CheckSignal(ctx, testSignal())
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.UpdateFromFill(ctx, types.Fill{Symbol: "AAPL", Action: "BUY", Quantity: 1, Price: 150})
		}()
	}
	wg.Wait()

	st := eng.Status()
	assert.Equal(t, 20, st.Stats.TotalTrades)
}
