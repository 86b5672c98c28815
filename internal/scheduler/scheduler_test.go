package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrel/signalforge/internal/decision"
	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/learning"
	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/risk"
	"github.com/tendrel/signalforge/internal/store"
)

type fakeSnapshots struct {
	snap models.MarketSnapshot
	err  error
}

func (f *fakeSnapshots) Snapshot(_ context.Context, symbol string) (models.MarketSnapshot, error) {
	if f.err != nil {
		return models.MarketSnapshot{}, f.err
	}
	snap := f.snap
	snap.Symbol = symbol
	return snap, nil
}

type fakePrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakePrices) CurrentPrice(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakePrices) set(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

type recordingSink struct {
	mu      sync.Mutex
	signals []models.Signal
}

func (r *recordingSink) PublishSignal(_ context.Context, sig models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func bullishProvider(score float64) evidence.Provider {
	return &evidence.StaticProvider{
		SourceName: "test",
		Factors: []models.EvidenceFactor{{
			SourceName:          "test",
			BullishScore:        score,
			Weight:              1,
			QualityContribution: 0.5,
			Tags:                []string{"test_bullish"},
		}},
	}
}

func newTestScheduler(t *testing.T, providers []evidence.Provider, snapshots SnapshotProvider, prices PriceProvider) (*Scheduler, *store.MemoryStore, *learning.Loop, *recordingSink) {
	t.Helper()

	mem := store.NewMemoryStore(0)
	loop := learning.NewLoop(mem, learning.DefaultConfig(), nil)
	sink := &recordingSink{}

	cfg := DefaultConfig()
	cfg.Symbols = []string{"XAUUSD"}

	s := New(cfg, Deps{
		Providers:  providers,
		Prices:     prices,
		Snapshots:  snapshots,
		Aggregator: evidence.NewAggregator(nil),
		Engine:     decision.NewEngine(decision.DefaultConfig(), nil),
		Ladder:     risk.NewCalculator(risk.DefaultConfig(), nil),
		Loop:       loop,
		Store:      mem,
		Sinks:      []SignalSink{sink},
		Clock:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return s, mem, loop, sink
}

func TestDecisionCycleEmitsSignal(t *testing.T) {
	snapshots := &fakeSnapshots{snap: models.MarketSnapshot{
		CurrentPrice: 2650, Trend: models.TrendBullish, Volatility: 0.005,
	}}
	s, mem, loop, sink := newTestScheduler(t,
		[]evidence.Provider{bullishProvider(8)}, snapshots, &fakePrices{price: 2650})

	s.decisionCycle(context.Background())

	signals, err := mem.RecentSignals(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, models.DirectionBuy, sig.Direction)
	assert.Equal(t, "XAUUSD", sig.Symbol)
	assert.NotEmpty(t, sig.ID)
	assert.InDelta(t, 2597, sig.StopLoss, 1e-9)
	assert.Contains(t, sig.ReasoningFactors, "test_bullish")
	assert.GreaterOrEqual(t, sig.Confidence, decision.MinConfidence)
	assert.LessOrEqual(t, sig.Confidence, decision.MaxConfidence)

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, loop.PendingCount("XAUUSD"))
}

func TestDecisionCycleHoldsOnWeakEvidence(t *testing.T) {
	snapshots := &fakeSnapshots{snap: models.MarketSnapshot{
		CurrentPrice: 2650, Trend: models.TrendBullish, Volatility: 0.005,
	}}
	s, mem, loop, sink := newTestScheduler(t,
		[]evidence.Provider{bullishProvider(1)}, snapshots, &fakePrices{price: 2650})

	s.decisionCycle(context.Background())

	signals, err := mem.RecentSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Zero(t, sink.count())
	assert.Zero(t, loop.PendingCount("XAUUSD"))
}

func TestDecisionCycleSurvivesProviderFailure(t *testing.T) {
	failing := evidence.ProviderFunc{
		ProviderName: "broken",
		Fn: func(context.Context, string) ([]models.EvidenceFactor, error) {
			return nil, errors.New("upstream down")
		},
	}
	snapshots := &fakeSnapshots{snap: models.MarketSnapshot{
		CurrentPrice: 2650, Trend: models.TrendBullish, Volatility: 0.005,
	}}
	s, mem, _, _ := newTestScheduler(t,
		[]evidence.Provider{failing, bullishProvider(8)}, snapshots, &fakePrices{price: 2650})

	s.decisionCycle(context.Background())

	signals, err := mem.RecentSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestDecisionCycleSkipsOnSnapshotError(t *testing.T) {
	s, mem, _, _ := newTestScheduler(t,
		[]evidence.Provider{bullishProvider(8)},
		&fakeSnapshots{err: errors.New("feed down")},
		&fakePrices{price: 2650})

	s.decisionCycle(context.Background())

	signals, err := mem.RecentSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestAvoidGateSuppressesEmission(t *testing.T) {
	snapshots := &fakeSnapshots{snap: models.MarketSnapshot{
		CurrentPrice: 2650, Trend: models.TrendBullish, Volatility: 0.005,
	}}
	s, mem, loop, _ := newTestScheduler(t,
		[]evidence.Provider{bullishProvider(8)}, snapshots, &fakePrices{price: 2650})

	// Persistent loser: win rate 0.1 over 10 resolved trades.
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		status := models.TradeLoss
		pnl := -1.0
		if i == 0 {
			status = models.TradeWin
			pnl = 1.0
		}
		resolvedAt := time.Now().UTC()
		require.NoError(t, mem.SaveTradeRecord(ctx, models.TradeRecord{
			SignalID: string(rune('a' + i)), Symbol: "XAUUSD",
			Direction: models.DirectionBuy, Status: status, PnLPercentage: pnl,
			CreatedAt: resolvedAt, ResolvedAt: &resolvedAt,
		}))
	}
	require.NoError(t, mem.SaveBrainData(ctx, models.SymbolModel{
		Symbol: "XAUUSD", RunningConfidence: 0.3, WinCount: 1, LossCount: 9,
	}))
	require.NoError(t, loop.Restore(ctx))

	s.decisionCycle(ctx)

	signals, err := mem.RecentSignals(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestOutcomeCycleResolvesPendingTrade(t *testing.T) {
	snapshots := &fakeSnapshots{snap: models.MarketSnapshot{
		CurrentPrice: 2650, Trend: models.TrendBullish, Volatility: 0.005,
	}}
	prices := &fakePrices{price: 2650}
	s, _, loop, _ := newTestScheduler(t,
		[]evidence.Provider{bullishProvider(8)}, snapshots, prices)

	ctx := context.Background()
	s.decisionCycle(ctx)
	require.Equal(t, 1, loop.PendingCount("XAUUSD"))

	// Price blows through every take-profit.
	prices.set(3000)
	s.outcomeCycle(ctx)

	assert.Zero(t, loop.PendingCount("XAUUSD"))
	trades := loop.RecentTrades(10)
	require.Len(t, trades, 1)
	assert.Equal(t, models.TradeWin, trades[0].Status)
}

func TestOutcomeCycleSkipsWithoutPending(t *testing.T) {
	prices := &fakePrices{err: errors.New("should not be called")}
	s, _, _, _ := newTestScheduler(t, nil,
		&fakeSnapshots{snap: models.MarketSnapshot{CurrentPrice: 2650}}, prices)

	// No pending trades: the cycle must not fetch prices at all.
	s.outcomeCycle(context.Background())
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"XAUUSD"}
	cfg.JitterFraction = 0.1
	s := New(cfg, Deps{Loop: learning.NewLoop(store.NewMemoryStore(0), learning.DefaultConfig(), nil)})

	period := time.Minute
	lo := time.Duration(float64(period) * 0.9)
	hi := time.Duration(float64(period) * 1.1)
	for i := 0; i < 100; i++ {
		d := s.jittered(period)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"XAUUSD"}
	cfg.DecisionCyclePeriod = time.Hour
	cfg.OutcomeCyclePeriod = time.Hour
	cfg.AggregationPeriod = time.Hour

	s := New(cfg, Deps{
		Loop: learning.NewLoop(store.NewMemoryStore(0), learning.DefaultConfig(), nil),
	})

	require.NoError(t, s.Start())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
