// Package scheduler drives the periodic decision and outcome cycles.
// The two loops tick independently; within a cycle symbols are always
// processed sequentially to respect rate-limited evidence providers.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/decision"
	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/learning"
	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/observability"
	"github.com/tendrel/signalforge/internal/risk"
)

// PriceProvider supplies the current price for a symbol. Used for the
// outcome polling cycle.
type PriceProvider interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SnapshotProvider supplies the full market context for one decision
// cycle.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error)
}

// SignalStore is the persistence slice the scheduler needs.
type SignalStore interface {
	SaveSignal(ctx context.Context, sig models.Signal) error
}

// SignalSink receives every emitted signal, e.g. the Redis publisher.
type SignalSink interface {
	PublishSignal(ctx context.Context, sig models.Signal) error
}

// Config holds the scheduling and per-trade risk tunables.
type Config struct {
	Symbols             []string
	DecisionCyclePeriod time.Duration
	OutcomeCyclePeriod  time.Duration
	AggregationPeriod   time.Duration
	RiskPercentPerTrade float64
	// JitterFraction spreads ticks by up to this fraction of the
	// period in either direction so restarts don't align cycles
	// across deployments.
	JitterFraction float64
}

func DefaultConfig() Config {
	return Config{
		DecisionCyclePeriod: 15 * time.Minute,
		OutcomeCyclePeriod:  time.Minute,
		AggregationPeriod:   10 * time.Minute,
		RiskPercentPerTrade: 0.02,
		JitterFraction:      0.1,
	}
}

// Scheduler wires the aggregator, engine, ladder calculator and
// learning loop into the two periodic cycles.
type Scheduler struct {
	config     Config
	providers  []evidence.Provider
	prices     PriceProvider
	snapshots  SnapshotProvider
	aggregator *evidence.Aggregator
	engine     *decision.Engine
	ladder     *risk.Calculator
	loop       *learning.Loop
	store      SignalStore
	sinks      []SignalSink
	logger     *zap.Logger
	clock      func() time.Time

	// symbolLocks serializes work per symbol across both cycles:
	// at most one in-flight decision or outcome check per symbol.
	symbolLocks map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Providers  []evidence.Provider
	Prices     PriceProvider
	Snapshots  SnapshotProvider
	Aggregator *evidence.Aggregator
	Engine     *decision.Engine
	Ladder     *risk.Calculator
	Loop       *learning.Loop
	Store      SignalStore
	Sinks      []SignalSink
	Logger     *zap.Logger
	Clock      func() time.Time
}

func New(config Config, deps Deps) *Scheduler {
	if config.DecisionCyclePeriod == 0 {
		config = DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	locks := make(map[string]*sync.Mutex, len(config.Symbols))
	for _, s := range config.Symbols {
		locks[s] = &sync.Mutex{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:      config,
		providers:   deps.Providers,
		prices:      deps.Prices,
		snapshots:   deps.Snapshots,
		aggregator:  deps.Aggregator,
		engine:      deps.Engine,
		ladder:      deps.Ladder,
		loop:        deps.Loop,
		store:       deps.Store,
		sinks:       deps.Sinks,
		logger:      logger,
		clock:       clock,
		symbolLocks: locks,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the decision, outcome and aggregation loops.
func (s *Scheduler) Start() error {
	s.logger.Info("scheduler starting",
		zap.Strings("symbols", s.config.Symbols),
		zap.Duration("decision_period", s.config.DecisionCyclePeriod),
		zap.Duration("outcome_period", s.config.OutcomeCyclePeriod),
	)

	s.wg.Add(3)
	go s.runLoop("decision", s.config.DecisionCyclePeriod, s.decisionCycle)
	go s.runLoop("outcome", s.config.OutcomeCyclePeriod, s.outcomeCycle)
	go s.runLoop("aggregation", s.config.AggregationPeriod, func(ctx context.Context) {
		s.loop.Aggregate(ctx)
	})
	return nil
}

// Stop cancels the loops and waits for in-flight evaluations to
// complete, so no trade record is left half-updated.
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")
	s.cancel()
	s.wg.Wait()
}

// runLoop ticks fn on a jittered timer until cancellation.
func (s *Scheduler) runLoop(name string, period time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	timer := time.NewTimer(s.jittered(period))
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			fn(s.ctx)
			timer.Reset(s.jittered(period))
		}
	}
}

func (s *Scheduler) jittered(period time.Duration) time.Duration {
	if s.config.JitterFraction <= 0 {
		return period
	}
	spread := float64(period) * s.config.JitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return period + time.Duration(offset)
}

// decisionCycle runs one evidence → decide → ladder → emit pass over
// every tracked symbol, in fixed order. Cancellation is checked
// between symbols, never mid-evaluation.
func (s *Scheduler) decisionCycle(ctx context.Context) {
	for _, symbol := range s.config.Symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.decideSymbol(ctx, symbol)
	}
}

func (s *Scheduler) decideSymbol(ctx context.Context, symbol string) {
	lock := s.symbolLocks[symbol]
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.snapshots.Snapshot(ctx, symbol)
	if err != nil {
		s.logger.Warn("failed to fetch market snapshot",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	var factors []models.EvidenceFactor
	for _, provider := range s.providers {
		fetched, err := provider.Fetch(ctx, symbol)
		if err != nil {
			// Provider failure just reduces evidence quality.
			s.logger.Warn("evidence provider failed",
				zap.String("symbol", symbol),
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}
		factors = append(factors, fetched...)
	}

	score := s.aggregator.Aggregate(symbol, factors)
	brain := s.loop.Brains().Get(symbol)
	dec := s.engine.Decide(score, snap, brain)
	if dec.Direction == models.DirectionHold {
		s.logger.Debug("holding",
			zap.String("symbol", symbol),
			zap.Strings("reasons", dec.Reasons))
		return
	}

	adjusted := s.loop.ApplyLearning(symbol, dec.Direction, dec.Confidence, dec.Reasons)
	if adjusted.AvoidFlag {
		s.logger.Info("signal suppressed by avoid gate",
			zap.String("symbol", symbol),
			zap.String("direction", string(dec.Direction)))
		return
	}

	ladder := s.ladder.ComputeLadder(dec.Direction, snap.CurrentPrice, snap, s.config.RiskPercentPerTrade)

	sig := models.Signal{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		Direction:        dec.Direction,
		Confidence:       decision.ClampConfidence(adjusted.Value),
		EntryPrice:       snap.CurrentPrice,
		StopLoss:         ladder.StopLoss,
		TakeProfit1:      ladder.TakeProfit1,
		TakeProfit2:      ladder.TakeProfit2,
		TakeProfit3:      ladder.TakeProfit3,
		RiskRewardRatio:  ladder.RiskRewardRatio,
		ReasoningFactors: append(dec.Reasons, ladder.Warnings...),
		Trend:            snap.Trend,
		CreatedAt:        s.clock().UTC(),
	}

	s.logger.Info("signal emitted",
		zap.String("signal_id", sig.ID),
		zap.String("symbol", symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("entry", sig.EntryPrice),
	)

	if err := s.store.SaveSignal(ctx, sig); err != nil {
		// Store failures never stop emission; next cycle re-saves state.
		s.logger.Error("failed to persist signal", zap.String("signal_id", sig.ID), zap.Error(err))
		observability.CaptureException(ctx, err)
	}
	for _, sink := range s.sinks {
		if err := sink.PublishSignal(ctx, sig); err != nil {
			s.logger.Error("failed to publish signal", zap.String("signal_id", sig.ID), zap.Error(err))
		}
	}

	s.loop.RecordSignal(ctx, sig, snap)
}

// outcomeCycle polls one price per symbol and feeds pending trades
// through the learning loop's transition check.
func (s *Scheduler) outcomeCycle(ctx context.Context) {
	for _, symbol := range s.config.Symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.checkSymbol(ctx, symbol)
	}
}

func (s *Scheduler) checkSymbol(ctx context.Context, symbol string) {
	lock := s.symbolLocks[symbol]
	lock.Lock()
	defer lock.Unlock()

	if s.loop.PendingCount(symbol) == 0 {
		return
	}

	price, err := s.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		s.logger.Warn("failed to fetch price for outcome check",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	s.loop.ObservePrice(ctx, models.PriceObservation{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: s.clock().UTC(),
	})
}
