package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/observability"
)

// Store is the persistence surface the learning loop needs. Failures
// are logged and absorbed; in-memory state stays authoritative for the
// running process.
type Store interface {
	SaveTradeRecord(ctx context.Context, record models.TradeRecord) error
	LoadTradeRecords(ctx context.Context, limit int) ([]models.TradeRecord, error)
	SaveBrainData(ctx context.Context, model models.SymbolModel) error
	GetBrainData(ctx context.Context, symbol string) (models.SymbolModel, error)
}

// Config tunes rule derivation and the avoid gate.
type Config struct {
	// MinRuleObservations is the observation floor below which no rule
	// is derived for a condition tag.
	MinRuleObservations int
	// RuleDecayThreshold discards a rule whose success rate sinks
	// below it once DecayMinObservations have accumulated.
	RuleDecayThreshold   float64
	DecayMinObservations int
	// AvoidWinRate and AvoidMinTrades define the persistent-loser
	// gate: below this win rate over at least this many resolved
	// trades, signal emission is suppressed for the symbol.
	AvoidWinRate   float64
	AvoidMinTrades int
	// HistoryLimit caps the resolved records kept in memory for
	// aggregation.
	HistoryLimit int
}

func DefaultConfig() Config {
	return Config{
		MinRuleObservations:  3,
		RuleDecayThreshold:   0.2,
		DecayMinObservations: 6,
		AvoidWinRate:         0.3,
		AvoidMinTrades:       10,
		HistoryLimit:         500,
	}
}

// AdjustedConfidence is the result of ApplyLearning. When AvoidFlag is
// set the caller must suppress emission regardless of Value.
type AdjustedConfidence struct {
	Value     float64
	AvoidFlag bool
}

// Loop records emitted signals as pending trades, drives them to a
// terminal outcome on observed prices, and feeds outcome statistics
// back into future confidence.
type Loop struct {
	config Config
	store  Store
	brains *Registry
	logger *zap.Logger

	mu       sync.RWMutex
	pending  map[string][]*models.TradeRecord
	resolved []models.TradeRecord
	rules    map[string]models.LearningRule
}

func NewLoop(store Store, config Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinRuleObservations == 0 {
		config = DefaultConfig()
	}
	return &Loop{
		config:  config,
		store:   store,
		brains:  NewRegistry(),
		logger:  logger,
		pending: make(map[string][]*models.TradeRecord),
		rules:   make(map[string]models.LearningRule),
	}
}

// Brains exposes the per-symbol registry for read-side consumers.
func (l *Loop) Brains() *Registry {
	return l.brains
}

// Restore reloads pending trades and resolved history from the store,
// typically at startup. Store errors leave the loop empty but usable.
func (l *Loop) Restore(ctx context.Context) error {
	records, err := l.store.LoadTradeRecords(ctx, l.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("restore trade records: %w", err)
	}

	seen := make(map[string]struct{})
	l.mu.Lock()
	for i := range records {
		rec := records[i]
		seen[rec.Symbol] = struct{}{}
		if rec.Status == models.TradePending {
			l.pending[rec.Symbol] = append(l.pending[rec.Symbol], &rec)
		} else {
			l.resolved = append(l.resolved, rec)
		}
	}
	l.mu.Unlock()

	for symbol := range seen {
		brain, err := l.store.GetBrainData(ctx, symbol)
		if err != nil {
			l.logger.Warn("failed to restore brain data", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		l.brains.put(brain)
	}

	l.recomputeRules()
	return nil
}

// RecordSignal opens a PENDING trade record for an emitted signal.
func (l *Loop) RecordSignal(ctx context.Context, sig models.Signal, snap models.MarketSnapshot) models.TradeRecord {
	record := models.TradeRecord{
		SignalID:         sig.ID,
		Symbol:           sig.Symbol,
		Direction:        sig.Direction,
		EntryPrice:       sig.EntryPrice,
		StopLoss:         sig.StopLoss,
		TakeProfit1:      sig.TakeProfit1,
		TakeProfit2:      sig.TakeProfit2,
		TakeProfit3:      sig.TakeProfit3,
		Confidence:       sig.Confidence,
		Status:           models.TradePending,
		ReasoningFactors: append([]string(nil), sig.ReasoningFactors...),
		MarketConditions: &snap,
		CreatedAt:        sig.CreatedAt,
	}

	l.mu.Lock()
	l.pending[record.Symbol] = append(l.pending[record.Symbol], &record)
	l.mu.Unlock()

	if err := l.store.SaveTradeRecord(ctx, record); err != nil {
		l.logger.Error("failed to persist trade record", zap.String("signal_id", record.SignalID), zap.Error(err))
		observability.CaptureException(ctx, err)
	}
	return record
}

// ObservePrice evaluates one observed price against every pending
// record for the symbol. Already-terminal records are never touched.
// Returns the records that transitioned.
func (l *Loop) ObservePrice(ctx context.Context, obs models.PriceObservation) []models.TradeRecord {
	var transitioned []models.TradeRecord

	l.mu.Lock()
	remaining := l.pending[obs.Symbol][:0]
	for _, rec := range l.pending[obs.Symbol] {
		if rec.Status.Terminal() {
			continue
		}
		status, exitRef := evaluateOutcome(rec, obs.Price)
		if status == models.TradePending {
			remaining = append(remaining, rec)
			continue
		}
		l.transitionLocked(rec, status, exitRef, obs.ObservedAt)
		transitioned = append(transitioned, *rec)
	}
	l.pending[obs.Symbol] = remaining
	l.mu.Unlock()

	for _, rec := range transitioned {
		l.afterTransition(ctx, rec)
	}
	return transitioned
}

// evaluateOutcome applies the transition rule: stop crossed wins over
// everything, tp3 is a full WIN, tp1/tp2 a PARTIAL. The crossed level
// is the exit reference price.
func evaluateOutcome(rec *models.TradeRecord, price float64) (models.TradeStatus, float64) {
	switch rec.Direction {
	case models.DirectionBuy:
		switch {
		case price <= rec.StopLoss:
			return models.TradeLoss, rec.StopLoss
		case price >= rec.TakeProfit3:
			return models.TradeWin, rec.TakeProfit3
		case price >= rec.TakeProfit2:
			return models.TradePartial, rec.TakeProfit2
		case price >= rec.TakeProfit1:
			return models.TradePartial, rec.TakeProfit1
		}
	case models.DirectionSell:
		switch {
		case price >= rec.StopLoss:
			return models.TradeLoss, rec.StopLoss
		case price <= rec.TakeProfit3:
			return models.TradeWin, rec.TakeProfit3
		case price <= rec.TakeProfit2:
			return models.TradePartial, rec.TakeProfit2
		case price <= rec.TakeProfit1:
			return models.TradePartial, rec.TakeProfit1
		}
	}
	return models.TradePending, 0
}

func (l *Loop) transitionLocked(rec *models.TradeRecord, status models.TradeStatus, exitRef float64, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec.Status = status
	rec.PnLPercentage = (exitRef - rec.EntryPrice) / rec.EntryPrice * rec.Direction.Sign() * 100
	rec.LessonsLearned = deriveLessons(rec)
	rec.ResolvedAt = &at

	l.resolved = append(l.resolved, *rec)
	if len(l.resolved) > l.config.HistoryLimit {
		l.resolved = l.resolved[len(l.resolved)-l.config.HistoryLimit:]
	}
}

// afterTransition persists the terminal record and updates the
// symbol's brain counters.
func (l *Loop) afterTransition(ctx context.Context, rec models.TradeRecord) {
	l.logger.Info("trade resolved",
		zap.String("signal_id", rec.SignalID),
		zap.String("symbol", rec.Symbol),
		zap.String("status", string(rec.Status)),
		zap.Float64("pnl_pct", rec.PnLPercentage),
	)

	if err := l.store.SaveTradeRecord(ctx, rec); err != nil {
		l.logger.Error("failed to persist resolved trade", zap.String("signal_id", rec.SignalID), zap.Error(err))
		observability.CaptureException(ctx, err)
	}

	brain := l.brains.update(rec.Symbol, func(m *models.SymbolModel) {
		if rec.PnLPercentage > 0 {
			m.WinCount++
		} else {
			m.LossCount++
		}
		m.LastInsights = appendCapped(m.LastInsights, rec.LessonsLearned, 10)
	})

	if err := l.store.SaveBrainData(ctx, brain); err != nil {
		l.logger.Error("failed to persist brain data", zap.String("symbol", rec.Symbol), zap.Error(err))
		observability.CaptureException(ctx, err)
	}
}

// deriveLessons turns the trade's market-conditions snapshot and
// outcome into natural-language tags for the brain's insight feed.
func deriveLessons(rec *models.TradeRecord) []string {
	var lessons []string
	won := rec.PnLPercentage > 0

	cond := rec.MarketConditions
	if cond != nil {
		highVol := cond.Volatility >= 0.03
		switch {
		case won && highVol:
			lessons = append(lessons, fmt.Sprintf("%s works well under high volatility", rec.Symbol))
		case !won && highVol:
			lessons = append(lessons, fmt.Sprintf("avoid %s during high volatility", rec.Symbol))
		}

		aligned := (rec.Direction == models.DirectionBuy && cond.Trend == models.TrendBullish) ||
			(rec.Direction == models.DirectionSell && cond.Trend == models.TrendBearish)
		switch {
		case won && aligned:
			lessons = append(lessons, "trend-aligned entries are paying off")
		case !won && cond.Trend == models.TrendSideways:
			lessons = append(lessons, "sideways markets produce unreliable signals")
		}
	}

	for _, tag := range rec.ReasoningFactors {
		if won {
			lessons = append(lessons, fmt.Sprintf("factor %q contributed to a winning trade", tag))
			break
		}
		lessons = append(lessons, fmt.Sprintf("factor %q preceded a losing trade", tag))
		break
	}

	if len(lessons) == 0 {
		if won {
			lessons = append(lessons, "profitable exit without notable market context")
		} else {
			lessons = append(lessons, "losing exit without notable market context")
		}
	}
	return lessons
}

// ApplyLearning biases a proposed confidence by the symbol's brain and
// any matching factor rules, each bounded to plus or minus ten
// percent. AvoidFlag trips for persistent losers.
func (l *Loop) ApplyLearning(symbol string, direction models.Direction, confidence float64, factors []string) AdjustedConfidence {
	brain := l.brains.Get(symbol)

	// Symbol adjustment: running confidence 0.5 is neutral; the full
	// [0,1] range maps onto [-10%, +10%].
	symbolAdj := 1 + (brain.RunningConfidence-defaultRunningConfidence)*0.2
	value := confidence * clampAdjustment(symbolAdj)

	factorAdj := 1.0
	l.mu.RLock()
	for _, tag := range factors {
		rule, ok := l.rules[tag]
		if !ok {
			continue
		}
		switch rule.Action {
		case models.RuleBoost:
			factorAdj *= 1.05
		case models.RulePenalize:
			factorAdj *= 0.95
		case models.RuleAvoid:
			factorAdj *= 0.9
		}
	}
	l.mu.RUnlock()
	value *= clampAdjustment(factorAdj)

	avoid := brain.ResolvedTrades() >= l.config.AvoidMinTrades && brain.WinRate() < l.config.AvoidWinRate

	return AdjustedConfidence{Value: value, AvoidFlag: avoid}
}

// Rules returns a snapshot of the active learning rules.
func (l *Loop) Rules() []models.LearningRule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.LearningRule, 0, len(l.rules))
	for _, r := range l.rules {
		out = append(out, r)
	}
	return out
}

// PendingCount reports open trades for a symbol.
func (l *Loop) PendingCount(symbol string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rec := range l.pending[symbol] {
		if !rec.Status.Terminal() {
			n++
		}
	}
	return n
}

// RecentTrades returns up to limit resolved records, newest first.
func (l *Loop) RecentTrades(limit int) []models.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.resolved)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.TradeRecord, 0, n)
	for i := len(l.resolved) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.resolved[i])
	}
	return out
}

func appendCapped(dst, src []string, limit int) []string {
	dst = append(dst, src...)
	if len(dst) > limit {
		dst = dst[len(dst)-limit:]
	}
	return dst
}

func clampAdjustment(v float64) float64 {
	if v < 0.9 {
		return 0.9
	}
	if v > 1.1 {
		return 1.1
	}
	return v
}
