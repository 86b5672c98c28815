package models

import (
	"time"
)

// Direction is the directional call a signal makes.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Sign returns +1 for BUY, -1 for SELL and 0 for HOLD.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		return 0
	}
}

// Trend is the broader market trend supplied with each snapshot.
type Trend string

const (
	TrendBullish  Trend = "BULLISH"
	TrendBearish  Trend = "BEARISH"
	TrendSideways Trend = "SIDEWAYS"
)

// TradeStatus is the lifecycle state of a recorded trade.
type TradeStatus string

const (
	TradePending TradeStatus = "PENDING"
	TradeWin     TradeStatus = "WIN"
	TradePartial TradeStatus = "PARTIAL"
	TradeLoss    TradeStatus = "LOSS"
)

// Terminal reports whether the status is a final outcome.
func (s TradeStatus) Terminal() bool {
	return s == TradeWin || s == TradePartial || s == TradeLoss
}

// RuleAction is what a learning rule tells the decision engine to do
// when its condition tag shows up in the reasoning factors.
type RuleAction string

const (
	RuleBoost    RuleAction = "BOOST"
	RulePenalize RuleAction = "PENALIZE"
	RuleAvoid    RuleAction = "AVOID"
)

// EvidenceFactor is one weighted bullish/bearish contribution from a
// single analysis source. Factors are immutable once emitted by a
// provider.
type EvidenceFactor struct {
	SourceName          string   `json:"source_name"`
	BullishScore        float64  `json:"bullish_score"`
	BearishScore        float64  `json:"bearish_score"`
	Weight              float64  `json:"weight"`
	QualityContribution float64  `json:"quality_contribution"`
	Tags                []string `json:"tags,omitempty"`
}

// MarketSnapshot is the externally supplied market context for one
// decision cycle.
type MarketSnapshot struct {
	Symbol       string    `json:"symbol"`
	CurrentPrice float64   `json:"current_price"`
	Support      float64   `json:"support"`
	Resistance   float64   `json:"resistance"`
	Volatility   float64   `json:"volatility"`
	Trend        Trend     `json:"trend"`
	Timestamp    time.Time `json:"timestamp"`
}

// Signal is an emitted trading signal. Immutable after creation.
type Signal struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	Confidence       float64   `json:"confidence"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfit1      float64   `json:"take_profit_1"`
	TakeProfit2      float64   `json:"take_profit_2"`
	TakeProfit3      float64   `json:"take_profit_3"`
	RiskRewardRatio  float64   `json:"risk_reward_ratio"`
	ReasoningFactors []string  `json:"reasoning_factors,omitempty"`
	Trend            Trend     `json:"trend"`
	CreatedAt        time.Time `json:"created_at"`
}

// TradeRecord tracks one emitted signal to its terminal outcome.
// Created PENDING when the signal is emitted; mutated only by the
// learning loop, and never again once terminal.
type TradeRecord struct {
	SignalID         string          `json:"signal_id"`
	Symbol           string          `json:"symbol"`
	Direction        Direction       `json:"direction"`
	EntryPrice       float64         `json:"entry_price"`
	StopLoss         float64         `json:"stop_loss"`
	TakeProfit1      float64         `json:"take_profit_1"`
	TakeProfit2      float64         `json:"take_profit_2"`
	TakeProfit3      float64         `json:"take_profit_3"`
	Confidence       float64         `json:"confidence"`
	Status           TradeStatus     `json:"status"`
	PnLPercentage    float64         `json:"pnl_percentage"`
	ReasoningFactors []string        `json:"reasoning_factors,omitempty"`
	MarketConditions *MarketSnapshot `json:"market_conditions,omitempty"`
	LessonsLearned   []string        `json:"lessons_learned,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// SymbolModel is the per-symbol "brain": running confidence plus
// win/loss counters used to bias future decisions.
type SymbolModel struct {
	Symbol            string    `json:"symbol"`
	RunningConfidence float64   `json:"running_confidence"`
	WinCount          int       `json:"win_count"`
	LossCount         int       `json:"loss_count"`
	LastInsights      []string  `json:"last_insights,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResolvedTrades is the number of trades that reached a terminal state.
func (m SymbolModel) ResolvedTrades() int {
	return m.WinCount + m.LossCount
}

// WinRate returns the fraction of resolved trades that won.
// A symbol with no history reports 0.
func (m SymbolModel) WinRate() float64 {
	total := m.ResolvedTrades()
	if total == 0 {
		return 0
	}
	return float64(m.WinCount) / float64(total)
}

// Clone returns a deep copy so readers never alias registry state.
func (m SymbolModel) Clone() SymbolModel {
	out := m
	out.LastInsights = append([]string(nil), m.LastInsights...)
	return out
}

// LearningRule is a per-condition adjustment derived from trade history.
// Rules are recomputed by the aggregation job, never edited in place.
type LearningRule struct {
	ConditionTag string     `json:"condition_tag"`
	Action       RuleAction `json:"action"`
	SuccessRate  float64    `json:"success_rate"`
	TimesApplied int        `json:"times_applied"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PriceObservation is a single observed price handed to the learning
// loop by the outcome cycle.
type PriceObservation struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}
