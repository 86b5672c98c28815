package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/models"
)

func bullishSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Symbol:       "XAUUSD",
		CurrentPrice: 2650,
		Volatility:   0.005,
		Trend:        models.TrendBullish,
	}
}

func TestDecideBuyOnClearBullishGap(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 8, Bearish: 2, QualitySum: 0.5, Factors: []string{"rsi_oversold"}}

	dec := engine.Decide(score, bullishSnapshot(), models.SymbolModel{})

	assert.Equal(t, models.DirectionBuy, dec.Direction)
	assert.Contains(t, dec.Reasons, "rsi_oversold")
	assert.Contains(t, dec.Reasons, "trend_BULLISH")
	assert.GreaterOrEqual(t, dec.Confidence, MinConfidence)
	assert.LessOrEqual(t, dec.Confidence, MaxConfidence)
}

func TestDecideTrendVeto(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 8, Bearish: 2, QualitySum: 0.5}

	snap := bullishSnapshot()
	snap.Trend = models.TrendBearish

	dec := engine.Decide(score, snap, models.SymbolModel{})

	assert.Equal(t, models.DirectionHold, dec.Direction)
	assert.Equal(t, []string{"trend_veto"}, dec.Reasons)
}

func TestDecideSellAgainstBullishTrendVetoed(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 1, Bearish: 9, QualitySum: 0.4}

	dec := engine.Decide(score, bullishSnapshot(), models.SymbolModel{})

	assert.Equal(t, models.DirectionHold, dec.Direction)
	assert.Equal(t, []string{"trend_veto"}, dec.Reasons)
}

func TestDecideHoldBelowGap(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 5, Bearish: 4, QualitySum: 0.3}

	dec := engine.Decide(score, bullishSnapshot(), models.SymbolModel{})

	assert.Equal(t, models.DirectionHold, dec.Direction)
	assert.Equal(t, []string{"score_gap_below_threshold"}, dec.Reasons)
	assert.Zero(t, dec.Confidence)
}

func TestDecideHoldOnNoEvidence(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	dec := engine.Decide(evidence.AggregateScore{}, bullishSnapshot(), models.SymbolModel{})

	assert.Equal(t, models.DirectionHold, dec.Direction)
	assert.Equal(t, []string{"no_evidence"}, dec.Reasons)
}

func TestDecideHighVolatilityGate(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	// Gap of 4 clears the normal threshold but not the stricter one.
	score := evidence.AggregateScore{Bullish: 7, Bearish: 3, QualitySum: 0.5}

	snap := bullishSnapshot()
	snap.Volatility = 0.05

	dec := engine.Decide(score, snap, models.SymbolModel{})

	assert.Equal(t, models.DirectionHold, dec.Direction)
	assert.Equal(t, []string{"high_volatility_gate"}, dec.Reasons)
}

func TestDecideHighVolatilityTaggedWhenGapClears(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 9, Bearish: 2, QualitySum: 0.5}

	snap := bullishSnapshot()
	snap.Volatility = 0.05

	dec := engine.Decide(score, snap, models.SymbolModel{})

	assert.Equal(t, models.DirectionBuy, dec.Direction)
	assert.Contains(t, dec.Reasons, "high_volatility")
}

func TestConfidenceFormula(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 8, Bearish: 2, QualitySum: 0.4, Factors: []string{"f"}}

	dec := engine.Decide(score, bullishSnapshot(), models.SymbolModel{})

	// 0.65 + 0.4*0.25 + min(0.25, 6*0.03) = 0.93
	assert.InDelta(t, 0.93, dec.Confidence, 1e-9)
}

func TestConfidenceClampedAtMax(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 20, Bearish: 1, QualitySum: 1.0}

	dec := engine.Decide(score, bullishSnapshot(), models.SymbolModel{})

	assert.Equal(t, MaxConfidence, dec.Confidence)
}

func TestBrainBias(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 8, Bearish: 2, QualitySum: 0.4}
	base := engine.Decide(score, bullishSnapshot(), models.SymbolModel{}).Confidence

	hot := models.SymbolModel{WinCount: 8, LossCount: 2}
	cold := models.SymbolModel{WinCount: 2, LossCount: 8}
	short := models.SymbolModel{WinCount: 3, LossCount: 0}

	hotConf := engine.Decide(score, bullishSnapshot(), hot).Confidence
	coldConf := engine.Decide(score, bullishSnapshot(), cold).Confidence
	shortConf := engine.Decide(score, bullishSnapshot(), short).Confidence

	assert.InDelta(t, ClampConfidence(base*1.1), hotConf, 1e-9)
	assert.InDelta(t, base*0.9, coldConf, 1e-9)
	// Too little history for bias.
	assert.InDelta(t, base, shortConf, 1e-9)
}

func TestDecideIsPure(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	score := evidence.AggregateScore{Bullish: 8, Bearish: 2, QualitySum: 0.4, Factors: []string{"a", "b"}}
	snap := bullishSnapshot()
	brain := models.SymbolModel{WinCount: 5, LossCount: 5}

	first := engine.Decide(score, snap, brain)
	second := engine.Decide(score, snap, brain)

	assert.Equal(t, first, second)
}

func TestRiskLevelBuckets(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)

	assert.Equal(t, RiskLow, engine.RiskLevel(models.MarketSnapshot{Volatility: 0.001}))
	assert.Equal(t, RiskMedium, engine.RiskLevel(models.MarketSnapshot{Volatility: 0.015}))
	assert.Equal(t, RiskHigh, engine.RiskLevel(models.MarketSnapshot{Volatility: 0.03}))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, MinConfidence, ClampConfidence(0.1))
	assert.Equal(t, MaxConfidence, ClampConfidence(1.2))
	assert.InDelta(t, 0.5, ClampConfidence(0.5), 1e-9)
}
