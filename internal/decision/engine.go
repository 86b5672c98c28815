package decision

import (
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/models"
)

// Confidence bounds for every emitted decision. Values outside the
// range are a programming error upstream; the engine clamps
// defensively at its boundary.
const (
	MinConfidence  = 0.30
	MaxConfidence  = 0.95
	baseConfidence = 0.65

	maxQualityBoost = 0.25
	maxGapBoost     = 0.25
	gapBoostPerUnit = 0.03

	// Brain bias applies once a symbol has enough history and its
	// win rate leaves the indifference band.
	biasMinResolved = 5
	biasLowWinRate  = 0.4
	biasHighWinRate = 0.7
	biasFactor      = 0.10
)

// RiskLevel buckets snapshot volatility.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Decision is the engine's directional call with its base confidence.
// A HOLD decision must never be persisted or alerted on.
type Decision struct {
	Direction  models.Direction
	Confidence float64
	Reasons    []string
}

// Config tunes the score-gap thresholds. MinScoreGap trades signal
// frequency against quality; HighVolScoreGap is the stricter gap
// demanded while volatility is high.
type Config struct {
	MinScoreGap      float64
	HighVolScoreGap  float64
	HighVolThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MinScoreGap:      3.0,
		HighVolScoreGap:  5.0,
		HighVolThreshold: 0.03,
	}
}

// Engine turns aggregated evidence into a directional decision. Pure
// computation over its inputs; same inputs always yield the same
// decision.
type Engine struct {
	config Config
	logger *zap.Logger
}

func NewEngine(config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinScoreGap == 0 {
		config = DefaultConfig()
	}
	return &Engine{config: config, logger: logger}
}

// Decide applies the direction rule, trend veto and risk gating, then
// derives confidence from evidence quality, score gap and the symbol's
// brain.
func (e *Engine) Decide(score evidence.AggregateScore, snap models.MarketSnapshot, brain models.SymbolModel) Decision {
	if score.Neutral() {
		return Decision{Direction: models.DirectionHold, Reasons: []string{"no_evidence"}}
	}

	direction := models.DirectionHold
	switch {
	case score.Bullish > score.Bearish+e.config.MinScoreGap:
		direction = models.DirectionBuy
	case score.Bearish > score.Bullish+e.config.MinScoreGap:
		direction = models.DirectionSell
	}
	if direction == models.DirectionHold {
		return Decision{Direction: models.DirectionHold, Reasons: []string{"score_gap_below_threshold"}}
	}

	if e.contradictsTrend(direction, snap.Trend) {
		e.logger.Debug("trend veto",
			zap.String("symbol", snap.Symbol),
			zap.String("direction", string(direction)),
			zap.String("trend", string(snap.Trend)),
		)
		return Decision{Direction: models.DirectionHold, Reasons: []string{"trend_veto"}}
	}

	if e.RiskLevel(snap) == RiskHigh && score.Gap() < e.config.HighVolScoreGap {
		return Decision{Direction: models.DirectionHold, Reasons: []string{"high_volatility_gate"}}
	}

	confidence := baseConfidence
	confidence += min(maxQualityBoost, score.QualitySum*maxQualityBoost)
	confidence += min(maxGapBoost, score.Gap()*gapBoostPerUnit)
	confidence = ClampConfidence(confidence)
	confidence = ClampConfidence(applyBrainBias(confidence, brain))

	reasons := append([]string{}, score.Factors...)
	reasons = append(reasons, "trend_"+string(snap.Trend))
	if e.RiskLevel(snap) == RiskHigh {
		reasons = append(reasons, "high_volatility")
	}

	return Decision{Direction: direction, Confidence: confidence, Reasons: reasons}
}

// RiskLevel buckets the snapshot's volatility reading.
func (e *Engine) RiskLevel(snap models.MarketSnapshot) RiskLevel {
	switch {
	case snap.Volatility >= e.config.HighVolThreshold:
		return RiskHigh
	case snap.Volatility >= e.config.HighVolThreshold/3:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (e *Engine) contradictsTrend(direction models.Direction, trend models.Trend) bool {
	return (direction == models.DirectionBuy && trend == models.TrendBearish) ||
		(direction == models.DirectionSell && trend == models.TrendBullish)
}

func applyBrainBias(confidence float64, brain models.SymbolModel) float64 {
	if brain.ResolvedTrades() < biasMinResolved {
		return confidence
	}
	switch rate := brain.WinRate(); {
	case rate > biasHighWinRate:
		return confidence * (1 + biasFactor)
	case rate < biasLowWinRate:
		return confidence * (1 - biasFactor)
	default:
		return confidence
	}
}

// ClampConfidence bounds a confidence value to the emitted range.
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
