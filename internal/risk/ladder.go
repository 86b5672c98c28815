package risk

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/models"
)

// MinRiskReward is the floor for the first take-profit's reward ratio.
const MinRiskReward = 1.5

// Ladder is the stop-loss and three take-profit levels for an entry.
type Ladder struct {
	StopLoss        float64  `json:"stop_loss"`
	TakeProfit1     float64  `json:"take_profit_1"`
	TakeProfit2     float64  `json:"take_profit_2"`
	TakeProfit3     float64  `json:"take_profit_3"`
	RiskRewardRatio float64  `json:"risk_reward_ratio"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Config holds the reward multiplier ladder. Multipliers must be
// strictly increasing with the first one at MinRiskReward or above.
type Config struct {
	TakeProfitMultipliers [3]float64
}

func DefaultConfig() Config {
	return Config{TakeProfitMultipliers: [3]float64{2.0, 3.0, 4.0}}
}

// Calculator derives price ladders from an entry under a fixed
// account-risk percentage. Stop-losses anchor to the nearest
// structural level (support/resistance) when that is tighter than the
// percentage stop, never looser.
type Calculator struct {
	config Config
	logger *zap.Logger
}

func NewCalculator(config Config, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TakeProfitMultipliers == ([3]float64{}) {
		config = DefaultConfig()
	}
	return &Calculator{config: config, logger: logger}
}

// ComputeLadder builds the ladder for a non-HOLD direction. All
// arithmetic runs at full float precision; rounding to the symbol's
// precision happens once at the output boundary. A support/resistance
// value on the wrong side of entry is treated as a data anomaly: the
// percentage stop is used instead and a warning tag attached.
func (c *Calculator) ComputeLadder(direction models.Direction, entryPrice float64, snap models.MarketSnapshot, riskPercent float64) Ladder {
	riskAmount := entryPrice * riskPercent

	var ladder Ladder
	switch direction {
	case models.DirectionBuy:
		ladder.StopLoss = entryPrice - riskAmount
		if snap.Support > 0 {
			if snap.Support >= entryPrice {
				ladder.Warnings = append(ladder.Warnings, "support_above_entry")
				c.logger.Warn("support level on wrong side of entry, falling back to percentage stop",
					zap.String("symbol", snap.Symbol),
					zap.Float64("entry", entryPrice),
					zap.Float64("support", snap.Support),
				)
			} else if snap.Support > ladder.StopLoss {
				ladder.StopLoss = snap.Support
			}
		}
		for i, m := range c.config.TakeProfitMultipliers {
			setTakeProfit(&ladder, i, entryPrice+riskAmount*m)
		}

	case models.DirectionSell:
		ladder.StopLoss = entryPrice + riskAmount
		if snap.Resistance > 0 {
			if snap.Resistance <= entryPrice {
				ladder.Warnings = append(ladder.Warnings, "resistance_below_entry")
				c.logger.Warn("resistance level on wrong side of entry, falling back to percentage stop",
					zap.String("symbol", snap.Symbol),
					zap.Float64("entry", entryPrice),
					zap.Float64("resistance", snap.Resistance),
				)
			} else if snap.Resistance < ladder.StopLoss {
				ladder.StopLoss = snap.Resistance
			}
		}
		for i, m := range c.config.TakeProfitMultipliers {
			setTakeProfit(&ladder, i, entryPrice-riskAmount*m)
		}

	default:
		return Ladder{}
	}

	riskDistance := entryPrice - ladder.StopLoss
	if direction == models.DirectionSell {
		riskDistance = ladder.StopLoss - entryPrice
	}
	rewardDistance := ladder.TakeProfit1 - entryPrice
	if direction == models.DirectionSell {
		rewardDistance = entryPrice - ladder.TakeProfit1
	}
	if riskDistance > 0 {
		ladder.RiskRewardRatio = rewardDistance / riskDistance
	}
	if ladder.RiskRewardRatio < MinRiskReward && rewardDistance > 0 {
		// Tight structural stops only ever improve the ratio, so a
		// sub-floor ratio means the first multiplier is too small.
		// Rescale every take-profit, not just tp1, so the levels stay
		// strictly increasing after the floor is applied.
		ladder.Warnings = append(ladder.Warnings, "risk_reward_floor")
		scale := riskDistance * MinRiskReward / rewardDistance
		ladder.TakeProfit1 = entryPrice + (ladder.TakeProfit1-entryPrice)*scale
		ladder.TakeProfit2 = entryPrice + (ladder.TakeProfit2-entryPrice)*scale
		ladder.TakeProfit3 = entryPrice + (ladder.TakeProfit3-entryPrice)*scale
		ladder.RiskRewardRatio = MinRiskReward
	}

	precision := SymbolPrecision(snap.Symbol)
	ladder.StopLoss = roundTo(ladder.StopLoss, precision)
	ladder.TakeProfit1 = roundTo(ladder.TakeProfit1, precision)
	ladder.TakeProfit2 = roundTo(ladder.TakeProfit2, precision)
	ladder.TakeProfit3 = roundTo(ladder.TakeProfit3, precision)

	return ladder
}

func setTakeProfit(l *Ladder, index int, price float64) {
	switch index {
	case 0:
		l.TakeProfit1 = price
	case 1:
		l.TakeProfit2 = price
	case 2:
		l.TakeProfit3 = price
	}
}

// SymbolPrecision returns the decimal precision used at the output
// boundary: 2 for metals, 3 for yen pairs, 4 for everything else.
func SymbolPrecision(symbol string) int32 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "XAU") || strings.Contains(s, "XAG"):
		return 2
	case strings.Contains(s, "BTC") || strings.Contains(s, "ETH"):
		return 2
	case strings.Contains(s, "JPY"):
		return 3
	default:
		return 4
	}
}

func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
