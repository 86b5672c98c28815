package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/talib"
)

type SnapshotConfig struct {
	CandleLimit int
	AtrPeriod   int
	FastSma     int
	SlowSma     int
	// StructureLookback is the number of recent candles scanned for
	// support (lowest low) and resistance (highest high).
	StructureLookback int
	// TrendBand is the relative SMA separation below which the trend
	// is reported SIDEWAYS.
	TrendBand float64
}

func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		CandleLimit:       100,
		AtrPeriod:         14,
		FastSma:           20,
		SlowSma:           50,
		StructureLookback: 20,
		TrendBand:         0.001,
	}
}

// Snapshotter builds MarketSnapshot values from recent candles:
// volatility as ATR relative to price, trend from the fast/slow SMA
// separation, and support/resistance from the recent price structure.
type Snapshotter struct {
	source evidence.CandleSource
	prices interface {
		CurrentPrice(ctx context.Context, symbol string) (float64, error)
	}
	config SnapshotConfig
	logger *zap.Logger
	clock  func() time.Time
}

func NewSnapshotter(client *Client, config SnapshotConfig, logger *zap.Logger) *Snapshotter {
	if config.CandleLimit == 0 {
		config = DefaultSnapshotConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		source: client,
		prices: client,
		config: config,
		logger: logger,
		clock:  time.Now,
	}
}

func (s *Snapshotter) Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	candles, err := s.source.Candles(ctx, symbol, s.config.CandleLimit)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("snapshot candles for %s: %w", symbol, err)
	}
	if len(candles) < s.config.SlowSma {
		return models.MarketSnapshot{}, fmt.Errorf("insufficient candles for %s: have %d, need %d",
			symbol, len(candles), s.config.SlowSma)
	}

	price, err := s.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		// Ticker misses fall back to the last close.
		s.logger.Warn("ticker unavailable, using last close",
			zap.String("symbol", symbol), zap.Error(err))
		price = candles[len(candles)-1].Close
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	snap := models.MarketSnapshot{
		Symbol:       symbol,
		CurrentPrice: price,
		Trend:        models.TrendSideways,
		Timestamp:    s.clock().UTC(),
	}

	if atr := talib.Atr(highs, lows, closes, s.config.AtrPeriod); len(atr) > 0 && price > 0 {
		snap.Volatility = atr[len(atr)-1] / price
	}

	fast := talib.Sma(closes, s.config.FastSma)
	slow := talib.Sma(closes, s.config.SlowSma)
	if len(fast) > 0 && len(slow) > 0 {
		f, sl := fast[len(fast)-1], slow[len(slow)-1]
		switch {
		case sl > 0 && (f-sl)/sl > s.config.TrendBand:
			snap.Trend = models.TrendBullish
		case sl > 0 && (sl-f)/sl > s.config.TrendBand:
			snap.Trend = models.TrendBearish
		}
	}

	lookback := s.config.StructureLookback
	if lookback > len(candles) {
		lookback = len(candles)
	}
	snap.Support, snap.Resistance = structure(candles[len(candles)-lookback:])

	return snap, nil
}

// structure returns the lowest low and highest high of the window.
func structure(candles []evidence.Candle) (support, resistance float64) {
	support = candles[0].Low
	resistance = candles[0].High
	for _, c := range candles[1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}
