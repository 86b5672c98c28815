package evidence

import (
	"context"
	"fmt"

	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/talib"
)

// Provider fetches evidence factors for one analysis source. Provider
// failures are non-fatal; the decision cycle simply proceeds without
// that source's contribution.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string) ([]models.EvidenceFactor, error)
}

// ProviderFunc adapts a closure into a Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, symbol string) ([]models.EvidenceFactor, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Fetch(ctx context.Context, symbol string) ([]models.EvidenceFactor, error) {
	return p.Fn(ctx, symbol)
}

// StaticProvider always returns the same factors. Used for sources
// whose upstream feed is maintained out of process and refreshed by
// overwriting the factor set.
type StaticProvider struct {
	SourceName string
	Factors    []models.EvidenceFactor
}

func (p *StaticProvider) Name() string { return p.SourceName }

func (p *StaticProvider) Fetch(_ context.Context, _ string) ([]models.EvidenceFactor, error) {
	out := make([]models.EvidenceFactor, len(p.Factors))
	copy(out, p.Factors)
	return out, nil
}

// Candle is one OHLCV bar.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// CandleSource supplies recent candles for a symbol, newest last.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// TechnicalConfig tunes the indicator periods and factor weight of the
// technical provider.
type TechnicalConfig struct {
	CandleLimit int
	RsiPeriod   int
	FastSma     int
	SlowSma     int
	MacdFast    int
	MacdSlow    int
	MacdSignal  int
	Weight      float64
}

func DefaultTechnicalConfig() TechnicalConfig {
	return TechnicalConfig{
		CandleLimit: 100,
		RsiPeriod:   14,
		FastSma:     20,
		SlowSma:     50,
		MacdFast:    12,
		MacdSlow:    26,
		MacdSignal:  9,
		Weight:      2.0,
	}
}

// TechnicalProvider derives evidence from indicator readings over
// recent candles. Deterministic for a given candle series.
type TechnicalProvider struct {
	source CandleSource
	config TechnicalConfig
}

func NewTechnicalProvider(source CandleSource, config TechnicalConfig) *TechnicalProvider {
	if config.CandleLimit == 0 {
		config = DefaultTechnicalConfig()
	}
	return &TechnicalProvider{source: source, config: config}
}

func (p *TechnicalProvider) Name() string { return "technical" }

func (p *TechnicalProvider) Fetch(ctx context.Context, symbol string) ([]models.EvidenceFactor, error) {
	candles, err := p.source.Candles(ctx, symbol, p.config.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	if len(candles) < p.config.SlowSma {
		return nil, fmt.Errorf("insufficient candles for %s: have %d, need %d", symbol, len(candles), p.config.SlowSma)
	}

	closings := make([]float64, len(candles))
	for i, c := range candles {
		closings[i] = c.Close
	}

	var factors []models.EvidenceFactor

	if f, ok := p.rsiFactor(closings); ok {
		factors = append(factors, f)
	}
	if f, ok := p.macdFactor(closings); ok {
		factors = append(factors, f)
	}
	if f, ok := p.smaCrossFactor(closings); ok {
		factors = append(factors, f)
	}

	return factors, nil
}

func (p *TechnicalProvider) rsiFactor(closings []float64) (models.EvidenceFactor, bool) {
	rsi := talib.Rsi(closings, p.config.RsiPeriod)
	if len(rsi) == 0 {
		return models.EvidenceFactor{}, false
	}
	last := rsi[len(rsi)-1]

	f := models.EvidenceFactor{
		SourceName:          "technical",
		Weight:              p.config.Weight,
		QualityContribution: 0.2,
	}
	switch {
	case last <= 30:
		f.BullishScore = (30 - last) / 10
		f.Tags = []string{"rsi_oversold"}
	case last >= 70:
		f.BearishScore = (last - 70) / 10
		f.Tags = []string{"rsi_overbought"}
	default:
		// Mid-range RSI carries no directional evidence.
		return models.EvidenceFactor{}, false
	}
	return f, true
}

func (p *TechnicalProvider) macdFactor(closings []float64) (models.EvidenceFactor, bool) {
	_, _, hist := talib.Macd(closings, p.config.MacdFast, p.config.MacdSlow, p.config.MacdSignal)
	if len(hist) == 0 {
		return models.EvidenceFactor{}, false
	}
	last := hist[len(hist)-1]
	if last == 0 {
		return models.EvidenceFactor{}, false
	}

	f := models.EvidenceFactor{
		SourceName:          "technical",
		Weight:              p.config.Weight,
		QualityContribution: 0.2,
	}
	if last > 0 {
		f.BullishScore = 1
		f.Tags = []string{"macd_bullish"}
	} else {
		f.BearishScore = 1
		f.Tags = []string{"macd_bearish"}
	}
	return f, true
}

func (p *TechnicalProvider) smaCrossFactor(closings []float64) (models.EvidenceFactor, bool) {
	fast := talib.Sma(closings, p.config.FastSma)
	slow := talib.Sma(closings, p.config.SlowSma)
	if len(fast) == 0 || len(slow) == 0 {
		return models.EvidenceFactor{}, false
	}

	f := models.EvidenceFactor{
		SourceName:          "technical",
		Weight:              p.config.Weight,
		QualityContribution: 0.2,
	}
	if fast[len(fast)-1] > slow[len(slow)-1] {
		f.BullishScore = 1
		f.Tags = []string{"sma_uptrend"}
	} else {
		f.BearishScore = 1
		f.Tags = []string{"sma_downtrend"}
	}
	return f, true
}
