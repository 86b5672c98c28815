package evidence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrel/signalforge/internal/models"
)

type fakeCandles struct {
	candles []Candle
	err     error
}

func (f *fakeCandles) Candles(_ context.Context, _ string, _ int) ([]Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func seriesCandles(n int, start, step float64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = Candle{Open: c - step/2, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return out
}

func tagsOf(factors []models.EvidenceFactor) []string {
	var tags []string
	for _, f := range factors {
		tags = append(tags, f.Tags...)
	}
	return tags
}

func TestTechnicalProviderUptrend(t *testing.T) {
	source := &fakeCandles{candles: seriesCandles(100, 100, 0.5)}
	provider := NewTechnicalProvider(source, DefaultTechnicalConfig())

	factors, err := provider.Fetch(context.Background(), "XAUUSD")
	require.NoError(t, err)

	tags := tagsOf(factors)
	assert.Contains(t, tags, "sma_uptrend")
	assert.Contains(t, tags, "macd_bullish")
	// A relentless climb pins RSI into overbought territory.
	assert.Contains(t, tags, "rsi_overbought")

	for _, f := range factors {
		assert.Equal(t, "technical", f.SourceName)
		assert.Equal(t, 2.0, f.Weight)
		assert.Equal(t, 0.2, f.QualityContribution)
	}
}

func TestTechnicalProviderDowntrend(t *testing.T) {
	source := &fakeCandles{candles: seriesCandles(100, 200, -0.5)}
	provider := NewTechnicalProvider(source, DefaultTechnicalConfig())

	factors, err := provider.Fetch(context.Background(), "XAUUSD")
	require.NoError(t, err)

	tags := tagsOf(factors)
	assert.Contains(t, tags, "sma_downtrend")
	assert.Contains(t, tags, "macd_bearish")
	assert.Contains(t, tags, "rsi_oversold")
}

func TestTechnicalProviderFlatSkipsRsi(t *testing.T) {
	// Alternate tiny up and down moves so RSI stays mid-range.
	candles := make([]Candle, 100)
	for i := range candles {
		c := 100.0
		if i%2 == 0 {
			c = 100.1
		}
		candles[i] = Candle{Open: c, High: c + 0.2, Low: c - 0.2, Close: c, Volume: 100}
	}
	provider := NewTechnicalProvider(&fakeCandles{candles: candles}, DefaultTechnicalConfig())

	factors, err := provider.Fetch(context.Background(), "EURUSD")
	require.NoError(t, err)

	assert.NotContains(t, tagsOf(factors), "rsi_oversold")
	assert.NotContains(t, tagsOf(factors), "rsi_overbought")
}

func TestTechnicalProviderInsufficientCandles(t *testing.T) {
	provider := NewTechnicalProvider(&fakeCandles{candles: seriesCandles(10, 100, 1)}, DefaultTechnicalConfig())

	_, err := provider.Fetch(context.Background(), "XAUUSD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient candles")
}

func TestTechnicalProviderSourceError(t *testing.T) {
	provider := NewTechnicalProvider(&fakeCandles{err: errors.New("feed down")}, DefaultTechnicalConfig())

	_, err := provider.Fetch(context.Background(), "XAUUSD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed down")
}

func TestStaticProviderCopiesFactors(t *testing.T) {
	provider := &StaticProvider{
		SourceName: "sentiment",
		Factors: []models.EvidenceFactor{
			{SourceName: "sentiment", BullishScore: 2, Weight: 1, Tags: []string{"news_positive"}},
		},
	}

	first, err := provider.Fetch(context.Background(), "XAUUSD")
	require.NoError(t, err)
	first[0].BullishScore = 99

	second, err := provider.Fetch(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2.0, second[0].BullishScore)
}

func TestProviderFuncDelegates(t *testing.T) {
	p := ProviderFunc{
		ProviderName: "onchain",
		Fn: func(_ context.Context, symbol string) ([]models.EvidenceFactor, error) {
			return []models.EvidenceFactor{{SourceName: "onchain", BullishScore: 1, Weight: 1}}, nil
		},
	}

	assert.Equal(t, "onchain", p.Name())
	factors, err := p.Fetch(context.Background(), "BTCUSD")
	require.NoError(t, err)
	require.Len(t, factors, 1)
}
