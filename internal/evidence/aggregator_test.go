package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tendrel/signalforge/internal/models"
)

func TestAggregateWeightedSums(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	factors := []models.EvidenceFactor{
		{SourceName: "technical", BullishScore: 2, BearishScore: 0.5, Weight: 2, QualityContribution: 0.2, Tags: []string{"rsi_oversold"}},
		{SourceName: "sentiment", BullishScore: 1, BearishScore: 1, Weight: 1.5, QualityContribution: 0.1},
	}

	score := agg.Aggregate("XAUUSD", factors)

	assert.InDelta(t, 5.5, score.Bullish, 1e-9)
	assert.InDelta(t, 2.5, score.Bearish, 1e-9)
	assert.InDelta(t, 0.3, score.QualitySum, 1e-9)
	assert.InDelta(t, 3.0, score.Gap(), 1e-9)
	assert.Equal(t, []string{"technical", "rsi_oversold", "sentiment"}, score.Factors)
}

func TestAggregateDropsNonPositiveWeight(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	score := agg.Aggregate("EURUSD", []models.EvidenceFactor{
		{SourceName: "broken", BullishScore: 10, Weight: 0, QualityContribution: 0.5},
		{SourceName: "negative", BearishScore: 10, Weight: -1, QualityContribution: 0.5},
		{SourceName: "ok", BullishScore: 1, Weight: 1, QualityContribution: 0.1},
	})

	assert.InDelta(t, 1.0, score.Bullish, 1e-9)
	assert.Zero(t, score.Bearish)
	assert.InDelta(t, 0.1, score.QualitySum, 1e-9)
	assert.Equal(t, []string{"ok"}, score.Factors)
}

func TestAggregateWarnsOnDroppedFactor(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	agg := NewAggregator(zap.New(core))

	agg.Aggregate("EURUSD", []models.EvidenceFactor{
		{SourceName: "broken", BullishScore: 10, Weight: 0},
	})

	entries := logs.FilterMessage("dropping evidence factor without positive weight").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "broken", entries[0].ContextMap()["source"])
}

func TestAggregateQualityCapped(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	score := agg.Aggregate("BTCUSD", []models.EvidenceFactor{
		{SourceName: "a", BullishScore: 1, Weight: 1, QualityContribution: 0.7},
		{SourceName: "b", BullishScore: 1, Weight: 1, QualityContribution: 0.7},
	})

	assert.InDelta(t, 1.0, score.QualitySum, 1e-9)
}

func TestAggregateEmptyIsNeutral(t *testing.T) {
	agg := NewAggregator(nil)

	score := agg.Aggregate("GBPUSD", nil)

	assert.True(t, score.Neutral())
	assert.Zero(t, score.Gap())
	assert.Empty(t, score.Factors)
}
