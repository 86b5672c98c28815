package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/store"
)

func seedResolved(loop *Loop, symbol, tag string, wins, losses int) {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	for i := 0; i < wins; i++ {
		loop.resolved = append(loop.resolved, models.TradeRecord{
			Symbol: symbol, Status: models.TradeWin, PnLPercentage: 1,
			ReasoningFactors: []string{tag},
		})
	}
	for i := 0; i < losses; i++ {
		loop.resolved = append(loop.resolved, models.TradeRecord{
			Symbol: symbol, Status: models.TradeLoss, PnLPercentage: -1,
			ReasoningFactors: []string{tag},
		})
	}
}

func ruleFor(t *testing.T, loop *Loop, tag string) (models.LearningRule, bool) {
	t.Helper()
	for _, r := range loop.Rules() {
		if r.ConditionTag == tag {
			return r, true
		}
	}
	return models.LearningRule{}, false
}

func TestRecomputeRulesBoost(t *testing.T) {
	loop, _ := newTestLoop(t)
	seedResolved(loop, "EURUSD", "rsi_oversold", 3, 1)

	loop.recomputeRules()

	rule, ok := ruleFor(t, loop, "rsi_oversold")
	require.True(t, ok)
	assert.Equal(t, models.RuleBoost, rule.Action)
	assert.InDelta(t, 0.75, rule.SuccessRate, 1e-9)
	assert.Equal(t, 4, rule.TimesApplied)
}

func TestRecomputeRulesPenalize(t *testing.T) {
	loop, _ := newTestLoop(t)
	seedResolved(loop, "EURUSD", "macd_bearish", 1, 2)

	loop.recomputeRules()

	rule, ok := ruleFor(t, loop, "macd_bearish")
	require.True(t, ok)
	assert.Equal(t, models.RulePenalize, rule.Action)
}

func TestRecomputeRulesAvoidBeforeDecay(t *testing.T) {
	loop, _ := newTestLoop(t)
	// 3 observations is enough for a rule but not for decay.
	seedResolved(loop, "EURUSD", "sideways_chop", 0, 3)

	loop.recomputeRules()

	rule, ok := ruleFor(t, loop, "sideways_chop")
	require.True(t, ok)
	assert.Equal(t, models.RuleAvoid, rule.Action)
}

func TestRecomputeRulesDecayedRuleDropped(t *testing.T) {
	loop, _ := newTestLoop(t)
	seedResolved(loop, "EURUSD", "sideways_chop", 0, 6)

	loop.recomputeRules()

	_, ok := ruleFor(t, loop, "sideways_chop")
	assert.False(t, ok)
}

func TestRecomputeRulesIndifferentTagProducesNoRule(t *testing.T) {
	loop, _ := newTestLoop(t)
	seedResolved(loop, "EURUSD", "coin_flip", 2, 2)

	loop.recomputeRules()

	_, ok := ruleFor(t, loop, "coin_flip")
	assert.False(t, ok)
}

func TestRecomputeRulesObservationFloor(t *testing.T) {
	loop, _ := newTestLoop(t)
	seedResolved(loop, "EURUSD", "rare_tag", 2, 0)

	loop.recomputeRules()

	_, ok := ruleFor(t, loop, "rare_tag")
	assert.False(t, ok)
}

func TestAggregateUpdatesRunningConfidence(t *testing.T) {
	mem := store.NewMemoryStore(0)
	loop := NewLoop(mem, DefaultConfig(), nil)
	ctx := context.Background()
	seedResolved(loop, "EURUSD", "rsi_oversold", 4, 0)

	loop.Aggregate(ctx)

	brain := loop.Brains().Get("EURUSD")
	// 0.7*0.5 + 0.3*1.0
	assert.InDelta(t, 0.65, brain.RunningConfidence, 1e-9)

	persisted, err := mem.GetBrainData(ctx, "EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 0.65, persisted.RunningConfidence, 1e-9)
}

func TestAggregateSmoothingConverges(t *testing.T) {
	loop, _ := newTestLoop(t)
	ctx := context.Background()
	seedResolved(loop, "EURUSD", "tag", 4, 0)

	for i := 0; i < 25; i++ {
		loop.Aggregate(ctx)
	}

	brain := loop.Brains().Get("EURUSD")
	assert.InDelta(t, 1.0, brain.RunningConfidence, 0.01)
	assert.LessOrEqual(t, brain.RunningConfidence, 1.0)
}
