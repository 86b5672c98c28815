package learning

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/observability"
)

// Aggregate recomputes every symbol's running confidence and the
// learning rule set from resolved trade history. It runs on its own
// timer, independent of the decision cycle, and is the single writer
// of both shared structures.
func (l *Loop) Aggregate(ctx context.Context) {
	l.recomputeBrains(ctx)
	l.recomputeRules()
}

// recomputeBrains folds each symbol's recent win rate into its running
// confidence. The smoothing keeps one noisy streak from swinging the
// bias to its bounds.
func (l *Loop) recomputeBrains(ctx context.Context) {
	l.mu.RLock()
	bySymbol := make(map[string][]models.TradeRecord)
	for _, rec := range l.resolved {
		bySymbol[rec.Symbol] = append(bySymbol[rec.Symbol], rec)
	}
	l.mu.RUnlock()

	for symbol, records := range bySymbol {
		wins := 0
		for _, rec := range records {
			if rec.PnLPercentage > 0 {
				wins++
			}
		}
		winRate := float64(wins) / float64(len(records))

		brain := l.brains.update(symbol, func(m *models.SymbolModel) {
			m.RunningConfidence = clamp01(0.7*m.RunningConfidence + 0.3*winRate)
		})

		if err := l.store.SaveBrainData(ctx, brain); err != nil {
			l.logger.Error("failed to persist brain data",
				zap.String("symbol", symbol), zap.Error(err))
			observability.CaptureException(ctx, err)
		}
	}
}

// recomputeRules regroups resolved trades by reasoning-factor tag and
// rebuilds the rule set from scratch. Tags below the observation floor
// produce no rule; rules that decayed below the success threshold
// after enough observations are dropped for good.
func (l *Loop) recomputeRules() {
	l.mu.Lock()
	defer l.mu.Unlock()

	type tagStats struct {
		observations int
		successes    int
	}
	stats := make(map[string]*tagStats)
	for _, rec := range l.resolved {
		for _, tag := range rec.ReasoningFactors {
			s, ok := stats[tag]
			if !ok {
				s = &tagStats{}
				stats[tag] = s
			}
			s.observations++
			if rec.PnLPercentage > 0 {
				s.successes++
			}
		}
	}

	now := time.Now().UTC()
	rules := make(map[string]models.LearningRule)
	for tag, s := range stats {
		if s.observations < l.config.MinRuleObservations {
			continue
		}
		successRate := float64(s.successes) / float64(s.observations)

		if successRate < l.config.RuleDecayThreshold && s.observations >= l.config.DecayMinObservations {
			l.logger.Info("discarding decayed learning rule",
				zap.String("tag", tag),
				zap.Float64("success_rate", successRate),
				zap.Int("observations", s.observations),
			)
			continue
		}

		var action models.RuleAction
		switch {
		case successRate < l.config.RuleDecayThreshold:
			action = models.RuleAvoid
		case successRate < 0.4:
			action = models.RulePenalize
		case successRate > 0.6:
			action = models.RuleBoost
		default:
			continue
		}

		rules[tag] = models.LearningRule{
			ConditionTag: tag,
			Action:       action,
			SuccessRate:  successRate,
			TimesApplied: s.observations,
			UpdatedAt:    now,
		}
	}

	l.rules = rules
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
