package evidence

import (
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/models"
)

// AggregateScore is the combined weighted evidence for one symbol.
type AggregateScore struct {
	Bullish    float64  `json:"bullish"`
	Bearish    float64  `json:"bearish"`
	QualitySum float64  `json:"quality_sum"`
	Factors    []string `json:"factors,omitempty"`
}

// Gap is the absolute distance between the bullish and bearish scores.
func (s AggregateScore) Gap() float64 {
	gap := s.Bullish - s.Bearish
	if gap < 0 {
		return -gap
	}
	return gap
}

// Neutral reports whether no usable evidence was collected.
func (s AggregateScore) Neutral() bool {
	return s.Bullish == 0 && s.Bearish == 0 && s.QualitySum == 0
}

// Aggregator folds heterogeneous provider factors into one weighted
// score. It performs no I/O; collecting the factors is the caller's
// problem.
type Aggregator struct {
	logger *zap.Logger
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// Aggregate combines the given factors into a single score. Factors
// without a positive weight are dropped with a warning; an empty input
// yields a neutral score so the decision engine abstains.
func (a *Aggregator) Aggregate(symbol string, factors []models.EvidenceFactor) AggregateScore {
	var score AggregateScore

	for _, f := range factors {
		if f.Weight <= 0 {
			a.logger.Warn("dropping evidence factor without positive weight",
				zap.String("symbol", symbol),
				zap.String("source", f.SourceName),
				zap.Float64("weight", f.Weight),
			)
			continue
		}

		score.Bullish += f.BullishScore * f.Weight
		score.Bearish += f.BearishScore * f.Weight
		score.QualitySum += f.QualityContribution

		score.Factors = append(score.Factors, f.SourceName)
		score.Factors = append(score.Factors, f.Tags...)
	}

	if score.QualitySum > 1.0 {
		score.QualitySum = 1.0
	}

	return score
}
