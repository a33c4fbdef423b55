package pipeline

import (
	"math/rand"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

// Emotions that make a high-quality face worth keeping on their own.
var alertEmotions = map[string]bool{
	"angry":    true,
	"fear":     true,
	"surprise": true,
}

// DecisionEngine decides which detection outcomes are significant
// enough to persist as evidence. Rules 1-3 are deterministic; only the
// final sampling rule draws randomness, injected so tests can pin it.
type DecisionEngine struct {
	qualityThreshold float64
	samplingRate     float64
	random           func() float64
}

func NewDecisionEngine(cfgSvc config.IService) *DecisionEngine {
	return &DecisionEngine{
		qualityThreshold: cfgSvc.GetQualityEmotionThreshold(),
		samplingRate:     cfgSvc.GetEvidenceSamplingRate(),
		random:           rand.Float64,
	}
}

// ShouldPersist applies the evidence policy in fixed priority order:
// watchlist match, spoof attempt, alarming emotion on a high-quality
// face, then uniform random sampling to bound storage growth for
// routine frames.
func (e *DecisionEngine) ShouldPersist(outcome model.DetectionOutcome) bool {
	if outcome.MatchedPersonID != "" {
		return true
	}

	if !outcome.IsRealFace {
		return true
	}

	if outcome.QualityScore > e.qualityThreshold && alertEmotions[outcome.Emotion] {
		return true
	}

	return e.random() < e.samplingRate
}
