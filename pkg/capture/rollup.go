// Package capture records completed-task outcomes: it appends patterns,
// rolls skill/agent metrics forward with recency weighting, derives pattern
// confidence from corroborating history, and triggers retraining on a
// pluggable cadence.
package capture

import (
	"time"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// failureDiscount scales the rolling-score observation of a failed task,
// so a failure drags the score down even when its quality estimate is high.
const failureDiscount = 0.25

// Rollup applies one observed outcome to a rolling metric. The rolling
// score is exponentially recency-weighted, never a plain mean, so recent
// behavior dominates.
type Rollup struct {
	alpha float64
}

// NewRollup creates a Rollup with the given recency weight in (0,1).
func NewRollup(alpha float64) *Rollup {
	return &Rollup{alpha: alpha}
}

// UpdateSkill folds one outcome into a skill metric.
func (r *Rollup) UpdateSkill(m learning.SkillMetric, o learning.Outcome, at time.Time) learning.SkillMetric {
	m.UsageCount++
	if o.Success {
		m.SuccessCount++
	}
	m.AvgQuality += (o.Quality - m.AvgQuality) / float64(m.UsageCount)
	m.RollingScore = r.roll(m.RollingScore, m.UsageCount, o)
	m.LastUsedAt = at
	return m
}

// UpdateAgent folds one outcome into an agent metric.
func (r *Rollup) UpdateAgent(m learning.AgentMetric, o learning.Outcome, at time.Time) learning.AgentMetric {
	m.UsageCount++
	if o.Success {
		m.SuccessCount++
	}
	m.AvgQuality += (o.Quality - m.AvgQuality) / float64(m.UsageCount)
	m.RollingScore = r.roll(m.RollingScore, m.UsageCount, o)
	m.LastUsedAt = at
	return m
}

func (r *Rollup) roll(score float64, usageAfter int, o learning.Outcome) float64 {
	obs := o.Quality / 100.0
	if !o.Success {
		obs *= failureDiscount
	}
	if usageAfter == 1 {
		return obs
	}
	return (1-r.alpha)*score + r.alpha*obs
}
