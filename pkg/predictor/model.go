package predictor

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// Training hyperparameters. Fixed values, zero-initialized weights, and a
// deterministic example order make fits reproducible: training twice on
// the same patterns yields bit-for-bit identical parameters.
const (
	trainEpochs       = 200
	trainLearningRate = 0.1

	// positiveQuality is the outcome quality at or above which a
	// successful pattern counts as a positive example.
	positiveQuality = 70.0
)

// Example is one labeled training observation.
type Example struct {
	Features []float64
	Label    float64 // 1 when the skill contributed to a high-quality success
}

// BuildExamples converts the pattern history into per-skill training sets.
// Every pattern contributes an example to every known skill: positive when
// the pattern used the skill and succeeded with high quality, negative
// otherwise. Patterns must arrive in deterministic order (the store lists
// them by timestamp then id).
func BuildExamples(patterns []learning.Pattern) (map[string][]Example, map[string]int) {
	skills := map[string]bool{}
	for _, p := range patterns {
		for _, s := range p.Skills {
			skills[s] = true
		}
	}

	examples := make(map[string][]Example, len(skills))
	usageCounts := make(map[string]int, len(skills))

	for _, p := range patterns {
		features := ExtractFeatures(p.Context)
		used := map[string]bool{}
		for _, s := range p.Skills {
			used[s] = true
			usageCounts[s]++
		}

		for skill := range skills {
			label := 0.0
			if used[skill] && p.Outcome.Success && p.Outcome.Quality >= positiveQuality {
				label = 1.0
			}
			examples[skill] = append(examples[skill], Example{Features: features, Label: label})
		}
	}

	return examples, usageCounts
}

// Fit trains a logistic scorer by full-batch gradient descent. The context
// bounds the fit: cancellation or deadline expiry aborts with an error and
// the caller keeps the previous model.
func Fit(ctx context.Context, skill string, examples []Example, usageCount int, now time.Time) (learning.PredictionModel, error) {
	if len(examples) == 0 {
		return learning.PredictionModel{}, errors.Errorf("no training examples for skill %s", skill)
	}

	weights := make([]float64, FeatureDim)
	bias := 0.0
	n := float64(len(examples))

	for epoch := 0; epoch < trainEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return learning.PredictionModel{}, errors.Wrapf(err, "training aborted for skill %s at epoch %d", skill, epoch)
		}

		gradW := make([]float64, FeatureDim)
		gradB := 0.0
		for _, ex := range examples {
			p := sigmoid(dot(ex.Features, weights) + bias)
			diff := p - ex.Label
			for i, f := range ex.Features {
				gradW[i] += diff * f
			}
			gradB += diff
		}

		for i := range weights {
			weights[i] -= trainLearningRate * gradW[i] / n
		}
		bias -= trainLearningRate * gradB / n
	}

	return learning.PredictionModel{
		Skill:          skill,
		Weights:        weights,
		Bias:           bias,
		ExampleCount:   usageCount,
		FeatureVersion: learning.FeatureSchemaVersion,
		TrainedAt:      now,
	}, nil
}

// Score evaluates the model on a feature vector, returning a probability
// in (0,1).
func Score(m *learning.PredictionModel, features []float64) float64 {
	return sigmoid(dot(features, m.Weights) + m.Bias)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
