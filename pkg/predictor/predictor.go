package predictor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/similarity"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// featureCacheSize bounds the memoized task feature vectors.
const featureCacheSize = 32

// PatternSource is the slice of the repository the predictor reads from.
// Prediction is read-only and safe for unlimited concurrent callers.
type PatternSource interface {
	ListPatterns(ctx context.Context, opts learning.QueryOptions) ([]learning.Pattern, error)
	LoadModels(ctx context.Context) (map[string]learning.PredictionModel, error)
	SkillMetrics(ctx context.Context) (map[string]learning.SkillMetric, error)
}

// PoolSource provides anonymized cross-project patterns. A nil PoolSource,
// or one that errors, degrades prediction to local-only.
type PoolSource interface {
	List(ctx context.Context) ([]learning.UniversalPattern, error)
}

// Result is a ranked prediction plus the retrieval neighbors that informed
// it. Neighbor ids let the capture path credit reuse once the caller
// reports a successful outcome.
type Result struct {
	Predictions  []learning.Prediction `json:"predictions"`
	NeighborIDs  []string              `json:"-"`
	UniversalIDs []string              `json:"-"`
}

// Predictor turns task contexts into ranked skill recommendations.
type Predictor struct {
	source PatternSource
	pool   PoolSource
	sim    *similarity.Engine
	cfg    *config.Config

	// features is a pure memo over ExtractFeatures; pattern and pool data
	// are refetched on every call so ranking always sees current
	// transferability, confidence, and reuse values.
	features *lru.Cache[string, []float64]
}

// New creates a Predictor. pool may be nil for local-only deployments.
func New(source PatternSource, pool PoolSource, sim *similarity.Engine, cfg *config.Config) *Predictor {
	features, _ := lru.New[string, []float64](featureCacheSize)
	return &Predictor{source: source, pool: pool, sim: sim, cfg: cfg, features: features}
}

// Predict returns the top-N skill recommendations for a task, or
// learning.ErrInsufficientData when the combined local and pool history is
// below the configured minimum. Callers must treat that error as "no basis
// for a guess", not as a low-confidence guess.
func (p *Predictor) Predict(ctx context.Context, fp learning.ProjectFingerprint, taskCtx learning.TaskContext) (*Result, error) {
	log := logger.G(ctx).WithField("projectHash", fp.Hash)

	// The store is per-project, so the full pattern table is this
	// project's history. Patterns captured under a superseded fingerprint
	// hash stay retrievable; similarity scoring handles the drift.
	local, err := p.source.ListPatterns(ctx, learning.QueryOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load local patterns")
	}

	var universal []learning.UniversalPattern
	if p.pool != nil {
		universal, err = p.pool.List(ctx)
		if err != nil {
			log.WithError(err).Warn("shared pool unavailable, predicting from local patterns only")
			universal = nil
		}
	}

	if len(local)+len(universal) < p.cfg.MinPatterns {
		return nil, learning.ErrInsufficientData
	}

	features := p.taskFeatures(taskCtx)
	query := similarity.FeaturesForContext(fp, taskCtx)

	candidates := buildCandidates(fp, local, universal)
	matches := p.sim.Rank(query, candidates, p.cfg.TopK)

	models, err := p.source.LoadModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load models")
	}
	metrics, err := p.source.SkillMetrics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skill metrics")
	}

	usage, qualities := skillUsage(local)
	skills := skillUniverse(models, metrics, matches, local)

	predictions := make([]learning.Prediction, 0, len(skills))
	for _, skill := range skills {
		pred := p.scoreSkill(skill, features, matches, models, metrics, usage[skill], qualities[skill])
		predictions = append(predictions, pred)
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		if predictions[i].Probability != predictions[j].Probability {
			return predictions[i].Probability > predictions[j].Probability
		}
		if predictions[i].Confidence != predictions[j].Confidence {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		return predictions[i].Skill < predictions[j].Skill
	})

	if len(predictions) > p.cfg.TopN {
		predictions = predictions[:p.cfg.TopN]
	}

	var neighbors, universalIDs []string
	for _, m := range matches {
		if m.Pattern != nil {
			neighbors = append(neighbors, m.Pattern.ID)
		}
		if m.Universal != nil {
			universalIDs = append(universalIDs, m.Universal.ID)
		}
	}

	return &Result{Predictions: predictions, NeighborIDs: neighbors, UniversalIDs: universalIDs}, nil
}

// scoreSkill produces one prediction, preferring the trained model and
// falling back to the similarity-weighted vote.
func (p *Predictor) scoreSkill(
	skill string,
	features []float64,
	matches []similarity.Match,
	models map[string]learning.PredictionModel,
	metrics map[string]learning.SkillMetric,
	usageCount int,
	qualities []float64,
) learning.Prediction {
	model, hasModel := models[skill]
	state := learning.ModelUntrained
	if hasModel {
		// A stale model is still authoritative until its replacement is
		// fit and persisted.
		state = model.State(usageCount, p.cfg.MinTrainingExamples, p.cfg.StaleGrowthFactor)
	}

	var probability, confidence float64
	var rationale string

	if state == learning.ModelTrained || state == learning.ModelStale {
		probability = Score(&model, features)

		// Discount skills that have recently underperformed regardless
		// of what the model thinks of the context.
		if metric, ok := metrics[skill]; ok && metric.UsageCount > 0 {
			probability *= 0.7 + 0.3*metric.RollingScore
		}

		confidence = confidenceFrom(model.ExampleCount, qualities)
		rationale = fmt.Sprintf("trained model (%d examples); dominant factors: %s",
			model.ExampleCount, strings.Join(dominantFeatures(features, 3), ", "))
	} else {
		var weighted, total float64
		contributing := 0
		for _, m := range matches {
			total += m.Score
			if matchUsedSkill(m, skill) {
				weighted += m.Score * matchQuality(m) / 100.0
				contributing++
			}
		}
		if total > 0 {
			probability = weighted / total
		}
		confidence = confidenceFrom(contributing, qualities)
		rationale = fmt.Sprintf("similar-pattern vote (%d of %d neighbors used it)", contributing, len(matches))
	}

	return learning.Prediction{
		Skill:       skill,
		Probability: clamp01(probability),
		Confidence:  clamp01(confidence),
		Rationale:   rationale,
	}
}

// buildCandidates assembles the retrieval candidate set from the freshly
// fetched data. Universal patterns are weighted down by their current
// transferability, so an identical local pattern always outranks them.
func buildCandidates(fp learning.ProjectFingerprint, local []learning.Pattern, universal []learning.UniversalPattern) []similarity.Candidate {
	candidates := make([]similarity.Candidate, 0, len(local)+len(universal))
	for i := range local {
		candidates = append(candidates, similarity.Candidate{
			Features: similarity.FeaturesForPattern(&local[i], fp.Features),
			Weight:   1.0,
			Pattern:  &local[i],
		})
	}
	for i := range universal {
		candidates = append(candidates, similarity.Candidate{
			Features:  similarity.FeaturesForUniversal(&universal[i]),
			Weight:    universal[i].Transferability,
			Universal: &universal[i],
		})
	}
	return candidates
}

// taskFeatures memoizes ExtractFeatures, which is a deterministic pure
// function of the task context.
func (p *Predictor) taskFeatures(taskCtx learning.TaskContext) []float64 {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		taskCtx.Type, taskCtx.Intent, taskCtx.Complexity, taskCtx.TeamSize,
		strings.Join(taskCtx.Technologies, ","), strings.Join(taskCtx.DomainTags, ","))
	if cached, ok := p.features.Get(key); ok {
		return cached
	}
	v := ExtractFeatures(taskCtx)
	p.features.Add(key, v)
	return v
}

// confidenceFrom combines data volume with outcome consistency: more
// examples raise confidence, scattered quality lowers it.
func confidenceFrom(examples int, qualities []float64) float64 {
	volume := minf(1.0, float64(examples)/50.0)

	consistency := 1.0
	if len(qualities) > 1 {
		consistency = 1.0 - minf(1.0, 2.0*stddev(qualities)/100.0)
	}

	return volume * consistency
}

func skillUsage(patterns []learning.Pattern) (map[string]int, map[string][]float64) {
	usage := map[string]int{}
	qualities := map[string][]float64{}
	for _, p := range patterns {
		for _, s := range p.Skills {
			usage[s]++
			qualities[s] = append(qualities[s], p.Outcome.Quality)
		}
	}
	return usage, qualities
}

func skillUniverse(
	models map[string]learning.PredictionModel,
	metrics map[string]learning.SkillMetric,
	matches []similarity.Match,
	local []learning.Pattern,
) []string {
	set := map[string]bool{}
	for s := range models {
		set[s] = true
	}
	for s := range metrics {
		set[s] = true
	}
	for _, m := range matches {
		if m.Universal != nil {
			for _, s := range m.Universal.Skills {
				set[s] = true
			}
		}
	}
	for _, p := range local {
		for _, s := range p.Skills {
			set[s] = true
		}
	}

	skills := make([]string, 0, len(set))
	for s := range set {
		skills = append(skills, s)
	}
	sort.Strings(skills)
	return skills
}

func matchUsedSkill(m similarity.Match, skill string) bool {
	if m.Pattern != nil {
		for _, s := range m.Pattern.Skills {
			if s == skill {
				return true
			}
		}
	}
	if m.Universal != nil {
		for _, s := range m.Universal.Skills {
			if s == skill {
				return true
			}
		}
	}
	return false
}

func matchQuality(m similarity.Match) float64 {
	if m.Pattern != nil {
		return m.Pattern.Outcome.Quality
	}
	if m.Universal != nil {
		return m.Universal.Quality
	}
	return 0
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
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
