// Package similarity computes bounded multi-factor similarity between
// project/task feature records and ranks historical patterns for
// retrieval. The combined score is a weighted sum of five sub-scores,
// each itself bounded to [0,1], so the total is guaranteed bounded.
package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// Engine scores feature records against each other using configurable
// sub-score weights. The default weights favor technology overlap.
type Engine struct {
	weights config.SimilarityWeights
}

// NewEngine creates an Engine with the given sub-score weights.
func NewEngine(weights config.SimilarityWeights) *Engine {
	return &Engine{weights: weights}
}

// Score returns the weighted similarity of two feature records in [0,1].
// It is symmetric, and a record always scores 1.0 against itself.
func (e *Engine) Score(a, b learning.FingerprintFeatures) float64 {
	s := e.weights.Technology*jaccard(a.Technologies, b.Technologies) +
		e.weights.Architecture*jaccard(a.Architecture, b.Architecture) +
		e.weights.Domain*jaccard(a.DomainKeywords, b.DomainKeywords) +
		e.weights.Scale*scaleProximity(a.TeamSize, b.TeamSize) +
		e.weights.Conventions*jaccard(a.Conventions, b.Conventions)

	return clamp01(s / e.weights.Sum())
}

// Candidate is one retrieval candidate: either a local pattern or an
// anonymized universal pattern. Weight discounts universal candidates by
// their transferability; local candidates carry weight 1.0.
type Candidate struct {
	Features  learning.FingerprintFeatures
	Weight    float64
	Pattern   *learning.Pattern
	Universal *learning.UniversalPattern
}

// Match is a scored retrieval candidate.
type Match struct {
	Candidate
	Similarity float64 // raw similarity before weighting
	Score      float64 // Similarity × Weight, used for ranking
}

// Rank scores every candidate against the query features and returns the
// top limit matches. Ties break by higher pattern confidence, then by more
// recent timestamp.
func (e *Engine) Rank(query learning.FingerprintFeatures, candidates []Candidate, limit int) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim := e.Score(query, c.Features)
		matches = append(matches, Match{
			Candidate:  c,
			Similarity: sim,
			Score:      sim * c.Weight,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		ci, cj := matches[i].confidence(), matches[j].confidence()
		if ci != cj {
			return ci > cj
		}
		return matches[i].createdAtUnix() > matches[j].createdAtUnix()
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (m Match) confidence() float64 {
	if m.Pattern != nil {
		return m.Pattern.Confidence
	}
	if m.Universal != nil {
		return m.Universal.Transferability
	}
	return 0
}

func (m Match) createdAtUnix() int64 {
	if m.Pattern != nil {
		return m.Pattern.CreatedAt.UnixNano()
	}
	if m.Universal != nil {
		return m.Universal.CreatedAt.UnixNano()
	}
	return 0
}

// FeaturesForContext overlays a task context onto the project fingerprint,
// so retrieval considers what the task touches, not just what the project is.
func FeaturesForContext(fp learning.ProjectFingerprint, taskCtx learning.TaskContext) learning.FingerprintFeatures {
	f := fp.Features
	f.Technologies = unionLower(f.Technologies, taskCtx.Technologies)
	f.DomainKeywords = unionLower(f.DomainKeywords, taskCtx.DomainTags)
	if taskCtx.TeamSize != "" {
		f.TeamSize = taskCtx.TeamSize
	}
	return f
}

// FeaturesForPattern builds the candidate feature record for a local
// pattern, anchored on the owning project's fingerprint features.
func FeaturesForPattern(p *learning.Pattern, owner learning.FingerprintFeatures) learning.FingerprintFeatures {
	f := owner
	f.Technologies = unionLower(f.Technologies, p.Context.Technologies)
	f.DomainKeywords = unionLower(f.DomainKeywords, p.Context.DomainTags)
	if p.Context.TeamSize != "" {
		f.TeamSize = p.Context.TeamSize
	}
	return f
}

// FeaturesForUniversal builds the candidate feature record for an
// anonymized pool pattern. Only feature-level information survives
// anonymization, so this is the whole record.
func FeaturesForUniversal(u *learning.UniversalPattern) learning.FingerprintFeatures {
	return learning.FingerprintFeatures{
		Technologies:   u.Technologies,
		Architecture:   u.Architecture,
		DomainKeywords: u.DomainKeywords,
		TeamSize:       u.TeamSize,
	}
}

// jaccard returns |A∩B| / |A∪B| in [0,1]. Two empty sets are treated as
// identical (score 1) so absent signal categories do not penalize
// otherwise-identical records.
func jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	intersection := 0
	for v := range setA {
		if setB[v] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// scaleProximity maps team-size distance onto [0,1]: identical classes
// score 1, opposite extremes score 0.
func scaleProximity(a, b learning.TeamSize) float64 {
	const maxDistance = 3.0
	d := math.Abs(float64(a.Ordinal() - b.Ordinal()))
	return 1.0 - d/maxDistance
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func unionLower(a, b []string) []string {
	set := toSet(a)
	for v := range toSet(b) {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
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
