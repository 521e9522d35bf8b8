package capture

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/store"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// Trainer runs a full training pass. The capture service treats training
// failures as non-fatal: the pattern is already persisted by then.
type Trainer interface {
	Train(ctx context.Context) (learning.TrainReport, error)
}

// Repository is the slice of the pattern store the capture service writes
// through.
type Repository interface {
	Capture(ctx context.Context, p learning.Pattern, upd store.MetricUpdater) (int64, error)
	QueryByFingerprint(ctx context.Context, projectHash string, opts learning.QueryOptions) ([]learning.Pattern, error)
	IncrementReuse(ctx context.Context, ids []string) error
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
}

// Observation is one completed task as reported by the caller. A task the
// caller abandons is simply never reported, so no partial pattern exists.
type Observation struct {
	Context  learning.TaskContext `json:"context"`
	Skills   []string             `json:"skills"`
	Agents   []string             `json:"agents,omitempty"`
	Approach string               `json:"approach,omitempty"`
	Outcome  learning.Outcome     `json:"outcome"`
}

func (o Observation) validate() error {
	if o.Outcome.Quality < 0 || o.Outcome.Quality > 100 {
		return errors.Wrapf(learning.ErrInvalidObservation, "outcome quality %.1f out of range [0,100]", o.Outcome.Quality)
	}
	if len(o.Skills) == 0 && len(o.Agents) == 0 {
		return errors.Wrap(learning.ErrInvalidObservation, "no skills or agents named")
	}
	return nil
}

// Service turns observations into persisted patterns and metric updates,
// and triggers retraining when the policy says so.
type Service struct {
	repo    Repository
	trainer Trainer
	policy  RetrainPolicy
	rollup  *Rollup
	now     func() time.Time
}

// NewService wires a capture Service. trainer may be nil, which disables
// capture-triggered retraining.
func NewService(repo Repository, trainer Trainer, policy RetrainPolicy, cfg *config.Config) *Service {
	return &Service{
		repo:    repo,
		trainer: trainer,
		policy:  policy,
		rollup:  NewRollup(cfg.MetricAlpha),
		now:     time.Now,
	}
}

// Capture appends a pattern for the observation, rolling every involved
// skill and agent metric forward inside the same transaction. Successful
// outcomes credit reuse to the retrieval neighbors that informed the
// prediction. Returns the persisted pattern and, when the retrain policy
// fired, the training report.
func (s *Service) Capture(ctx context.Context, fp learning.ProjectFingerprint, obs Observation, reusedNeighbors []string) (learning.Pattern, *learning.TrainReport, error) {
	log := logger.G(ctx).WithField("projectHash", fp.Hash)

	if err := obs.validate(); err != nil {
		return learning.Pattern{}, nil, err
	}

	history, err := s.repo.QueryByFingerprint(ctx, fp.Hash, learning.QueryOptions{})
	if err != nil {
		return learning.Pattern{}, nil, errors.Wrap(err, "failed to load pattern history")
	}

	p := learning.Pattern{
		ID:          uuid.New().String(),
		ProjectHash: fp.Hash,
		CreatedAt:   s.now().UTC(),
		TaskType:    taskTypeOf(obs.Context.Type),
		Context:     obs.Context,
		Skills:      normalizeNames(obs.Skills),
		Agents:      normalizeNames(obs.Agents),
		Approach:    obs.Approach,
		Outcome:     obs.Outcome,
	}

	supporters := corroborating(history, p)
	p.Confidence = patternConfidence(supporters, p)

	counter, err := s.repo.Capture(ctx, p, s.rollup)
	if err != nil {
		return learning.Pattern{}, nil, err
	}
	log.WithField("pattern", p.ID).WithField("captures", counter).Debug("captured pattern")

	// Reuse is credited on the capture side so prediction stays a pure read.
	if obs.Outcome.Success && len(reusedNeighbors) > 0 {
		if err := s.repo.IncrementReuse(ctx, reusedNeighbors); err != nil {
			log.WithError(err).Warn("failed to credit reuse to retrieval neighbors")
		}
	}

	// Corroborating patterns share the new pattern's cohort, so their
	// confidence is revised to the same value.
	for _, sp := range supporters {
		if err := s.repo.UpdateConfidence(ctx, sp.ID, p.Confidence); err != nil {
			log.WithError(err).WithField("pattern", sp.ID).Warn("failed to revise pattern confidence")
		}
	}

	var report *learning.TrainReport
	if s.trainer != nil && s.policy != nil && s.policy.ShouldRetrain(counter, p.CreatedAt) {
		r, err := s.trainer.Train(ctx)
		if err != nil {
			// The pattern is already durable; a bad fit is reported,
			// never propagated as a capture failure.
			log.WithError(err).Warn("capture-triggered training reported failures")
		}
		report = &r
	}

	return p, report, nil
}

// patternConfidence derives a pattern's confidence from how much history
// corroborates it: data volume times outcome consistency.
func patternConfidence(supporters []learning.Pattern, p learning.Pattern) float64 {
	qualities := make([]float64, 0, len(supporters)+1)
	for _, sp := range supporters {
		qualities = append(qualities, sp.Outcome.Quality)
	}
	qualities = append(qualities, p.Outcome.Quality)

	volume := math.Min(1.0, float64(len(qualities))/50.0)
	consistency := 1.0 - math.Min(1.0, 2.0*stddev(qualities)/100.0)
	return volume * consistency
}

// corroborating selects history entries with the same task type that share
// at least one skill with the new pattern.
func corroborating(history []learning.Pattern, p learning.Pattern) []learning.Pattern {
	skills := map[string]bool{}
	for _, s := range p.Skills {
		skills[s] = true
	}

	var out []learning.Pattern
	for _, h := range history {
		if h.TaskType != p.TaskType {
			continue
		}
		for _, s := range h.Skills {
			if skills[s] {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

func taskTypeOf(t learning.TaskType) learning.TaskType {
	if t == "" {
		return learning.TaskOther
	}
	return t
}

func normalizeNames(names []string) []string {
	set := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
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
