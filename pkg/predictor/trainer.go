package predictor

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// ModelStore is the slice of the repository the trainer needs.
type ModelStore interface {
	ListPatterns(ctx context.Context, opts learning.QueryOptions) ([]learning.Pattern, error)
	LoadModel(ctx context.Context, skill string) (*learning.PredictionModel, error)
	SaveModel(ctx context.Context, m learning.PredictionModel) error
}

// Trainer fits per-skill models from the pattern history. Failures are
// isolated per skill: one bad fit is reported but never blocks the rest.
type Trainer struct {
	store ModelStore
	cfg   *config.Config
	// now is injectable for reproducible timestamps in tests
	now func() time.Time
}

// NewTrainer creates a Trainer backed by the given repository.
func NewTrainer(store ModelStore, cfg *config.Config) *Trainer {
	return &Trainer{store: store, cfg: cfg, now: time.Now}
}

// Train fits every skill whose model is untrained or stale and has enough
// examples. Skills already trained on current data are skipped, so calling
// Train twice without an intervening capture leaves parameters untouched.
// The returned error aggregates per-skill failures; a non-nil error still
// comes with a complete report.
func (t *Trainer) Train(ctx context.Context) (learning.TrainReport, error) {
	report := learning.TrainReport{Failures: map[string]string{}}

	patterns, err := t.store.ListPatterns(ctx, learning.QueryOptions{})
	if err != nil {
		return report, errors.Wrap(err, "failed to list patterns for training")
	}

	examples, usageCounts := BuildExamples(patterns)

	skills := make([]string, 0, len(examples))
	for skill := range examples {
		skills = append(skills, skill)
	}
	sort.Strings(skills)

	var merr *multierror.Error
	for _, skill := range skills {
		retrained, err := t.trainSkill(ctx, skill, examples[skill], usageCounts[skill])
		if err != nil {
			report.Failures[skill] = err.Error()
			merr = multierror.Append(merr, errors.Wrapf(err, "skill %s", skill))
			continue
		}
		if retrained {
			report.Retrained = append(report.Retrained, skill)
		} else {
			report.Skipped = append(report.Skipped, skill)
		}
	}

	return report, merr.ErrorOrNil()
}

// trainSkill fits one skill under the configured timeout. It returns false
// when the skill was skipped (insufficient data or already current).
func (t *Trainer) trainSkill(ctx context.Context, skill string, examples []Example, usageCount int) (bool, error) {
	log := logger.G(ctx).WithField("skill", skill)

	existing, err := t.store.LoadModel(ctx, skill)
	if err != nil {
		return false, errors.Wrap(err, "failed to load existing model")
	}

	switch existing.State(usageCount, t.cfg.MinTrainingExamples, t.cfg.StaleGrowthFactor) {
	case learning.ModelTrained:
		return false, nil
	case learning.ModelUntrained:
		if usageCount < t.cfg.MinTrainingExamples {
			return false, nil
		}
	}

	fitCtx, cancel := context.WithTimeout(ctx, t.cfg.TrainTimeout)
	defer cancel()

	model, err := Fit(fitCtx, skill, examples, usageCount, t.now().UTC())
	if err != nil {
		// Timeout counts as a training failure; the previous model, if
		// any, remains authoritative.
		return false, err
	}

	if err := t.store.SaveModel(ctx, model); err != nil {
		return false, errors.Wrap(err, "failed to save model")
	}

	log.WithField("examples", usageCount).Debug("retrained skill model")
	return true, nil
}
