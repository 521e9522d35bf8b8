// Package transfer moves knowledge across project boundaries: it promotes
// high-confidence, reused local patterns into the shared pool as anonymized
// universal patterns, and feeds observed cross-project benefit back into
// their transferability estimates.
package transfer

import (
	"context"
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

const (
	// initialTransferability is the prior for a freshly promoted pattern;
	// feedback nudges it from there.
	initialTransferability = 0.5

	// transferabilityStep is the per-observation feedback nudge.
	transferabilityStep = 0.05

	// benefitQuality is the outcome quality at or above which a task that
	// ingested a universal pattern counts as having benefited from it.
	benefitQuality = 70.0
)

// LocalRepository is the slice of the project store promotion reads from.
type LocalRepository interface {
	PromotionCandidates(ctx context.Context, minConfidence float64) ([]learning.Pattern, error)
	MarkPromoted(ctx context.Context, id string, at time.Time) error
}

// Pool is the shared universal-pattern store. All methods may fail with
// learning.ErrPoolUnavailable, which the Manager degrades on silently.
type Pool interface {
	Add(ctx context.Context, u learning.UniversalPattern, originKey string) error
	AdjustTransferability(ctx context.Context, id string, delta float64) error
}

// Manager runs promotion and transferability feedback.
type Manager struct {
	repo LocalRepository
	pool Pool
	cfg  *config.Config
	now  func() time.Time
}

// NewManager wires a transfer Manager. pool may be nil, which makes every
// operation a no-op.
func NewManager(repo LocalRepository, pool Pool, cfg *config.Config) *Manager {
	return &Manager{repo: repo, pool: pool, cfg: cfg, now: time.Now}
}

// Promote pushes every eligible local pattern into the shared pool and
// marks it promoted so it is never pushed twice. Eligibility is confidence
// at or above the configured threshold plus at least one reuse by a task
// other than the one that created it. A missing or unreachable pool is not
// an error; promotion simply waits for the next pass.
func (m *Manager) Promote(ctx context.Context, fp learning.ProjectFingerprint) (int, error) {
	if m.pool == nil {
		return 0, nil
	}
	log := logger.G(ctx).WithField("projectHash", fp.Hash)

	candidates, err := m.repo.PromotionCandidates(ctx, m.cfg.PromotionConfidence)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list promotion candidates")
	}

	originKey := store.OriginKey(fp.Hash)
	promoted := 0
	for _, p := range candidates {
		u := Anonymize(p, fp, m.now().UTC())
		if err := m.pool.Add(ctx, u, originKey); err != nil {
			if errors.Is(err, learning.ErrPoolUnavailable) {
				log.WithError(err).Warn("shared pool unavailable, deferring promotion")
				return promoted, nil
			}
			return promoted, errors.Wrapf(err, "failed to promote pattern %s", p.ID)
		}
		if err := m.repo.MarkPromoted(ctx, p.ID, m.now().UTC()); err != nil {
			return promoted, errors.Wrapf(err, "failed to mark pattern %s promoted", p.ID)
		}
		promoted++
	}

	if promoted > 0 {
		log.WithField("promoted", promoted).Debug("promoted patterns to shared pool")
	}
	return promoted, nil
}

// RecordBenefit feeds one ingesting task's outcome back into the
// transferability of every universal pattern it retrieved. Success with
// decent quality nudges them up, anything else nudges them down. Pool
// errors degrade silently.
func (m *Manager) RecordBenefit(ctx context.Context, universalIDs []string, outcome learning.Outcome) {
	if m.pool == nil || len(universalIDs) == 0 {
		return
	}
	log := logger.G(ctx)

	delta := -transferabilityStep
	if outcome.Success && outcome.Quality >= benefitQuality {
		delta = transferabilityStep
	}

	for _, id := range universalIDs {
		if err := m.pool.AdjustTransferability(ctx, id, delta); err != nil {
			log.WithError(err).WithField("universalPattern", id).Warn("failed to adjust transferability")
			return
		}
	}
}

// Anonymize projects a local pattern into its shareable form: feature sets
// and outcome quality survive, project identity and literal task text do
// not. The universal pattern gets its own id so nothing links it back.
func Anonymize(p learning.Pattern, fp learning.ProjectFingerprint, at time.Time) learning.UniversalPattern {
	return learning.UniversalPattern{
		ID:              uuid.New().String(),
		CreatedAt:       at,
		TaskType:        p.TaskType,
		Technologies:    mergeSets(fp.Features.Technologies, p.Context.Technologies),
		Architecture:    mergeSets(fp.Features.Architecture, nil),
		DomainKeywords:  mergeSets(fp.Features.DomainKeywords, p.Context.DomainTags),
		Complexity:      p.Context.Complexity,
		TeamSize:        teamSizeOf(p, fp),
		Skills:          append([]string(nil), p.Skills...),
		Success:         p.Outcome.Success,
		Quality:         p.Outcome.Quality,
		Transferability: initialTransferability,
	}
}

func teamSizeOf(p learning.Pattern, fp learning.ProjectFingerprint) learning.TeamSize {
	if p.Context.TeamSize != "" {
		return p.Context.TeamSize
	}
	return fp.Features.TeamSize
}

func mergeSets(a, b []string) []string {
	set := map[string]bool{}
	for _, v := range append(append([]string(nil), a...), b...) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
