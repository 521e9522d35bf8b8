package transfer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/store"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

type unavailablePool struct{}

func (unavailablePool) Add(_ context.Context, _ learning.UniversalPattern, _ string) error {
	return learning.ErrPoolUnavailable
}

func (unavailablePool) AdjustTransferability(_ context.Context, _ string, _ float64) error {
	return learning.ErrPoolUnavailable
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testPool(t *testing.T) *store.PoolStore {
	t.Helper()
	pool, err := store.NewPoolStore(context.Background(), filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func testFingerprint() learning.ProjectFingerprint {
	return learning.ProjectFingerprint{
		Hash: "origin-project",
		Features: learning.FingerprintFeatures{
			Technologies:   []string{"Go", "postgres"},
			Architecture:   []string{"cli"},
			DomainKeywords: []string{"api"},
			TeamSize:       learning.TeamSmall,
		},
	}
}

func seedPattern(id string, confidence float64, reuse int) learning.Pattern {
	return learning.Pattern{
		ID:          id,
		ProjectHash: "origin-project",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TaskType:    learning.TaskRefactor,
		Context: learning.TaskContext{
			Type:         learning.TaskRefactor,
			Intent:       "secret internal details",
			Technologies: []string{"go"},
			Complexity:   learning.ComplexityMedium,
		},
		Skills:     []string{"code-analysis"},
		Approach:   "proprietary approach text",
		Outcome:    learning.Outcome{Success: true, Quality: 90},
		ReuseCount: reuse,
		Confidence: confidence,
	}
}

func TestAnonymizeStripsProjectIdentity(t *testing.T) {
	p := seedPattern("local-id", 0.9, 2)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	u := Anonymize(p, testFingerprint(), at)

	assert.NotEqual(t, p.ID, u.ID, "universal pattern must not reuse the local id")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, at, u.CreatedAt, "original timestamp is not carried over")
	assert.Equal(t, learning.TaskRefactor, u.TaskType)
	assert.Equal(t, []string{"go", "postgres"}, u.Technologies)
	assert.Equal(t, []string{"cli"}, u.Architecture)
	assert.Equal(t, learning.TeamSmall, u.TeamSize)
	assert.Equal(t, []string{"code-analysis"}, u.Skills)
	assert.Equal(t, 90.0, u.Quality)
	assert.Equal(t, initialTransferability, u.Transferability)
}

func TestPromotePushesOnlyEligiblePatterns(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	pool := testPool(t)
	m := NewManager(st, pool, config.Default())

	require.NoError(t, st.AppendPattern(ctx, seedPattern("eligible", 0.9, 0)))
	require.NoError(t, st.AppendPattern(ctx, seedPattern("low-confidence", 0.3, 0)))
	require.NoError(t, st.AppendPattern(ctx, seedPattern("never-reused", 0.9, 0)))
	require.NoError(t, st.IncrementReuse(ctx, []string{"eligible"}))

	promoted, err := m.Promote(ctx, testFingerprint())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	universal, err := pool.List(ctx)
	require.NoError(t, err)
	require.Len(t, universal, 1)
	assert.Equal(t, []string{"code-analysis"}, universal[0].Skills)

	count, err := pool.ContributionCount(ctx, store.OriginKey("origin-project"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPromoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	pool := testPool(t)
	m := NewManager(st, pool, config.Default())

	require.NoError(t, st.AppendPattern(ctx, seedPattern("eligible", 0.9, 0)))
	require.NoError(t, st.IncrementReuse(ctx, []string{"eligible"}))

	promoted, err := m.Promote(ctx, testFingerprint())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	promoted, err = m.Promote(ctx, testFingerprint())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted, "already-promoted patterns must not be pushed twice")

	universal, err := pool.List(ctx)
	require.NoError(t, err)
	assert.Len(t, universal, 1)
}

func TestPromoteDegradesWhenPoolUnavailable(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	m := NewManager(st, unavailablePool{}, config.Default())

	require.NoError(t, st.AppendPattern(ctx, seedPattern("eligible", 0.9, 0)))
	require.NoError(t, st.IncrementReuse(ctx, []string{"eligible"}))

	promoted, err := m.Promote(ctx, testFingerprint())
	require.NoError(t, err, "pool unavailability is a degradation, not an error")
	assert.Equal(t, 0, promoted)

	// The pattern stays eligible for the next pass.
	candidates, err := st.PromotionCandidates(ctx, config.Default().PromotionConfidence)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestPromoteWithoutPoolIsNoop(t *testing.T) {
	m := NewManager(testStore(t), nil, config.Default())

	promoted, err := m.Promote(context.Background(), testFingerprint())
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
}

func TestRecordBenefitAdjustsTransferability(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	m := NewManager(testStore(t), pool, config.Default())

	u := Anonymize(seedPattern("p", 0.9, 1), testFingerprint(), time.Now().UTC())
	require.NoError(t, pool.Add(ctx, u, store.OriginKey("origin-project")))

	m.RecordBenefit(ctx, []string{u.ID}, learning.Outcome{Success: true, Quality: 88})

	universal, err := pool.List(ctx)
	require.NoError(t, err)
	require.Len(t, universal, 1)
	assert.InDelta(t, initialTransferability+transferabilityStep, universal[0].Transferability, 1e-9)

	m.RecordBenefit(ctx, []string{u.ID}, learning.Outcome{Success: false, Quality: 40})
	m.RecordBenefit(ctx, []string{u.ID}, learning.Outcome{Success: true, Quality: 50})

	universal, err = pool.List(ctx)
	require.NoError(t, err)
	assert.InDelta(t, initialTransferability-transferabilityStep, universal[0].Transferability, 1e-9)
}
