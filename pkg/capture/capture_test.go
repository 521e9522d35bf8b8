package capture

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

type stubTrainer struct {
	calls  int
	report learning.TrainReport
	err    error
}

func (t *stubTrainer) Train(_ context.Context) (learning.TrainReport, error) {
	t.calls++
	return t.report, t.err
}

type stubRepo struct {
	counter     int64
	captured    []learning.Pattern
	reused      [][]string
	confidences map[string]float64
}

func (r *stubRepo) Capture(_ context.Context, p learning.Pattern, _ store.MetricUpdater) (int64, error) {
	r.captured = append(r.captured, p)
	r.counter++
	return r.counter, nil
}

func (r *stubRepo) QueryByFingerprint(_ context.Context, projectHash string, _ learning.QueryOptions) ([]learning.Pattern, error) {
	var out []learning.Pattern
	for _, p := range r.captured {
		if p.ProjectHash == projectHash {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubRepo) IncrementReuse(_ context.Context, ids []string) error {
	r.reused = append(r.reused, ids)
	return nil
}

func (r *stubRepo) UpdateConfidence(_ context.Context, id string, confidence float64) error {
	if r.confidences == nil {
		r.confidences = map[string]float64{}
	}
	r.confidences[id] = confidence
	return nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(context.Background(), filepath.Join(t.TempDir(), "skillcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testFingerprint() learning.ProjectFingerprint {
	return learning.ProjectFingerprint{
		Hash: "fp-test",
		Features: learning.FingerprintFeatures{
			Technologies: []string{"go"},
			TeamSize:     learning.TeamSmall,
		},
		ComputedAt: time.Now(),
	}
}

func testObservation(success bool, quality float64) Observation {
	return Observation{
		Context: learning.TaskContext{
			Type:         learning.TaskRefactor,
			Intent:       "tidy the storage layer",
			Technologies: []string{"go"},
			Complexity:   learning.ComplexityMedium,
		},
		Skills:   []string{"code-analysis"},
		Approach: "incremental extraction",
		Outcome:  learning.Outcome{Success: success, Quality: quality, Duration: 3 * time.Minute},
	}
}

func TestRollupFirstObservation(t *testing.T) {
	r := NewRollup(0.3)
	at := time.Now()

	m := r.UpdateSkill(learning.SkillMetric{Name: "code-analysis"}, learning.Outcome{Success: true, Quality: 80}, at)

	assert.Equal(t, 1, m.UsageCount)
	assert.Equal(t, 1, m.SuccessCount)
	assert.InDelta(t, 80.0, m.AvgQuality, 1e-9)
	assert.InDelta(t, 0.8, m.RollingScore, 1e-9)
	assert.Equal(t, at, m.LastUsedAt)
}

func TestRollupFailureLowersScore(t *testing.T) {
	r := NewRollup(0.3)
	at := time.Now()

	m := r.UpdateSkill(learning.SkillMetric{Name: "code-analysis"}, learning.Outcome{Success: true, Quality: 80}, at)
	before := m.RollingScore

	m = r.UpdateSkill(m, learning.Outcome{Success: false, Quality: 20}, at.Add(time.Hour))

	assert.Less(t, m.RollingScore, before)
	assert.Equal(t, 2, m.UsageCount)
	assert.Equal(t, 1, m.SuccessCount)
	assert.InDelta(t, 50.0, m.AvgQuality, 1e-9)
	// (1-0.3)*0.8 + 0.3*(0.2*0.25)
	assert.InDelta(t, 0.575, m.RollingScore, 1e-9)
}

func TestRollupIsNotAPlainMean(t *testing.T) {
	r := NewRollup(0.3)
	m := learning.SkillMetric{Name: "s"}
	at := time.Now()

	// Ten old successes followed by one recent failure.
	for i := 0; i < 10; i++ {
		m = r.UpdateSkill(m, learning.Outcome{Success: true, Quality: 90}, at)
	}
	m = r.UpdateSkill(m, learning.Outcome{Success: false, Quality: 10}, at)

	// A plain mean would barely move; the rolling score drops hard.
	assert.Less(t, m.RollingScore, 0.7)
	assert.Greater(t, m.AvgQuality, 80.0)
}

func TestCountPolicy(t *testing.T) {
	p := CountPolicy{Every: 25}
	now := time.Now()

	assert.False(t, p.ShouldRetrain(24, now))
	assert.True(t, p.ShouldRetrain(25, now))
	assert.False(t, p.ShouldRetrain(26, now))
	assert.True(t, p.ShouldRetrain(50, now))

	assert.False(t, CountPolicy{}.ShouldRetrain(25, now))
}

func TestTimePolicy(t *testing.T) {
	p := NewTimePolicy(time.Hour)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.ShouldRetrain(1, start))
	assert.False(t, p.ShouldRetrain(2, start.Add(30*time.Minute)))
	assert.True(t, p.ShouldRetrain(3, start.Add(61*time.Minute)))
}

func TestServiceCaptureWritesPatternAndMetrics(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	svc := NewService(st, nil, CountPolicy{Every: 25}, config.Default())

	p, report, err := svc.Capture(ctx, testFingerprint(), testObservation(true, 85), nil)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.NotEmpty(t, p.ID)
	assert.Greater(t, p.Confidence, 0.0)

	patterns, err := st.QueryByFingerprint(ctx, "fp-test", learning.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"code-analysis"}, patterns[0].Skills)

	metrics, err := st.SkillMetrics(ctx)
	require.NoError(t, err)
	require.Contains(t, metrics, "code-analysis")
	assert.Equal(t, 1, metrics["code-analysis"].UsageCount)
	assert.InDelta(t, 0.85, metrics["code-analysis"].RollingScore, 1e-9)

	counter, err := st.Counter(ctx, store.PatternCounter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)
}

func TestServiceRejectsInvalidObservation(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	svc := NewService(st, nil, nil, config.Default())

	obs := testObservation(true, 150)
	_, _, err := svc.Capture(ctx, testFingerprint(), obs, nil)
	require.ErrorIs(t, err, learning.ErrInvalidObservation)

	obs = testObservation(true, 80)
	obs.Skills = nil
	_, _, err = svc.Capture(ctx, testFingerprint(), obs, nil)
	require.ErrorIs(t, err, learning.ErrInvalidObservation)

	patterns, err := st.ListPatterns(ctx, learning.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, patterns, "rejected observations must leave no partial pattern")
}

func TestServiceNormalizesSkillNames(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, config.Default())

	obs := testObservation(true, 80)
	obs.Skills = []string{" Code-Analysis ", "code-analysis", "Testing"}

	p, _, err := svc.Capture(context.Background(), testFingerprint(), obs, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"code-analysis", "testing"}, p.Skills)
}

func TestServiceTriggersRetrainOnPolicy(t *testing.T) {
	repo := &stubRepo{counter: 24} // next capture lands on 25
	trainer := &stubTrainer{report: learning.TrainReport{Retrained: []string{"code-analysis"}}}
	svc := NewService(repo, trainer, CountPolicy{Every: 25}, config.Default())

	_, report, err := svc.Capture(context.Background(), testFingerprint(), testObservation(true, 85), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, trainer.calls)
	require.NotNil(t, report)
	assert.Equal(t, []string{"code-analysis"}, report.Retrained)
}

func TestServiceTrainingFailureDoesNotFailCapture(t *testing.T) {
	repo := &stubRepo{counter: 24}
	trainer := &stubTrainer{
		report: learning.TrainReport{Failures: map[string]string{"code-analysis": "timeout"}},
		err:    assert.AnError,
	}
	svc := NewService(repo, trainer, CountPolicy{Every: 25}, config.Default())

	_, report, err := svc.Capture(context.Background(), testFingerprint(), testObservation(true, 85), nil)

	require.NoError(t, err, "pattern capture must survive a failed training pass")
	require.NotNil(t, report)
	assert.Contains(t, report.Failures, "code-analysis")
	assert.Len(t, repo.captured, 1)
}

func TestServiceCreditsReuseOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	svc := NewService(st, nil, nil, config.Default())

	seed, _, err := svc.Capture(ctx, testFingerprint(), testObservation(true, 85), nil)
	require.NoError(t, err)

	// Failure must not credit the neighbor.
	_, _, err = svc.Capture(ctx, testFingerprint(), testObservation(false, 30), []string{seed.ID})
	require.NoError(t, err)

	patterns, err := st.QueryByFingerprint(ctx, "fp-test", learning.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, reuseOf(patterns, seed.ID))

	// Success does.
	_, _, err = svc.Capture(ctx, testFingerprint(), testObservation(true, 90), []string{seed.ID})
	require.NoError(t, err)

	patterns, err = st.QueryByFingerprint(ctx, "fp-test", learning.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, reuseOf(patterns, seed.ID))
}

func TestServiceRevisesCorroboratingConfidence(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	svc := NewService(st, nil, nil, config.Default())

	first, _, err := svc.Capture(ctx, testFingerprint(), testObservation(true, 85), nil)
	require.NoError(t, err)

	second, _, err := svc.Capture(ctx, testFingerprint(), testObservation(true, 87), nil)
	require.NoError(t, err)

	patterns, err := st.QueryByFingerprint(ctx, "fp-test", learning.QueryOptions{})
	require.NoError(t, err)

	assert.Greater(t, second.Confidence, first.Confidence,
		"confidence grows with corroborating volume")
	assert.InDelta(t, second.Confidence, confidenceOf(patterns, first.ID), 1e-9,
		"earlier pattern joins the new cohort")
}

func TestPatternConfidenceConsistencyPenalty(t *testing.T) {
	base := testObservation(true, 85)
	p := learning.Pattern{TaskType: learning.TaskRefactor, Skills: []string{"code-analysis"}, Outcome: base.Outcome}

	consistent := make([]learning.Pattern, 10)
	scattered := make([]learning.Pattern, 10)
	for i := range consistent {
		consistent[i] = learning.Pattern{Outcome: learning.Outcome{Quality: 85}}
		q := 20.0
		if i%2 == 0 {
			q = 95.0
		}
		scattered[i] = learning.Pattern{Outcome: learning.Outcome{Quality: q}}
	}

	assert.Greater(t, patternConfidence(consistent, p), patternConfidence(scattered, p))
}

func reuseOf(patterns []learning.Pattern, id string) int {
	for _, p := range patterns {
		if p.ID == id {
			return p.ReuseCount
		}
	}
	return -1
}

func confidenceOf(patterns []learning.Pattern, id string) float64 {
	for _, p := range patterns {
		if p.ID == id {
			return p.Confidence
		}
	}
	return -1
}
