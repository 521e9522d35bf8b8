package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillcast/pkg/capture"
	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/store"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

func testEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.PoolPath = filepath.Join(t.TempDir(), "pool.db")

	e, err := New(context.Background(), root, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, root
}

func refactorObservation(skill string, quality float64) capture.Observation {
	return capture.Observation{
		Context: learning.TaskContext{
			Type:         learning.TaskRefactor,
			Intent:       "restructure module boundaries",
			Technologies: []string{"go"},
			Complexity:   learning.ComplexityMedium,
		},
		Skills:  []string{skill},
		Outcome: learning.Outcome{Success: true, Quality: quality, Duration: time.Minute},
	}
}

func TestEnginePredictInsufficientData(t *testing.T) {
	e, _ := testEngine(t)

	_, err := e.Predict(context.Background(), learning.TaskContext{Type: learning.TaskRefactor})

	assert.ErrorIs(t, err, learning.ErrInsufficientData)
}

func TestEngineCaptureThenPredict(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	// 27 high-quality code-analysis refactors, 3 mediocre logging-cleanups.
	for i := 0; i < 30; i++ {
		obs := refactorObservation("code-analysis", 90)
		if i%10 == 9 {
			obs = refactorObservation("logging-cleanup", 60)
		}
		_, _, err := e.Capture(ctx, obs)
		require.NoError(t, err)
	}

	result, err := e.Predict(ctx, learning.TaskContext{
		Type:         learning.TaskRefactor,
		Intent:       "restructure the request pipeline",
		Technologies: []string{"go"},
		Complexity:   learning.ComplexityMedium,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Predictions)

	assert.Equal(t, "code-analysis", result.Predictions[0].Skill)

	byName := map[string]learning.Prediction{}
	for _, p := range result.Predictions {
		byName[p.Skill] = p
	}
	if cleanup, ok := byName["logging-cleanup"]; ok {
		analysis := byName["code-analysis"]
		assert.Greater(t, analysis.Probability, cleanup.Probability)
		assert.Greater(t, analysis.Confidence, cleanup.Confidence)
	}
	assert.NotEmpty(t, result.NeighborIDs)
}

func TestEngineCaptureTriggersRetrain(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	var report *learning.TrainReport
	for i := 0; i < 25; i++ {
		var err error
		_, report, err = e.Capture(ctx, refactorObservation("code-analysis", 90))
		require.NoError(t, err)
		if i < 24 {
			assert.Nil(t, report, "policy fires only on the retrain boundary")
		}
	}

	require.NotNil(t, report, "25th capture crosses the retrain boundary")
	assert.Contains(t, report.Retrained, "code-analysis")
}

func TestEngineTrainIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	for i := 0; i < 24; i++ {
		_, _, err := e.Capture(ctx, refactorObservation("code-analysis", 88))
		require.NoError(t, err)
	}

	first, err := e.Train(ctx)
	require.NoError(t, err)
	assert.Contains(t, first.Retrained, "code-analysis")

	second, err := e.Train(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Retrained, "no new captures means nothing to refit")
	assert.Contains(t, second.Skipped, "code-analysis")
}

func TestEngineCreditsReuseAfterPredict(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := config.Default()

	e, err := New(ctx, root, cfg)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, _, err := e.Capture(ctx, refactorObservation("code-analysis", 90))
		require.NoError(t, err)
	}

	result, err := e.Predict(ctx, learning.TaskContext{Type: learning.TaskRefactor, Technologies: []string{"go"}})
	require.NoError(t, err)
	require.NotEmpty(t, result.NeighborIDs)

	_, _, err = e.Capture(ctx, refactorObservation("code-analysis", 92))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	st, err := store.NewStore(ctx, filepath.Join(root, cfg.DataDir, DatabaseFile))
	require.NoError(t, err)
	defer st.Close()

	patterns, err := st.ListPatterns(ctx, learning.QueryOptions{})
	require.NoError(t, err)

	reused := 0
	for _, p := range patterns {
		reused += p.ReuseCount
	}
	assert.Equal(t, len(result.NeighborIDs), reused,
		"every retrieval neighbor of the prediction is credited once")
}

func TestEngineFingerprintPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	cfg := config.Default()

	e, err := New(ctx, root, cfg)
	require.NoError(t, err)
	first := e.Fingerprint()
	require.NoError(t, e.Close())

	e, err = New(ctx, root, cfg)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, first.Hash, e.Fingerprint().Hash)
	assert.Contains(t, e.Fingerprint().Features.Technologies, "go")
}

func TestEngineRefreshFingerprint(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	e, err := New(ctx, root, config.Default())
	require.NoError(t, err)
	defer e.Close()

	before := e.Fingerprint()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"demo"}`), 0o644))

	after, err := e.RefreshFingerprint(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, before.Hash, after.Hash)
	assert.Equal(t, after.Hash, e.Fingerprint().Hash)
}

func TestEnginePredictSurvivesFingerprintRefresh(t *testing.T) {
	ctx := context.Background()
	e, root := testEngine(t)

	for i := 0; i < 30; i++ {
		_, _, err := e.Capture(ctx, refactorObservation("code-analysis", 90))
		require.NoError(t, err)
	}

	// A material signal change supersedes the fingerprint but must not
	// orphan the history captured under the old hash.
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"demo"}`), 0o644))
	before := e.Fingerprint()
	after, err := e.RefreshFingerprint(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before.Hash, after.Hash)

	result, err := e.Predict(ctx, learning.TaskContext{
		Type:         learning.TaskRefactor,
		Technologies: []string{"go"},
		Complexity:   learning.ComplexityMedium,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Predictions)
	assert.Equal(t, "code-analysis", result.Predictions[0].Skill)
}

func TestEngineReuseCreditSurvivesRejectedCapture(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := config.Default()

	e, err := New(ctx, root, cfg)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, _, err := e.Capture(ctx, refactorObservation("code-analysis", 90))
		require.NoError(t, err)
	}

	result, err := e.Predict(ctx, learning.TaskContext{Type: learning.TaskRefactor, Technologies: []string{"go"}})
	require.NoError(t, err)
	require.NotEmpty(t, result.NeighborIDs)

	// A malformed observation is rejected without consuming the
	// prediction's neighbor note.
	invalid := refactorObservation("code-analysis", 90)
	invalid.Skills = nil
	_, _, err = e.Capture(ctx, invalid)
	require.ErrorIs(t, err, learning.ErrInvalidObservation)

	_, _, err = e.Capture(ctx, refactorObservation("code-analysis", 92))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	st, err := store.NewStore(ctx, filepath.Join(root, cfg.DataDir, DatabaseFile))
	require.NoError(t, err)
	defer st.Close()

	patterns, err := st.ListPatterns(ctx, learning.QueryOptions{})
	require.NoError(t, err)

	reused := 0
	for _, p := range patterns {
		reused += p.ReuseCount
	}
	assert.Equal(t, len(result.NeighborIDs), reused,
		"the valid capture after the rejected one still credits the neighbors")
}

func TestEnginePrune(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	for i := 0; i < 5; i++ {
		_, _, err := e.Capture(ctx, refactorObservation(fmt.Sprintf("skill-%d", i), 40))
		require.NoError(t, err)
	}

	removed, err := e.Prune(ctx, 0.2, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)
}
