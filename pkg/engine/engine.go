// Package engine wires fingerprinting, storage, prediction, capture,
// transfer, and analytics into the single facade callers interact with.
// One Engine instance serves one project.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillcast/pkg/analytics"
	"github.com/jingkaihe/skillcast/pkg/capture"
	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/fingerprint"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/predictor"
	"github.com/jingkaihe/skillcast/pkg/similarity"
	"github.com/jingkaihe/skillcast/pkg/store"
	"github.com/jingkaihe/skillcast/pkg/telemetry"
	"github.com/jingkaihe/skillcast/pkg/transfer"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// DatabaseFile is the local state database name inside the data directory.
const DatabaseFile = "skillcast.db"

// Engine is the per-project facade over the whole learning pipeline.
type Engine struct {
	root string
	cfg  *config.Config

	store     *store.Store
	pool      *store.PoolStore
	predictor *predictor.Predictor
	trainer   *predictor.Trainer
	capture   *capture.Service
	transfer  *transfer.Manager
	analytics *analytics.Service

	// mu guards the fingerprint and the neighbor note. Prediction is a
	// pure read; the neighbors that informed the latest prediction are
	// remembered here and credited by the next successful capture. noteSeq
	// ties a note to the prediction that produced it, so a capture only
	// clears the note it actually consumed.
	mu            sync.Mutex
	fp            learning.ProjectFingerprint
	noteSeq       uint64
	lastNeighbors []string
	lastUniversal []string
}

// New opens (or initializes) the engine for the project rooted at root.
// The shared pool is optional; failure to open it degrades the engine to
// local-only operation.
func New(ctx context.Context, root string, cfg *config.Config) (*Engine, error) {
	log := logger.G(ctx).WithField("root", root)

	st, err := store.NewStore(ctx, filepath.Join(root, cfg.DataDir, DatabaseFile))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open pattern store")
	}

	var pool *store.PoolStore
	if cfg.PoolPath != "" {
		pool, err = store.NewPoolStore(ctx, cfg.PoolPath)
		if err != nil {
			log.WithError(err).Warn("shared pool unavailable, running local-only")
			pool = nil
		}
	}

	e := &Engine{
		root:  root,
		cfg:   cfg,
		store: st,
		pool:  pool,
	}

	if err := e.loadFingerprint(ctx); err != nil {
		st.Close()
		return nil, err
	}

	sim := similarity.NewEngine(cfg.Similarity)
	e.trainer = predictor.NewTrainer(st, cfg)
	e.predictor = predictor.New(st, e.poolSource(), sim, cfg)
	e.capture = capture.NewService(st, e.trainer, capture.CountPolicy{Every: int64(cfg.RetrainEvery)}, cfg)
	e.transfer = transfer.NewManager(st, e.poolOrNil(), cfg)
	e.analytics = analytics.NewService(st)

	return e, nil
}

// Fingerprint returns the current project fingerprint.
func (e *Engine) Fingerprint() learning.ProjectFingerprint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fp
}

// RefreshFingerprint recomputes the fingerprint from the project tree and
// persists it, superseding the previous one. Patterns keep the hash they
// were captured under and stay retrievable for prediction.
func (e *Engine) RefreshFingerprint(ctx context.Context) (learning.ProjectFingerprint, error) {
	fp := fingerprint.FromProject(e.root)
	if err := e.store.SaveFingerprint(ctx, fp); err != nil {
		return learning.ProjectFingerprint{}, errors.Wrap(err, "failed to save fingerprint")
	}
	e.mu.Lock()
	e.fp = fp
	e.mu.Unlock()
	logger.G(ctx).WithField("fingerprint", fp.Hash).Info("recomputed project fingerprint")
	return fp, nil
}

// Predict returns ranked skill recommendations for the task, or
// learning.ErrInsufficientData when there is no basis for a guess.
func (e *Engine) Predict(ctx context.Context, taskCtx learning.TaskContext) (*predictor.Result, error) {
	fp := e.Fingerprint()

	var result *predictor.Result
	err := telemetry.WithSpan(ctx, "engine.predict", func(ctx context.Context) error {
		var err error
		result, err = e.predictor.Predict(ctx, fp, taskCtx)
		return err
	}, attribute.String("task.type", string(taskCtx.Type)))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.noteSeq++
	e.lastNeighbors = result.NeighborIDs
	e.lastUniversal = result.UniversalIDs
	e.mu.Unlock()

	return result, nil
}

// Capture records a completed task. Successful outcomes credit the
// retrieval neighbors of the preceding prediction, feed transferability
// back to any universal patterns involved, and kick off a promotion pass.
// A task the caller abandons is simply never captured.
func (e *Engine) Capture(ctx context.Context, obs capture.Observation) (learning.Pattern, *learning.TrainReport, error) {
	e.mu.Lock()
	fp := e.fp
	seq := e.noteSeq
	neighbors := e.lastNeighbors
	universal := e.lastUniversal
	e.mu.Unlock()

	var p learning.Pattern
	var report *learning.TrainReport
	err := telemetry.WithSpan(ctx, "engine.capture", func(ctx context.Context) error {
		var err error
		p, report, err = e.capture.Capture(ctx, fp, obs, neighbors)
		return err
	}, attribute.String("task.type", string(obs.Context.Type)))
	if err != nil {
		// The note survives a failed capture; a later valid capture still
		// credits the prediction's neighbors.
		return learning.Pattern{}, nil, err
	}

	e.mu.Lock()
	if e.noteSeq == seq {
		e.lastNeighbors = nil
		e.lastUniversal = nil
	}
	e.mu.Unlock()

	e.transfer.RecordBenefit(ctx, universal, obs.Outcome)

	if _, err := e.transfer.Promote(ctx, fp); err != nil {
		logger.G(ctx).WithError(err).Warn("promotion pass failed")
	}

	return p, report, nil
}

// Train runs an explicit training pass over all skills.
func (e *Engine) Train(ctx context.Context) (learning.TrainReport, error) {
	var report learning.TrainReport
	err := telemetry.WithSpan(ctx, "engine.train", func(ctx context.Context) error {
		var err error
		report, err = e.trainer.Train(ctx)
		return err
	})
	return report, err
}

// Analytics builds the read-only learning report.
func (e *Engine) Analytics(ctx context.Context) (*analytics.Report, error) {
	return e.analytics.Report(ctx)
}

// Prune deletes zero-reuse patterns below the confidence floor older than
// the cutoff. Explicit only; nothing prunes automatically.
func (e *Engine) Prune(ctx context.Context, maxConfidence float64, cutoff time.Time) (int64, error) {
	return e.store.PruneStale(ctx, maxConfidence, cutoff)
}

// Close releases the underlying stores.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.store.Close(); err != nil {
		firstErr = err
	}
	if e.pool != nil {
		if err := e.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadFingerprint reuses the persisted fingerprint when one exists and
// computes a fresh one otherwise. Projects with no detectable signals get
// the stable unknown fingerprint, never an error.
func (e *Engine) loadFingerprint(ctx context.Context) error {
	fp, ok, err := e.store.LoadFingerprint(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load fingerprint")
	}
	if ok {
		e.fp = fp
		return nil
	}

	fp = fingerprint.FromProject(e.root)
	if err := e.store.SaveFingerprint(ctx, fp); err != nil {
		return errors.Wrap(err, "failed to save fingerprint")
	}
	e.fp = fp
	return nil
}

func (e *Engine) poolSource() predictor.PoolSource {
	if e.pool == nil {
		return nil
	}
	return e.pool
}

func (e *Engine) poolOrNil() transfer.Pool {
	if e.pool == nil {
		return nil
	}
	return e.pool
}
