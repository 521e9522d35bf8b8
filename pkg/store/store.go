// Package store implements the durable pattern repository on SQLite. One
// store instance owns one project's state: its pattern log, skill/agent
// metric aggregates, trained model parameters, and current fingerprint.
// Every capture is a single transaction, so partial writes are never
// observable, and a corrupt backing file recovers to an empty valid state
// instead of crashing the caller.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// PatternCounter is the name of the project-wide capture counter.
const PatternCounter = "patterns_captured"

// captureAttempts bounds retries when a concurrent capture holds the write lock.
const captureAttempts = 5

// MetricUpdater applies one observed outcome to a rolling metric. The math
// lives with the capture logic; the store only guarantees the
// read-modify-write happens inside the capture transaction.
type MetricUpdater interface {
	UpdateSkill(m learning.SkillMetric, o learning.Outcome, at time.Time) learning.SkillMetric
	UpdateAgent(m learning.AgentMetric, o learning.Outcome, at time.Time) learning.AgentMetric
}

// Store is the SQLite-backed pattern repository
type Store struct {
	dbPath string
	db     *sqlx.DB
}

// NewStore opens (or creates) the project database at dbPath. A corrupt
// database file is quarantined and replaced with a fresh one; the data
// loss is logged as a warning rather than surfaced as a fatal error.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := openAndMigrate(ctx, dbPath, migrations)
	if err != nil {
		// Recover to an empty, valid state: quarantine the unreadable
		// file and start over.
		quarantine := fmt.Sprintf("%s.corrupt.%d", dbPath, time.Now().Unix())
		if renameErr := os.Rename(dbPath, quarantine); renameErr != nil {
			return nil, errors.Wrap(err, "failed to open database")
		}
		logger.G(ctx).WithError(err).WithField("quarantined", quarantine).
			Warn("pattern database unreadable, recovered to empty state")

		db, err = openAndMigrate(ctx, dbPath, migrations)
		if err != nil {
			return nil, errors.Wrap(err, "failed to recreate database after corruption")
		}
	}

	return &Store{dbPath: dbPath, db: db}, nil
}

func openAndMigrate(ctx context.Context, dbPath string, pending []Migration) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := configureDatabase(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	if err := runMigrations(db, pending); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}

// configureDatabase sets up SQLite pragmas for WAL mode with a busy
// timeout, which together provide the cross-process mutual exclusion the
// capture transaction relies on.
func configureDatabase(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled. Current mode: %s", journalMode)
	}

	return nil
}

// isBusy reports whether err is SQLite's lock-contention error, which a
// concurrent capture can cause and a retry can resolve.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// SaveFingerprint stores fp as the project's current fingerprint. Previous
// fingerprints are superseded, never deleted.
func (s *Store) SaveFingerprint(ctx context.Context, fp learning.ProjectFingerprint) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE fingerprints SET current = 0 WHERE current = 1"); err != nil {
		return errors.Wrap(err, "failed to supersede previous fingerprint")
	}

	query := `
		INSERT INTO fingerprints (hash, features, computed_at, current)
		VALUES (:hash, :features, :computed_at, 1)
		ON CONFLICT(hash) DO UPDATE SET
			features = excluded.features,
			computed_at = excluded.computed_at,
			current = 1
	`
	_, err = tx.NamedExecContext(ctx, query, dbFingerprint{
		Hash:       fp.Hash,
		Features:   JSONField[learning.FingerprintFeatures]{Data: fp.Features},
		ComputedAt: fp.ComputedAt,
		Current:    true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to save fingerprint")
	}

	return tx.Commit()
}

// LoadFingerprint returns the project's current fingerprint, if one has
// been computed.
func (s *Store) LoadFingerprint(ctx context.Context) (learning.ProjectFingerprint, bool, error) {
	var dbfp dbFingerprint
	err := s.db.GetContext(ctx, &dbfp,
		"SELECT hash, features, computed_at, current FROM fingerprints WHERE current = 1 LIMIT 1")
	if err != nil {
		if isNoRows(err) {
			return learning.ProjectFingerprint{}, false, nil
		}
		return learning.ProjectFingerprint{}, false, errors.Wrap(err, "failed to load fingerprint")
	}
	return learning.ProjectFingerprint{
		Hash:       dbfp.Hash,
		Features:   dbfp.Features.Data,
		ComputedAt: dbfp.ComputedAt,
	}, true, nil
}

// AppendPattern inserts a pattern outside the capture transaction. Used by
// tooling and tests; normal capture goes through Capture.
func (s *Store) AppendPattern(ctx context.Context, p learning.Pattern) error {
	_, err := s.db.NamedExecContext(ctx, insertPatternQuery, fromPattern(p))
	return errors.Wrap(err, "failed to append pattern")
}

const insertPatternQuery = `
	INSERT INTO patterns (
		id, project_hash, created_at, task_type, context, skills, agents,
		approach, success, quality, duration_ms, reuse_count, confidence
	) VALUES (
		:id, :project_hash, :created_at, :task_type, :context, :skills, :agents,
		:approach, :success, :quality, :duration_ms, :reuse_count, :confidence
	)
`

// Capture durably writes one task's pattern, its metric deltas, and the
// counter bump as a single transaction, and returns the new value of the
// pattern counter. Lock contention from concurrent captures is retried
// with backoff; exhausted retries surface an error without a partial write.
func (s *Store) Capture(ctx context.Context, p learning.Pattern, upd MetricUpdater) (int64, error) {
	var counter int64

	err := retry.Do(
		func() error {
			var txErr error
			counter, txErr = s.captureOnce(ctx, p, upd)
			return txErr
		},
		retry.Context(ctx),
		retry.Attempts(captureAttempts),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to capture pattern")
	}
	return counter, nil
}

func (s *Store) captureOnce(ctx context.Context, p learning.Pattern, upd MetricUpdater) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertPatternQuery, fromPattern(p)); err != nil {
		return 0, errors.Wrap(err, "failed to insert pattern")
	}

	at := p.CreatedAt
	for _, skill := range p.Skills {
		current, err := getMetricTx(ctx, tx, "skill_metrics", skill)
		if err != nil {
			return 0, err
		}
		updated := upd.UpdateSkill(current.toSkillMetric(), p.Outcome, at)
		if err := upsertMetricTx(ctx, tx, "skill_metrics", fromSkillMetric(updated)); err != nil {
			return 0, err
		}
	}

	for _, agent := range p.Agents {
		current, err := getMetricTx(ctx, tx, "agent_metrics", agent)
		if err != nil {
			return 0, err
		}
		updated := upd.UpdateAgent(current.toAgentMetric(), p.Outcome, at)
		if err := upsertMetricTx(ctx, tx, "agent_metrics", fromAgentMetric(updated)); err != nil {
			return 0, err
		}
	}

	var counter int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, PatternCounter).Scan(&counter)
	if err != nil {
		return 0, errors.Wrap(err, "failed to bump pattern counter")
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return counter, nil
}

func getMetricTx(ctx context.Context, tx *sqlx.Tx, table, name string) (dbMetric, error) {
	var m dbMetric
	query := fmt.Sprintf(
		"SELECT name, usage_count, success_count, avg_quality, rolling_score, last_used_at FROM %s WHERE name = ?", table)
	err := tx.GetContext(ctx, &m, query, name)
	if err != nil {
		if isNoRows(err) {
			return dbMetric{Name: name, LastUsedAt: time.Unix(0, 0).UTC()}, nil
		}
		return dbMetric{}, errors.Wrapf(err, "failed to load metric from %s", table)
	}
	return m, nil
}

func upsertMetricTx(ctx context.Context, tx *sqlx.Tx, table string, m dbMetric) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, usage_count, success_count, avg_quality, rolling_score, last_used_at)
		VALUES (:name, :usage_count, :success_count, :avg_quality, :rolling_score, :last_used_at)
		ON CONFLICT(name) DO UPDATE SET
			usage_count = excluded.usage_count,
			success_count = excluded.success_count,
			avg_quality = excluded.avg_quality,
			rolling_score = excluded.rolling_score,
			last_used_at = excluded.last_used_at
	`, table)
	if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
		return errors.Wrapf(err, "failed to upsert metric into %s", table)
	}
	return nil
}

// QueryByFingerprint returns the project's patterns for the given project
// hash, most recent first.
func (s *Store) QueryByFingerprint(ctx context.Context, projectHash string, opts learning.QueryOptions) ([]learning.Pattern, error) {
	query := `SELECT id, project_hash, created_at, task_type, context, skills, agents,
		approach, success, quality, duration_ms, reuse_count, confidence, promoted_at
		FROM patterns WHERE project_hash = ?`
	args := []any{projectHash}

	if opts.TaskType != "" {
		query += " AND task_type = ?"
		args = append(args, string(opts.TaskType))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []dbPattern
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query patterns")
	}

	patterns := make([]learning.Pattern, len(rows))
	for i := range rows {
		patterns[i] = rows[i].toPattern()
	}
	return patterns, nil
}

// ListPatterns returns every pattern in the repository, oldest first. The
// deterministic ordering matters for reproducible training.
func (s *Store) ListPatterns(ctx context.Context, opts learning.QueryOptions) ([]learning.Pattern, error) {
	query := `SELECT id, project_hash, created_at, task_type, context, skills, agents,
		approach, success, quality, duration_ms, reuse_count, confidence, promoted_at
		FROM patterns`
	var args []any

	if opts.TaskType != "" {
		query += " WHERE task_type = ?"
		args = append(args, string(opts.TaskType))
	}
	query += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []dbPattern
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}

	patterns := make([]learning.Pattern, len(rows))
	for i := range rows {
		patterns[i] = rows[i].toPattern()
	}
	return patterns, nil
}

// PatternCount returns the number of stored patterns.
func (s *Store) PatternCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM patterns"); err != nil {
		return 0, errors.Wrap(err, "failed to count patterns")
	}
	return count, nil
}

// Counter returns the current value of a named counter.
func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.GetContext(ctx, &value, "SELECT value FROM counters WHERE name = ?", name)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read counter")
	}
	return value, nil
}

// IncrementReuse bumps the reuse count of the given patterns. Reuse is the
// only mutation of a pattern besides confidence revision.
func (s *Store) IncrementReuse(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("UPDATE patterns SET reuse_count = reuse_count + 1 WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "failed to build reuse query")
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to increment reuse count")
	}
	return nil
}

// UpdateConfidence revises a pattern's confidence estimate.
func (s *Store) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE patterns SET confidence = ? WHERE id = ?", confidence, id)
	return errors.Wrap(err, "failed to update pattern confidence")
}

// LoadModel returns the trained model for a skill, or nil when the skill
// has never been fit.
func (s *Store) LoadModel(ctx context.Context, skill string) (*learning.PredictionModel, error) {
	var m dbModel
	err := s.db.GetContext(ctx, &m,
		"SELECT skill, weights, bias, example_count, feature_version, trained_at FROM models WHERE skill = ?", skill)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load model")
	}
	model := m.toModel()
	return &model, nil
}

// LoadModels returns all trained models keyed by skill name.
func (s *Store) LoadModels(ctx context.Context) (map[string]learning.PredictionModel, error) {
	var rows []dbModel
	err := s.db.SelectContext(ctx, &rows,
		"SELECT skill, weights, bias, example_count, feature_version, trained_at FROM models")
	if err != nil {
		return nil, errors.Wrap(err, "failed to load models")
	}

	models := make(map[string]learning.PredictionModel, len(rows))
	for i := range rows {
		models[rows[i].Skill] = rows[i].toModel()
	}
	return models, nil
}

// SaveModel atomically replaces a skill's model. The previous parameters
// remain authoritative until this write commits.
func (s *Store) SaveModel(ctx context.Context, m learning.PredictionModel) error {
	query := `
		INSERT INTO models (skill, weights, bias, example_count, feature_version, trained_at)
		VALUES (:skill, :weights, :bias, :example_count, :feature_version, :trained_at)
		ON CONFLICT(skill) DO UPDATE SET
			weights = excluded.weights,
			bias = excluded.bias,
			example_count = excluded.example_count,
			feature_version = excluded.feature_version,
			trained_at = excluded.trained_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, fromModel(m)); err != nil {
		return errors.Wrap(err, "failed to save model")
	}
	return nil
}

// SkillMetrics returns all skill metrics keyed by name.
func (s *Store) SkillMetrics(ctx context.Context) (map[string]learning.SkillMetric, error) {
	var rows []dbMetric
	err := s.db.SelectContext(ctx, &rows,
		"SELECT name, usage_count, success_count, avg_quality, rolling_score, last_used_at FROM skill_metrics")
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skill metrics")
	}

	metrics := make(map[string]learning.SkillMetric, len(rows))
	for i := range rows {
		metrics[rows[i].Name] = rows[i].toSkillMetric()
	}
	return metrics, nil
}

// AgentMetrics returns all agent metrics keyed by name.
func (s *Store) AgentMetrics(ctx context.Context) (map[string]learning.AgentMetric, error) {
	var rows []dbMetric
	err := s.db.SelectContext(ctx, &rows,
		"SELECT name, usage_count, success_count, avg_quality, rolling_score, last_used_at FROM agent_metrics")
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent metrics")
	}

	metrics := make(map[string]learning.AgentMetric, len(rows))
	for i := range rows {
		metrics[rows[i].Name] = rows[i].toAgentMetric()
	}
	return metrics, nil
}

// PromotionCandidates returns unpromoted patterns whose confidence meets
// the threshold and that have been reused at least once.
func (s *Store) PromotionCandidates(ctx context.Context, minConfidence float64) ([]learning.Pattern, error) {
	var rows []dbPattern
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, project_hash, created_at, task_type, context, skills, agents,
			approach, success, quality, duration_ms, reuse_count, confidence, promoted_at
		FROM patterns
		WHERE promoted_at IS NULL AND confidence >= ? AND reuse_count >= 1
		ORDER BY created_at ASC, id ASC
	`, minConfidence)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query promotion candidates")
	}

	patterns := make([]learning.Pattern, len(rows))
	for i := range rows {
		patterns[i] = rows[i].toPattern()
	}
	return patterns, nil
}

// MarkPromoted records that a pattern was promoted into the shared pool.
func (s *Store) MarkPromoted(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE patterns SET promoted_at = ? WHERE id = ?", at, id)
	return errors.Wrap(err, "failed to mark pattern promoted")
}

// PruneStale deletes zero-reuse, low-confidence patterns created before
// cutoff. Pruning is explicit only; nothing else ever deletes patterns.
func (s *Store) PruneStale(ctx context.Context, maxConfidence float64, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM patterns
		WHERE reuse_count = 0 AND confidence < ? AND created_at < ?
	`, maxConfidence, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune patterns")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned patterns")
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
