package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// PoolStore is the shared, anonymized cross-project pattern pool. It may
// live on a shared volume; callers treat every error from it as a
// degrade-to-local signal, never as fatal.
type PoolStore struct {
	dbPath string
	db     *sqlx.DB
}

// NewPoolStore opens (or creates) the shared pool database.
func NewPoolStore(ctx context.Context, dbPath string) (*PoolStore, error) {
	db, err := openAndMigrate(ctx, dbPath, poolMigrations)
	if err != nil {
		return nil, errors.Wrap(learning.ErrPoolUnavailable, err.Error())
	}
	return &PoolStore{dbPath: dbPath, db: db}, nil
}

// OriginKey one-way hashes a project hash for the contribution counter, so
// pool contents never trace back to a project.
func OriginKey(projectHash string) string {
	sum := sha256.Sum256([]byte("skillcast-pool:" + projectHash))
	return hex.EncodeToString(sum[:])[:16]
}

// Add inserts an anonymized pattern and bumps the origin's contribution
// counter in one transaction.
func (p *PoolStore) Add(ctx context.Context, u learning.UniversalPattern, originKey string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin pool transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO universal_patterns (
			id, created_at, task_type, technologies, architecture, domain_keywords,
			complexity, team_size, skills, success, quality, transferability, contributions
		) VALUES (
			:id, :created_at, :task_type, :technologies, :architecture, :domain_keywords,
			:complexity, :team_size, :skills, :success, :quality, :transferability, :contributions
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, fromUniversalPattern(u)); err != nil {
		return errors.Wrap(err, "failed to insert universal pattern")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pool_contributions (origin_key, count) VALUES (?, 1)
		ON CONFLICT(origin_key) DO UPDATE SET count = count + 1
	`, originKey)
	if err != nil {
		return errors.Wrap(err, "failed to bump contribution counter")
	}

	return tx.Commit()
}

// List returns every universal pattern in the pool.
func (p *PoolStore) List(ctx context.Context) ([]learning.UniversalPattern, error) {
	var rows []dbUniversalPattern
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, task_type, technologies, architecture, domain_keywords,
			complexity, team_size, skills, success, quality, transferability, contributions
		FROM universal_patterns
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list universal patterns")
	}

	patterns := make([]learning.UniversalPattern, len(rows))
	for i := range rows {
		patterns[i] = rows[i].toUniversalPattern()
	}
	return patterns, nil
}

// AdjustTransferability nudges a pattern's transferability by delta,
// clamped to [0,1]. Ingesting projects call this with positive deltas when
// a pool pattern correlated with a quality improvement and negative
// deltas otherwise.
func (p *PoolStore) AdjustTransferability(ctx context.Context, id string, delta float64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE universal_patterns
		SET transferability = MAX(0.0, MIN(1.0, transferability + ?)),
			contributions = contributions + 1
		WHERE id = ?
	`, delta, id)
	return errors.Wrap(err, "failed to adjust transferability")
}

// ContributionCount returns the anonymized contribution count for an origin.
func (p *PoolStore) ContributionCount(ctx context.Context, originKey string) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count,
		"SELECT count FROM pool_contributions WHERE origin_key = ?", originKey)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read contribution count")
	}
	return count, nil
}

// Close closes the pool database connection.
func (p *PoolStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
