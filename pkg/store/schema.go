package store

// SQL schema definitions for the SQLite pattern repository and the shared
// pool store.

const (
	// SchemaVersion1 represents the initial database schema version
	SchemaVersion1 = 1
	// SchemaVersion2 adds retrieval indexes
	SchemaVersion2 = 2
	// CurrentSchemaVersion is the latest schema version
	CurrentSchemaVersion = SchemaVersion2
)

// createSchemaVersionTable creates the schema version tracking table
const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL,
    description TEXT
);
`

// createPatternsTable creates the learned pattern log. Outcome columns are
// written once at capture and never updated; only reuse_count and
// confidence are mutable.
const createPatternsTable = `
CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    project_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    task_type TEXT NOT NULL,
    context TEXT NOT NULL,
    skills TEXT NOT NULL,
    agents TEXT,
    approach TEXT,
    success INTEGER NOT NULL,
    quality REAL NOT NULL,
    duration_ms INTEGER NOT NULL,
    reuse_count INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    promoted_at DATETIME
);
`

// createSkillMetricsTable creates rolling per-skill effectiveness aggregates
const createSkillMetricsTable = `
CREATE TABLE IF NOT EXISTS skill_metrics (
    name TEXT PRIMARY KEY,
    usage_count INTEGER NOT NULL,
    success_count INTEGER NOT NULL,
    avg_quality REAL NOT NULL,
    rolling_score REAL NOT NULL,
    last_used_at DATETIME NOT NULL
);
`

// createAgentMetricsTable creates rolling per-agent effectiveness aggregates
const createAgentMetricsTable = `
CREATE TABLE IF NOT EXISTS agent_metrics (
    name TEXT PRIMARY KEY,
    usage_count INTEGER NOT NULL,
    success_count INTEGER NOT NULL,
    avg_quality REAL NOT NULL,
    rolling_score REAL NOT NULL,
    last_used_at DATETIME NOT NULL
);
`

// createModelsTable creates the per-skill prediction model collection
const createModelsTable = `
CREATE TABLE IF NOT EXISTS models (
    skill TEXT PRIMARY KEY,
    weights TEXT NOT NULL,
    bias REAL NOT NULL,
    example_count INTEGER NOT NULL,
    feature_version INTEGER NOT NULL,
    trained_at DATETIME NOT NULL
);
`

// createCountersTable creates named monotonic counters (pattern counter)
const createCountersTable = `
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`

// createFingerprintsTable holds the project's current fingerprint. Old
// fingerprints are superseded, never deleted.
const createFingerprintsTable = `
CREATE TABLE IF NOT EXISTS fingerprints (
    hash TEXT PRIMARY KEY,
    features TEXT NOT NULL,
    computed_at DATETIME NOT NULL,
    current INTEGER NOT NULL DEFAULT 0
);
`

// Schema version 2 indexes
const createIndexPatternsProject = `
CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_hash, created_at DESC);
`

const createIndexPatternsTaskType = `
CREATE INDEX IF NOT EXISTS idx_patterns_task_type ON patterns(task_type);
`

const createIndexPatternsConfidence = `
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence DESC);
`

// Pool store tables (separate database file)

const createUniversalPatternsTable = `
CREATE TABLE IF NOT EXISTS universal_patterns (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    task_type TEXT NOT NULL,
    technologies TEXT NOT NULL,
    architecture TEXT,
    domain_keywords TEXT,
    complexity TEXT NOT NULL,
    team_size TEXT NOT NULL,
    skills TEXT NOT NULL,
    success INTEGER NOT NULL,
    quality REAL NOT NULL,
    transferability REAL NOT NULL,
    contributions INTEGER NOT NULL DEFAULT 1
);
`

// createPoolContributionsTable tracks anonymized per-origin contribution
// counts. The origin key is a one-way digest of the project hash.
const createPoolContributionsTable = `
CREATE TABLE IF NOT EXISTS pool_contributions (
    origin_key TEXT PRIMARY KEY,
    count INTEGER NOT NULL
);
`
