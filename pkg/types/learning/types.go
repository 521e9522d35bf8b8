// Package learning defines the data model shared across the skillcast
// engine: task contexts, project fingerprints, learned patterns, rolling
// skill/agent metrics, per-skill prediction models, and anonymized
// universal patterns. Every persisted document carries an explicit schema
// version so loads can migrate rather than guess at missing fields.
package learning

import (
	"time"
)

// SchemaVersion is the current version of all persisted documents. Stores
// check it on load and run migrations when it trails the current value.
const SchemaVersion = 1

// FeatureSchemaVersion versions the prediction feature vector layout.
// Models trained against an older layout are treated as untrained.
const FeatureSchemaVersion = 1

// TaskType classifies the unit of work being predicted for.
type TaskType string

// Task types recognized by the feature extractor. Anything else maps to TaskOther.
const (
	TaskImplementation TaskType = "implementation"
	TaskRefactor       TaskType = "refactor"
	TaskDebug          TaskType = "debug"
	TaskTest           TaskType = "test"
	TaskIntegration    TaskType = "integration"
	TaskSecurity       TaskType = "security"
	TaskOther          TaskType = "other"
)

// Complexity is the caller's estimate of task difficulty.
type Complexity string

// Complexity classes.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Scalar maps a complexity class onto [0,1] for feature extraction.
func (c Complexity) Scalar() float64 {
	switch c {
	case ComplexityLow:
		return 0.25
	case ComplexityHigh:
		return 1.0
	default:
		return 0.5
	}
}

// TeamSize classifies how many people work on the project.
type TeamSize string

// Team size classes, ordered smallest to largest.
const (
	TeamSolo   TeamSize = "solo"
	TeamSmall  TeamSize = "small"
	TeamMedium TeamSize = "medium"
	TeamLarge  TeamSize = "large"
)

// Ordinal returns the position of the team size class, for proximity scoring.
func (t TeamSize) Ordinal() int {
	switch t {
	case TeamSolo:
		return 0
	case TeamSmall:
		return 1
	case TeamMedium:
		return 2
	case TeamLarge:
		return 3
	default:
		return 1
	}
}

// TaskContext describes an upcoming unit of work. It is transient: the
// engine consumes it to derive features and never persists it as-is.
type TaskContext struct {
	Type         TaskType   `json:"type"`
	Intent       string     `json:"intent"`
	Technologies []string   `json:"technologies"`
	Complexity   Complexity `json:"complexity"`
	DomainTags   []string   `json:"domainTags,omitempty"`
	TeamSize     TeamSize   `json:"teamSize,omitempty"`
}

// FingerprintFeatures is the decomposed feature record a fingerprint is
// built from, kept alongside the hash for similarity scoring.
type FingerprintFeatures struct {
	Technologies   []string `json:"technologies"`
	Architecture   []string `json:"architecture"`
	DomainKeywords []string `json:"domainKeywords"`
	Conventions    []string `json:"conventions"`
	TeamSize       TeamSize `json:"teamSize"`
}

// ProjectFingerprint identifies a project and summarizes its shape for
// similarity lookups. Immutable between recomputations; a recompute
// supersedes the old fingerprint rather than mutating it.
type ProjectFingerprint struct {
	Hash       string              `json:"hash"`
	Features   FingerprintFeatures `json:"features"`
	ComputedAt time.Time           `json:"computedAt"`
}

// IsUnknown reports whether the fingerprint was built from no detectable
// signals. Prediction still works for unknown projects via the shared pool.
func (f ProjectFingerprint) IsUnknown() bool {
	ft := f.Features
	return len(ft.Technologies) == 0 && len(ft.Architecture) == 0 &&
		len(ft.DomainKeywords) == 0 && len(ft.Conventions) == 0
}

// Outcome records what actually happened when a task was executed.
// Outcome fields are never edited after capture.
type Outcome struct {
	Success  bool          `json:"success"`
	Quality  float64       `json:"quality"` // 0-100
	Duration time.Duration `json:"duration"`
}

// Pattern is the atomic learned unit: one observed (context, skills,
// outcome) triple. Only ReuseCount and Confidence are mutated after
// creation; the observed history itself is immutable.
type Pattern struct {
	ID          string      `json:"id"`
	ProjectHash string      `json:"projectHash"`
	CreatedAt   time.Time   `json:"createdAt"`
	TaskType    TaskType    `json:"taskType"`
	Context     TaskContext `json:"context"`
	Skills      []string    `json:"skills"`
	Agents      []string    `json:"agents,omitempty"`
	Approach    string      `json:"approach,omitempty"`
	Outcome     Outcome     `json:"outcome"`
	ReuseCount  int         `json:"reuseCount"`
	Confidence  float64     `json:"confidence"` // [0,1]
}

// SkillMetric holds rolling effectiveness statistics for one skill.
// RollingScore is recency-weighted so recent behavior dominates.
type SkillMetric struct {
	Name         string    `json:"name"`
	UsageCount   int       `json:"usageCount"`
	SuccessCount int       `json:"successCount"`
	AvgQuality   float64   `json:"avgQuality"`
	RollingScore float64   `json:"rollingScore"` // [0,1]
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// SuccessRate returns the lifetime success ratio in [0,1].
func (m SkillMetric) SuccessRate() float64 {
	if m.UsageCount == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.UsageCount)
}

// AgentMetric holds rolling effectiveness statistics for one delegated agent.
type AgentMetric struct {
	Name         string    `json:"name"`
	UsageCount   int       `json:"usageCount"`
	SuccessCount int       `json:"successCount"`
	AvgQuality   float64   `json:"avgQuality"`
	RollingScore float64   `json:"rollingScore"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// ModelState describes where a per-skill model is in its lifecycle.
type ModelState string

// Model lifecycle states.
const (
	ModelUntrained ModelState = "untrained"
	ModelTrained   ModelState = "trained"
	ModelStale     ModelState = "stale"
)

// PredictionModel is a lightweight per-skill logistic scorer. A model is
// replaced atomically on retrain; until the replacement is persisted the
// previous model remains authoritative.
type PredictionModel struct {
	Skill          string    `json:"skill"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
	ExampleCount   int       `json:"exampleCount"`
	FeatureVersion int       `json:"featureVersion"`
	TrainedAt      time.Time `json:"trainedAt"`
}

// State classifies the model given how many examples are now available and
// the configured thresholds.
func (m *PredictionModel) State(available, minExamples int, staleFactor float64) ModelState {
	if m == nil || m.ExampleCount < minExamples || m.FeatureVersion != FeatureSchemaVersion {
		return ModelUntrained
	}
	if float64(available) >= staleFactor*float64(m.ExampleCount) {
		return ModelStale
	}
	return ModelTrained
}

// UniversalPattern is the anonymized projection of a Pattern shared across
// projects. It retains feature-level information and outcome quality only;
// nothing in it traces back to the originating project.
type UniversalPattern struct {
	ID              string     `json:"id"`
	CreatedAt       time.Time  `json:"createdAt"`
	TaskType        TaskType   `json:"taskType"`
	Technologies    []string   `json:"technologies"`
	Architecture    []string   `json:"architecture,omitempty"`
	DomainKeywords  []string   `json:"domainKeywords,omitempty"`
	Complexity      Complexity `json:"complexity"`
	TeamSize        TeamSize   `json:"teamSize"`
	Skills          []string   `json:"skills"`
	Success         bool       `json:"success"`
	Quality         float64    `json:"quality"`
	Transferability float64    `json:"transferability"` // [0,1]
	Contributions   int        `json:"contributions"`
}

// Prediction is one ranked skill recommendation.
type Prediction struct {
	Skill       string  `json:"skill"`
	Probability float64 `json:"probability"` // [0,1]
	Confidence  float64 `json:"confidence"`  // [0,1]
	Rationale   string  `json:"rationale"`
}

// TrainReport summarizes an explicit or capture-triggered training pass.
// Failures are isolated per skill; one bad fit never aborts the pass.
type TrainReport struct {
	Retrained []string          `json:"retrained"`
	Skipped   []string          `json:"skipped"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// QueryOptions filters pattern retrieval.
type QueryOptions struct {
	TaskType TaskType // optional filter
	Limit    int
}
