package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// JSONField is a generic type for handling JSON marshaling/unmarshaling in database
type JSONField[T any] struct {
	Data T
}

// Scan implements the sql.Scanner interface for reading from database
func (j *JSONField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot scan %T into JSONField", value)
		}
		bytes = []byte(str)
	}

	return json.Unmarshal(bytes, &j.Data)
}

// Value implements the driver.Valuer interface for writing to database
func (j JSONField[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}

// dbPattern represents the patterns table structure
type dbPattern struct {
	ID          string                          `db:"id"`
	ProjectHash string                          `db:"project_hash"`
	CreatedAt   time.Time                       `db:"created_at"`
	TaskType    string                          `db:"task_type"`
	Context     JSONField[learning.TaskContext] `db:"context"`
	Skills      JSONField[[]string]             `db:"skills"`
	Agents      JSONField[[]string]             `db:"agents"`
	Approach    *string                         `db:"approach"` // NULL in database
	Success     bool                            `db:"success"`
	Quality     float64                         `db:"quality"`
	DurationMS  int64                           `db:"duration_ms"`
	ReuseCount  int                             `db:"reuse_count"`
	Confidence  float64                         `db:"confidence"`
	PromotedAt  *time.Time                      `db:"promoted_at"`
}

func fromPattern(p learning.Pattern) dbPattern {
	dbp := dbPattern{
		ID:          p.ID,
		ProjectHash: p.ProjectHash,
		CreatedAt:   p.CreatedAt,
		TaskType:    string(p.TaskType),
		Context:     JSONField[learning.TaskContext]{Data: p.Context},
		Skills:      JSONField[[]string]{Data: p.Skills},
		Agents:      JSONField[[]string]{Data: p.Agents},
		Success:     p.Outcome.Success,
		Quality:     p.Outcome.Quality,
		DurationMS:  p.Outcome.Duration.Milliseconds(),
		ReuseCount:  p.ReuseCount,
		Confidence:  p.Confidence,
	}
	if p.Approach != "" {
		dbp.Approach = &p.Approach
	}
	return dbp
}

func (dbp *dbPattern) toPattern() learning.Pattern {
	p := learning.Pattern{
		ID:          dbp.ID,
		ProjectHash: dbp.ProjectHash,
		CreatedAt:   dbp.CreatedAt,
		TaskType:    learning.TaskType(dbp.TaskType),
		Context:     dbp.Context.Data,
		Skills:      dbp.Skills.Data,
		Agents:      dbp.Agents.Data,
		Outcome: learning.Outcome{
			Success:  dbp.Success,
			Quality:  dbp.Quality,
			Duration: time.Duration(dbp.DurationMS) * time.Millisecond,
		},
		ReuseCount: dbp.ReuseCount,
		Confidence: dbp.Confidence,
	}
	if dbp.Approach != nil {
		p.Approach = *dbp.Approach
	}
	return p
}

// dbMetric represents the skill_metrics / agent_metrics table structure
type dbMetric struct {
	Name         string    `db:"name"`
	UsageCount   int       `db:"usage_count"`
	SuccessCount int       `db:"success_count"`
	AvgQuality   float64   `db:"avg_quality"`
	RollingScore float64   `db:"rolling_score"`
	LastUsedAt   time.Time `db:"last_used_at"`
}

func fromSkillMetric(m learning.SkillMetric) dbMetric {
	return dbMetric{
		Name:         m.Name,
		UsageCount:   m.UsageCount,
		SuccessCount: m.SuccessCount,
		AvgQuality:   m.AvgQuality,
		RollingScore: m.RollingScore,
		LastUsedAt:   m.LastUsedAt,
	}
}

func (m *dbMetric) toSkillMetric() learning.SkillMetric {
	return learning.SkillMetric{
		Name:         m.Name,
		UsageCount:   m.UsageCount,
		SuccessCount: m.SuccessCount,
		AvgQuality:   m.AvgQuality,
		RollingScore: m.RollingScore,
		LastUsedAt:   m.LastUsedAt,
	}
}

func fromAgentMetric(m learning.AgentMetric) dbMetric {
	return dbMetric{
		Name:         m.Name,
		UsageCount:   m.UsageCount,
		SuccessCount: m.SuccessCount,
		AvgQuality:   m.AvgQuality,
		RollingScore: m.RollingScore,
		LastUsedAt:   m.LastUsedAt,
	}
}

func (m *dbMetric) toAgentMetric() learning.AgentMetric {
	return learning.AgentMetric{
		Name:         m.Name,
		UsageCount:   m.UsageCount,
		SuccessCount: m.SuccessCount,
		AvgQuality:   m.AvgQuality,
		RollingScore: m.RollingScore,
		LastUsedAt:   m.LastUsedAt,
	}
}

// dbModel represents the models table structure
type dbModel struct {
	Skill          string               `db:"skill"`
	Weights        JSONField[[]float64] `db:"weights"`
	Bias           float64              `db:"bias"`
	ExampleCount   int                  `db:"example_count"`
	FeatureVersion int                  `db:"feature_version"`
	TrainedAt      time.Time            `db:"trained_at"`
}

func fromModel(m learning.PredictionModel) dbModel {
	return dbModel{
		Skill:          m.Skill,
		Weights:        JSONField[[]float64]{Data: m.Weights},
		Bias:           m.Bias,
		ExampleCount:   m.ExampleCount,
		FeatureVersion: m.FeatureVersion,
		TrainedAt:      m.TrainedAt,
	}
}

func (m *dbModel) toModel() learning.PredictionModel {
	return learning.PredictionModel{
		Skill:          m.Skill,
		Weights:        m.Weights.Data,
		Bias:           m.Bias,
		ExampleCount:   m.ExampleCount,
		FeatureVersion: m.FeatureVersion,
		TrainedAt:      m.TrainedAt,
	}
}

// dbFingerprint represents the fingerprints table structure
type dbFingerprint struct {
	Hash       string                                  `db:"hash"`
	Features   JSONField[learning.FingerprintFeatures] `db:"features"`
	ComputedAt time.Time                               `db:"computed_at"`
	Current    bool                                    `db:"current"`
}

// dbUniversalPattern represents the universal_patterns table structure
type dbUniversalPattern struct {
	ID              string              `db:"id"`
	CreatedAt       time.Time           `db:"created_at"`
	TaskType        string              `db:"task_type"`
	Technologies    JSONField[[]string] `db:"technologies"`
	Architecture    JSONField[[]string] `db:"architecture"`
	DomainKeywords  JSONField[[]string] `db:"domain_keywords"`
	Complexity      string              `db:"complexity"`
	TeamSize        string              `db:"team_size"`
	Skills          JSONField[[]string] `db:"skills"`
	Success         bool                `db:"success"`
	Quality         float64             `db:"quality"`
	Transferability float64             `db:"transferability"`
	Contributions   int                 `db:"contributions"`
}

func fromUniversalPattern(u learning.UniversalPattern) dbUniversalPattern {
	return dbUniversalPattern{
		ID:              u.ID,
		CreatedAt:       u.CreatedAt,
		TaskType:        string(u.TaskType),
		Technologies:    JSONField[[]string]{Data: u.Technologies},
		Architecture:    JSONField[[]string]{Data: u.Architecture},
		DomainKeywords:  JSONField[[]string]{Data: u.DomainKeywords},
		Complexity:      string(u.Complexity),
		TeamSize:        string(u.TeamSize),
		Skills:          JSONField[[]string]{Data: u.Skills},
		Success:         u.Success,
		Quality:         u.Quality,
		Transferability: u.Transferability,
		Contributions:   u.Contributions,
	}
}

func (u *dbUniversalPattern) toUniversalPattern() learning.UniversalPattern {
	return learning.UniversalPattern{
		ID:              u.ID,
		CreatedAt:       u.CreatedAt,
		TaskType:        learning.TaskType(u.TaskType),
		Technologies:    u.Technologies.Data,
		Architecture:    u.Architecture.Data,
		DomainKeywords:  u.DomainKeywords.Data,
		Complexity:      learning.Complexity(u.Complexity),
		TeamSize:        learning.TeamSize(u.TeamSize),
		Skills:          u.Skills.Data,
		Success:         u.Success,
		Quality:         u.Quality,
		Transferability: u.Transferability,
		Contributions:   u.Contributions,
	}
}
