package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

type stubReader struct {
	patterns []learning.Pattern
	skills   map[string]learning.SkillMetric
	agents   map[string]learning.AgentMetric
}

func (r *stubReader) ListPatterns(_ context.Context, _ learning.QueryOptions) ([]learning.Pattern, error) {
	return r.patterns, nil
}

func (r *stubReader) SkillMetrics(_ context.Context) (map[string]learning.SkillMetric, error) {
	return r.skills, nil
}

func (r *stubReader) AgentMetrics(_ context.Context) (map[string]learning.AgentMetric, error) {
	return r.agents, nil
}

func pattern(at time.Time, skills []string, success bool, quality float64) learning.Pattern {
	return learning.Pattern{
		CreatedAt: at,
		TaskType:  learning.TaskRefactor,
		Skills:    skills,
		Outcome:   learning.Outcome{Success: success, Quality: quality},
	}
}

func TestWeekStart(t *testing.T) {
	// 2026-03-04 is a Wednesday; its week starts Monday 2026-03-02.
	wednesday := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, monday, weekStart(wednesday))
	assert.Equal(t, monday, weekStart(monday))
	// Sunday still belongs to the Monday-started week.
	assert.Equal(t, monday, weekStart(time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC)))
}

func TestWeeklyTrend(t *testing.T) {
	week1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	week2 := week1.AddDate(0, 0, 7)

	trend := weeklyTrend([]learning.Pattern{
		pattern(week1, []string{"a"}, true, 80),
		pattern(week1.Add(time.Hour), []string{"a"}, false, 40),
		pattern(week2, []string{"a"}, true, 90),
	})

	require.Len(t, trend, 2)
	assert.True(t, trend[0].WeekStart.Before(trend[1].WeekStart))
	assert.Equal(t, 2, trend[0].Patterns)
	assert.InDelta(t, 60.0, trend[0].AvgQuality, 1e-9)
	assert.InDelta(t, 0.5, trend[0].SuccessRate, 1e-9)
	assert.Equal(t, 1, trend[1].Patterns)
	assert.InDelta(t, 90.0, trend[1].AvgQuality, 1e-9)
}

func TestVelocity(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var patterns []learning.Pattern
	for i := 0; i < 14; i++ {
		patterns = append(patterns, pattern(start.AddDate(0, 0, i), []string{"a", "b"}, true, 80))
	}

	v := velocity(patterns)

	assert.Equal(t, 2, v.DistinctSkills)
	assert.Equal(t, 2, v.ActiveWeeks)
	assert.InDelta(t, 14.0/(13.0/7.0+1), v.PatternsPerWeek, 1e-9)
}

func TestVelocityEmptyHistory(t *testing.T) {
	assert.Equal(t, Velocity{}, velocity(nil))
}

func TestSynergyCountsHighQualityPairs(t *testing.T) {
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	pairs := synergy([]learning.Pattern{
		pattern(at, []string{"code-analysis", "testing"}, true, 90),
		pattern(at, []string{"testing", "code-analysis"}, true, 80),
		pattern(at, []string{"code-analysis", "logging"}, true, 85),
		// Excluded: failure and low quality.
		pattern(at, []string{"code-analysis", "testing"}, false, 90),
		pattern(at, []string{"code-analysis", "testing"}, true, 50),
		// Single-skill patterns produce no pairs.
		pattern(at, []string{"code-analysis"}, true, 95),
	})

	require.Len(t, pairs, 2)
	assert.Equal(t, [2]string{"code-analysis", "testing"}, pairs[0].Skills)
	assert.Equal(t, 2, pairs[0].Occurrences)
	assert.InDelta(t, 85.0, pairs[0].AvgQuality, 1e-9)
	assert.Equal(t, [2]string{"code-analysis", "logging"}, pairs[1].Skills)
	assert.Equal(t, 1, pairs[1].Occurrences)
}

func TestReport(t *testing.T) {
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	reader := &stubReader{
		patterns: []learning.Pattern{
			pattern(at, []string{"code-analysis", "testing"}, true, 90),
			pattern(at.AddDate(0, 0, 7), []string{"code-analysis"}, true, 85),
		},
		skills: map[string]learning.SkillMetric{
			"testing":       {Name: "testing", UsageCount: 1},
			"code-analysis": {Name: "code-analysis", UsageCount: 2},
		},
		agents: map[string]learning.AgentMetric{},
	}
	svc := NewService(reader)

	report, err := svc.Report(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalPatterns)
	assert.Len(t, report.Trend, 2)
	require.Len(t, report.Skills, 2)
	assert.Equal(t, "code-analysis", report.Skills[0].Name, "metric table sorts by usage")
	assert.Empty(t, report.Agents)
	require.Len(t, report.Synergy, 1)
	assert.Equal(t, [2]string{"code-analysis", "testing"}, report.Synergy[0].Skills)
}
