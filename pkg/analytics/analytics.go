// Package analytics computes read-only learning reports from the pattern
// history: quality trend by week, learning velocity, skill synergy, and
// per-skill/per-agent metric tables.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// synergyQuality is the outcome quality at or above which a successful
// pattern counts toward skill synergy.
const synergyQuality = 75.0

// PatternReader is the slice of the repository analytics reads from.
type PatternReader interface {
	ListPatterns(ctx context.Context, opts learning.QueryOptions) ([]learning.Pattern, error)
	SkillMetrics(ctx context.Context) (map[string]learning.SkillMetric, error)
	AgentMetrics(ctx context.Context) (map[string]learning.AgentMetric, error)
}

// WeeklyQuality is one week's aggregate outcome quality.
type WeeklyQuality struct {
	WeekStart   time.Time `json:"weekStart"`
	Patterns    int       `json:"patterns"`
	AvgQuality  float64   `json:"avgQuality"`
	SuccessRate float64   `json:"successRate"`
}

// Velocity summarizes how fast the engine is accumulating knowledge.
type Velocity struct {
	PatternsPerWeek  float64 `json:"patternsPerWeek"`
	NewSkillsPerWeek float64 `json:"newSkillsPerWeek"`
	ActiveWeeks      int     `json:"activeWeeks"`
	DistinctSkills   int     `json:"distinctSkills"`
}

// Synergy is a pair of skills that co-occur in high-quality successes.
type Synergy struct {
	Skills      [2]string `json:"skills"`
	Occurrences int       `json:"occurrences"`
	AvgQuality  float64   `json:"avgQuality"`
}

// Report is the full analytics payload.
type Report struct {
	GeneratedAt   time.Time              `json:"generatedAt"`
	TotalPatterns int                    `json:"totalPatterns"`
	Trend         []WeeklyQuality        `json:"trend"`
	Velocity      Velocity               `json:"velocity"`
	Synergy       []Synergy              `json:"synergy,omitempty"`
	Skills        []learning.SkillMetric `json:"skills"`
	Agents        []learning.AgentMetric `json:"agents,omitempty"`
}

// Service computes analytics reports. All operations are pure reads.
type Service struct {
	reader PatternReader
	now    func() time.Time
}

// NewService creates an analytics Service.
func NewService(reader PatternReader) *Service {
	return &Service{reader: reader, now: time.Now}
}

// Report builds the analytics payload from the full pattern history.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	patterns, err := s.reader.ListPatterns(ctx, learning.QueryOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns for analytics")
	}
	skillMetrics, err := s.reader.SkillMetrics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skill metrics")
	}
	agentMetrics, err := s.reader.AgentMetrics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent metrics")
	}

	report := &Report{
		GeneratedAt:   s.now().UTC(),
		TotalPatterns: len(patterns),
		Trend:         weeklyTrend(patterns),
		Velocity:      velocity(patterns),
		Synergy:       synergy(patterns),
		Skills:        sortedSkillMetrics(skillMetrics),
		Agents:        sortedAgentMetrics(agentMetrics),
	}
	return report, nil
}

// weeklyTrend buckets patterns by ISO week start (Monday, UTC) and returns
// the buckets in chronological order.
func weeklyTrend(patterns []learning.Pattern) []WeeklyQuality {
	type bucket struct {
		count     int
		quality   float64
		successes int
	}
	buckets := map[time.Time]*bucket{}

	for _, p := range patterns {
		week := weekStart(p.CreatedAt)
		b, ok := buckets[week]
		if !ok {
			b = &bucket{}
			buckets[week] = b
		}
		b.count++
		b.quality += p.Outcome.Quality
		if p.Outcome.Success {
			b.successes++
		}
	}

	trend := make([]WeeklyQuality, 0, len(buckets))
	for week, b := range buckets {
		trend = append(trend, WeeklyQuality{
			WeekStart:   week,
			Patterns:    b.count,
			AvgQuality:  b.quality / float64(b.count),
			SuccessRate: float64(b.successes) / float64(b.count),
		})
	}
	sort.Slice(trend, func(i, j int) bool { return trend[i].WeekStart.Before(trend[j].WeekStart) })
	return trend
}

func velocity(patterns []learning.Pattern) Velocity {
	if len(patterns) == 0 {
		return Velocity{}
	}

	first, last := patterns[0].CreatedAt, patterns[0].CreatedAt
	skills := map[string]bool{}
	activeWeeks := map[time.Time]bool{}
	for _, p := range patterns {
		if p.CreatedAt.Before(first) {
			first = p.CreatedAt
		}
		if p.CreatedAt.After(last) {
			last = p.CreatedAt
		}
		for _, s := range p.Skills {
			skills[s] = true
		}
		activeWeeks[weekStart(p.CreatedAt)] = true
	}

	weeks := last.Sub(first).Hours()/(24*7) + 1
	return Velocity{
		PatternsPerWeek:  float64(len(patterns)) / weeks,
		NewSkillsPerWeek: float64(len(skills)) / weeks,
		ActiveWeeks:      len(activeWeeks),
		DistinctSkills:   len(skills),
	}
}

// synergy counts skill pairs that co-occur in successful, high-quality
// patterns, sorted by occurrences then average quality.
func synergy(patterns []learning.Pattern) []Synergy {
	type agg struct {
		count   int
		quality float64
	}
	pairs := map[[2]string]*agg{}

	for _, p := range patterns {
		if !p.Outcome.Success || p.Outcome.Quality < synergyQuality {
			continue
		}
		skills := append([]string(nil), p.Skills...)
		sort.Strings(skills)
		for i := 0; i < len(skills); i++ {
			for j := i + 1; j < len(skills); j++ {
				key := [2]string{skills[i], skills[j]}
				a, ok := pairs[key]
				if !ok {
					a = &agg{}
					pairs[key] = a
				}
				a.count++
				a.quality += p.Outcome.Quality
			}
		}
	}

	out := make([]Synergy, 0, len(pairs))
	for key, a := range pairs {
		out = append(out, Synergy{
			Skills:      key,
			Occurrences: a.count,
			AvgQuality:  a.quality / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if out[i].AvgQuality != out[j].AvgQuality {
			return out[i].AvgQuality > out[j].AvgQuality
		}
		return out[i].Skills[0] < out[j].Skills[0]
	})
	return out
}

func sortedSkillMetrics(metrics map[string]learning.SkillMetric) []learning.SkillMetric {
	out := make([]learning.SkillMetric, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func sortedAgentMetrics(metrics map[string]learning.AgentMetric) []learning.AgentMetric {
	out := make([]learning.AgentMetric, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// weekStart truncates a timestamp to the Monday 00:00 UTC of its week.
func weekStart(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}
