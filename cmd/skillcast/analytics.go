package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillcast/pkg/presenter"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show learning trends, velocity, and skill synergy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.Analytics(ctx)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(report)
		}

		presenter.Section("Quality trend")
		for _, w := range report.Trend {
			presenter.Info(fmt.Sprintf("week of %s: %d patterns, avg quality %.1f, success rate %.0f%%",
				w.WeekStart.Format("2006-01-02"), w.Patterns, w.AvgQuality, w.SuccessRate*100))
		}

		presenter.Section("Velocity")
		presenter.Info(fmt.Sprintf("%.1f patterns/week across %d active weeks, %d distinct skills",
			report.Velocity.PatternsPerWeek, report.Velocity.ActiveWeeks, report.Velocity.DistinctSkills))

		if len(report.Synergy) > 0 {
			presenter.Section("Skill synergy")
			for _, s := range report.Synergy {
				presenter.Info(fmt.Sprintf("%s + %s: %d high-quality co-uses (avg %.1f)",
					s.Skills[0], s.Skills[1], s.Occurrences, s.AvgQuality))
			}
		}

		presenter.Section("Skills")
		for _, m := range report.Skills {
			presenter.Info(fmt.Sprintf("%-24s used %3d  success %.0f%%  rolling %.2f",
				m.Name, m.UsageCount, m.SuccessRate()*100, m.RollingScore))
		}
		return nil
	},
}

func init() {
	analyticsCmd.Flags().Bool("json", false, "Emit the full report as JSON")
}
