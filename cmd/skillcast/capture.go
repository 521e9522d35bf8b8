package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillcast/pkg/capture"
	"github.com/jingkaihe/skillcast/pkg/presenter"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the outcome of a completed task",
	Long: `Capture appends a pattern for a completed task: the task context, the
skills and agents that worked on it, and the observed outcome. Metrics
roll forward with the capture, and every 25th capture triggers a
training pass over skills with enough data.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		taskCtx, err := taskContextFromFlags(cmd)
		if err != nil {
			return err
		}

		skills, _ := cmd.Flags().GetStringSlice("skills")
		agents, _ := cmd.Flags().GetStringSlice("agents")
		approach, _ := cmd.Flags().GetString("approach")
		success, _ := cmd.Flags().GetBool("success")
		quality, _ := cmd.Flags().GetFloat64("quality")
		duration, _ := cmd.Flags().GetDuration("duration")

		obs := capture.Observation{
			Context:  taskCtx,
			Skills:   skills,
			Agents:   agents,
			Approach: approach,
			Outcome:  learning.Outcome{Success: success, Quality: quality, Duration: duration},
		}

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		p, report, err := eng.Capture(ctx, obs)
		if err != nil {
			return err
		}

		presenter.Success(fmt.Sprintf("Captured pattern %s (confidence %.2f)", p.ID, p.Confidence))
		if report != nil {
			printTrainReport(report.Retrained, report.Skipped, report.Failures)
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().String("type", "implementation", "Task type")
	captureCmd.Flags().String("intent", "", "What the task set out to do")
	captureCmd.Flags().StringSlice("tech", nil, "Technologies the task touched")
	captureCmd.Flags().String("complexity", "medium", "Estimated complexity (low, medium, high)")
	captureCmd.Flags().StringSlice("domain", nil, "Domain tags for the task")
	captureCmd.Flags().String("team-size", "", "Team size override")
	captureCmd.Flags().StringSlice("skills", nil, "Skills that worked on the task")
	captureCmd.Flags().StringSlice("agents", nil, "Agents the task was delegated to")
	captureCmd.Flags().String("approach", "", "One-line summary of the approach taken")
	captureCmd.Flags().Bool("success", true, "Whether the task succeeded")
	captureCmd.Flags().Float64("quality", 0, "Outcome quality score (0-100)")
	captureCmd.Flags().Duration("duration", 0, "How long the task took")
}

func printTrainReport(retrained, skipped []string, failures map[string]string) {
	presenter.Section("Training")
	if len(retrained) > 0 {
		presenter.Success(fmt.Sprintf("Retrained: %v", retrained))
	}
	if len(skipped) > 0 {
		presenter.Info(fmt.Sprintf("Skipped (current or too little data): %v", skipped))
	}
	for skill, reason := range failures {
		presenter.Warning(fmt.Sprintf("Failed %s: %s", skill, reason))
	}
}
