package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillcast/pkg/presenter"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Recommend skills for an upcoming task",
	Long: `Predict which skills are most likely to produce a high-quality outcome
for the described task, based on this project's captured history and the
shared pattern pool. When too little history exists the command says so
explicitly instead of guessing.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		taskCtx, err := taskContextFromFlags(cmd)
		if err != nil {
			return err
		}

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.Predict(ctx, taskCtx)
		if err != nil {
			if errors.Is(err, learning.ErrInsufficientData) {
				presenter.Warning("Not enough history to make a recommendation yet. Capture more task outcomes first.")
				return nil
			}
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(result.Predictions)
		}

		presenter.Section("Recommended skills")
		for i, p := range result.Predictions {
			presenter.Info(fmt.Sprintf("%d. %s  probability=%.2f confidence=%.2f", i+1, p.Skill, p.Probability, p.Confidence))
			presenter.Info(fmt.Sprintf("   %s", p.Rationale))
		}
		return nil
	},
}

func init() {
	predictCmd.Flags().String("type", "implementation", "Task type (implementation, refactor, debug, test, integration, security, other)")
	predictCmd.Flags().String("intent", "", "Short description of what the task should achieve")
	predictCmd.Flags().StringSlice("tech", nil, "Technologies the task touches")
	predictCmd.Flags().String("complexity", "medium", "Estimated complexity (low, medium, high)")
	predictCmd.Flags().StringSlice("domain", nil, "Domain tags for the task")
	predictCmd.Flags().String("team-size", "", "Team size override (solo, small, medium, large)")
	predictCmd.Flags().Bool("json", false, "Emit predictions as JSON")
}

func taskContextFromFlags(cmd *cobra.Command) (learning.TaskContext, error) {
	taskType, _ := cmd.Flags().GetString("type")
	intent, _ := cmd.Flags().GetString("intent")
	tech, _ := cmd.Flags().GetStringSlice("tech")
	complexity, _ := cmd.Flags().GetString("complexity")
	domain, _ := cmd.Flags().GetStringSlice("domain")
	teamSize, _ := cmd.Flags().GetString("team-size")

	switch learning.Complexity(complexity) {
	case learning.ComplexityLow, learning.ComplexityMedium, learning.ComplexityHigh:
	default:
		return learning.TaskContext{}, errors.Errorf("unknown complexity %q", complexity)
	}

	return learning.TaskContext{
		Type:         learning.TaskType(taskType),
		Intent:       intent,
		Technologies: tech,
		Complexity:   learning.Complexity(complexity),
		DomainTags:   domain,
		TeamSize:     learning.TeamSize(teamSize),
	}, nil
}
