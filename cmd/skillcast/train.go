package main

import (
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit per-skill models from the captured history",
	Long: `Train fits a scorer for every skill whose model is untrained or stale
and has enough examples. Training is idempotent: running it twice
without new captures changes nothing. Per-skill failures are reported
but never block other skills.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.Train(ctx)
		printTrainReport(report.Retrained, report.Skipped, report.Failures)
		if err != nil && len(report.Retrained) == 0 {
			return err
		}
		return nil
	},
}
