package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillcast/pkg/engine"
	"github.com/jingkaihe/skillcast/pkg/fingerprint"
	"github.com/jingkaihe/skillcast/pkg/presenter"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Show or refresh the project fingerprint",
	Long: `Show the fingerprint skillcast uses to find comparable history for this
project. --refresh recomputes it from the current tree; --watch keeps
recomputing whenever a project marker file (go.mod, package.json, ...)
changes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			if _, err := eng.RefreshFingerprint(ctx); err != nil {
				return err
			}
		}
		printFingerprint(eng)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return watchFingerprint(ctx, eng)
		}
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().Bool("refresh", false, "Recompute the fingerprint before showing it")
	fingerprintCmd.Flags().Bool("watch", false, "Recompute whenever project marker files change")
}

func printFingerprint(eng *engine.Engine) {
	fp := eng.Fingerprint()
	presenter.Section("Project fingerprint")
	presenter.Info(fmt.Sprintf("hash:          %s", fp.Hash))
	presenter.Info(fmt.Sprintf("technologies:  %s", strings.Join(fp.Features.Technologies, ", ")))
	presenter.Info(fmt.Sprintf("architecture:  %s", strings.Join(fp.Features.Architecture, ", ")))
	presenter.Info(fmt.Sprintf("domain:        %s", strings.Join(fp.Features.DomainKeywords, ", ")))
	presenter.Info(fmt.Sprintf("conventions:   %s", strings.Join(fp.Features.Conventions, ", ")))
	presenter.Info(fmt.Sprintf("team size:     %s", fp.Features.TeamSize))
	if fp.IsUnknown() {
		presenter.Warning("No project signals detected; predictions will lean on the shared pool.")
	}
}

func watchFingerprint(ctx context.Context, eng *engine.Engine) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	watcher, err := fingerprint.NewWatcher(root, 2*time.Second, func(ctx context.Context) {
		if _, err := eng.RefreshFingerprint(ctx); err != nil {
			presenter.Error(err, "failed to refresh fingerprint")
			return
		}
		printFingerprint(eng)
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	presenter.Info("Watching project markers; press Ctrl-C to stop.")
	watcher.Run(ctx)
	return nil
}
