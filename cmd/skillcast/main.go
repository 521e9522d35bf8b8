package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillcast/pkg/config"
	"github.com/jingkaihe/skillcast/pkg/engine"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/presenter"
	"github.com/jingkaihe/skillcast/pkg/telemetry"
	"github.com/jingkaihe/skillcast/pkg/version"
)

// appConfig is populated by the root command's PersistentPreRunE and read
// by every subcommand.
var appConfig *config.Config

var tracerShutdown func(context.Context) error

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLCAST")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillcast")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skillcast",
	Short: "Predict which skills fit a task from observed outcomes",
	Long: `skillcast learns from the outcomes of completed tasks and predicts which
skills are most likely to produce a high-quality result for the next one.
It fingerprints the current project, captures (context, skills, outcome)
patterns, trains per-skill scorers, and shares anonymized patterns across
projects through an optional pool.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		appConfig = cfg

		if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
		logger.SetLogFormat(cfg.LogFormat)

		if cfg.Tracing.Enabled {
			tracerShutdown, err = telemetry.InitTracer(cmd.Context(), telemetry.Config{
				Enabled:        true,
				ServiceName:    "skillcast",
				ServiceVersion: version.Get().Version,
				SamplerType:    cfg.Tracing.SamplerType,
				SamplerRatio:   cfg.Tracing.SamplerRatio,
			})
			if err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if tracerShutdown != nil {
			return tracerShutdown(cmd.Context())
		}
		return nil
	},
}

// openEngine opens the engine for the current working directory.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return engine.New(ctx, root, appConfig)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the project state database")
	rootCmd.PersistentFlags().String("pool", "", "Path of the shared cross-project pattern pool")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("pool_path", rootCmd.PersistentFlags().Lookup("pool"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "command failed")
		os.Exit(1)
	}
}
