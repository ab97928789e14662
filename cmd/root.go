// Package cmd defines and implements the CLI commands for the otacrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/app"
	"github.com/JakeFAU/ota-answers-crawler/internal/config"
	"github.com/JakeFAU/ota-answers-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey appKeyType = "app"
	cfgKey appKeyType = "config"

	// skipAppAnnotation marks commands that only need configuration.
	skipAppAnnotation = "skip-app"
)

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		envFiles []string
		logger   *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "otacrawler",
		Short: "Collects Q&A content from travel platforms.",
		Long: `otacrawler gathers help-center articles and community answers from
online travel platforms and forums, deduplicates them, and upserts them into
the article store.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
			if cmd.Annotations[skipAppAnnotation] != "true" {
				appInstance, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				err = appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			if logger != nil {
				// stderr sync fails on some terminals; nothing useful to do about it.
				_ = logger.Sync()
			}
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars with the OTA_ prefix override it")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	cmd.AddCommand(newCrawlCmd(), newServeCmd(), newPlatformsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "otacrawler: %v\n", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}
