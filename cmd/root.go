// Package cmd defines and implements the CLI commands for the contact crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/app"
	"github.com/JakeFAU/storefront-contact-crawler/internal/config"
	"github.com/JakeFAU/storefront-contact-crawler/internal/logging"
)

const serviceName = "storefront-contact-crawler"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap in
// an app built over in-memory collaborators.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// rootState carries the app built for a run so it can be released even when
// the subcommand fails; cobra skips post-run hooks on error.
type rootState struct {
	app *app.App
}

func (s *rootState) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(s.app))
	defer cancel()
	err := s.app.Shutdown(ctx)
	_ = s.app.Logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
	s.app = nil
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newRootCmd() (*cobra.Command, *rootState) {
	var cfgFile string
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "contact-crawler",
		Short: "Finds storefront websites and their contact emails.",
		Long: `contact-crawler ingests Shopify app review listings, resolves each
reviewing store to its website and crawls that site for contact emails.
It runs as an HTTP service with background worker pools, or as one-shot
commands for a single store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsApp(cmd) {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithOptions(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     serviceName,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newScrapeCmd(),
		newResolveCmd(),
		newIngestCmd(),
		newExportCmd(),
	)
	return cmd, state
}

// needsApp is false for cobra's built-in help and completion commands.
func needsApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return false
		}
	}
	return true
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// shutdownTimeout falls back to a sane bound when config leaves it unset.
func shutdownTimeout(a *app.App) time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	root, state := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := state.close(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
