package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the URL-finding and email-scraping pools without the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger.Info("worker pools started",
				zap.Int("email_workers", a.Config.Scheduler.Email.Size),
				zap.Int("url_workers", a.Config.Scheduler.URL.Size),
			)
			return a.RunPools(cmd.Context())
		},
	}
}
