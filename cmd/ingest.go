package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/storefront-contact-crawler/internal/reviews"
)

func newIngestCmd() *cobra.Command {
	var req reviews.Request
	cmd := &cobra.Command{
		Use:   "ingest <app reviews url>",
		Short: "Scrapes a Shopify app review listing into stores",
		Long: `ingest walks the review pages of an app listing and records every
reviewer as a store awaiting URL resolution. An interrupted listing
resumes after the last page it recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req.AppURL = args[0]
			if !cmd.Flags().Changed("max-pages") {
				req.MaxPages = a.Config.Reviews.MaxPages
			}
			if !cmd.Flags().Changed("max-reviews") {
				req.MaxReviews = a.Config.Reviews.MaxReviews
			}
			out, err := a.Ingester.Ingest(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", req.AppURL, err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&req.MaxPages, "max-pages", 0, "stop after this many review pages (0 means no limit)")
	cmd.Flags().IntVar(&req.MaxReviews, "max-reviews", 0, "stop after this many reviews (0 means no limit)")
	return cmd
}
