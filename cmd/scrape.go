package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/relevance"
)

type scrapeOutput struct {
	Crawl     crawler.Result                  `json:"crawl"`
	Primary   []string                        `json:"primary"`
	Secondary []string                        `json:"secondary"`
	Filtered  map[relevance.Category][]string `json:"categorized"`
}

func newScrapeCmd() *cobra.Command {
	var storeName string
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Crawls one storefront and prints the relevant contact emails",
		Long: `scrape runs a single bounded crawl against a storefront URL and filters
the harvested addresses the same way the email pool does. Nothing is
written to the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, err := a.IDs.NewRunID()
			if err != nil {
				return fmt.Errorf("generate run id: %w", err)
			}
			res, err := a.Engine.Crawl(cmd.Context(), args[0], runID)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			filtered := a.Relevance.Filter(cmd.Context(), res.RawEmails, res.BaseURL, storeName)
			return printJSON(cmd.OutOrStdout(), scrapeOutput{
				Crawl:     res,
				Primary:   filtered.Primary,
				Secondary: filtered.Secondary,
				Filtered:  filtered.Categorized,
			})
		},
	}
	cmd.Flags().StringVar(&storeName, "name", "", "store name, used by the adjudicator")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
