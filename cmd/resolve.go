package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

func newResolveCmd() *cobra.Command {
	var q resolver.Query
	cmd := &cobra.Command{
		Use:   "resolve <store name>",
		Short: "Finds the website of a store by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			q.Name = strings.Join(args, " ")
			res, err := a.Orchestrator.Resolve(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", q.Name, err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&q.Country, "country", "", "country the store operates in")
	cmd.Flags().StringVar(&q.Context, "context", "", "extra hint such as the review text")
	return cmd
}
