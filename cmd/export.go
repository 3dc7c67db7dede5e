package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/export"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

func newExportCmd() *cobra.Command {
	var (
		format, appName, status, out string
		upload                       bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports stores as csv or xlsx",
		Long: `export writes the selected stores to --out, to stdout, or with
--upload to the configured blob storage backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("parse format: %w", err)
			}
			req := export.Request{AppName: appName, Status: store.Status(status), Format: f}
			if req.Status != "" && !req.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			if upload {
				res, err := a.Exporter.Upload(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("upload export: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out) //nolint:gosec // path chosen by the operator
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer func() {
					if cerr := file.Close(); cerr != nil {
						a.Logger.Warn("close export file", zap.Error(cerr))
					}
				}()
				w = file
			}
			rows, err := a.Exporter.WriteTo(cmd.Context(), w, req)
			if err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			a.Logger.Info("export written", zap.Int("rows", rows), zap.String("format", string(f)))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVar(&appName, "app", "", "only stores from this app's reviews")
	cmd.Flags().StringVar(&status, "status", "", "only stores in this status")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload to blob storage instead of writing locally")
	return cmd
}
