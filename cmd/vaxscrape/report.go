package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/FranksOps/vaxscrape/internal/app"
	"github.com/FranksOps/vaxscrape/internal/report"
	"github.com/FranksOps/vaxscrape/internal/storage"
)

func newReportCmd() *cobra.Command {
	var (
		format     string
		topic      string
		topDomains int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := context.Background()
			backend, err := app.OpenBackend(ctx, cfg)
			if err != nil {
				return err
			}
			store := storage.NewStore(ctx, backend, logger)
			defer store.Close()

			entries := store.Query(storage.Filter{Topic: topic})
			return report.Write(cmd.OutOrStdout(), f, report.GenerateSummary(entries, topDomains))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "json, text or html")
	cmd.Flags().StringVar(&topic, "topic", "", "only records for this topic")
	cmd.Flags().IntVar(&topDomains, "top", 10, "number of top domains to list")
	return cmd
}
