package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/vaxscrape/internal/app"
	"github.com/FranksOps/vaxscrape/internal/pipeline"
	"github.com/FranksOps/vaxscrape/internal/scraper"
)

func newEnrichCmd() *cobra.Command {
	var content string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch content for stored records that were saved without it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			mode, err := scraper.ParseContentMode(content)
			if err != nil {
				return err
			}
			if mode == scraper.ContentNone {
				mode = scraper.ContentMarkdown
			}
			extractor, err := scraper.NewExtractor(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := pipeline.Enrich(ctx, pipeline.EnrichConfig{
				Store:       a.Store,
				Fetcher:     a.Fetcher,
				Extractor:   extractor,
				ResultsDir:  cfg.Storage.ResultsDir,
				Concurrency: cfg.Fetch.Concurrency,
				PageTimeout: cfg.Fetch.Timeout,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&content, "content", "markdown", "html, markdown or text")
	return cmd
}
