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
	"github.com/FranksOps/vaxscrape/internal/serp"
)

func newScrapeCmd() *cobra.Command {
	var (
		numQueries  int
		searchDepth string
		topics      []string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one scraping pass and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			if len(topics) > 0 {
				cfg.Pipeline.Topics = topics
			}

			depth, err := serp.ParseDepth(searchDepth)
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

			summary, err := a.Orchestrator.Start(ctx, pipeline.Options{NumQueries: numQueries, SearchDepth: depth})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().IntVarP(&numQueries, "num-queries", "n", 1, "queries per topic")
	cmd.Flags().StringVarP(&searchDepth, "search-depth", "d", string(serp.DepthAdvanced), "basic or advanced")
	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "topics to run (defaults to config)")
	return cmd
}
