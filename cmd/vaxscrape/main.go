package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/FranksOps/vaxscrape/internal/app"
	"github.com/FranksOps/vaxscrape/internal/config"
)

var configPath string

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error loading .env", "err", err)
	}

	rootCmd := &cobra.Command{
		Use:           "vaxscrape",
		Short:         "Vaccine sentiment web scraping pipeline",
		Long:          "vaxscrape generates forum-targeted search queries, fetches the matching pages and stores them for sentiment analysis.",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(newServeCmd(), newScrapeCmd(), newQueriesCmd(), newReportCmd(), newEnrichCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// setup loads the config and installs the configured default logger.
func setup() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
