package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/vaxscrape/internal/scraper"
	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/FranksOps/vaxscrape/internal/storage/jsonbackend"
)

// EnrichConfig configures an enrichment pass.
type EnrichConfig struct {
	Store       *storage.Store
	Fetcher     scraper.PageFetcher
	Extractor   *scraper.Extractor
	ResultsDir  string
	Concurrency int
	PageTimeout time.Duration
	Logger      *slog.Logger
}

// EnrichSummary reports one enrichment pass.
type EnrichSummary struct {
	File     string     `json:"file,omitempty"`
	Pending  int        `json:"pending"`
	Enriched int        `json:"enriched"`
	Errors   []RunError `json:"errors"`
}

// Enrich fetches content for stored entries that have none, once per URL,
// and writes the filled-in entries to a new NDJSON file in ResultsDir. The
// master table itself is append-only and is not modified.
func Enrich(ctx context.Context, cfg EnrichConfig) (*EnrichSummary, error) {
	if cfg.Store == nil || cfg.Fetcher == nil || cfg.Extractor == nil {
		return nil, errors.New("pipeline: store, fetcher and extractor are required")
	}
	if cfg.Extractor.Mode() == scraper.ContentNone {
		return nil, fmt.Errorf("%w: enrichment needs a content mode other than none", ErrInvalidOptions)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = scraper.DefaultPageTimeout
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var pending []*storage.Entry
	seen := map[string]bool{}
	for _, e := range cfg.Store.Snapshot() {
		if e.Content != "" || seen[e.URL] {
			continue
		}
		seen[e.URL] = true
		pending = append(pending, e)
	}
	summary := &EnrichSummary{Pending: len(pending), Errors: []RunError{}}
	if len(pending) == 0 {
		return summary, nil
	}
	cfg.Logger.Info("enriching entries", "pending", len(pending))

	sess, err := cfg.Fetcher.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", cfg.Fetcher.Name(), err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			cfg.Logger.Warn("closing fetch session", "err", err)
		}
	}()

	enriched := make([]*storage.Entry, len(pending))
	failures := make([]error, len(pending))
	g := new(errgroup.Group)
	g.SetLimit(cfg.Concurrency)
	for i, e := range pending {
		g.Go(func() error {
			enriched[i], failures[i] = enrichOne(ctx, cfg, sess, e)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*storage.Entry, 0, len(pending))
	for i, e := range enriched {
		if failures[i] != nil {
			summary.Errors = append(summary.Errors, RunError{Kind: KindFetch, Query: pending[i].Query, URL: pending[i].URL, Reason: failures[i].Error(), Time: time.Now().UTC()})
			continue
		}
		out = append(out, e)
	}
	summary.Enriched = len(out)
	if len(out) == 0 {
		return summary, nil
	}

	name := storage.BatchName(time.Now().UTC(), "enriched", 0, jsonbackend.Ext)
	if err := jsonbackend.WriteBatch(filepath.Join(cfg.ResultsDir, name), out); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	summary.File = name
	cfg.Logger.Info("enrichment finished", "file", name, "enriched", len(out), "errors", len(summary.Errors))
	return summary, nil
}

func enrichOne(ctx context.Context, cfg EnrichConfig, sess scraper.Session, e *storage.Entry) (*storage.Entry, error) {
	pctx, cancel := context.WithTimeout(ctx, cfg.PageTimeout)
	defer cancel()

	page, err := sess.Fetch(pctx, e.URL)
	if err != nil {
		return nil, err
	}
	content, err := cfg.Extractor.Content(page)
	if err != nil {
		return nil, err
	}

	out := *e
	out.Content = content
	out.Title = cfg.Extractor.Title(e.Title, page)
	out.Timestamp = time.Now().UTC()
	return &out, nil
}
