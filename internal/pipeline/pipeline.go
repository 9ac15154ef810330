// Package pipeline runs scrape runs: for every topic it generates queries,
// searches, fetches the candidates and persists one batch per query.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/internal/query"
	"github.com/FranksOps/vaxscrape/internal/scraper"
	"github.com/FranksOps/vaxscrape/internal/serp"
	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/FranksOps/vaxscrape/internal/storage/csvbackend"
	"github.com/FranksOps/vaxscrape/internal/storage/jsonbackend"
)

const (
	DefaultMaxResults  = 20
	DefaultConcurrency = 4
)

// Options are the per-run parameters.
type Options struct {
	NumQueries  int
	SearchDepth serp.Depth
}

// Config wires the orchestrator to its collaborators.
type Config struct {
	Generator *query.Generator
	// Topics overrides the generator's topic list.
	Topics    []string
	Provider  serp.Provider
	Fetcher   scraper.PageFetcher
	Extractor *scraper.Extractor
	Store     *storage.Store

	// ResultsDir holds the per-query batch files.
	ResultsDir string
	// BatchFormat is csvbackend.Ext or jsonbackend.Ext.
	BatchFormat string

	MaxResults  int
	Concurrency int
	PageTimeout time.Duration

	Logger *slog.Logger
}

// Orchestrator owns the run state. Only one run may be active at a time.
type Orchestrator struct {
	cfg        Config
	writeBatch func(path string, entries []*storage.Entry) error
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	status  RunStatus
	summary *RunSummary

	wg sync.WaitGroup
}

// New validates cfg and returns an idle orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Generator == nil || cfg.Provider == nil || cfg.Fetcher == nil || cfg.Store == nil {
		return nil, errors.New("pipeline: generator, provider, fetcher and store are required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
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
	if len(cfg.Topics) == 0 {
		cfg.Topics = cfg.Generator.Topics()
	}
	if cfg.Extractor == nil {
		ex, err := scraper.NewExtractor(scraper.ContentMarkdown)
		if err != nil {
			return nil, err
		}
		cfg.Extractor = ex
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	o := &Orchestrator{cfg: cfg, logger: cfg.Logger, now: func() time.Time { return time.Now().UTC() }}
	switch cfg.BatchFormat {
	case "", csvbackend.Ext:
		o.cfg.BatchFormat = csvbackend.Ext
		o.writeBatch = csvbackend.WriteBatch
	case jsonbackend.Ext:
		o.writeBatch = jsonbackend.WriteBatch
	default:
		return nil, fmt.Errorf("pipeline: unknown batch format %q", cfg.BatchFormat)
	}
	return o, nil
}

// Start runs to completion and returns its summary. Per-query and per-URL
// failures are recorded in the summary; only structural failures return a
// *RunFailedError.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (*RunSummary, error) {
	opts, err := normalize(opts)
	if err != nil {
		return nil, err
	}
	run, err := o.begin()
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run, opts)
}

// StartAsync claims the run and executes it in the background. The run id
// is returned once the claim succeeds; progress is visible through Status.
func (o *Orchestrator) StartAsync(ctx context.Context, opts Options) (string, error) {
	opts, err := normalize(opts)
	if err != nil {
		return "", err
	}
	run, err := o.begin()
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(ctx, run, opts); err != nil {
			o.logger.Error("background run failed", "run_id", run.id, "err", err)
		}
	}()
	return run.id, nil
}

// Wait blocks until background runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns a copy of the run status.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.clone()
}

// Stats returns the run status together with the store size.
func (o *Orchestrator) Stats() Stats {
	return Stats{RunStatus: o.Status(), StoreRecords: o.cfg.Store.Len()}
}

// LastSummary returns the summary of the last completed run, or nil.
func (o *Orchestrator) LastSummary() *RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return nil
	}
	s := *o.summary
	s.Batches = append([]string{}, o.summary.Batches...)
	s.Errors = append([]RunError{}, o.summary.Errors...)
	return &s
}

type run struct {
	id      string
	started time.Time
	records int
	queries int
	batches []string
}

func normalize(opts Options) (Options, error) {
	if opts.NumQueries <= 0 {
		return opts, fmt.Errorf("%w: num_queries must be positive, got %d", ErrInvalidOptions, opts.NumQueries)
	}
	d, err := serp.ParseDepth(string(opts.SearchDepth))
	if err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	opts.SearchDepth = d
	return opts, nil
}

// begin moves Idle to Running. A conflicting call leaves status untouched.
func (o *Orchestrator) begin() (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.IsRunning {
		return nil, ErrAlreadyRunning
	}

	r := &run{id: uuid.NewString(), started: o.now()}
	o.status.IsRunning = true
	o.status.RunID = r.id
	o.status.CurrentQuery = ""
	o.status.Errors = []RunError{}
	o.status.QueriesProcessed = 0
	metrics.RunInProgress.Set(1)
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, opts Options) (*RunSummary, error) {
	log := o.logger.With("run_id", r.id)
	log.Info("scrape run started", "num_queries", opts.NumQueries, "search_depth", opts.SearchDepth, "topics", len(o.cfg.Topics))

	err := o.runTopics(ctx, log, r, opts)

	o.mu.Lock()
	defer o.mu.Unlock()

	finished := o.now()
	metrics.RunInProgress.Set(0)
	metrics.RunDuration.Observe(finished.Sub(r.started).Seconds())

	o.status.IsRunning = false
	o.status.CurrentQuery = ""
	o.status.QueriesProcessed = r.queries

	if err != nil {
		o.status.Errors = append(o.status.Errors, RunError{Kind: KindFatal, Reason: err.Error(), Time: finished})
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		log.Error("scrape run failed", "err", err, "queries_processed", r.queries, "records", r.records)
		return nil, &RunFailedError{RunID: r.id, Err: err}
	}

	o.status.LastRun = &finished
	o.status.TotalRecords = r.records

	summary := &RunSummary{
		RunID:            r.id,
		Status:           "success",
		TotalRecords:     r.records,
		QueriesProcessed: r.queries,
		Batches:          append([]string{}, r.batches...),
		Errors:           append([]RunError{}, o.status.Errors...),
		StartedAt:        r.started,
		FinishedAt:       finished,
	}
	o.summary = summary
	metrics.RunsTotal.WithLabelValues("success").Inc()
	log.Info("scrape run finished", "records", r.records, "queries_processed", r.queries, "errors", len(summary.Errors))

	out := *summary
	return &out, nil
}

// runTopics returns only structural errors. Everything else is recorded and
// skipped.
func (o *Orchestrator) runTopics(ctx context.Context, log *slog.Logger, r *run, opts Options) error {
	for _, topic := range o.cfg.Topics {
		queries := o.cfg.Generator.Generate(topic, opts.NumQueries)
		log.Info("processing topic", "topic", topic, "queries", len(queries))

		for idx, q := range queries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.runQuery(ctx, log, r, opts, idx, q); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) runQuery(ctx context.Context, log *slog.Logger, r *run, opts Options, idx int, q query.Query) error {
	o.mu.Lock()
	o.status.CurrentQuery = q.Text
	o.mu.Unlock()
	r.queries++
	log.Info("processing query", "n", r.queries, "query", q.Text)

	results, err := o.cfg.Provider.Search(ctx, q.Text, opts.SearchDepth, o.cfg.MaxResults)
	if err != nil {
		if errors.Is(err, serp.ErrUnavailable) || ctx.Err() != nil {
			return fmt.Errorf("search %q: %w", q.Text, err)
		}
		o.record(RunError{Kind: KindSearch, Query: q.Text, Reason: err.Error()})
		log.Warn("search failed", "query", q.Text, "err", err)
		return nil
	}
	// providers are not trusted to honor maxResults
	results = results[:min(len(results), o.cfg.MaxResults)]
	log.Info("retrieved results", "query", q.Text, "results", len(results))
	if len(results) == 0 {
		return nil
	}

	entries, err := o.fetchBatch(ctx, q, opts, results)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	o.persist(ctx, log, r, q, idx, entries)
	return nil
}

type slot struct {
	entry *storage.Entry
	err   error
}

// fetchBatch fetches candidates in one session and returns the successful
// entries in candidate order. A session that cannot be opened is structural.
func (o *Orchestrator) fetchBatch(ctx context.Context, q query.Query, opts Options, results []serp.Result) ([]*storage.Entry, error) {
	sess, err := o.cfg.Fetcher.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", o.cfg.Fetcher.Name(), err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			o.logger.Warn("closing fetch session", "err", err)
		}
	}()

	slots := make([]slot, len(results))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Concurrency)
	for i, res := range results {
		g.Go(func() error {
			slots[i] = o.fetchOne(ctx, sess, q, opts, res)
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]*storage.Entry, 0, len(results))
	for i, s := range slots {
		if s.err != nil {
			o.record(RunError{Kind: KindFetch, Query: q.Text, URL: results[i].URL, Reason: s.err.Error()})
			continue
		}
		entries = append(entries, s.entry)
	}
	return entries, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, sess scraper.Session, q query.Query, opts Options, res serp.Result) slot {
	pctx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
	defer cancel()

	page, err := sess.Fetch(pctx, res.URL)
	if err != nil {
		o.logger.Warn("fetch failed", "url", res.URL, "outcome", scraper.Outcome(err), "err", err)
		return slot{err: err}
	}

	content, err := o.cfg.Extractor.Content(page)
	if err != nil {
		// keep the entry; content can be filled in later
		o.logger.Warn("content extraction failed", "url", res.URL, "err", err)
	}

	e, err := storage.NewEntry(storage.Entry{
		URL:         res.URL,
		Title:       o.cfg.Extractor.Title(res.Title, page),
		Content:     content,
		Query:       q.Text,
		Timestamp:   o.now(),
		SearchDepth: string(opts.SearchDepth),
		Perspective: q.Perspective,
		Demographic: q.Demographic,
		Topic:       q.Topic,
	})
	if err != nil {
		return slot{err: err}
	}
	o.logger.Debug("scraped", "url", res.URL, "status", page.StatusCode)
	return slot{entry: e}
}

// persist writes the immutable batch file and appends to the store. Either
// failing is recorded; the entries stay in the in-memory table.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, r *run, q query.Query, idx int, entries []*storage.Entry) {
	name := storage.BatchName(o.now(), q.Topic, idx, o.cfg.BatchFormat)
	path := filepath.Join(o.cfg.ResultsDir, name)
	if err := o.writeBatch(path, entries); err != nil {
		metrics.PersistFailuresTotal.Inc()
		o.record(RunError{Kind: KindPersist, Query: q.Text, Reason: fmt.Sprintf("batch %s: %v", name, err)})
		log.Error("writing batch file", "file", name, "err", err)
	} else {
		r.batches = append(r.batches, name)
		log.Info("saved batch", "query", q.Text, "file", name, "records", len(entries))
	}

	if err := o.cfg.Store.Add(ctx, entries); err != nil {
		metrics.PersistFailuresTotal.Inc()
		o.record(RunError{Kind: KindPersist, Query: q.Text, Reason: err.Error()})
	}
	r.records += len(entries)
	metrics.EntriesPersistedTotal.Add(float64(len(entries)))
}

func (o *Orchestrator) record(e RunError) {
	if e.Time.IsZero() {
		e.Time = o.now()
	}
	o.mu.Lock()
	o.status.Errors = append(o.status.Errors, e)
	o.mu.Unlock()
}
