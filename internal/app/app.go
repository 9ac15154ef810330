// Package app assembles vaxscrape's components from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/vaxscrape/internal/agent"
	"github.com/FranksOps/vaxscrape/internal/browser"
	"github.com/FranksOps/vaxscrape/internal/config"
	"github.com/FranksOps/vaxscrape/internal/fingerprint"
	"github.com/FranksOps/vaxscrape/internal/pipeline"
	"github.com/FranksOps/vaxscrape/internal/query"
	"github.com/FranksOps/vaxscrape/internal/scraper"
	"github.com/FranksOps/vaxscrape/internal/serp"
	"github.com/FranksOps/vaxscrape/internal/server"
	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/FranksOps/vaxscrape/internal/storage/csvbackend"
	"github.com/FranksOps/vaxscrape/internal/storage/jsonbackend"
	"github.com/FranksOps/vaxscrape/internal/storage/postgres"
	"github.com/FranksOps/vaxscrape/internal/storage/sqlite"
	"github.com/FranksOps/vaxscrape/pkg/proxy"
	"github.com/FranksOps/vaxscrape/pkg/ratelimit"
	"github.com/FranksOps/vaxscrape/pkg/useragent"
)

// Version is reported by /health.
const Version = "1.0.0"

var _ server.Runner = (*pipeline.Orchestrator)(nil)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *storage.Store
	Generator    *query.Generator
	Provider     serp.Provider
	Fetcher      scraper.PageFetcher
	Orchestrator *pipeline.Orchestrator
	Profiler     *agent.Profiler
	RAG          *agent.RAG

	closers []io.Closer
}

// New wires every component. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Storage.ResultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("results dir: %w", err)
	}

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = storage.NewStore(ctx, backend, logger)
	a.closers = append(a.closers, a.Store)

	seed := cfg.Pipeline.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	vocab := query.DefaultVocabulary()
	if a.Generator, err = query.New(vocab, seed); err != nil {
		return nil, err
	}

	proxies, err := proxy.NewPool(proxy.Config{}, cfg.Fetch.Proxies...)
	if err != nil {
		return nil, fmt.Errorf("proxies: %w", err)
	}
	if cfg.Fetch.ProxyFile != "" {
		if err := proxies.LoadFile(cfg.Fetch.ProxyFile); err != nil {
			return nil, fmt.Errorf("proxies: %w", err)
		}
	}
	uas := useragent.NewPool(cfg.Fetch.UserAgents)
	profile, err := fingerprint.ParseProfile(cfg.Fetch.Fingerprint)
	if err != nil {
		return nil, err
	}

	a.Provider = newProvider(cfg, profile, uas, proxies, logger)

	if a.Fetcher, err = newFetcher(cfg, profile, uas, proxies, logger); err != nil {
		return nil, err
	}
	if c, ok := a.Fetcher.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	mode, err := scraper.ParseContentMode(cfg.Fetch.Content)
	if err != nil {
		return nil, err
	}
	extractor, err := scraper.NewExtractor(mode)
	if err != nil {
		return nil, err
	}

	a.Orchestrator, err = pipeline.New(pipeline.Config{
		Generator:   a.Generator,
		Topics:      cfg.Pipeline.Topics,
		Provider:    a.Provider,
		Fetcher:     a.Fetcher,
		Extractor:   extractor,
		Store:       a.Store,
		ResultsDir:  cfg.Storage.ResultsDir,
		BatchFormat: cfg.Storage.BatchFormat,
		MaxResults:  cfg.Search.MaxResults,
		Concurrency: cfg.Fetch.Concurrency,
		PageTimeout: cfg.Fetch.Timeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Agents.OpenAIAPIKey != "" {
		a.Profiler, err = agent.NewProfiler(agent.ProfilerConfig{
			APIKey:      cfg.Agents.OpenAIAPIKey,
			Model:       cfg.Agents.OpenAIModel,
			Temperature: cfg.Agents.Temperature,
			Timeout:     cfg.Agents.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("OPENAI_API_KEY not set, profile agent disabled")
	}
	if cfg.Agents.VectaraAPIKey != "" && cfg.Agents.VectaraCorpusKey != "" {
		a.RAG, err = agent.NewRAG(agent.RAGConfig{
			APIKey:    cfg.Agents.VectaraAPIKey,
			CorpusKey: cfg.Agents.VectaraCorpusKey,
			Endpoint:  cfg.Agents.VectaraEndpoint,
			Timeout:   cfg.Agents.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Vectara credentials not set, rag agent disabled")
	}

	return a, nil
}

// Server returns the HTTP API over the app. base parents background runs.
func (a *App) Server(base context.Context) *server.Server {
	cfg := server.Config{
		Runner:      a.Orchestrator,
		Store:       a.Store,
		ResultsDir:  a.Config.Storage.ResultsDir,
		MasterFile:  filepath.Base(a.Config.MasterPath()),
		Version:     Version,
		BaseContext: base,
		Logger:      a.Logger,
	}
	// typed nils must not reach the interface fields
	if a.Profiler != nil {
		cfg.Profiler = a.Profiler
	}
	if a.RAG != nil {
		cfg.RAG = a.RAG
	}
	return server.New(cfg)
}

// Close waits for background runs and releases resources in reverse order.
func (a *App) Close() error {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenBackend opens the configured master table backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendCSV:
		return csvbackend.New(cfg.MasterPath())
	case config.BackendJSON:
		return jsonbackend.New(cfg.MasterPath())
	case config.BackendSQLite:
		path := cfg.Storage.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Storage.ResultsDir, path)
		}
		return sqlite.New(path)
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func newProvider(cfg *config.Config, profile fingerprint.Profile, uas *useragent.Pool, proxies *proxy.Pool, logger *slog.Logger) serp.Provider {
	switch cfg.Search.Provider {
	case config.ProviderDuckDuckGo:
		ddg, err := serp.NewDuckDuckGo(serp.DuckDuckGoConfig{
			Endpoint:    cfg.Search.Endpoint,
			Fingerprint: profile,
			UAPool:      uas,
			ProxyPool:   proxies,
			RPS:         cfg.Search.RPS,
			Timeout:     cfg.Search.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return unavailable{name: "duckduckgo", err: err}
		}
		return ddg
	default:
		t, err := serp.NewTavily(serp.TavilyConfig{
			APIKey:        cfg.Search.TavilyAPIKey,
			Endpoint:      cfg.Search.Endpoint,
			RPS:           cfg.Search.RPS,
			Timeout:       cfg.Search.Timeout,
			IncludeAnswer: cfg.Search.IncludeAnswer,
			Logger:        logger,
		})
		if err != nil {
			logger.Warn("search provider unavailable, scrape runs will fail", "provider", "tavily", "err", err)
			return unavailable{name: "tavily", err: err}
		}
		return t
	}
}

func newFetcher(cfg *config.Config, profile fingerprint.Profile, uas *useragent.Pool, proxies *proxy.Pool, logger *slog.Logger) (scraper.PageFetcher, error) {
	if cfg.Fetch.Fetcher == config.FetcherBrowser {
		return browser.New(browser.Config{
			RemoteURL:        cfg.Browser.RemoteURL,
			Bin:              cfg.Browser.Bin,
			Headful:          cfg.Browser.Headful,
			ResourceBlocking: cfg.Browser.BlockResources,
			Timeout:          cfg.Fetch.Timeout,
			Logger:           logger,
		}), nil
	}
	return scraper.NewHTTPFetcher(scraper.FetchConfig{
		Timeout:       cfg.Fetch.Timeout,
		MaxRedirects:  cfg.Fetch.MaxRedirects,
		ProxyPool:     proxies,
		UAPool:        uas,
		Fingerprint:   profile,
		Limiter:       ratelimit.NewHostLimiter(cfg.Fetch.RPS, cfg.Fetch.Burst, cfg.Fetch.Jitter),
		RespectRobots: cfg.Fetch.RespectRobots,
		RobotsAgent:   cfg.Fetch.RobotsAgent,
		Logger:        logger,
	})
}

// unavailable stands in for a provider that could not be built, so the
// service still starts and every run fails with the construction error.
type unavailable struct {
	name string
	err  error
}

func (u unavailable) Name() string { return u.name }

func (u unavailable) Search(ctx context.Context, q string, depth serp.Depth, maxResults int) ([]serp.Result, error) {
	if errors.Is(u.err, serp.ErrUnavailable) {
		return nil, u.err
	}
	return nil, fmt.Errorf("%w: %w", serp.ErrUnavailable, u.err)
}
