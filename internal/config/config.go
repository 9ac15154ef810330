// Package config loads vaxscrape settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FranksOps/vaxscrape/internal/fingerprint"
	"github.com/FranksOps/vaxscrape/internal/scraper"
)

// Storage backends.
const (
	BackendCSV      = "csv"
	BackendJSON     = "jsonl"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Search providers and fetchers.
const (
	ProviderTavily     = "tavily"
	ProviderDuckDuckGo = "duckduckgo"

	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// Config holds the full vaxscrape configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Search   SearchConfig   `yaml:"search"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Browser  BrowserConfig  `yaml:"browser"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Agents   AgentsConfig   `yaml:"agents"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MetricsAddr starts a separate /metrics listener when set.
	MetricsAddr string `yaml:"metrics_addr"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	ResultsDir string `yaml:"results_dir"`
	// MasterFile is relative to ResultsDir. Defaults to master_database.{csv|jsonl}.
	MasterFile  string `yaml:"master_file"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// BatchFormat is csv or jsonl.
	BatchFormat string `yaml:"batch_format"`
}

type SearchConfig struct {
	Provider      string        `yaml:"provider"`
	TavilyAPIKey  string        `yaml:"tavily_api_key"`
	Endpoint      string        `yaml:"endpoint"`
	RPS           float64       `yaml:"rps"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxResults    int           `yaml:"max_results"`
	IncludeAnswer bool          `yaml:"include_answer"`
}

type FetchConfig struct {
	Fetcher       string        `yaml:"fetcher"`
	Timeout       time.Duration `yaml:"timeout"`
	Concurrency   int           `yaml:"concurrency"`
	Content       string        `yaml:"content"`
	Fingerprint   string        `yaml:"fingerprint"`
	UserAgents    []string      `yaml:"user_agents"`
	Proxies       []string      `yaml:"proxies"`
	ProxyFile     string        `yaml:"proxy_file"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	Jitter        float64       `yaml:"jitter"`
	RespectRobots bool          `yaml:"respect_robots"`
	RobotsAgent   string        `yaml:"robots_agent"`
	MaxRedirects  int           `yaml:"max_redirects"`
}

type BrowserConfig struct {
	RemoteURL      string   `yaml:"remote_url"`
	Bin            string   `yaml:"bin"`
	Headful        bool     `yaml:"headful"`
	BlockResources []string `yaml:"block_resources"`
}

type PipelineConfig struct {
	// Seed drives query generation; zero seeds from the clock.
	Seed   int64    `yaml:"seed"`
	Topics []string `yaml:"topics"`
}

type AgentsConfig struct {
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	OpenAIModel      string        `yaml:"openai_model"`
	Temperature      float64       `yaml:"temperature"`
	VectaraAPIKey    string        `yaml:"vectara_api_key"`
	VectaraCorpusKey string        `yaml:"vectara_corpus_key"`
	VectaraEndpoint  string        `yaml:"vectara_endpoint"`
	Timeout          time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File tees log output to a file in addition to stderr.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (if non-empty), applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendCSV
	}
	if c.Storage.ResultsDir == "" {
		c.Storage.ResultsDir = "results"
	}
	if c.Storage.MasterFile == "" {
		ext := "csv"
		if c.Storage.Backend == BackendJSON {
			ext = "jsonl"
		}
		c.Storage.MasterFile = "master_database." + ext
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "vaxscrape.db"
	}
	if c.Storage.BatchFormat == "" {
		c.Storage.BatchFormat = "csv"
	}

	if c.Search.Provider == "" {
		c.Search.Provider = ProviderTavily
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 20
	}
	if c.Search.Timeout <= 0 {
		c.Search.Timeout = 60 * time.Second
	}

	if c.Fetch.Fetcher == "" {
		c.Fetch.Fetcher = FetcherHTTP
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = scraper.DefaultPageTimeout
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Fetch.Content == "" {
		c.Fetch.Content = string(scraper.ContentMarkdown)
	}
	if c.Fetch.Fingerprint == "" {
		c.Fetch.Fingerprint = string(fingerprint.ProfileChrome)
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = 1
	}
	if c.Fetch.RobotsAgent == "" {
		c.Fetch.RobotsAgent = "vaxscrape"
	}

	if c.Agents.OpenAIModel == "" {
		c.Agents.OpenAIModel = "gpt-4o"
	}
	if c.Agents.Temperature == 0 {
		c.Agents.Temperature = 0.7
	}
	if c.Agents.Timeout <= 0 {
		c.Agents.Timeout = 60 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("TAVILY_API_KEY", &c.Search.TavilyAPIKey)
	str("OPENAI_API_KEY", &c.Agents.OpenAIAPIKey)
	str("VECTARA_API_KEY", &c.Agents.VectaraAPIKey)
	str("VECTARA_CORPUS_KEY", &c.Agents.VectaraCorpusKey)
	str("DATABASE_URL", &c.Storage.PostgresDSN)
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}

	str("VAXSCRAPE_ADDR", &c.Server.Addr)
	str("VAXSCRAPE_METRICS_ADDR", &c.Server.MetricsAddr)
	str("VAXSCRAPE_STORAGE_BACKEND", &c.Storage.Backend)
	str("VAXSCRAPE_RESULTS_DIR", &c.Storage.ResultsDir)
	str("VAXSCRAPE_BATCH_FORMAT", &c.Storage.BatchFormat)
	str("VAXSCRAPE_SEARCH_PROVIDER", &c.Search.Provider)
	str("VAXSCRAPE_FETCHER", &c.Fetch.Fetcher)
	str("VAXSCRAPE_CONTENT", &c.Fetch.Content)
	str("VAXSCRAPE_FINGERPRINT", &c.Fetch.Fingerprint)
	str("VAXSCRAPE_BROWSER_URL", &c.Browser.RemoteURL)
	str("VAXSCRAPE_LOG_LEVEL", &c.Log.Level)
	str("VAXSCRAPE_LOG_FORMAT", &c.Log.Format)
	str("VAXSCRAPE_LOG_FILE", &c.Log.File)

	if v, ok := lookup("VAXSCRAPE_SEED"); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("VAXSCRAPE_SEED: %w", err)
		}
		c.Pipeline.Seed = seed
	}
	if v, ok := lookup("VAXSCRAPE_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VAXSCRAPE_CONCURRENCY: %w", err)
		}
		c.Fetch.Concurrency = n
	}
	if v, ok := lookup("VAXSCRAPE_RESPECT_ROBOTS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VAXSCRAPE_RESPECT_ROBOTS: %w", err)
		}
		c.Fetch.RespectRobots = b
	}
	if v, ok := lookup("VAXSCRAPE_PROXIES"); ok && v != "" {
		c.Fetch.Proxies = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects unknown backends, providers and modes.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendCSV, BackendJSON, BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn (or DATABASE_URL) is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unsupported %q (use csv, jsonl, sqlite or postgres)", c.Storage.Backend))
	}
	switch c.Storage.BatchFormat {
	case BackendCSV, BackendJSON:
	default:
		errs = append(errs, fmt.Errorf("storage.batch_format: unsupported %q (use csv or jsonl)", c.Storage.BatchFormat))
	}

	switch c.Search.Provider {
	case ProviderTavily, ProviderDuckDuckGo:
	default:
		errs = append(errs, fmt.Errorf("search.provider: unsupported %q (use tavily or duckduckgo)", c.Search.Provider))
	}

	switch c.Fetch.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		errs = append(errs, fmt.Errorf("fetch.fetcher: unsupported %q (use http or browser)", c.Fetch.Fetcher))
	}
	if _, err := scraper.ParseContentMode(c.Fetch.Content); err != nil {
		errs = append(errs, fmt.Errorf("fetch.content: %w", err))
	}
	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("fetch.fingerprint: %w", err))
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter > 1 {
		errs = append(errs, fmt.Errorf("fetch.jitter must be within [0,1], got %v", c.Fetch.Jitter))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unsupported %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q (use text or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// MasterPath is the master table file for the file backends.
func (c *Config) MasterPath() string {
	if filepath.IsAbs(c.Storage.MasterFile) {
		return c.Storage.MasterFile
	}
	return filepath.Join(c.Storage.ResultsDir, c.Storage.MasterFile)
}
