package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/pkg/httpclient"
	"github.com/FranksOps/vaxscrape/pkg/ratelimit"
)

// DefaultTavilyEndpoint is the Tavily search API.
const DefaultTavilyEndpoint = "https://api.tavily.com/search"

// TavilyConfig configures the Tavily provider.
type TavilyConfig struct {
	APIKey   string
	Endpoint string
	// RPS paces calls; zero means unthrottled.
	RPS           float64
	Timeout       time.Duration
	IncludeAnswer bool
	Logger        *slog.Logger
}

// Tavily queries the Tavily search API.
type Tavily struct {
	cfg     TavilyConfig
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ Provider = (*Tavily)(nil)

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   Depth  `json:"search_depth"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewTavily returns a Tavily provider. A missing API key is reported here so
// that misconfiguration fails before a run starts.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tavily: missing API key", ErrUnavailable)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultTavilyEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	return &Tavily{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(cfg.RPS, 1, 0),
		logger:  cfg.Logger,
	}, nil
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(ctx context.Context, query string, depth Depth, maxResults int) ([]Result, error) {
	results, err := t.search(ctx, query, depth, maxResults)
	metrics.RecordSearch(t.Name(), err)
	return results, err
}

func (t *Tavily) search(ctx context.Context, query string, depth Depth, maxResults int) ([]Result, error) {
	if depth == "" {
		depth = DepthAdvanced
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := tavilyRequest{
		Query:         query,
		SearchDepth:   depth,
		MaxResults:    maxResults,
		IncludeAnswer: t.cfg.IncludeAnswer,
	}
	header := http.Header{"Authorization": {"Bearer " + t.cfg.APIKey}}

	var resp tavilyResponse
	if err := t.client.DoJSON(ctx, http.MethodPost, t.cfg.Endpoint, header, req, &resp); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, classifyHTTP(t.Name(), err)
	}

	out := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	out = dedupe(out, maxResults)

	t.logger.Debug("tavily search", "query", query, "depth", depth, "results", len(out))
	return out, nil
}
