package serp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/vaxscrape/internal/fingerprint"
	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/pkg/httpclient"
	"github.com/FranksOps/vaxscrape/pkg/proxy"
	"github.com/FranksOps/vaxscrape/pkg/ratelimit"
	"github.com/FranksOps/vaxscrape/pkg/useragent"
	"github.com/PuerkitoBio/goquery"
)

// DefaultDuckDuckGoEndpoint is the script-free HTML search page.
const DefaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoConfig configures the key-less DuckDuckGo provider.
type DuckDuckGoConfig struct {
	Endpoint    string
	Fingerprint fingerprint.Profile
	UAPool      *useragent.Pool
	ProxyPool   *proxy.Pool
	// RPS paces calls, default 0.5; negative disables pacing. DuckDuckGo
	// answers bursts with 202 and an empty page.
	RPS     float64
	Timeout time.Duration
	Logger  *slog.Logger
}

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint. Basic depth reads the first
// result page; advanced follows the next-page form once.
type DuckDuckGo struct {
	cfg     DuckDuckGoConfig
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ Provider = (*DuckDuckGo)(nil)

// NewDuckDuckGo builds the provider on a fingerprinted transport.
func NewDuckDuckGo(cfg DuckDuckGoConfig) (*DuckDuckGo, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDuckDuckGoEndpoint
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.RPS == 0 {
		cfg.RPS = 0.5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{Proxy: proxy.FromContext})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		UseCookieJar: true,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	return &DuckDuckGo{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(cfg.RPS, 1, 0.3),
		logger:  cfg.Logger,
	}, nil
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, depth Depth, maxResults int) ([]Result, error) {
	results, err := d.search(ctx, query, depth, maxResults)
	metrics.RecordSearch(d.Name(), err)
	return results, err
}

func (d *DuckDuckGo) search(ctx context.Context, query string, depth Depth, maxResults int) ([]Result, error) {
	pages := 1
	if depth == DepthAdvanced {
		pages = 2
	}

	form := url.Values{"q": {query}, "b": {""}, "kl": {""}}
	var all []Result
	for page := 0; page < pages && form != nil; page++ {
		results, next, err := d.page(ctx, form)
		if err != nil {
			if page > 0 {
				// keep what the first page produced
				d.logger.Debug("duckduckgo next page failed", "query", query, "err", err)
				break
			}
			return nil, err
		}
		all = append(all, results...)
		if maxResults > 0 && len(all) >= maxResults {
			break
		}
		form = next
	}

	out := dedupe(all, maxResults)
	d.logger.Debug("duckduckgo search", "query", query, "depth", depth, "results", len(out))
	return out, nil
}

// page posts one form and returns its results and the next-page form, which
// is nil on the last page.
func (d *DuckDuckGo) page(ctx context.Context, form url.Values) ([]Result, url.Values, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	activeProxy := d.cfg.ProxyPool.Next()
	req, err := http.NewRequestWithContext(proxy.WithProxy(ctx, activeProxy), http.MethodPost, d.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("duckduckgo: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.cfg.UAPool.For(d.cfg.Fingerprint.Family()))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")

	resp, err := d.client.Do(req.Context(), req)
	if activeProxy != nil {
		_ = d.cfg.ProxyPool.Report(activeProxy, err)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil, ctx.Err()
		}
		return nil, nil, classifyHTTP(d.Name(), err)
	}
	defer resp.Body.Close()

	// 202 with an anomaly page is how DuckDuckGo throttles.
	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("%w: duckduckgo: status 202", ErrRateLimited)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, nil, classifyHTTP(d.Name(), err)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: duckduckgo: parse: %w", ErrTransient, err)
	}
	results, next := parseDuckDuckGo(doc)
	return results, next, nil
}

func parseDuckDuckGo(doc *goquery.Document) ([]Result, url.Values) {
	var results []Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("result--ad") {
			return
		}
		link := s.Find(".result__title a").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if !ok || title == "" {
			return
		}
		target := unwrapRedirect(href)
		if target == "" || strings.Contains(target, "duckduckgo.com/y.js") {
			return
		}
		results = append(results, Result{
			URL:     target,
			Title:   title,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
	})

	var next url.Values
	doc.Find(".nav-link form").Each(func(_ int, f *goquery.Selection) {
		if v, ok := f.Find(`input[type="submit"]`).Attr("value"); !ok || !strings.HasPrefix(strings.ToLower(v), "next") {
			return
		}
		vals := url.Values{}
		f.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			value, _ := in.Attr("value")
			if name != "" {
				vals.Set(name, value)
			}
		})
		if len(vals) > 0 {
			next = vals
		}
	})
	return results, next
}

// unwrapRedirect resolves DuckDuckGo's //duckduckgo.com/l/?uddg= links.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
