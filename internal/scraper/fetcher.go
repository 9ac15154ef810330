package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/FranksOps/vaxscrape/internal/bypass"
	"github.com/FranksOps/vaxscrape/internal/fingerprint"
	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/pkg/httpclient"
	"github.com/FranksOps/vaxscrape/pkg/proxy"
	"github.com/FranksOps/vaxscrape/pkg/ratelimit"
	"github.com/FranksOps/vaxscrape/pkg/useragent"
	"github.com/google/uuid"
)

const defaultMaxBody = 10 << 20

// FetchConfig configures the HTTP page fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.HostLimiter
	// RespectRobots skips URLs that robots.txt disallows for RobotsAgent.
	RespectRobots bool
	RobotsAgent   string
	Detectors     []bypass.Detector
	Logger        *slog.Logger
	// InsecureSkipVerify is for tests against self-signed servers.
	InsecureSkipVerify bool
}

// HTTPFetcher is a PageFetcher that issues plain GET requests through a
// fingerprinted transport. It does not run JavaScript.
type HTTPFetcher struct {
	config    FetchConfig
	transport *http.Transport
	robots    *RobotsTxtAuditor
	logger    *slog.Logger
}

var _ PageFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds the shared transport. Sessions reuse its connection
// pool but each gets its own cookie jar.
func NewHTTPFetcher(cfg FetchConfig) (*HTTPFetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultPageTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "vaxscrape"
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxy.FromContext,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	f := &HTTPFetcher{
		config:    cfg,
		transport: transport,
		logger:    cfg.Logger,
	}

	if cfg.RespectRobots {
		rc, err := httpclient.New(httpclient.Config{
			Timeout:      10 * time.Second,
			MaxRedirects: 5,
			Transport:    transport,
			Header:       http.Header{"User-Agent": {cfg.RobotsAgent}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create robots client: %w", err)
		}
		f.robots = NewRobotsTxtAuditor(rc, cfg.Logger)
	}

	return f, nil
}

func (f *HTTPFetcher) Name() string { return "http" }

// Open starts a session with a fresh cookie jar.
func (f *HTTPFetcher) Open(ctx context.Context) (Session, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:      f.config.Timeout,
		MaxRedirects: f.config.MaxRedirects,
		UseCookieJar: true,
		Transport:    f.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s := &httpSession{f: f, client: client, id: uuid.NewString()}
	f.logger.Debug("fetch session opened", "fetcher", f.Name(), "session", s.id)
	return s, nil
}

// Close drops idle connections of the shared transport.
func (f *HTTPFetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}

type httpSession struct {
	f      *HTTPFetcher
	client *httpclient.Client
	id     string
	closed atomic.Bool
}

func (s *httpSession) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %s: session closed", ErrNavigation, targetURL)
	}

	start := time.Now()
	page, err := s.fetch(ctx, targetURL)
	d := time.Since(start)

	size := 0
	if page != nil {
		page.Duration = d
		size = len(page.HTML)
	}
	metrics.RecordFetch(s.f.Name(), Outcome(err), d, size)
	if err != nil {
		s.f.logger.Debug("fetch failed", "session", s.id, "url", targetURL, "outcome", Outcome(err), "err", err)
	}
	return page, err
}

func (s *httpSession) fetch(ctx context.Context, targetURL string) (*Page, error) {
	cfg := s.f.config

	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid url %q", ErrNavigation, targetURL)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if s.f.robots != nil {
		allowed, err := s.f.robots.IsAllowed(ctx, targetURL, cfg.RobotsAgent)
		if err == nil && !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, targetURL)
		}
	}

	if err := cfg.Limiter.Wait(ctx, targetURL); err != nil {
		return nil, classify(targetURL, err)
	}

	activeProxy := cfg.ProxyPool.Next()
	req, err := http.NewRequestWithContext(proxy.WithProxy(ctx, activeProxy), http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigation, targetURL, err)
	}
	req.Header.Set("User-Agent", cfg.UAPool.For(cfg.Fingerprint.Family()))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = cfg.ProxyPool.Report(activeProxy, err)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		return nil, classify(targetURL, err)
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = cfg.ProxyPool.Report(activeProxy, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBodyBytes))
	if err != nil {
		return nil, classify(targetURL, err)
	}

	if hit := bypass.Analyze(&bypass.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, cfg.Detectors); hit != nil {
		return nil, fmt.Errorf("%w: %s: %s (%s)", ErrBlocked, targetURL, hit.Source, hit.Reason)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s: http %d", ErrNavigation, targetURL, resp.StatusCode)
	}

	html := string(body)
	return &Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Title:      PageTitle(html),
		HTML:       html,
	}, nil
}

func (s *httpSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.f.logger.Debug("fetch session closed", "session", s.id)
	return nil
}

// classify wraps a transport error in ErrTimeout or ErrNavigation, keeping
// the cause in the chain.
func classify(targetURL string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, targetURL, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrNavigation, targetURL, err)
}
