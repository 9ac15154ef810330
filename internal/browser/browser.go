// Package browser implements scraper.PageFetcher on a headless Chrome driven
// through go-rod. Chrome is launched once, lazily, and every fetch session
// gets its own incognito context.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/FranksOps/vaxscrape/internal/bypass"
	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/internal/scraper"
)

// Config configures the browser fetcher.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local one.
	RemoteURL string

	// Bin is the Chrome binary. Empty lets the launcher look one up.
	Bin string

	// Headful runs a visible window. Needs a display.
	Headful bool

	// ResourceBlocking lists resource types to drop (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// Timeout bounds navigation plus load. Default: scraper.DefaultPageTimeout.
	Timeout time.Duration

	Detectors []bypass.Detector
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = scraper.DefaultPageTimeout
	}
	if c.Detectors == nil {
		c.Detectors = bypass.DefaultDetectors()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher owns the Chrome process.
type Fetcher struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

var _ scraper.PageFetcher = (*Fetcher)(nil)

// New returns a Fetcher. Chrome is not started until the first Open.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{cfg: cfg}
}

func (f *Fetcher) Name() string { return "browser" }

// Open starts Chrome if needed and creates an incognito context. A launch or
// connect failure means no page can be served.
func (f *Fetcher) Open(ctx context.Context) (scraper.Session, error) {
	b, err := f.ensure()
	if err != nil {
		return nil, err
	}
	inc, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	s := &session{f: f, ctx: inc, id: uuid.NewString()}
	f.cfg.Logger.Debug("fetch session opened", "fetcher", f.Name(), "session", s.id)
	return s, nil
}

// Close shuts Chrome down.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.cleanup()
}

func (f *Fetcher) ensure() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("browser: fetcher is closed")
	}
	if f.browser != nil {
		return f.browser, nil
	}

	log := f.cfg.Logger
	wsURL := f.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(!f.cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		if f.cfg.Bin != "" {
			l = l.Bin(f.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		f.lnch = l
		log.Info("launched local chrome", "url", wsURL, "headful", f.cfg.Headful)
	} else {
		log.Info("connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if f.lnch != nil {
			f.lnch.Cleanup()
			f.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	f.browser = b
	return b, nil
}

func (f *Fetcher) cleanup() error {
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return err
}

type session struct {
	f   *Fetcher
	ctx *rod.Browser
	id  string

	mu     sync.Mutex
	closed bool
}

func (s *session) Fetch(ctx context.Context, targetURL string) (*scraper.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %s: session closed", scraper.ErrNavigation, targetURL)
	}

	start := time.Now()
	page, err := s.fetch(ctx, targetURL)
	d := time.Since(start)

	size := 0
	if page != nil {
		page.Duration = d
		size = len(page.HTML)
	}
	metrics.RecordFetch(s.f.Name(), scraper.Outcome(err), d, size)
	if err != nil {
		s.f.cfg.Logger.Debug("fetch failed", "session", s.id, "url", targetURL, "outcome", scraper.Outcome(err), "err", err)
	}
	return page, err
}

func (s *session) fetch(ctx context.Context, targetURL string) (*scraper.Page, error) {
	cfg := s.f.cfg

	page, err := stealth.Page(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: create tab: %w", scraper.ErrNavigation, targetURL, err)
	}
	defer func() { _ = page.Close() }()

	if len(cfg.ResourceBlocking) > 0 {
		router := blockResources(page, cfg.ResourceBlocking)
		defer func() { _ = router.Stop() }()
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	// The first document response carries the status of the main frame.
	var status int
	var statusMu sync.Mutex
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		statusMu.Lock()
		status = e.Response.Status
		statusMu.Unlock()
		return true
	})
	go wait()

	if err := p.Navigate(targetURL); err != nil {
		return nil, classify(targetURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, classify(targetURL, err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, classify(targetURL, err)
	}

	finalURL := targetURL
	title := ""
	if info, err := p.Info(); err == nil {
		finalURL = info.URL
		title = info.Title
	}
	if title == "" {
		title = scraper.PageTitle(html)
	}

	statusMu.Lock()
	code := status
	statusMu.Unlock()

	if hit := bypass.Analyze(&bypass.Response{StatusCode: code, Body: []byte(html)}, cfg.Detectors); hit != nil {
		return nil, fmt.Errorf("%w: %s: %s (%s)", scraper.ErrBlocked, targetURL, hit.Source, hit.Reason)
	}
	if code >= 400 {
		return nil, fmt.Errorf("%w: %s: http %d", scraper.ErrNavigation, targetURL, code)
	}

	return &scraper.Page{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: code,
		Title:      title,
		HTML:       html,
	}, nil
}

// Close disposes the incognito context and every tab in it.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.f.cfg.Logger.Debug("fetch session closed", "session", s.id)
	if err := s.ctx.Close(); err != nil {
		return fmt.Errorf("browser: close context: %w", err)
	}
	return nil
}

func classify(targetURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", scraper.ErrTimeout, targetURL, err)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return fmt.Errorf("%w: %s: %s", scraper.ErrNavigation, targetURL, navErr.Reason)
	}
	return fmt.Errorf("%w: %s: %w", scraper.ErrNavigation, targetURL, err)
}
