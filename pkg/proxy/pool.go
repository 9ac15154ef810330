package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when reporting on a URL that is not in the pool.
var ErrUnknownProxy = errors.New("proxy: not in pool")

type ctxKey struct{}

// endpoint is one upstream proxy and its health.
type endpoint struct {
	url       *url.URL
	failures  int
	successes int
	benchedAt time.Time
	benched   bool
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures in a row before a proxy is benched.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out.
	Cooldown time.Duration
}

// Pool rotates requests over a set of proxies, benching the ones that keep
// failing. The zero pool has no proxies and Next always returns nil.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates a pool holding rawURLs. Zero config values get defaults
// of 3 failures and a 5 minute cooldown.
func NewPool(cfg Config, rawURLs ...string) (*Pool, error) {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	p := &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
	if err := p.Add(rawURLs...); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile adds proxies from a file with one URL per line. Blank lines and
// lines starting with '#' are skipped.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	return p.Add(urls...)
}

// Add parses and appends proxies. A missing scheme defaults to http.
func (p *Pool) Add(rawURLs ...string) error {
	parsed := make([]*endpoint, 0, len(rawURLs))
	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", raw)
		}
		parsed = append(parsed, &endpoint{url: u})
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, parsed...)
	p.mu.Unlock()
	return nil
}

// Len returns the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next healthy proxy, or nil if the pool is nil, empty, or
// every proxy is benched.
func (p *Pool) Next() *url.URL {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	now := p.now()
	for i := 0; i < n; i++ {
		ep := p.endpoints[p.cursor]
		p.cursor = (p.cursor + 1) % n

		if ep.benched && now.Sub(ep.benchedAt) >= p.cooldown {
			ep.benched = false
			ep.failures = 0
		}
		if !ep.benched {
			return ep.url
		}
	}
	return nil
}

// Report records the outcome of a request made through u. A nil err is a
// success and clears one failure; enough failures in a row bench the proxy.
func (p *Pool) Report(u *url.URL, err error) error {
	if u == nil {
		return ErrUnknownProxy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var ep *endpoint
	for _, e := range p.endpoints {
		if e.url.String() == u.String() {
			ep = e
			break
		}
	}
	if ep == nil {
		return fmt.Errorf("%w: %s", ErrUnknownProxy, u.Redacted())
	}

	if err == nil {
		ep.successes++
		if ep.failures > 0 {
			ep.failures--
		}
		return nil
	}

	ep.failures++
	if ep.failures >= p.maxFailures && !ep.benched {
		ep.benched = true
		ep.benchedAt = p.now()
	}
	return nil
}

// WithProxy attaches u to ctx so that the transport built around FromContext
// routes the request through it.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext is an http.Transport Proxy func. It uses the proxy attached by
// WithProxy and otherwise falls back to the environment.
func FromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(ctxKey{}).(*url.URL); ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}
