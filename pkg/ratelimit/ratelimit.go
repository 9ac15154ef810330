package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces operations with a token bucket and adds random extra delay
// after each token. It is safe for concurrent use by multiple goroutines.
// A nil *Limiter never blocks.
type Limiter struct {
	bucket   *rate.Limiter
	jitter   float64
	interval time.Duration
}

// New creates a limiter allowing rps operations per second with the given
// burst. jitter in [0,1] adds up to jitter*interval of random delay after
// each wait. rps <= 0 returns nil, which never blocks.
func New(rps float64, burst int, jitter float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	jitter = min(max(jitter, 0), 1)
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(rps), burst),
		jitter:   jitter,
		interval: time.Duration(float64(time.Second) / rps),
	}
}

// Wait blocks until the next operation may run or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	if l.jitter <= 0 {
		return nil
	}

	extra := time.Duration(rand.Float64() * l.jitter * float64(l.interval))
	if extra <= 0 {
		return nil
	}
	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HostLimiter keeps one Limiter per host so that slow pacing of one site does
// not hold back fetches against others.
type HostLimiter struct {
	rps    float64
	burst  int
	jitter float64

	mu    sync.Mutex
	hosts map[string]*Limiter
}

// NewHostLimiter returns a per-host limiter. rps <= 0 returns nil, which
// never blocks.
func NewHostLimiter(rps float64, burst int, jitter float64) *HostLimiter {
	if rps <= 0 {
		return nil
	}
	return &HostLimiter{rps: rps, burst: burst, jitter: jitter, hosts: map[string]*Limiter{}}
}

// Wait blocks on the limiter of rawURL's host. Unparseable URLs share the
// empty-host limiter.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil {
		return nil
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}

	h.mu.Lock()
	l, ok := h.hosts[host]
	if !ok {
		l = New(h.rps, h.burst, h.jitter)
		h.hosts[host] = l
	}
	h.mu.Unlock()

	return l.Wait(ctx)
}
