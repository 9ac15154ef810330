package useragent

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

// Desktop browser User-Agents, grouped by the family a TLS fingerprint can
// claim. Keep each family's strings consistent with its ClientHello.
var (
	Chrome = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	}
	Firefox = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
		"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	}
	Safari = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
	}
)

// Pool hands out User-Agents round-robin or at random. A pool built from
// custom strings has no families; For then falls back to Next.
type Pool struct {
	all      []string
	families map[string][]string
	counter  atomic.Uint64
}

// NewPool creates a pool from uas. An empty slice selects the built-in
// Chrome, Firefox and Safari lists.
func NewPool(uas []string) *Pool {
	if len(uas) > 0 {
		return &Pool{all: append([]string(nil), uas...)}
	}
	p := &Pool{families: map[string][]string{
		"chrome":  Chrome,
		"firefox": Firefox,
		"safari":  Safari,
	}}
	for _, f := range []string{"chrome", "firefox", "safari"} {
		p.all = append(p.all, p.families[f]...)
	}
	return p
}

// Next returns the next User-Agent in round-robin order. Safe for concurrent use.
func (p *Pool) Next() string {
	return p.pick(p.all)
}

// For returns a User-Agent of the given browser family, so the header agrees
// with the TLS fingerprint. Unknown or empty families fall back to Next.
func (p *Pool) For(family string) string {
	if list, ok := p.families[strings.ToLower(family)]; ok && len(list) > 0 {
		return p.pick(list)
	}
	return p.Next()
}

// Random returns a uniformly chosen User-Agent.
func (p *Pool) Random() string {
	if len(p.all) == 0 {
		return ""
	}
	return p.all[rand.IntN(len(p.all))]
}

// All returns a copy of every User-Agent in the pool.
func (p *Pool) All() []string {
	return append([]string(nil), p.all...)
}

func (p *Pool) pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return list[idx%uint64(len(list))]
}
