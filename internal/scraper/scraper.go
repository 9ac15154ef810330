// Package scraper fetches candidate pages and turns them into entry content.
//
// A PageFetcher hands out Sessions; the orchestrator opens one Session per
// query batch and closes it when the batch is done, so cookies and browser
// state never leak between batches.
package scraper

import (
	"context"
	"errors"
	"time"
)

// DefaultPageTimeout bounds a single page fetch.
const DefaultPageTimeout = 30 * time.Second

// Fetch failure kinds. Returned errors wrap exactly one of these together
// with the underlying cause.
var (
	ErrTimeout    = errors.New("scraper: timeout")
	ErrNavigation = errors.New("scraper: navigation failed")
	ErrBlocked    = errors.New("scraper: blocked by bot protection")
	ErrDisallowed = errors.New("scraper: disallowed by robots.txt")
)

// Page is one fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	HTML       string
	Duration   time.Duration
}

// PageFetcher opens isolated fetch sessions.
type PageFetcher interface {
	// Name labels the fetcher in logs and metrics.
	Name() string
	// Open starts a session. An error here is structural: the fetcher cannot
	// serve any page.
	Open(ctx context.Context) (Session, error)
}

// Session fetches pages sharing one cookie/browser context.
type Session interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Close() error
}

// Outcome maps a Fetch error onto a short label for metrics and RunErrors.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrDisallowed):
		return "disallowed"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	default:
		return "error"
	}
}
