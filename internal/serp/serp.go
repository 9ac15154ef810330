// Package serp turns query strings into ranked candidate URLs.
package serp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/FranksOps/vaxscrape/pkg/httpclient"
)

// Depth is the quality/cost tier of a search.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// ParseDepth validates a depth string. Empty means advanced.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DepthAdvanced, nil
	case DepthBasic, DepthAdvanced:
		return d, nil
	default:
		return "", fmt.Errorf("serp: invalid search depth %q (want basic or advanced)", s)
	}
}

// Search failure kinds.
var (
	// ErrRateLimited means the provider throttled the call; retry later.
	ErrRateLimited = errors.New("serp: rate limited")
	// ErrTransient covers network failures and 5xx answers.
	ErrTransient = errors.New("serp: transient failure")
	// ErrUnavailable means the provider cannot serve any query, e.g. a bad
	// API key. Runs treat it as fatal.
	ErrUnavailable = errors.New("serp: provider unavailable")
)

// Result is one search candidate. URL is unique within one result set only.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Provider abstracts a search engine. maxResults caps the returned slice.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, depth Depth, maxResults int) ([]Result, error)
}

// classifyHTTP maps a client error onto the failure kinds.
func classifyHTTP(provider string, err error) error {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, provider, err)
		case se.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %w", ErrRateLimited, provider, err)
		case se.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %w", ErrTransient, provider, err)
		default:
			return fmt.Errorf("%s: %w", provider, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, provider, err)
}

// dedupe drops repeated URLs and empty entries, keeping rank order, and caps
// the slice at max when max > 0.
func dedupe(in []Result, max int) []Result {
	seen := make(map[string]struct{}, len(in))
	out := make([]Result, 0, len(in))
	for _, r := range in {
		r.URL = strings.TrimSpace(r.URL)
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
