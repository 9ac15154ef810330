package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxscrape_search_requests_total",
			Help: "Search provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxscrape_fetches_total",
			Help: "Page fetches by fetcher and outcome",
		},
		[]string{"fetcher", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaxscrape_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"fetcher"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxscrape_fetch_bytes_total",
			Help: "Total bytes of page HTML captured",
		},
		[]string{"fetcher"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxscrape_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	EntriesPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaxscrape_entries_persisted_total",
			Help: "Entries appended to the result store",
		},
	)

	PersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaxscrape_persist_failures_total",
			Help: "Batches whose batch file or store flush failed",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaxscrape_runs_total",
			Help: "Finished scrape runs by status",
		},
		[]string{"status"},
	)

	RunInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaxscrape_run_in_progress",
			Help: "1 while a scrape run is active",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaxscrape_run_duration_seconds",
			Help:    "Wall time of scrape runs",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)
)

// RecordFetch updates the fetch metrics for one page.
func RecordFetch(fetcher, outcome string, d time.Duration, bytes int) {
	FetchesTotal.WithLabelValues(fetcher, outcome).Inc()
	FetchDuration.WithLabelValues(fetcher).Observe(d.Seconds())
	if bytes > 0 {
		FetchBytesTotal.WithLabelValues(fetcher).Add(float64(bytes))
	}
}

// RecordSearch counts one search provider call.
func RecordSearch(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SearchRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server is a standalone HTTP listener for /metrics, used when metrics are
// served apart from the API.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr and serves /metrics in the background.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
