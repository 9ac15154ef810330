package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsServer(t *testing.T) {
	srv, err := Start("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("failed to start metrics server: %v", err)
	}
	defer srv.Stop(context.Background())

	RecordFetch("http", "ok", time.Second, 11)
	RecordSearch("tavily", nil)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`vaxscrape_fetches_total{fetcher="http",outcome="ok"}`,
		`vaxscrape_fetch_duration_seconds_bucket`,
		`vaxscrape_fetch_bytes_total{fetcher="http"}`,
		`vaxscrape_search_requests_total{outcome="ok",provider="tavily"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output", want)
		}
	}
}

func TestRecordSearch_Outcome(t *testing.T) {
	before := testutil.ToFloat64(SearchRequestsTotal.WithLabelValues("duckduckgo", "error"))
	RecordSearch("duckduckgo", errors.New("boom"))
	after := testutil.ToFloat64(SearchRequestsTotal.WithLabelValues("duckduckgo", "error"))
	if after != before+1 {
		t.Errorf("expected error counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecordFetch_ZeroBytes(t *testing.T) {
	before := testutil.ToFloat64(FetchBytesTotal.WithLabelValues("browser"))
	RecordFetch("browser", "timeout", 30*time.Second, 0)
	if got := testutil.ToFloat64(FetchBytesTotal.WithLabelValues("browser")); got != before {
		t.Errorf("expected bytes unchanged on failed fetch, got %v", got)
	}
}
