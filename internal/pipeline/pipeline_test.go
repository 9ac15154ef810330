package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/vaxscrape/internal/query"
	"github.com/FranksOps/vaxscrape/internal/scraper"
	"github.com/FranksOps/vaxscrape/internal/serp"
	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/FranksOps/vaxscrape/internal/storage/csvbackend"
	"github.com/FranksOps/vaxscrape/internal/storage/jsonbackend"
)

type fakeProvider struct {
	search func(ctx context.Context, q string) ([]serp.Result, error)
	calls  atomic.Int32
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Search(ctx context.Context, q string, depth serp.Depth, maxResults int) ([]serp.Result, error) {
	p.calls.Add(1)
	return p.search(ctx, q)
}

// twoResults returns one fetchable and one failing candidate per query.
func twoResults(ctx context.Context, q string) ([]serp.Result, error) {
	slug := strings.NewReplacer(" ", "-", ":", "").Replace(q)
	return []serp.Result{
		{URL: "http://ok.example/" + slug, Title: "Thread: " + q},
		{URL: "http://fail.example/" + slug},
	}, nil
}

type fakeFetcher struct {
	openErr error
	opened  atomic.Int32
	closed  atomic.Int32
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Open(ctx context.Context) (scraper.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened.Add(1)
	return &fakeSession{f: f}, nil
}

type fakeSession struct{ f *fakeFetcher }

func (s *fakeSession) Fetch(ctx context.Context, u string) (*scraper.Page, error) {
	if strings.Contains(u, "fail.example") {
		return nil, fmt.Errorf("%w: %s: %w", scraper.ErrTimeout, u, context.DeadlineExceeded)
	}
	return &scraper.Page{
		URL:        u,
		FinalURL:   u,
		StatusCode: 200,
		HTML:       "<html><head><title>t</title></head><body><p>I waited for the second dose.</p></body></html>",
	}, nil
}

func (s *fakeSession) Close() error {
	s.f.closed.Add(1)
	return nil
}

type harness struct {
	orch     *Orchestrator
	store    *storage.Store
	provider *fakeProvider
	fetcher  *fakeFetcher
	dir      string
}

func newHarness(t *testing.T, search func(context.Context, string) ([]serp.Result, error), format string) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := csvbackend.New(filepath.Join(dir, "master_database.csv"))
	require.NoError(t, err)
	store := storage.NewStore(context.Background(), backend, logger)

	gen, err := query.New(query.DefaultVocabulary(), 42)
	require.NoError(t, err)

	h := &harness{store: store, provider: &fakeProvider{search: search}, fetcher: &fakeFetcher{}, dir: dir}
	h.orch, err = New(Config{
		Generator:   gen,
		Topics:      []string{"vaccine hesitancy"},
		Provider:    h.provider,
		Fetcher:     h.fetcher,
		Store:       store,
		ResultsDir:  dir,
		BatchFormat: format,
		Logger:      logger,
	})
	require.NoError(t, err)
	return h
}

func TestStart_SingleTopicScenario(t *testing.T) {
	h := newHarness(t, twoResults, "")

	sum, err := h.orch.Start(context.Background(), Options{NumQueries: 1, SearchDepth: serp.DepthAdvanced})
	require.NoError(t, err)

	assert.Equal(t, "success", sum.Status)
	assert.Equal(t, 5, sum.TotalRecords)
	assert.Equal(t, 5, sum.QueriesProcessed)
	assert.Len(t, sum.Batches, 5)
	require.Len(t, sum.Errors, 5)
	for _, e := range sum.Errors {
		assert.Equal(t, KindFetch, e.Kind)
		assert.Contains(t, e.URL, "fail.example")
		assert.Contains(t, e.Reason, "timeout")
	}

	assert.Equal(t, 5, h.store.Len())
	for _, e := range h.store.Snapshot() {
		assert.Equal(t, "vaccine hesitancy", e.Topic)
		assert.Equal(t, "advanced", e.SearchDepth)
		assert.Contains(t, e.Query, "vaccine hesitancy")
		assert.Contains(t, e.URL, "ok.example")
		assert.Contains(t, e.Content, "second dose")
		assert.NotEmpty(t, e.Perspective)
	}

	for i, name := range sum.Batches {
		assert.True(t, strings.HasSuffix(name, fmt.Sprintf("-vaccine hesitancy-Q%d.csv", i)), name)
		got, err := csvbackend.ReadBatch(filepath.Join(h.dir, name))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}

	st := h.orch.Status()
	assert.False(t, st.IsRunning)
	assert.Empty(t, st.CurrentQuery)
	assert.Equal(t, 5, st.TotalRecords)
	require.NotNil(t, st.LastRun)

	assert.Equal(t, int32(5), h.fetcher.opened.Load())
	assert.Equal(t, h.fetcher.opened.Load(), h.fetcher.closed.Load())
}

func TestStart_AllSearchesFail(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, q string) ([]serp.Result, error) {
		return nil, fmt.Errorf("%w: tavily: http 503", serp.ErrTransient)
	}, "")

	sum, err := h.orch.Start(context.Background(), Options{NumQueries: 2, SearchDepth: serp.DepthBasic})
	require.NoError(t, err)

	assert.Equal(t, "success", sum.Status)
	assert.Zero(t, sum.TotalRecords)
	assert.Equal(t, 10, sum.QueriesProcessed)
	require.Len(t, sum.Errors, 10)
	for _, e := range sum.Errors {
		assert.Equal(t, KindSearch, e.Kind)
		assert.NotEmpty(t, e.Query)
		assert.Empty(t, e.URL)
	}
	assert.Zero(t, h.store.Len())
	assert.Zero(t, h.fetcher.opened.Load())
}

func TestStart_Conflict(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	h := newHarness(t, func(ctx context.Context, q string) ([]serp.Result, error) {
		once.Do(func() { close(entered) })
		<-release
		return nil, nil
	}, "")

	runID, err := h.orch.StartAsync(context.Background(), Options{NumQueries: 1})
	require.NoError(t, err)
	<-entered

	before := h.orch.Status()
	assert.True(t, before.IsRunning)
	assert.Equal(t, runID, before.RunID)

	_, err = h.orch.Start(context.Background(), Options{NumQueries: 1})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = h.orch.StartAsync(context.Background(), Options{NumQueries: 1})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Equal(t, before, h.orch.Status())

	close(release)
	h.orch.Wait()

	after := h.orch.Status()
	assert.False(t, after.IsRunning)
	require.NotNil(t, h.orch.LastSummary())
	assert.Equal(t, runID, h.orch.LastSummary().RunID)
}

func TestStart_FetcherUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, twoResults, "")
	h.fetcher.openErr = errors.New("browser: launch: chrome not found")

	sum, err := h.orch.Start(context.Background(), Options{NumQueries: 1})
	assert.Nil(t, sum)

	var failed *RunFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, err.Error(), "chrome not found")

	st := h.orch.Status()
	assert.False(t, st.IsRunning)
	require.NotEmpty(t, st.Errors)
	assert.Equal(t, KindFatal, st.Errors[len(st.Errors)-1].Kind)
	assert.Nil(t, st.LastRun)
	assert.Equal(t, int32(1), h.provider.calls.Load())
}

func TestStart_ProviderUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, q string) ([]serp.Result, error) {
		return nil, fmt.Errorf("%w: tavily: http 401", serp.ErrUnavailable)
	}, "")

	_, err := h.orch.Start(context.Background(), Options{NumQueries: 1})
	assert.ErrorIs(t, err, serp.ErrUnavailable)
	assert.Equal(t, int32(1), h.provider.calls.Load())
	assert.False(t, h.orch.Status().IsRunning)
}

func TestStart_CancelledContext(t *testing.T) {
	h := newHarness(t, twoResults, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Start(ctx, Options{NumQueries: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.orch.Status().IsRunning)
}

func TestStart_InvalidOptions(t *testing.T) {
	h := newHarness(t, twoResults, "")

	_, err := h.orch.Start(context.Background(), Options{NumQueries: 0})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = h.orch.Start(context.Background(), Options{NumQueries: 1, SearchDepth: "deep"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Zero(t, h.provider.calls.Load())
}

func TestStart_JSONBatchesAndPersistFailure(t *testing.T) {
	h := newHarness(t, twoResults, jsonbackend.Ext)

	sum, err := h.orch.Start(context.Background(), Options{NumQueries: 1, SearchDepth: "BASIC"})
	require.NoError(t, err)
	require.Len(t, sum.Batches, 5)
	assert.True(t, strings.HasSuffix(sum.Batches[0], ".jsonl"))

	got, err := jsonbackend.ReadBatch(filepath.Join(h.dir, sum.Batches[0]))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "basic", got[0].SearchDepth)

	// A read-only results dir makes batch writes fail; the run still succeeds
	// and the entries still reach the store.
	require.NoError(t, os.Chmod(h.dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(h.dir, 0o755) })
	if f, err := os.Create(filepath.Join(h.dir, "writable-check")); err == nil {
		f.Close()
		t.Skip("directory permissions not enforced (running as root?)")
	}

	sum, err = h.orch.Start(context.Background(), Options{NumQueries: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, sum.TotalRecords)
	assert.Empty(t, sum.Batches)

	persist := 0
	for _, e := range sum.Errors {
		if e.Kind == KindPersist {
			persist++
		}
	}
	assert.Equal(t, 10, persist)
	assert.Equal(t, 10, h.store.Len())
}

func TestStats(t *testing.T) {
	h := newHarness(t, twoResults, "")
	_, err := h.orch.Start(context.Background(), Options{NumQueries: 1})
	require.NoError(t, err)

	s := h.orch.Stats()
	assert.Equal(t, 5, s.StoreRecords)
	assert.Equal(t, 5, s.TotalRecords)
	assert.WithinDuration(t, time.Now(), *s.LastRun, time.Minute)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

// slowFetcher delays each candidate by its index so later URLs finish first,
// and tracks how many fetches run at once.
type slowFetcher struct {
	delays   map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *slowFetcher) Name() string { return "slow" }

func (f *slowFetcher) Open(ctx context.Context) (scraper.Session, error) {
	return slowSession{f: f}, nil
}

type slowSession struct{ f *slowFetcher }

func (s slowSession) Fetch(ctx context.Context, u string) (*scraper.Page, error) {
	n := s.f.inFlight.Add(1)
	defer s.f.inFlight.Add(-1)
	for {
		p := s.f.peak.Load()
		if n <= p || s.f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(s.f.delays[u]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &scraper.Page{URL: u, FinalURL: u, StatusCode: 200, HTML: "<html><body><p>ok</p></body></html>"}, nil
}

func (s slowSession) Close() error { return nil }

func newCustomOrchestrator(t *testing.T, provider serp.Provider, fetcher scraper.PageFetcher, concurrency, maxResults int) (*Orchestrator, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := csvbackend.New(filepath.Join(dir, "master_database.csv"))
	require.NoError(t, err)
	store := storage.NewStore(context.Background(), backend, logger)

	gen, err := query.New(query.DefaultVocabulary(), 42)
	require.NoError(t, err)

	orch, err := New(Config{
		Generator:   gen,
		Topics:      []string{"vaccine hesitancy"},
		Provider:    provider,
		Fetcher:     fetcher,
		Store:       store,
		ResultsDir:  dir,
		MaxResults:  maxResults,
		Concurrency: concurrency,
		Logger:      logger,
	})
	require.NoError(t, err)
	return orch, store
}

func TestStart_BoundedConcurrencyKeepsCandidateOrder(t *testing.T) {
	const candidates = 8
	const concurrency = 3

	fetcher := &slowFetcher{delays: map[string]time.Duration{}}
	var urls []string
	for i := 0; i < candidates; i++ {
		u := fmt.Sprintf("http://forum.example/thread/%d", i)
		urls = append(urls, u)
		fetcher.delays[u] = time.Duration(candidates-i) * 5 * time.Millisecond
	}
	provider := &fakeProvider{search: func(ctx context.Context, q string) ([]serp.Result, error) {
		out := make([]serp.Result, 0, len(urls))
		for _, u := range urls {
			out = append(out, serp.Result{URL: u, Title: "thread"})
		}
		return out, nil
	}}

	orch, store := newCustomOrchestrator(t, provider, fetcher, concurrency, 20)

	sum, err := orch.Start(context.Background(), Options{NumQueries: 1})
	require.NoError(t, err)
	assert.Equal(t, 5*candidates, sum.TotalRecords)
	assert.Empty(t, sum.Errors)

	assert.LessOrEqual(t, fetcher.peak.Load(), int32(concurrency))
	assert.Greater(t, fetcher.peak.Load(), int32(1), "fetches should overlap")

	snap := store.Snapshot()
	require.Len(t, snap, 5*candidates)
	for b := 0; b < 5; b++ {
		for i, u := range urls {
			assert.Equal(t, u, snap[b*candidates+i].URL, "batch %d position %d", b, i)
		}
	}
}

func TestStart_CapsProviderResults(t *testing.T) {
	provider := &fakeProvider{search: func(ctx context.Context, q string) ([]serp.Result, error) {
		out := make([]serp.Result, 30)
		for i := range out {
			out[i] = serp.Result{URL: fmt.Sprintf("http://ok.example/%d", i)}
		}
		return out, nil
	}}
	fetcher := &fakeFetcher{}

	orch, store := newCustomOrchestrator(t, provider, fetcher, 4, 3)

	sum, err := orch.Start(context.Background(), Options{NumQueries: 1})
	require.NoError(t, err)
	assert.Equal(t, 5*3, sum.TotalRecords)
	assert.Equal(t, 5*3, store.Len())
	for _, e := range store.Snapshot() {
		assert.Contains(t, []string{"http://ok.example/0", "http://ok.example/1", "http://ok.example/2"}, e.URL)
	}
}

func TestEnrich_FillsMissingContentOncePerURL(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := csvbackend.New(filepath.Join(dir, "master_database.csv"))
	require.NoError(t, err)
	store := storage.NewStore(context.Background(), backend, logger)

	var entries []*storage.Entry
	for _, e := range []storage.Entry{
		{URL: "http://ok.example/a", Query: "q1", Topic: "vaccine hesitancy"},
		{URL: "http://ok.example/a", Query: "q2", Topic: "vaccine hesitancy"},
		{URL: "http://ok.example/b", Query: "q1", Topic: "vaccine hesitancy", Content: "already here"},
		{URL: "http://fail.example/c", Query: "q1", Topic: "vaccine hesitancy"},
	} {
		ne, err := storage.NewEntry(e)
		require.NoError(t, err)
		entries = append(entries, ne)
	}
	require.NoError(t, store.Add(context.Background(), entries))

	ex, err := scraper.NewExtractor(scraper.ContentText)
	require.NoError(t, err)
	fetcher := &fakeFetcher{}

	sum, err := Enrich(context.Background(), EnrichConfig{
		Store: store, Fetcher: fetcher, Extractor: ex, ResultsDir: dir, Logger: logger,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Pending)
	assert.Equal(t, 1, sum.Enriched)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "http://fail.example/c", sum.Errors[0].URL)
	assert.EqualValues(t, 1, fetcher.opened.Load())
	assert.EqualValues(t, 1, fetcher.closed.Load())

	got, err := jsonbackend.ReadBatch(filepath.Join(dir, sum.File))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "http://ok.example/a", got[0].URL)
	assert.Contains(t, got[0].Content, "second dose")

	// the master table is untouched
	assert.Equal(t, 4, store.Len())
	assert.Empty(t, store.Snapshot()[0].Content)
}

func TestEnrich_RejectsNoneMode(t *testing.T) {
	h := newHarness(t, twoResults, "")
	ex, err := scraper.NewExtractor(scraper.ContentNone)
	require.NoError(t, err)

	_, err = Enrich(context.Background(), EnrichConfig{Store: h.store, Fetcher: h.fetcher, Extractor: ex})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
