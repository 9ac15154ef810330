package serp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepth(t *testing.T) {
	d, err := ParseDepth("")
	require.NoError(t, err)
	assert.Equal(t, DepthAdvanced, d)

	d, err = ParseDepth("Basic")
	require.NoError(t, err)
	assert.Equal(t, DepthBasic, d)

	_, err = ParseDepth("deep")
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	in := []Result{{URL: "a"}, {URL: " a "}, {URL: ""}, {URL: "b"}, {URL: "c"}}
	assert.Equal(t, []Result{{URL: "a"}, {URL: "b"}}, dedupe(in, 2))
	assert.Len(t, dedupe(in, 0), 3)
}

func TestTavily_Search(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "site:reddit.com vaccine hesitancy", req.Query)
		assert.Equal(t, DepthBasic, req.SearchDepth)
		assert.Equal(t, 2, req.MaxResults)
		assert.True(t, req.IncludeAnswer)

		_, _ = w.Write([]byte(`{"query":"q","answer":"a","results":[
			{"title":"One","url":"https://reddit.com/r/1","content":"first","score":0.9},
			{"title":"Dup","url":"https://reddit.com/r/1","content":"dup","score":0.8},
			{"title":"Two","url":"https://reddit.com/r/2","content":"second","score":0.7},
			{"title":"Three","url":"https://reddit.com/r/3","content":"third","score":0.6}
		]}`))
	}))
	defer ts.Close()

	p, err := NewTavily(TavilyConfig{APIKey: "tvly-test", Endpoint: ts.URL, IncludeAnswer: true})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "site:reddit.com vaccine hesitancy", DepthBasic, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{URL: "https://reddit.com/r/1", Title: "One", Snippet: "first"}, results[0])
	assert.Equal(t, "https://reddit.com/r/2", results[1].URL)
}

func TestTavily_MissingKey(t *testing.T) {
	_, err := NewTavily(TavilyConfig{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTavily_ErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnavailable},
		{http.StatusForbidden, ErrUnavailable},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"nope"}`, tc.status)
			}))
			defer ts.Close()

			p, err := NewTavily(TavilyConfig{APIKey: "k", Endpoint: ts.URL})
			require.NoError(t, err)

			_, err = p.Search(context.Background(), "q", DepthAdvanced, 5)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTavily_NetworkErrorIsTransient(t *testing.T) {
	p, err := NewTavily(TavilyConfig{APIKey: "k", Endpoint: "http://127.0.0.1:1/search"})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "q", DepthBasic, 5)
	assert.ErrorIs(t, err, ErrTransient)
}

const ddgPage1 = `<html><body>
<div class="result results_links result--ad"><h2 class="result__title"><a href="https://duckduckgo.com/y.js?ad=1">Ad</a></h2></div>
<div class="result results_links">
  <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.mumsnet.com%2Ftalk%2F1&amp;rut=x">MMR jab worries</a></h2>
  <a class="result__snippet">Is anyone else nervous</a>
</div>
<div class="result results_links">
  <h2 class="result__title"><a class="result__a" href="https://www.reddit.com/r/parenting/2">Vaccine schedule</a></h2>
</div>
<div class="nav-link">
  <form action="/html/" method="post">
    <input type="submit" class="btn" value="Next" />
    <input type="hidden" name="q" value="vaccine" />
    <input type="hidden" name="s" value="10" />
    <input type="hidden" name="dc" value="11" />
  </form>
</div>
</body></html>`

const ddgPage2 = `<html><body>
<div class="result results_links">
  <h2 class="result__title"><a class="result__a" href="https://www.reddit.com/r/parenting/2">Vaccine schedule again</a></h2>
</div>
<div class="result results_links">
  <h2 class="result__title"><a class="result__a" href="https://x.com/status/3">Thread</a></h2>
</div>
</body></html>`

func newDDGServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("s") == "10" {
			_, _ = w.Write([]byte(ddgPage2))
			return
		}
		assert.Equal(t, "vaccine", r.PostForm.Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(ddgPage1))
	}))
}

func TestDuckDuckGo_Basic(t *testing.T) {
	var calls atomic.Int32
	ts := newDDGServer(t, &calls)
	defer ts.Close()

	p, err := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: ts.URL, RPS: -1})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "vaccine", DepthBasic, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://www.mumsnet.com/talk/1", results[0].URL)
	assert.Equal(t, "MMR jab worries", results[0].Title)
	assert.Equal(t, "Is anyone else nervous", results[0].Snippet)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDuckDuckGo_AdvancedFollowsNextPage(t *testing.T) {
	var calls atomic.Int32
	ts := newDDGServer(t, &calls)
	defer ts.Close()

	p, err := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: ts.URL, RPS: -1})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "vaccine", DepthAdvanced, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "https://x.com/status/3", results[2].URL)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDuckDuckGo_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	p, err := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: ts.URL, RPS: -1})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "vaccine", DepthBasic, 10)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t, "https://a.example/x?y=1", unwrapRedirect("//duckduckgo.com/l/?uddg="+url.QueryEscape("https://a.example/x?y=1")))
	assert.Equal(t, "https://b.example/", unwrapRedirect("https://b.example/"))
	assert.Equal(t, "", unwrapRedirect("javascript:alert(1)"))
	assert.True(t, strings.HasPrefix(unwrapRedirect("//duckduckgo.com/y.js?ad=1"), "https://duckduckgo.com/y.js"))
}
