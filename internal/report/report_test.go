package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/vaxscrape/internal/storage"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now().UTC()

	entries := []*storage.Entry{
		{
			URL:         "https://www.reddit.com/r/a",
			Content:     "text",
			Topic:       "vaccine hesitancy",
			SearchDepth: "advanced",
			Perspective: "religious views",
			Timestamp:   now,
		},
		{
			URL:         "https://reddit.com/r/b",
			Topic:       "vaccine hesitancy",
			SearchDepth: "basic",
			Timestamp:   now.Add(2 * time.Second),
		},
		{
			URL:         "https://mumsnet.com/t/1",
			Content:     "more",
			Topic:       "vaccine side effects",
			SearchDepth: "advanced",
			Perspective: "religious views",
			Demographic: "young parents",
			Timestamp:   now.Add(1 * time.Second),
		},
		{
			URL:       "https://mumsnet.com/t/1",
			Content:   "dup",
			Timestamp: now.Add(-1 * time.Second),
		},
	}

	summary := GenerateSummary(entries, 0)

	if summary.TotalEntries != 4 {
		t.Errorf("expected 4 entries, got %d", summary.TotalEntries)
	}
	if summary.UniqueURLs != 3 {
		t.Errorf("expected 3 unique urls, got %d", summary.UniqueURLs)
	}
	if summary.EmptyContent != 1 {
		t.Errorf("expected 1 empty content, got %d", summary.EmptyContent)
	}
	if summary.ByTopic["vaccine hesitancy"] != 2 || summary.ByTopic["(none)"] != 1 {
		t.Errorf("unexpected topic counts %v", summary.ByTopic)
	}
	if summary.ByDepth["advanced"] != 2 {
		t.Errorf("unexpected depth counts %v", summary.ByDepth)
	}
	if summary.ByPerspective["religious views"] != 2 {
		t.Errorf("unexpected perspective counts %v", summary.ByPerspective)
	}
	if len(summary.TopDomains) != 2 || summary.TopDomains[0].Domain != "mumsnet.com" || summary.TopDomains[0].Count != 2 {
		t.Errorf("unexpected domains %v", summary.TopDomains)
	}
	if summary.Duration != 3*time.Second {
		t.Errorf("expected 3s span, got %v", summary.Duration)
	}
}

func TestGenerateSummary_TopDomainsCapped(t *testing.T) {
	var entries []*storage.Entry
	for _, host := range []string{"a.com", "b.com", "c.com"} {
		entries = append(entries, &storage.Entry{URL: "http://" + host + "/x", Timestamp: time.Now()})
	}
	if got := GenerateSummary(entries, 2).TopDomains; len(got) != 2 || got[0].Domain != "a.com" {
		t.Errorf("unexpected capped domains %v", got)
	}
}

func TestGenerateSummary_Empty(t *testing.T) {
	s := GenerateSummary(nil, 0)
	if s.TotalEntries != 0 || s.ByTopic == nil || s.TopDomains == nil {
		t.Errorf("expected zero summary with initialized maps, got %+v", s)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Errorf("expected json default, got %q %v", f, err)
	}
	if f, err := ParseFormat("HTML"); err != nil || f != FormatHTML {
		t.Errorf("expected html, got %q %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Errorf("expected error for pdf")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, Summary{TotalEntries: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"total_entries": 5`) {
		t.Errorf("expected JSON to contain total_entries: 5, got %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		TotalEntries: 5,
		UniqueURLs:   4,
		ByTopic:      map[string]int{"vaccine hesitancy": 5},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Entries:       5 (4 unique urls)") {
		t.Errorf("expected entry line, got:\n%s", out)
	}
	if !strings.Contains(out, "vaccine hesitancy: 5") {
		t.Errorf("expected topic line")
	}
	if !strings.Contains(out, "Time:          - - -") {
		t.Errorf("expected placeholder time for empty summary")
	}
}

func TestWriteHTML_Escapes(t *testing.T) {
	summary := Summary{
		TotalEntries: 1,
		ByTopic:      map[string]int{"<script>alert(1)</script>": 1},
		TopDomains:   []DomainCount{{Domain: "reddit.com", Count: 1}},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>Vaccine Sentiment Scrape Report</title>") {
		t.Errorf("expected HTML title")
	}
	if strings.Contains(out, "<script>alert") {
		t.Errorf("expected topic to be escaped")
	}
	if !strings.Contains(out, "reddit.com") {
		t.Errorf("expected domain row")
	}
}
