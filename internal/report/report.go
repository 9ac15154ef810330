package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"net/url"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/vaxscrape/internal/storage"
)

// DefaultTopDomains is how many domains GenerateSummary keeps.
const DefaultTopDomains = 10

// Format selects a report writer.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ParseFormat validates a format name. Empty means json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("report: unknown format %q", s)
	}
}

// ContentType is the MIME type of the format's output.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// DomainCount is one row of the domain table.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// Summary aggregates the master table.
type Summary struct {
	TotalEntries  int            `json:"total_entries"`
	UniqueURLs    int            `json:"unique_urls"`
	EmptyContent  int            `json:"empty_content"`
	ByTopic       map[string]int `json:"by_topic"`
	ByDepth       map[string]int `json:"by_search_depth"`
	ByPerspective map[string]int `json:"by_perspective"`
	ByDemographic map[string]int `json:"by_demographic"`
	TopDomains    []DomainCount  `json:"top_domains"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Duration      time.Duration  `json:"duration"`
}

// GenerateSummary aggregates entries. topDomains <= 0 uses DefaultTopDomains.
func GenerateSummary(entries []*storage.Entry, topDomains int) Summary {
	if topDomains <= 0 {
		topDomains = DefaultTopDomains
	}
	s := Summary{
		ByTopic:       make(map[string]int),
		ByDepth:       make(map[string]int),
		ByPerspective: make(map[string]int),
		ByDemographic: make(map[string]int),
		TopDomains:    []DomainCount{},
	}

	if len(entries) == 0 {
		return s
	}

	s.StartTime = entries[0].Timestamp
	s.EndTime = entries[0].Timestamp

	urls := make(map[string]struct{}, len(entries))
	domains := make(map[string]int)
	for _, e := range entries {
		s.TotalEntries++
		urls[e.URL] = struct{}{}
		if strings.TrimSpace(e.Content) == "" {
			s.EmptyContent++
		}
		s.ByTopic[orUnknown(e.Topic)]++
		s.ByDepth[orUnknown(e.SearchDepth)]++
		if e.Perspective != "" {
			s.ByPerspective[e.Perspective]++
		}
		if e.Demographic != "" {
			s.ByDemographic[e.Demographic]++
		}
		if d := domainOf(e.URL); d != "" {
			domains[d]++
		}

		if !e.Timestamp.IsZero() {
			if s.StartTime.IsZero() || e.Timestamp.Before(s.StartTime) {
				s.StartTime = e.Timestamp
			}
			if e.Timestamp.After(s.EndTime) {
				s.EndTime = e.Timestamp
			}
		}
	}
	s.UniqueURLs = len(urls)

	for d, n := range domains {
		s.TopDomains = append(s.TopDomains, DomainCount{Domain: d, Count: n})
	}
	sort.Slice(s.TopDomains, func(i, j int) bool {
		if s.TopDomains[i].Count != s.TopDomains[j].Count {
			return s.TopDomains[i].Count > s.TopDomains[j].Count
		}
		return s.TopDomains[i].Domain < s.TopDomains[j].Domain
	})
	if len(s.TopDomains) > topDomains {
		s.TopDomains = s.TopDomains[:topDomains]
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Write renders summary in format.
func Write(w io.Writer, format Format, summary Summary) error {
	switch format {
	case FormatText:
		return WriteText(w, summary)
	case FormatHTML:
		return WriteHTML(w, summary)
	default:
		return WriteJSON(w, summary)
	}
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

const textTmpl = `Vaccine Sentiment Scrape Summary
--------------------------------
Time:          {{timefmt .StartTime}} - {{timefmt .EndTime}}
Span:          {{.Duration}}
Entries:       {{.TotalEntries}} ({{.UniqueURLs}} unique urls)
No content:    {{.EmptyContent}}

By Topic:
{{- range $k, $n := .ByTopic}}
  {{$k}}: {{$n}}
{{- else}}
  None
{{- end}}

By Search Depth:
{{- range $k, $n := .ByDepth}}
  {{$k}}: {{$n}}
{{- else}}
  None
{{- end}}

Top Domains:
{{- range .TopDomains}}
  {{.Domain}}: {{.Count}}
{{- else}}
  None
{{- end}}
`

var funcs = map[string]any{
	"timefmt": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Vaccine Sentiment Scrape Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Vaccine Sentiment Scrape Report</h1>
  <p><strong>Time:</strong> {{timefmt .StartTime}} to {{timefmt .EndTime}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Entries</div>
    <div class="stat-val">{{.TotalEntries}}</div>
  </div>
  <div class="stat-card">
    <div>Unique URLs</div>
    <div class="stat-val">{{.UniqueURLs}}</div>
  </div>
  <div class="stat-card">
    <div>No Content</div>
    <div class="stat-val">{{.EmptyContent}}</div>
  </div>

  <h3>Topics</h3>
  <table>
    <tr><th>Topic</th><th>Entries</th></tr>
    {{- range $k, $n := .ByTopic}}
    <tr><td>{{$k}}</td><td>{{$n}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Perspectives</h3>
  <table>
    <tr><th>Perspective</th><th>Entries</th></tr>
    {{- range $k, $n := .ByPerspective}}
    <tr><td>{{$k}}</td><td>{{$n}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Domains</h3>
  <table>
    <tr><th>Domain</th><th>Entries</th></tr>
    {{- range .TopDomains}}
    <tr><td>{{.Domain}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report. Values are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Funcs(funcs).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
