package scraper

import (
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// ContentMode selects what goes into an entry's content column.
type ContentMode string

const (
	ContentHTML     ContentMode = "html"
	ContentMarkdown ContentMode = "markdown"
	ContentText     ContentMode = "text"
	// ContentNone leaves content empty for later enrichment by URL.
	ContentNone ContentMode = "none"
)

// ParseContentMode validates a config value. Empty means markdown.
func ParseContentMode(s string) (ContentMode, error) {
	switch m := ContentMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ContentMarkdown, nil
	case ContentHTML, ContentMarkdown, ContentText, ContentNone:
		return m, nil
	default:
		return "", fmt.Errorf("scraper: unknown content mode %q", s)
	}
}

// Extractor turns fetched pages into title and content strings.
type Extractor struct {
	mode   ContentMode
	md     *converter.Converter
	policy *bluemonday.Policy
}

// NewExtractor builds an extractor for mode.
func NewExtractor(mode ContentMode) (*Extractor, error) {
	if _, err := ParseContentMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ContentMarkdown
	}

	e := &Extractor{mode: mode}
	switch mode {
	case ContentMarkdown:
		conv := converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
		// page chrome adds nothing to a forum post
		for _, tag := range []string{"nav", "header", "footer", "aside", "form", "button", "svg", "iframe"} {
			conv.Register.TagType(tag, converter.TagTypeRemove, converter.PriorityStandard)
		}
		e.md = conv
	case ContentText:
		e.policy = bluemonday.StrictPolicy()
	}
	return e, nil
}

// Mode returns the configured content mode.
func (e *Extractor) Mode() ContentMode { return e.mode }

// Content renders page.HTML in the configured mode.
func (e *Extractor) Content(page *Page) (string, error) {
	if page == nil || page.HTML == "" {
		return "", nil
	}
	switch e.mode {
	case ContentNone:
		return "", nil
	case ContentHTML:
		return page.HTML, nil
	case ContentText:
		return collapseSpace(html.UnescapeString(e.policy.Sanitize(stripNonContent(page.HTML)))), nil
	default:
		domain := page.FinalURL
		if domain == "" {
			domain = page.URL
		}
		out, err := e.md.ConvertString(page.HTML, converter.WithDomain(domain))
		if err != nil {
			return "", fmt.Errorf("scraper: markdown %s: %w", page.URL, err)
		}
		return strings.TrimSpace(out), nil
	}
}

// Title prefers the search result's title and falls back to the page's own.
func (e *Extractor) Title(resultTitle string, page *Page) string {
	if t := strings.TrimSpace(resultTitle); t != "" {
		return t
	}
	if page == nil {
		return ""
	}
	if page.Title != "" {
		return page.Title
	}
	return PageTitle(page.HTML)
}

// PageTitle returns the document <title>, or og:title when that is empty.
func PageTitle(htmlDoc string) string {
	if htmlDoc == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find("head title").First().Text()); t != "" {
		return collapseSpace(t)
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return collapseSpace(t)
	}
	return ""
}

// stripNonContent drops script and style bodies, which the strict policy
// would otherwise keep as text.
func stripNonContent(htmlDoc string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return htmlDoc
	}
	doc.Find("script, style, noscript, template").Remove()
	out, err := doc.Html()
	if err != nil {
		return htmlDoc
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
