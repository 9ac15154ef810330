package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Columns is the fixed column order of the master table and batch files.
var Columns = []string{
	"url",
	"title",
	"content",
	"query",
	"timestamp",
	"search_depth",
	"perspective",
	"demographic",
	"topic",
}

// Entry is one scraped page together with the query and topic that produced it.
type Entry struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Query       string    `json:"query"`
	Timestamp   time.Time `json:"timestamp"`
	SearchDepth string    `json:"search_depth"`
	Perspective string    `json:"perspective"`
	Demographic string    `json:"demographic"`
	Topic       string    `json:"topic"`
}

// ErrInvalidEntry is returned by NewEntry when provenance fields are missing.
var ErrInvalidEntry = errors.New("storage: invalid entry")

// NewEntry validates provenance and fills defaults. A zero Timestamp is set
// to the current UTC time.
func NewEntry(e Entry) (*Entry, error) {
	switch {
	case e.URL == "":
		return nil, fmt.Errorf("%w: missing url", ErrInvalidEntry)
	case e.Query == "":
		return nil, fmt.Errorf("%w: missing query for %s", ErrInvalidEntry, e.URL)
	case e.Topic == "":
		return nil, fmt.Errorf("%w: missing topic for %s", ErrInvalidEntry, e.URL)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return &e, nil
}

// Record renders the entry in Columns order. Missing fields become "".
func (e *Entry) Record() []string {
	ts := ""
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.Format(time.RFC3339Nano)
	}
	return []string{
		e.URL,
		e.Title,
		e.Content,
		e.Query,
		ts,
		e.SearchDepth,
		e.Perspective,
		e.Demographic,
		e.Topic,
	}
}

// EntryFromRecord maps a row onto an Entry using header to locate columns.
// Unknown columns are ignored and absent ones stay empty, so older files
// with fewer columns still load.
func EntryFromRecord(header, record []string) *Entry {
	get := func(name string) string {
		for i, h := range header {
			if h == name && i < len(record) {
				return record[i]
			}
		}
		return ""
	}
	e := &Entry{
		URL:         get("url"),
		Title:       get("title"),
		Content:     get("content"),
		Query:       get("query"),
		SearchDepth: get("search_depth"),
		Perspective: get("perspective"),
		Demographic: get("demographic"),
		Topic:       get("topic"),
	}
	if ts := get("timestamp"); ts != "" {
		e.Timestamp = ParseTimestamp(ts)
	}
	return e
}

// ParseTimestamp accepts RFC 3339 as well as the naive ISO-8601 form written
// by older exports. Unparseable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Filter selects entries from a Store snapshot.
type Filter struct {
	URL    string
	Topic  string
	Query  string
	Since  *time.Time
	Limit  int
	Offset int
	// Desc returns newest entries first.
	Desc bool
}

// Match reports whether e satisfies the non-paging parts of the filter.
func (f Filter) Match(e *Entry) bool {
	if f.URL != "" && e.URL != f.URL {
		return false
	}
	if f.Topic != "" && e.Topic != f.Topic {
		return false
	}
	if f.Query != "" && e.Query != f.Query {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Backend is the durable medium behind a Store.
type Backend interface {
	// Load returns every persisted entry in insertion order.
	Load(ctx context.Context) ([]*Entry, error)
	// Flush makes snapshot durable. added is the tail of snapshot that is new
	// since the last successful flush; row-oriented backends only need that
	// part. A failed Flush must leave none of added persisted.
	Flush(ctx context.Context, snapshot, added []*Entry) error
	Close() error
}
