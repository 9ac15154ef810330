package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FranksOps/vaxscrape/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

// seq keeps insertion order independent of timestamps, which may repeat.
const schema = `
CREATE TABLE IF NOT EXISTS scraped_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	search_depth TEXT NOT NULL DEFAULT '',
	perspective TEXT NOT NULL DEFAULT '',
	demographic TEXT NOT NULL DEFAULT '',
	topic TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS scraped_entries_topic ON scraped_entries (topic);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the pool's connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Load(ctx context.Context) ([]*storage.Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT url, title, content, query, timestamp, search_depth, perspective, demographic, topic FROM scraped_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	entries := []*storage.Entry{}
	for rows.Next() {
		var e storage.Entry
		err := rows.Scan(
			&e.URL, &e.Title, &e.Content, &e.Query, &e.Timestamp,
			&e.SearchDepth, &e.Perspective, &e.Demographic, &e.Topic,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return entries, nil
}

// Flush inserts only the added rows, in one transaction.
func (b *sqliteBackend) Flush(ctx context.Context, snapshot, added []*storage.Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO scraped_entries (
		url, title, content, query, timestamp, search_depth, perspective, demographic, topic
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer stmt.Close()

	for _, e := range added {
		_, err := stmt.ExecContext(ctx,
			e.URL, e.Title, e.Content, e.Query, e.Timestamp.UTC(),
			e.SearchDepth, e.Perspective, e.Demographic, e.Topic,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", e.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
