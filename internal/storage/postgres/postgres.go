package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/vaxscrape/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS scraped_entries (
	seq BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	search_depth TEXT NOT NULL DEFAULT '',
	perspective TEXT NOT NULL DEFAULT '',
	demographic TEXT NOT NULL DEFAULT '',
	topic TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS scraped_entries_topic ON scraped_entries (topic);
`

var copyColumns = []string{"url", "title", "content", "query", "timestamp", "search_depth", "perspective", "demographic", "topic"}

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Load(ctx context.Context) ([]*storage.Entry, error) {
	rows, err := b.pool.Query(ctx, `SELECT url, title, content, query, timestamp, search_depth, perspective, demographic, topic FROM scraped_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
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
			return nil, fmt.Errorf("postgres: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return entries, nil
}

// Flush copies the added rows in a single transaction.
func (b *postgresBackend) Flush(ctx context.Context, snapshot, added []*storage.Entry) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows := make([][]any, 0, len(added))
	for _, e := range added {
		rows = append(rows, []any{
			e.URL, e.Title, e.Content, e.Query, e.Timestamp.UTC(),
			e.SearchDepth, e.Perspective, e.Demographic, e.Topic,
		})
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"scraped_entries"}, copyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("postgres: copy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
