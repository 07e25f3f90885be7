package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/postgres"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS segment_catalog (
	path       TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	terms      INTEGER NOT NULL,
	postings   INTEGER NOT NULL,
	documents  BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// PostgresCatalog stores one row per flushed segment.
type PostgresCatalog struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgresCatalog creates a catalog on client. Call EnsureSchema before
// first use.
func NewPostgresCatalog(client *postgres.Client) *PostgresCatalog {
	return &PostgresCatalog{
		client: client,
		logger: slog.Default().With("component", "segment-catalog"),
	}
}

// EnsureSchema creates the catalog table if it does not exist.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.client.DB.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("creating segment catalog table: %w", err)
	}
	return nil
}

// Record upserts res keyed by segment path.
func (c *PostgresCatalog) Record(ctx context.Context, res FlushResult) error {
	return c.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO segment_catalog (path, version, terms, postings, documents, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (path) DO UPDATE SET
			   version = EXCLUDED.version,
			   terms = EXCLUDED.terms,
			   postings = EXCLUDED.postings,
			   documents = EXCLUDED.documents,
			   created_at = EXCLUDED.created_at`,
			res.Path, res.Version, res.Terms, res.Postings, res.Documents, res.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("recording segment %s: %w", res.Path, err)
		}
		c.logger.Debug("segment recorded", "path", res.Path, "version", res.Version)
		return nil
	})
}

// Recent returns up to limit catalog rows, newest first.
func (c *PostgresCatalog) Recent(ctx context.Context, limit int) ([]FlushResult, error) {
	rows, err := c.client.DB.QueryContext(ctx,
		`SELECT path, version, terms, postings, documents, created_at
		 FROM segment_catalog ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying segment catalog: %w", err)
	}
	defer rows.Close()

	var out []FlushResult
	for rows.Next() {
		var r FlushResult
		if err := rows.Scan(&r.Path, &r.Version, &r.Terms, &r.Postings, &r.Documents, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning segment catalog row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
