// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a single table and relies on serializable
// transactions for the optimistic-concurrency contract. Commits that lose a
// serialization race are retried like memory-store conflicts.
type Postgres struct {
	pool     *pgxpool.Pool
	notifier Notifier
}

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	key     text PRIMARY KEY,
	version bigint NOT NULL DEFAULT 1,
	data    jsonb NOT NULL
)`

// NewPostgres connects a pool, pings it, and ensures the documents table
// exists. notifier may be nil.
func NewPostgres(ctx context.Context, dsn string, notifier Notifier) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &Postgres{pool: pool, notifier: notifier}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Get(ctx context.Context, key string) (Doc, error) {
	doc := Doc{Key: key}
	err := p.pool.QueryRow(ctx,
		`SELECT version, data FROM documents WHERE key = $1`, key,
	).Scan(&doc.Version, &doc.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Doc{}, err
	}
	return doc, nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]Doc, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, version, data FROM documents WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (p *Postgres) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var changed []Doc
		err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			ptx := &pgTx{tx: tx}
			if err := fn(ptx); err != nil {
				return err
			}
			changed = ptx.changed
			return nil
		})
		if err == nil {
			if p.notifier != nil {
				for _, doc := range changed {
					p.notifier.DocChanged(ctx, doc)
				}
			}
			return nil
		}
		if isSerializationFailure(err) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConflict, maxTxAttempts, lastErr)
}

// isSerializationFailure matches the retryable SQLSTATEs for serializable
// isolation: serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// pgTx adapts a pgx transaction to the document Tx interface.
type pgTx struct {
	tx      pgx.Tx
	changed []Doc
}

func (t *pgTx) Get(ctx context.Context, key string) (Doc, error) {
	doc := Doc{Key: key}
	err := t.tx.QueryRow(ctx,
		`SELECT version, data FROM documents WHERE key = $1`, key,
	).Scan(&doc.Version, &doc.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Doc{}, err
	}
	return doc, nil
}

func (t *pgTx) List(ctx context.Context, prefix string) ([]Doc, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT key, version, data FROM documents WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (t *pgTx) Put(ctx context.Context, key string, data []byte) error {
	doc := Doc{Key: key, Data: append([]byte(nil), data...)}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO documents (key, version, data) VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET version = documents.version + 1, data = EXCLUDED.data
		RETURNING version`, key, data,
	).Scan(&doc.Version)
	if err != nil {
		return err
	}
	t.changed = append(t.changed, doc)
	return nil
}

func (t *pgTx) Delete(ctx context.Context, key string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		t.changed = append(t.changed, Doc{Key: key})
	}
	return nil
}

func scanDocs(rows pgx.Rows) ([]Doc, error) {
	var out []Doc
	for rows.Next() {
		var doc Doc
		if err := rows.Scan(&doc.Key, &doc.Version, &doc.Data); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
