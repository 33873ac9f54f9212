// Package store provides the Postgres-backed content store. It is the
// only mutable resource shared between scrape workers; every claim and
// write is one atomic statement, so correctness rests on row-level
// locking rather than application mutexes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

// Config controls the Postgres connection pool and claim semantics.
type Config struct {
	DSN        string
	MaxConns   int32
	MinConns   int32
	ClaimTTL   time.Duration
	MaxRetries int
}

// querier is the subset of pgxpool.Pool the store uses, narrowed so
// pgxmock can stand in during tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawl.ContentStore and crawl.DomainStore on Postgres.
type Store struct {
	pool       querier
	claimTTL   time.Duration
	maxRetries int
	logger     *zap.Logger
}

var (
	_ crawl.ContentStore = (*Store)(nil)
	_ crawl.DomainStore  = (*Store)(nil)
)

// New connects a pool and pings it; a dead backing store is a fatal
// startup error for every command.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newWithPool(pool, cfg, logger), nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool querier, cfg Config, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, cfg, logger), nil
}

func newWithPool(pool querier, cfg Config, logger *zap.Logger) *Store {
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 15 * time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:       pool,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	url TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT,
	full_text TEXT,
	embedding BYTEA,
	crawl_delay DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	claimed_at TIMESTAMPTZ,
	retries INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS pages_unscraped_idx ON pages (id) WHERE snippet IS NULL;
CREATE TABLE IF NOT EXISTS domains (
	name TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// EnsureSchema creates the pages and domains tables if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const upsertURLSQL = `
INSERT INTO pages (url, crawl_delay)
VALUES ($1, $2)
ON CONFLICT (url) DO NOTHING
RETURNING id`

// UpsertURL inserts a URL row if absent. Concurrent callers racing on
// the same URL all succeed; exactly one row exists afterwards.
func (s *Store) UpsertURL(ctx context.Context, url string, crawlDelay float64) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, upsertURLSQL, url, crawlDelay).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("upsert url: %w", err)
	}
	// Conflict path: the row already exists.
	err = s.pool.QueryRow(ctx, `SELECT id FROM pages WHERE url = $1`, url).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("select existing url: %w", err)
	}
	return id, false, nil
}

// claimBatchSQL selects unscraped rows with FOR UPDATE SKIP LOCKED and
// stamps the claim inside the same statement. SKIP LOCKED keeps
// concurrent claimants from blocking on or double-claiming each
// other's rows; the claimed_at window reclaims rows stranded by
// crashed workers, counting each reclaim as a retry.
const claimBatchSQL = `
WITH picked AS (
	SELECT id
	FROM pages
	WHERE snippet IS NULL
	  AND retries < $3
	  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2))
	ORDER BY id
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE pages p
SET claimed_at = now(),
    retries = p.retries + CASE WHEN p.claimed_at IS NULL THEN 0 ELSE 1 END
FROM picked
WHERE p.id = picked.id
RETURNING p.id, p.url, p.crawl_delay, p.retries`

// ClaimBatch atomically claims up to limit unscraped rows.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]crawl.PageRecord, error) {
	rows, err := s.pool.Query(ctx, claimBatchSQL, limit, s.claimTTL.Seconds(), s.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var batch []crawl.PageRecord
	for rows.Next() {
		var rec crawl.PageRecord
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.CrawlDelay, &rec.Retries); err != nil {
			return nil, fmt.Errorf("scan claimed row: %w", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}
	return batch, nil
}

const writeResultSQL = `
UPDATE pages
SET title = $2, snippet = $3, full_text = COALESCE($4, full_text), claimed_at = NULL
WHERE id = $1`

// WriteResult stores the scrape outcome. Setting snippet non-null
// removes the row from the claim pool permanently; clearing claimed_at
// is bookkeeping. Re-writing the same id is safe.
func (s *Store) WriteResult(ctx context.Context, id int64, title string, snippet string, fullText *string) error {
	if _, err := s.pool.Exec(ctx, writeResultSQL, id, title, snippet, fullText); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// WriteFullText fills full_text for a URL fetched at search time.
func (s *Store) WriteFullText(ctx context.Context, url string, text string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE pages SET full_text = $2 WHERE url = $1`, url, text); err != nil {
		return fmt.Errorf("write full text: %w", err)
	}
	return nil
}

// FullText returns the stored full text for a URL, if present.
func (s *Store) FullText(ctx context.Context, url string) (string, bool, error) {
	var text *string
	err := s.pool.QueryRow(ctx, `SELECT full_text FROM pages WHERE url = $1`, url).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select full text: %w", err)
	}
	if text == nil || *text == "" {
		return "", false, nil
	}
	return *text, true, nil
}

// WriteEmbedding persists an embedding as a little-endian float32 blob.
func (s *Store) WriteEmbedding(ctx context.Context, id int64, vec []float32) error {
	blob := EncodeVector(vec)
	if _, err := s.pool.Exec(ctx, `UPDATE pages SET embedding = $2 WHERE id = $1`, id, blob); err != nil {
		return fmt.Errorf("write embedding: %w", err)
	}
	return nil
}

const scanAllSQL = `
SELECT id, url, title, snippet, full_text, embedding, crawl_delay, claimed_at, retries
FROM pages
ORDER BY id`

// ScanAll streams every row to fn in id order.
func (s *Store) ScanAll(ctx context.Context, fn func(crawl.PageRecord) error) error {
	rows, err := s.pool.Query(ctx, scanAllSQL)
	if err != nil {
		return fmt.Errorf("scan all: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  crawl.PageRecord
			blob []byte
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Snippet, &rec.FullText,
			&blob, &rec.CrawlDelay, &rec.ClaimedAt, &rec.Retries); err != nil {
			return fmt.Errorf("scan page row: %w", err)
		}
		if len(blob) > 0 {
			vec, err := DecodeVector(blob)
			if err != nil {
				// A corrupt embedding is recoverable: rebuild re-embeds.
				s.logger.Warn("discarding corrupt embedding blob",
					zap.Int64("id", rec.ID), zap.Error(err))
			} else {
				rec.Embedding = vec
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan all rows: %w", err)
	}
	return nil
}

// CountPending reports rows still awaiting a scrape.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pages WHERE snippet IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// AddDomain records a managed domain, deduplicated by normalized name.
func (s *Store) AddDomain(ctx context.Context, name string) (bool, error) {
	normalized := crawl.NormalizeDomain(name)
	if normalized == "" {
		return false, fmt.Errorf("domain name is empty after normalization")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO domains (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, normalized)
	if err != nil {
		return false, fmt.Errorf("add domain: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDomains returns managed domains in insertion order.
func (s *Store) ListDomains(ctx context.Context) ([]crawl.Domain, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, added_at FROM domains ORDER BY added_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []crawl.Domain
	for rows.Next() {
		var d crawl.Domain
		if err := rows.Scan(&d.Name, &d.AddedAt); err != nil {
			return nil, fmt.Errorf("scan domain row: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domains rows: %w", err)
	}
	return domains, nil
}

// RemoveDomain deletes a managed domain.
func (s *Store) RemoveDomain(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE name = $1`, crawl.NormalizeDomain(name))
	if err != nil {
		return false, fmt.Errorf("remove domain: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Clear removes all page rows. Domains are kept; this is the explicit
// admin clear, the only deletion path for page records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE pages`); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}
	return nil
}
