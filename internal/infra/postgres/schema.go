package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    repository      TEXT NOT NULL,
    change_ref      TEXT NOT NULL,
    requested_types TEXT[] NOT NULL,
    status          TEXT NOT NULL,
    total_units     INT NOT NULL DEFAULT 0,
    completed_units INT NOT NULL DEFAULT 0,
    current_unit    TEXT,
    created_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ,
    error_message   TEXT,
    results         JSONB
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);

CREATE TABLE IF NOT EXISTS cache_entries (
    exact_key            TEXT NOT NULL,
    analysis_type        TEXT NOT NULL,
    language             TEXT NOT NULL,
    embedding            vector(%d),
    findings             JSONB NOT NULL,
    similarity_threshold DOUBLE PRECISION NOT NULL,
    usage_count          INT NOT NULL DEFAULT 1,
    cache_hit_count      INT NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL,
    last_used_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (exact_key, analysis_type, language)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_partition ON cache_entries (analysis_type, language);
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_used ON cache_entries (last_used_at);

CREATE TABLE IF NOT EXISTS cache_stats (
    id            INT PRIMARY KEY,
    lookup_misses BIGINT NOT NULL DEFAULT 0
);

INSERT INTO cache_stats (id, lookup_misses) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema はテーブルとインデックスを作成する。
// embeddingDimension は cache_entries の vector 列の次元数
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, embeddingDimension int) error {
	if embeddingDimension <= 0 {
		embeddingDimension = 1536
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaDDL, embeddingDimension)); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
