package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/pr-analyzer/internal/core/cache"
	"github.com/jinford/pr-analyzer/internal/core/review"
)

// CacheRepository は PostgreSQL + pgvector を使用した cache.EntryRepository 実装
type CacheRepository struct {
	pool *pgxpool.Pool
}

// NewCacheRepository は新しい CacheRepository を作成する
func NewCacheRepository(pool *pgxpool.Pool) *CacheRepository {
	return &CacheRepository{pool: pool}
}

const cacheEntryColumns = `exact_key, analysis_type, language, embedding, findings, similarity_threshold, usage_count, cache_hit_count, created_at, last_used_at`

// GetByExactKey は完全一致キーでエントリを取得する
func (r *CacheRepository) GetByExactKey(ctx context.Context, exactKey string, analysisType review.AnalysisType, language string) (*cache.Entry, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM cache_entries
		WHERE exact_key = $1 AND analysis_type = $2 AND language = $3`, cacheEntryColumns),
		exactKey, string(analysisType), language,
	)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return entry, nil
}

// ListNearest は同一パーティション内でコサイン類似度の高い順に候補を返す。
// 類似度が同値の場合は最近使用されたエントリを優先する
func (r *CacheRepository) ListNearest(ctx context.Context, analysisType review.AnalysisType, language string, embedding []float32, limit int) ([]*cache.Candidate, error) {
	vec := pgvector.NewVector(embedding)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $3) AS similarity
		FROM cache_entries
		WHERE analysis_type = $1 AND language = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $3, last_used_at DESC
		LIMIT $4`, cacheEntryColumns),
		string(analysisType), language, vec, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search nearest cache entries: %w", err)
	}
	defer rows.Close()

	var candidates []*cache.Candidate
	for rows.Next() {
		entry, similarity, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache candidate: %w", err)
		}
		candidates = append(candidates, &cache.Candidate{
			Entry:      entry,
			Similarity: similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache candidates: %w", err)
	}

	return candidates, nil
}

// Upsert はエントリを保存する。同一キーが存在する場合は usage_count を
// 新しい値で置き換え、cache_hit_count と created_at は既存の値を引き継ぐ
func (r *CacheRepository) Upsert(ctx context.Context, entry *cache.Entry) error {
	findings, err := json.Marshal(entry.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	var embedding any
	if len(entry.Embedding) > 0 {
		embedding = pgvector.NewVector(entry.Embedding)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO cache_entries (exact_key, analysis_type, language, embedding, findings, similarity_threshold, usage_count, cache_hit_count, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		ON CONFLICT (exact_key, analysis_type, language) DO UPDATE SET
			embedding            = EXCLUDED.embedding,
			findings             = EXCLUDED.findings,
			similarity_threshold = EXCLUDED.similarity_threshold,
			usage_count          = EXCLUDED.usage_count,
			last_used_at         = EXCLUDED.last_used_at`,
		entry.ExactKey,
		string(entry.AnalysisType),
		entry.Language,
		embedding,
		findings,
		entry.SimilarityThreshold,
		entry.UsageCount,
		TimestamptzToPgtype(entry.CreatedAt),
		TimestamptzToPgtype(entry.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// RecordHit は使用回数とヒット回数を加算し、最終使用日時を更新する
func (r *CacheRepository) RecordHit(ctx context.Context, exactKey string, analysisType review.AnalysisType, language string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cache_entries
		SET usage_count = usage_count + 1,
		    cache_hit_count = cache_hit_count + 1,
		    last_used_at = $4
		WHERE exact_key = $1 AND analysis_type = $2 AND language = $3`,
		exactKey, string(analysisType), language, TimestamptzToPgtype(now),
	)
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cache.ErrEntryNotFound
	}
	return nil
}

// IncrementMisses はミスカウンタを加算する
func (r *CacheRepository) IncrementMisses(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `UPDATE cache_stats SET lookup_misses = lookup_misses + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to increment miss counter: %w", err)
	}
	return nil
}

// DeleteOlderThan は最終使用日時が cutoff より古いエントリを削除する
func (r *CacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cache_entries WHERE last_used_at < $1`, TimestamptzToPgtype(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Counters は永続化されたカウンタを読み出す
func (r *CacheRepository) Counters(ctx context.Context) (*cache.Counters, error) {
	counters := &cache.Counters{
		ByType:     make(map[review.AnalysisType]int),
		ByLanguage: make(map[string]int),
	}

	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(cache_hit_count), 0) FROM cache_entries`).
		Scan(&counters.Entries, &counters.Hits)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}

	if err := r.countGrouped(ctx, `SELECT analysis_type, COUNT(*) FROM cache_entries GROUP BY analysis_type`, func(key string, count int) {
		counters.ByType[review.AnalysisType(key)] = count
	}); err != nil {
		return nil, fmt.Errorf("failed to count cache entries by type: %w", err)
	}

	if err := r.countGrouped(ctx, `SELECT language, COUNT(*) FROM cache_entries GROUP BY language`, func(key string, count int) {
		counters.ByLanguage[key] = count
	}); err != nil {
		return nil, fmt.Errorf("failed to count cache entries by language: %w", err)
	}

	err = r.pool.QueryRow(ctx, `SELECT lookup_misses FROM cache_stats WHERE id = 1`).Scan(&counters.Misses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counters, nil
		}
		return nil, fmt.Errorf("failed to read miss counter: %w", err)
	}

	return counters, nil
}

func (r *CacheRepository) countGrouped(ctx context.Context, query string, collect func(key string, count int)) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		collect(key, count)
	}
	return rows.Err()
}

func scanEntry(row pgx.Row) (*cache.Entry, error) {
	entry, _, err := scanEntryColumns(row, false)
	return entry, err
}

func scanCandidate(row pgx.Row) (*cache.Entry, float64, error) {
	return scanEntryColumns(row, true)
}

func scanEntryColumns(row pgx.Row, withSimilarity bool) (*cache.Entry, float64, error) {
	var (
		entry        cache.Entry
		analysisType string
		embedding    *pgvector.Vector
		findings     []byte
		createdAt    pgtype.Timestamptz
		lastUsedAt   pgtype.Timestamptz
		similarity   float64
	)

	dest := []any{
		&entry.ExactKey,
		&analysisType,
		&entry.Language,
		&embedding,
		&findings,
		&entry.SimilarityThreshold,
		&entry.UsageCount,
		&entry.CacheHitCount,
		&createdAt,
		&lastUsedAt,
	}
	if withSimilarity {
		dest = append(dest, &similarity)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	entry.AnalysisType = review.AnalysisType(analysisType)
	if embedding != nil {
		entry.Embedding = embedding.Slice()
	}
	entry.CreatedAt = PgtypeToTime(createdAt)
	entry.LastUsedAt = PgtypeToTime(lastUsedAt)

	if err := json.Unmarshal(findings, &entry.Findings); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal findings: %w", err)
	}

	return &entry, similarity, nil
}

// インターフェース実装の確認
var _ cache.EntryRepository = (*CacheRepository)(nil)
