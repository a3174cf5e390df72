package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

const (
	defaultSimilarityThreshold = 0.85
	defaultCandidateLimit      = 5
)

// SemanticCache は解析結果の意味的キャッシュ。
// 完全一致キーを最優先で参照し、ミスした場合のみ同一
// (解析種別, 言語) パーティション内の Embedding 近傍検索に
// フォールバックする
type SemanticCache struct {
	repo           EntryRepository
	logger         *slog.Logger
	threshold      float64
	candidateLimit int
}

var _ review.ResultCache = (*SemanticCache)(nil)

type cacheOptions struct {
	logger         *slog.Logger
	threshold      float64
	candidateLimit int
}

// CacheOption は SemanticCache のオプション設定
type CacheOption func(*cacheOptions)

// WithSimilarityThreshold は新規エントリに付与する類似度しきい値を設定する
func WithSimilarityThreshold(t float64) CacheOption {
	return func(o *cacheOptions) {
		if t > 0 && t <= 1 {
			o.threshold = t
		}
	}
}

// WithCandidateLimit は近傍検索の候補数を設定する
func WithCandidateLimit(n int) CacheOption {
	return func(o *cacheOptions) {
		if n > 0 {
			o.candidateLimit = n
		}
	}
}

// WithCacheLogger はロガーを設定する
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(o *cacheOptions) {
		o.logger = logger
	}
}

// NewSemanticCache は新しい SemanticCache を作成する
func NewSemanticCache(repo EntryRepository, opts ...CacheOption) *SemanticCache {
	options := cacheOptions{
		logger:         slog.Default(),
		threshold:      defaultSimilarityThreshold,
		candidateLimit: defaultCandidateLimit,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &SemanticCache{
		repo:           repo,
		logger:         options.logger,
		threshold:      options.threshold,
		candidateLimit: options.candidateLimit,
	}
}

// LookupFindings はキャッシュを参照する。ヒット時は使用記録まで行う。
// 完全一致 → 近傍検索の順で参照し、近傍ヒットは候補自身が持つ
// しきい値以上（境界値を含む）の類似度の場合のみ成立する。
// embedding が nil の場合は完全一致のみで判定する
func (c *SemanticCache) LookupFindings(ctx context.Context, exactKey string, embedding []float32, analysisType review.AnalysisType, language string) ([]review.Finding, bool, error) {
	entry, err := c.repo.GetByExactKey(ctx, exactKey, analysisType, language)
	if err == nil {
		c.recordHit(ctx, entry)
		return entry.Findings, true, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return nil, false, fmt.Errorf("failed to lookup cache entry: %w", err)
	}

	if embedding == nil {
		c.recordMiss(ctx)
		return nil, false, nil
	}

	candidates, err := c.repo.ListNearest(ctx, analysisType, language, embedding, c.candidateLimit)
	if err != nil {
		return nil, false, fmt.Errorf("failed to search nearest cache entries: %w", err)
	}

	// 候補は類似度降順（同値なら最近使用順）で返されるため先頭だけ見る
	if len(candidates) > 0 {
		best := candidates[0]
		if best.Similarity >= best.Entry.SimilarityThreshold {
			c.logger.Debug("近傍キャッシュヒット",
				"type", analysisType,
				"language", language,
				"similarity", best.Similarity,
				"threshold", best.Entry.SimilarityThreshold,
			)
			c.recordHit(ctx, best.Entry)
			return best.Entry.Findings, true, nil
		}
	}

	c.recordMiss(ctx)
	return nil, false, nil
}

// StoreFindings は解析結果をキャッシュに保存する。同一キーへの再保存は
// 冪等で、使用回数は1にリセットされヒット回数は維持される
func (c *SemanticCache) StoreFindings(ctx context.Context, exactKey string, embedding []float32, analysisType review.AnalysisType, language string, findings []review.Finding) error {
	now := time.Now()
	entry := &Entry{
		ExactKey:            exactKey,
		AnalysisType:        analysisType,
		Language:            language,
		Embedding:           embedding,
		Findings:            findings,
		SimilarityThreshold: c.threshold,
		UsageCount:          1,
		CreatedAt:           now,
		LastUsedAt:          now,
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Cleanup は最終使用日時が maxAge より古いエントリを削除して件数を返す
func (c *SemanticCache) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted, err := c.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup cache entries: %w", err)
	}

	c.logger.Info("キャッシュのクリーンアップが完了",
		"deleted", deleted,
		"cutoff", cutoff,
	)
	return deleted, nil
}

// Statistics は永続化されたカウンタから利用統計を組み立てる
func (c *SemanticCache) Statistics(ctx context.Context) (*Statistics, error) {
	counters, err := c.repo.Counters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache counters: %w", err)
	}

	stats := &Statistics{
		Entries:    counters.Entries,
		Hits:       counters.Hits,
		Misses:     counters.Misses,
		ByType:     counters.ByType,
		ByLanguage: counters.ByLanguage,
	}
	if total := counters.Hits + counters.Misses; total > 0 {
		stats.HitRate = float64(counters.Hits) / float64(total)
	}
	return stats, nil
}

// recordHit は使用記録を更新する。失敗してもルックアップ自体は成立させる
func (c *SemanticCache) recordHit(ctx context.Context, entry *Entry) {
	if err := c.repo.RecordHit(ctx, entry.ExactKey, entry.AnalysisType, entry.Language, time.Now()); err != nil {
		c.logger.Warn("ヒット記録の更新に失敗", "error", err)
	}
}

func (c *SemanticCache) recordMiss(ctx context.Context) {
	if err := c.repo.IncrementMisses(ctx); err != nil {
		c.logger.Warn("ミスカウンタの更新に失敗", "error", err)
	}
}
