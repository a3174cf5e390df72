package cache

import (
	"context"
	"time"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// EntryRepository はキャッシュエントリの永続化インターフェース。
// ListNearest は (analysisType, language) のパーティション内で
// embedding に近い順（類似度降順、同値なら last_used_at 降順）に
// 最大 limit 件の候補を返す
type EntryRepository interface {
	GetByExactKey(ctx context.Context, exactKey string, analysisType review.AnalysisType, language string) (*Entry, error)
	ListNearest(ctx context.Context, analysisType review.AnalysisType, language string, embedding []float32, limit int) ([]*Candidate, error)

	// Upsert は同一キーの既存エントリを上書きする。usage_count は
	// 新しい値で置き換え、cache_hit_count は既存の値を引き継ぐ
	Upsert(ctx context.Context, entry *Entry) error

	// RecordHit は usage_count と cache_hit_count を加算し、
	// last_used_at を now に更新する
	RecordHit(ctx context.Context, exactKey string, analysisType review.AnalysisType, language string, now time.Time) error

	IncrementMisses(ctx context.Context) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Counters(ctx context.Context) (*Counters, error)
}
