package cache

import (
	"errors"
	"time"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// ErrEntryNotFound は該当するキャッシュエントリが存在しない場合のエラー
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry は解析結果のキャッシュエントリ。
// (ExactKey, AnalysisType, Language) で一意に識別される
type Entry struct {
	ExactKey            string
	AnalysisType        review.AnalysisType
	Language            string
	Embedding           []float32
	Findings            []review.Finding
	SimilarityThreshold float64
	UsageCount          int
	CacheHitCount       int
	CreatedAt           time.Time
	LastUsedAt          time.Time
}

// Candidate は近傍検索の候補。Similarity はコサイン類似度
type Candidate struct {
	Entry      *Entry
	Similarity float64
}

// Counters は永続化されたルックアップカウンタ。
// ヒット率は再起動を跨いでもここから復元できる
type Counters struct {
	Entries    int
	Hits       int
	Misses     int
	ByType     map[review.AnalysisType]int
	ByLanguage map[string]int
}

// Statistics はキャッシュの利用統計
type Statistics struct {
	Entries    int                         `json:"entries"`
	Hits       int                         `json:"hits"`
	Misses     int                         `json:"misses"`
	HitRate    float64                     `json:"hit_rate"`
	ByType     map[review.AnalysisType]int `json:"by_type"`
	ByLanguage map[string]int              `json:"by_language"`
}
