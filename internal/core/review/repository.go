package review

import (
	"context"
	"time"
)

// JobRepository はジョブ状態の永続化インターフェース。
// Update は JobUpdate の非 nil フィールドだけを書き込む部分更新で、
// 同一ジョブに対する更新は呼び出し側から見て直列化される
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) error
	Stats(ctx context.Context) (*JobStats, error)
}

// JobStats は管理用のジョブ統計
type JobStats struct {
	CountsByStatus    map[JobStatus]int
	TotalJobs         int
	AvgProcessingTime time.Duration
}

// ChangeSource はPRの変更ファイル一覧を解決する外部コラボレータ。
// 失敗は ErrSourceUnavailable でラップされ、ジョブ単位の失敗となる
type ChangeSource interface {
	ResolveChangedFiles(ctx context.Context, repository, changeRef string) ([]*ChangedFile, error)
}

// ResultCache は解析結果の意味的キャッシュ。
// LookupFindings はヒット時に findings と true を返し、ヒットの記録
// （使用回数の更新）まで行う。エラーはミス扱いに縮退してよい
type ResultCache interface {
	LookupFindings(ctx context.Context, exactKey string, embedding []float32, analysisType AnalysisType, language string) ([]Finding, bool, error)
	StoreFindings(ctx context.Context, exactKey string, embedding []float32, analysisType AnalysisType, language string, findings []Finding) error
}

// TaskQueue はジョブ実行を非同期に積む有界ワーカープールの抽象。
// キュー基盤そのもの（外部ブローカー等）はコアの関心外
type TaskQueue interface {
	Enqueue(name string, fn func(ctx context.Context)) error
}
