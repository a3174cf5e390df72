package review

import "errors"

var (
	// ErrSourceUnavailable は変更ファイルの解決に失敗した場合のエラー。
	// ユニット単位ではなくジョブ単位の失敗として扱い、JobRunner の
	// 外側のリトライポリシーのみが再試行する
	ErrSourceUnavailable = errors.New("change source unavailable")

	// ErrStoreUnavailable はジョブ状態の永続化に失敗した場合のエラー。
	// 進捗も結果も記録できないためジョブ単位の失敗となる
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrJobNotFound は指定されたジョブIDが存在しない場合のエラー
	ErrJobNotFound = errors.New("job not found")

	// ErrResultsNotReady はジョブが COMPLETED に達していない場合のエラー
	ErrResultsNotReady = errors.New("job results not ready")

	// ErrNoAnalyzer は要求された解析種別に対応する Analyzer が
	// 登録されていない場合のエラー
	ErrNoAnalyzer = errors.New("no analyzer registered for analysis type")
)
