package review

import (
	"fmt"
	"time"
)

// AnalysisType は解析の種別を表す閉じた集合
type AnalysisType string

const (
	AnalysisTypeStyle       AnalysisType = "style"
	AnalysisTypeBug         AnalysisType = "bug"
	AnalysisTypeSecurity    AnalysisType = "security"
	AnalysisTypePerformance AnalysisType = "performance"
)

// AllAnalysisTypes は全解析種別を定義順で返す
func AllAnalysisTypes() []AnalysisType {
	return []AnalysisType{
		AnalysisTypeStyle,
		AnalysisTypeBug,
		AnalysisTypeSecurity,
		AnalysisTypePerformance,
	}
}

// ParseAnalysisType は文字列を AnalysisType に変換する
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch AnalysisType(s) {
	case AnalysisTypeStyle, AnalysisTypeBug, AnalysisTypeSecurity, AnalysisTypePerformance:
		return AnalysisType(s), nil
	}
	return "", fmt.Errorf("unknown analysis type: %q", s)
}

// Severity は指摘の深刻度
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank は深刻度の全順序（小さいほど深刻）
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Less は s が other より深刻な場合に true を返す
func (s Severity) Less(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// ParseSeverity は文字列を Severity に変換する。未知の値は fallback を返す
func ParseSeverity(s string, fallback Severity) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	}
	return fallback
}

// DefaultSeverity は解析種別ごとのデフォルト深刻度を返す。
// 上流の出力に深刻度が欠けていても未設定のままにはしない
func DefaultSeverity(t AnalysisType) Severity {
	if t == AnalysisTypeSecurity {
		return SeverityHigh
	}
	return SeverityMedium
}

// Finding はレビューで検出された1件の指摘
type Finding struct {
	Category      AnalysisType `json:"category"`
	Line          *int         `json:"line,omitempty"`
	Severity      Severity     `json:"severity"`
	Description   string       `json:"description"`
	Suggestion    *string      `json:"suggestion,omitempty"`
	BeforeSnippet *string      `json:"before_snippet,omitempty"`
	AfterSnippet  *string      `json:"after_snippet,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`
}

// ChangedFile はPRで変更されたファイル
type ChangedFile struct {
	Path     string
	Content  string
	Diff     string
	Language string
}

// AnalysisUnit は (ファイル × 解析種別) の最小作業単位。
// 生成後は不変で、1回の Coordinator 実行の中でのみ生存する
type AnalysisUnit struct {
	FilePath string
	Content  string
	Diff     string
	Language string
	Type     AnalysisType
}

// UnitResult は1ユニットの解析結果
type UnitResult struct {
	FilePath  string
	Type      AnalysisType
	Language  string
	Findings  []Finding
	Duration  time.Duration
	FromCache bool
	// SoftFailed はタイムアウト等でユニットが空結果に縮退したことを示す。
	// ジョブ全体は失敗にならず、キャッシュにも保存されない
	SoftFailed bool
}

// JobStatus はジョブの状態機械
// PENDING → PROCESSING → {COMPLETED, FAILED}（終端状態から先の遷移はない）
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal は終端状態かどうかを返す
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job は1件のPR解析リクエスト
type Job struct {
	ID             string
	Repository     string
	ChangeRef      string
	RequestedTypes []AnalysisType
	Status         JobStatus
	TotalUnits     int
	CompletedUnits int
	CurrentUnit    *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	Results        *JobResults
}

// JobUpdate は部分更新。nil のフィールドは書き込まれない。
// 進捗更新と終端更新が互いのフィールドを壊さないための契約
type JobUpdate struct {
	Status         *JobStatus
	TotalUnits     *int
	CompletedUnits *int
	CurrentUnit    *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	Results        *JobResults
}

// UnitReport は集約結果に含まれる1ユニット分のレポート
type UnitReport struct {
	FilePath  string        `json:"file_path"`
	Type      AnalysisType  `json:"type"`
	Language  string        `json:"language,omitempty"`
	FromCache bool          `json:"from_cache"`
	Duration  time.Duration `json:"duration_ns"`
	Findings  []Finding     `json:"findings"`
}

// ResultSummary はジョブ全体のサマリ
type ResultSummary struct {
	TotalUnits    int                  `json:"total_units"`
	TotalFindings int                  `json:"total_findings"`
	CacheHits     int                  `json:"cache_hits"`
	BySeverity    map[Severity]int     `json:"by_severity"`
	ByType        map[AnalysisType]int `json:"by_type"`
	ByFile        map[string]int       `json:"by_file"`
}

// JobResults はジョブの最終集約結果。
// Units は (ファイル, 種別) ごとにちょうど1件、ファイル→種別順で並ぶ
type JobResults struct {
	Units   []UnitReport  `json:"units"`
	Summary ResultSummary `json:"summary"`
}

// Progress は1ユニット完了ごとに報告される進捗
type Progress struct {
	ProcessedUnits int
	TotalUnits     int
	CurrentFile    string
}

// ProgressSink は進捗の通知先。Coordinator は ProcessedUnits が
// 厳密に単調増加する順序で呼び出すことを保証する
type ProgressSink func(Progress)

// StatusSnapshot は getStatus が返す一貫したスナップショット
type StatusSnapshot struct {
	JobID              string
	Status             JobStatus
	ProgressPercent    float64
	ProcessedUnits     int
	TotalUnits         int
	CurrentUnit        *string
	EstimatedRemaining string
	ErrorMessage       *string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}
