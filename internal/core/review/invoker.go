package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// CompletionRequest はバックエンドへの1回の解析要求
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int
}

// CompletionResponse はバックエンドの応答
type CompletionResponse struct {
	Text       string
	TokensUsed int
}

// LLMClient は解析バックエンドのインターフェース
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Analyzer は1ユニットを解析して指摘を返す
type Analyzer interface {
	Analyze(ctx context.Context, unit AnalysisUnit) ([]Finding, error)
}

// analyzerPrompt は解析種別ごとのプロンプト定義
type analyzerPrompt struct {
	system string
	focus  string
}

var analyzerPrompts = map[AnalysisType]analyzerPrompt{
	AnalysisTypeStyle: {
		system: "You are a code style reviewer. Review the changed code for naming, formatting, readability, dead code and missing documentation.",
		focus:  "style issues",
	},
	AnalysisTypeBug: {
		system: "You are a bug-hunting reviewer. Review the changed code for logic errors, nil dereferences, off-by-one errors, unhandled errors, races and resource leaks.",
		focus:  "potential bugs",
	},
	AnalysisTypeSecurity: {
		system: "You are a security reviewer. Review the changed code for injection, hardcoded credentials, path traversal, weak cryptography, unsafe deserialization and authentication flaws.",
		focus:  "security vulnerabilities",
	},
	AnalysisTypePerformance: {
		system: "You are a performance reviewer. Review the changed code for N+1 queries, inefficient loops, excessive allocation and blocking calls on hot paths.",
		focus:  "performance problems",
	},
}

const responseFormatInstruction = `Respond with a JSON object of the form:
{"issues": [{"type": "...", "line": 12, "severity": "critical|high|medium|low", "description": "...", "suggestion": "...", "code_snippet": "...", "fixed_code": "...", "confidence_score": 0.9}]}
Return {"issues": []} when there is nothing to report.`

const tokenEncoding = "cl100k_base"

// LLMAnalyzer は LLMClient 経由で解析を行う Analyzer 実装。
// 入力はトークン予算まで切り詰め、応答は2段階抽出で指摘に変換する
type LLMAnalyzer struct {
	client           LLMClient
	analysisType     AnalysisType
	prompt           analyzerPrompt
	encoder          *tiktoken.Tiktoken
	maxContentTokens int
	maxOutputTokens  int
	logger           *slog.Logger
}

var _ Analyzer = (*LLMAnalyzer)(nil)

type analyzerOptions struct {
	maxContentTokens int
	maxOutputTokens  int
	logger           *slog.Logger
}

// AnalyzerOption は Analyzer のオプション設定
type AnalyzerOption func(*analyzerOptions)

// WithMaxContentTokens は入力コンテンツのトークン予算を設定する
func WithMaxContentTokens(n int) AnalyzerOption {
	return func(o *analyzerOptions) {
		o.maxContentTokens = n
	}
}

// WithMaxOutputTokens は応答の最大トークン数を設定する
func WithMaxOutputTokens(n int) AnalyzerOption {
	return func(o *analyzerOptions) {
		o.maxOutputTokens = n
	}
}

// WithAnalyzerLogger はロガーを設定する
func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(o *analyzerOptions) {
		o.logger = logger
	}
}

// NewAnalyzerSet は全解析種別の Analyzer を作成する
func NewAnalyzerSet(client LLMClient, opts ...AnalyzerOption) (map[AnalysisType]Analyzer, error) {
	options := analyzerOptions{
		maxContentTokens: 6000,
		maxOutputTokens:  2000,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// トークナイザが使えなくても解析自体は止めない
		options.logger.Warn("トークナイザの初期化に失敗、文字数ベースの切り詰めで継続", "error", err)
		encoder = nil
	}

	analyzers := make(map[AnalysisType]Analyzer, len(AllAnalysisTypes()))
	for _, t := range AllAnalysisTypes() {
		analyzers[t] = &LLMAnalyzer{
			client:           client,
			analysisType:     t,
			prompt:           analyzerPrompts[t],
			encoder:          encoder,
			maxContentTokens: options.maxContentTokens,
			maxOutputTokens:  options.maxOutputTokens,
			logger:           options.logger,
		}
	}
	return analyzers, nil
}

// Analyze はユニットをバックエンドに投げて指摘を抽出する
func (a *LLMAnalyzer) Analyze(ctx context.Context, unit AnalysisUnit) ([]Finding, error) {
	start := time.Now()

	resp, err := a.client.Complete(ctx, CompletionRequest{
		System:    a.prompt.system + "\n\n" + responseFormatInstruction,
		User:      a.buildUserPrompt(unit),
		MaxTokens: a.maxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete %s analysis for %s: %w", a.analysisType, unit.FilePath, err)
	}

	findings := ExtractFindings(a.analysisType, resp.Text)

	a.logger.Debug("ユニット解析が完了",
		"path", unit.FilePath,
		"type", a.analysisType,
		"findings", len(findings),
		"tokens", resp.TokensUsed,
		"duration", time.Since(start),
	)
	return findings, nil
}

func (a *LLMAnalyzer) buildUserPrompt(unit AnalysisUnit) string {
	content := a.truncate(unit.Content)
	diff := a.truncate(unit.Diff)

	return fmt.Sprintf("Review the following %s file for %s.\n\nFile: %s\n\nDiff:\n%s\n\nFull content:\n%s",
		unit.Language, a.prompt.focus, unit.FilePath, diff, content)
}

// truncate はテキストをトークン予算以内に切り詰める。
// トークナイザが使えない場合は1トークン≒4文字の概算で代替する
func (a *LLMAnalyzer) truncate(text string) string {
	if a.encoder == nil {
		runes := []rune(text)
		limit := a.maxContentTokens * 4
		if len(runes) <= limit {
			return text
		}
		return string(runes[:limit])
	}

	tokens := a.encoder.Encode(text, nil, nil)
	if len(tokens) <= a.maxContentTokens {
		return text
	}
	return a.encoder.Decode(tokens[:a.maxContentTokens])
}
