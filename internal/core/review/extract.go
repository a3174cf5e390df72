package review

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// HeuristicConfidence はヒューリスティック抽出による指摘の固定信頼度。
// 構造化抽出より常に低い値とする
const HeuristicConfidence = 0.8

// llmIssue はバックエンドが返す構造化レスポンスの1要素
type llmIssue struct {
	Type            string   `json:"type"`
	Line            *int     `json:"line"`
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	Suggestion      *string  `json:"suggestion"`
	CodeSnippet     *string  `json:"code_snippet"`
	FixedCode       *string  `json:"fixed_code"`
	ConfidenceScore *float64 `json:"confidence_score"`
}

// llmResponse は構造化レスポンス全体
type llmResponse struct {
	Issues []llmIssue `json:"issues"`
}

// fallbackRule はヒューリスティック抽出の宣言的ルール。
// 行番号をキャプチャグループ1で拾えるパターンを前提とする
type fallbackRule struct {
	pattern     *regexp.Regexp
	severity    Severity
	description string
}

var fallbackRules = map[AnalysisType][]fallbackRule{
	AnalysisTypeStyle: {
		{regexp.MustCompile(`(?i)line (\d+).*(?:naming|variable name)`), SeverityLow, "Naming convention issue"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:indent|whitespace|formatting)`), SeverityLow, "Formatting issue"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:too long|line length)`), SeverityLow, "Line length exceeds limit"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:unused import|unused variable)`), SeverityMedium, "Unused code"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:missing doc|docstring|comment)`), SeverityLow, "Missing documentation"},
	},
	AnalysisTypeBug: {
		{regexp.MustCompile(`(?i)line (\d+).*(?:null|nil).*(?:pointer|dereference|reference)`), SeverityHigh, "Possible nil dereference"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:off.by.one|index out of|bounds)`), SeverityHigh, "Index out of bounds risk"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:race condition|data race)`), SeverityHigh, "Possible data race"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:unhandled|ignored) error`), SeverityMedium, "Unhandled error"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:infinite loop|deadlock)`), SeverityHigh, "Possible hang"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:resource leak|not closed|leak)`), SeverityMedium, "Resource leak"},
	},
	AnalysisTypeSecurity: {
		{regexp.MustCompile(`(?i)line (\d+).*sql.*injection`), SeverityCritical, "SQL injection vulnerability"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:xss|cross.site.script)`), SeverityHigh, "Cross-site scripting risk"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:hardcoded.*(?:secret|credential|password)|api.key)`), SeverityCritical, "Hardcoded credentials"},
		{regexp.MustCompile(`(?i)line (\d+).*command.*injection`), SeverityCritical, "Command injection vulnerability"},
		{regexp.MustCompile(`(?i)line (\d+).*path.*traversal`), SeverityHigh, "Path traversal vulnerability"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:insecure|weak).*crypt`), SeverityHigh, "Weak cryptographic implementation"},
		{regexp.MustCompile(`(?i)line (\d+).*unsafe.*deserializ`), SeverityHigh, "Unsafe deserialization"},
		{regexp.MustCompile(`(?i)line (\d+).*auth.*bypass`), SeverityCritical, "Authentication bypass"},
		{regexp.MustCompile(`(?i)line (\d+).*information.*disclosure`), SeverityMedium, "Information disclosure"},
	},
	AnalysisTypePerformance: {
		{regexp.MustCompile(`(?i)line (\d+).*n\+1`), SeverityHigh, "N+1 query pattern"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:nested loop|quadratic|o\(n.2\))`), SeverityMedium, "Inefficient nested iteration"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:unnecessary alloc|excessive alloc|memory churn)`), SeverityMedium, "Excessive allocation"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:blocking|synchronous).*(?:io|call|network)`), SeverityMedium, "Blocking call on hot path"},
		{regexp.MustCompile(`(?i)line (\d+).*(?:missing index|full table scan)`), SeverityHigh, "Unindexed query"},
	},
}

// ExtractFindings はバックエンドの生テキストから指摘を抽出する。
// まずスキーマ検証付きの構造化抽出を試み、失敗した場合は種別ごとの
// パターンルールによるヒューリスティック抽出にフォールバックする。
// どちらも失敗した場合は空の findings を返し、エラーにはしない
func ExtractFindings(analysisType AnalysisType, response string) []Finding {
	if findings, ok := extractStructured(analysisType, response); ok {
		return findings
	}
	return extractHeuristic(analysisType, response)
}

// extractStructured はレスポンス中のJSONオブジェクトを抽出・検証する
func extractStructured(analysisType AnalysisType, response string) ([]Finding, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		return nil, false
	}

	findings := make([]Finding, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		if issue.Description == "" {
			continue
		}

		line := issue.Line
		if line != nil && *line < 1 {
			line = nil
		}

		confidence := issue.ConfidenceScore
		if confidence != nil && (*confidence < 0 || *confidence > 1) {
			confidence = nil
		}

		findings = append(findings, Finding{
			Category:      analysisType,
			Line:          line,
			Severity:      ParseSeverity(issue.Severity, DefaultSeverity(analysisType)),
			Description:   issue.Description,
			Suggestion:    issue.Suggestion,
			BeforeSnippet: issue.CodeSnippet,
			AfterSnippet:  issue.FixedCode,
			Confidence:    confidence,
		})
	}

	return findings, true
}

// extractHeuristic は非構造化テキストに対するフォールバック抽出
func extractHeuristic(analysisType AnalysisType, response string) []Finding {
	var findings []Finding

	confidence := HeuristicConfidence
	for _, rule := range fallbackRules[analysisType] {
		for _, match := range rule.pattern.FindAllStringSubmatch(response, -1) {
			var line *int
			if len(match) > 1 {
				if n, err := strconv.Atoi(match[1]); err == nil && n >= 1 {
					line = &n
				}
			}
			findings = append(findings, Finding{
				Category:    analysisType,
				Line:        line,
				Severity:    rule.severity,
				Description: rule.description + " (auto-detected)",
				Confidence:  &confidence,
			})
		}
	}

	return findings
}
