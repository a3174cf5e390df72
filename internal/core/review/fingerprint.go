package review

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Embedder はテキストの Embedding 生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Fingerprint はユニットの同一性を表す。ExactKey は正規化した内容の
// 決定的ハッシュ、Embedding は意味的な近傍検索用ベクトル。
// Embedding が nil の場合は劣化モード（完全一致のみ）を意味する
type Fingerprint struct {
	ExactKey  string
	Embedding []float32
}

// Fingerprinter はユニットから Fingerprint を導出する
type Fingerprinter struct {
	embedder Embedder
	logger   *slog.Logger
	degraded atomic.Bool
}

type fingerprinterOptions struct {
	logger *slog.Logger
}

// FingerprinterOption は Fingerprinter のオプション設定
type FingerprinterOption func(*fingerprinterOptions)

// WithFingerprinterLogger はロガーを設定する
func WithFingerprinterLogger(logger *slog.Logger) FingerprinterOption {
	return func(o *fingerprinterOptions) {
		o.logger = logger
	}
}

// NewFingerprinter は新しい Fingerprinter を作成する。
// embedder が nil の場合は最初から劣化モードで動作する
func NewFingerprinter(embedder Embedder, opts ...FingerprinterOption) *Fingerprinter {
	options := fingerprinterOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	f := &Fingerprinter{
		embedder: embedder,
		logger:   options.logger,
	}
	if embedder == nil {
		f.degraded.Store(true)
	}
	return f
}

// Fingerprint はユニットの ExactKey と Embedding を導出する。
// Embedding 生成に失敗してもパイプラインは止めず、劣化モードとして
// Embedding なしの Fingerprint を返す
func (f *Fingerprinter) Fingerprint(ctx context.Context, unit AnalysisUnit) Fingerprint {
	fp := Fingerprint{ExactKey: ExactKey(unit)}

	if f.embedder == nil {
		return fp
	}

	embedding, err := f.embedder.Embed(ctx, normalizeContent(unit.Content))
	if err != nil {
		if !f.degraded.Swap(true) {
			f.logger.Warn("Embedding生成に失敗、完全一致のみの劣化モードに切替",
				"path", unit.FilePath,
				"error", err,
			)
		}
		return fp
	}

	f.degraded.Store(false)
	fp.Embedding = embedding
	return fp
}

// Degraded は直近の生成が劣化モードだったかどうかを返す
func (f *Fingerprinter) Degraded() bool {
	return f.degraded.Load()
}

// ExactKey は正規化した内容 + 解析種別 + 言語の決定的ハッシュを返す。
// 内容と種別が同一のユニットは常に同じキーを生成する
func ExactKey(unit AnalysisUnit) string {
	h := sha256.New()
	h.Write([]byte(normalizeContent(unit.Content)))
	h.Write([]byte{0})
	h.Write([]byte(unit.Type))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(unit.Language)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// normalizeContent は改行コードと行末空白を正規化する。
// リビジョン間で再フォーマットされただけのファイルを同一視するため
func normalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
