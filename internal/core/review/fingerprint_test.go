package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	embedding []float32
	err       error
	calls     int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.embedding, nil
}

func (e *stubEmbedder) Dimension() int {
	return len(e.embedding)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{AddSource: false}))
}

func TestExactKey_NormalizesWhitespace(t *testing.T) {
	base := AnalysisUnit{
		FilePath: "main.go",
		Content:  "func main() {\n\tfmt.Println(1)\n}\n",
		Language: "Go",
		Type:     AnalysisTypeBug,
	}

	crlf := base
	crlf.Content = "func main() {\r\n\tfmt.Println(1)\r\n}\r\n"

	trailing := base
	trailing.Content = "func main() {  \n\tfmt.Println(1)\t\n}\n"

	assert.Equal(t, ExactKey(base), ExactKey(crlf))
	assert.Equal(t, ExactKey(base), ExactKey(trailing))
}

func TestExactKey_DistinguishesTypeAndLanguage(t *testing.T) {
	unit := AnalysisUnit{Content: "x = 1", Language: "Python", Type: AnalysisTypeStyle}

	other := unit
	other.Type = AnalysisTypeBug
	assert.NotEqual(t, ExactKey(unit), ExactKey(other))

	other = unit
	other.Language = "Ruby"
	assert.NotEqual(t, ExactKey(unit), ExactKey(other))

	// 言語名の大文字小文字は区別しない
	other = unit
	other.Language = "python"
	assert.Equal(t, ExactKey(unit), ExactKey(other))
}

func TestFingerprinter_EmbedsContent(t *testing.T) {
	embedder := &stubEmbedder{embedding: []float32{0.1, 0.2}}
	f := NewFingerprinter(embedder, WithFingerprinterLogger(discardLogger()))

	unit := AnalysisUnit{Content: "code", Language: "Go", Type: AnalysisTypeBug}
	fp := f.Fingerprint(context.Background(), unit)

	require.Equal(t, []float32{0.1, 0.2}, fp.Embedding)
	assert.Equal(t, ExactKey(unit), fp.ExactKey)
	assert.False(t, f.Degraded())
}

func TestFingerprinter_DegradesOnEmbedderFailure(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("quota exceeded")}
	f := NewFingerprinter(embedder, WithFingerprinterLogger(discardLogger()))

	unit := AnalysisUnit{Content: "code", Language: "Go", Type: AnalysisTypeBug}
	fp := f.Fingerprint(context.Background(), unit)

	assert.Nil(t, fp.Embedding)
	assert.NotEmpty(t, fp.ExactKey)
	assert.True(t, f.Degraded())

	// 復旧したら劣化モードを抜ける
	embedder.err = nil
	embedder.embedding = []float32{1}
	fp = f.Fingerprint(context.Background(), unit)
	assert.NotNil(t, fp.Embedding)
	assert.False(t, f.Degraded())
}

func TestFingerprinter_NilEmbedderIsExactOnly(t *testing.T) {
	f := NewFingerprinter(nil, WithFingerprinterLogger(discardLogger()))

	fp := f.Fingerprint(context.Background(), AnalysisUnit{Content: "code"})
	assert.Nil(t, fp.Embedding)
	assert.True(t, f.Degraded())
}
