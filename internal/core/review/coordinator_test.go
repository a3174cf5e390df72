package review

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	findings []Finding
	err      error
	calls    atomic.Int32
}

func (a *stubAnalyzer) Analyze(ctx context.Context, unit AnalysisUnit) ([]Finding, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.findings, nil
}

type stubResultCache struct {
	mu     sync.Mutex
	hits   map[string][]Finding
	stored map[string][]Finding
	err    error
}

func newStubResultCache() *stubResultCache {
	return &stubResultCache{
		hits:   make(map[string][]Finding),
		stored: make(map[string][]Finding),
	}
}

func (c *stubResultCache) LookupFindings(ctx context.Context, exactKey string, embedding []float32, analysisType AnalysisType, language string) ([]Finding, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	findings, ok := c.hits[exactKey]
	return findings, ok, nil
}

func (c *stubResultCache) StoreFindings(ctx context.Context, exactKey string, embedding []float32, analysisType AnalysisType, language string, findings []Finding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[exactKey] = findings
	return nil
}

func allStubAnalyzers(a Analyzer) map[AnalysisType]Analyzer {
	analyzers := make(map[AnalysisType]Analyzer)
	for _, t := range AllAnalysisTypes() {
		analyzers[t] = a
	}
	return analyzers
}

func testFiles() []*ChangedFile {
	return []*ChangedFile{
		{Path: "a.go", Content: "package a", Language: "Go"},
		{Path: "b.py", Content: "import os", Language: "Python"},
	}
}

func collectProgress() (ProgressSink, *[]Progress) {
	var progresses []Progress
	return func(p Progress) {
		progresses = append(progresses, p)
	}, &progresses
}

func TestCoordinator_FanOutAndAggregate(t *testing.T) {
	finding := Finding{Category: AnalysisTypeBug, Severity: SeverityHigh, Description: "issue"}
	analyzer := &stubAnalyzer{findings: []Finding{finding}}

	// 2ファイル × 4種別 = 8ユニットのうち3つをキャッシュヒットにする
	resultCache := newStubResultCache()
	files := testFiles()
	cachedUnits := []AnalysisUnit{
		{FilePath: "a.go", Content: files[0].Content, Language: "Go", Type: AnalysisTypeStyle},
		{FilePath: "a.go", Content: files[0].Content, Language: "Go", Type: AnalysisTypeBug},
		{FilePath: "b.py", Content: files[1].Content, Language: "Python", Type: AnalysisTypeSecurity},
	}
	cachedFinding := Finding{Category: AnalysisTypeStyle, Severity: SeverityLow, Description: "cached"}
	for _, u := range cachedUnits {
		resultCache.hits[ExactKey(u)] = []Finding{cachedFinding}
	}

	c := NewCoordinator(
		allStubAnalyzers(analyzer),
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithResultCache(resultCache),
		WithWorkerCount(3),
		WithCoordinatorLogger(discardLogger()),
	)

	sink, progresses := collectProgress()
	results, err := c.Run(context.Background(), files, AllAnalysisTypes(), sink)
	require.NoError(t, err)

	require.Len(t, results.Units, 8)
	assert.Equal(t, 8, results.Summary.TotalUnits)
	assert.Equal(t, 3, results.Summary.CacheHits)
	assert.Equal(t, 8, results.Summary.TotalFindings)
	assert.Equal(t, int32(5), analyzer.calls.Load())

	// 並行実行でも順序はファイル順 × 種別定義順で決定的
	expectedOrder := []struct {
		path string
		typ  AnalysisType
	}{
		{"a.go", AnalysisTypeStyle},
		{"a.go", AnalysisTypeBug},
		{"a.go", AnalysisTypeSecurity},
		{"a.go", AnalysisTypePerformance},
		{"b.py", AnalysisTypeStyle},
		{"b.py", AnalysisTypeBug},
		{"b.py", AnalysisTypeSecurity},
		{"b.py", AnalysisTypePerformance},
	}
	for i, expected := range expectedOrder {
		assert.Equal(t, expected.path, results.Units[i].FilePath)
		assert.Equal(t, expected.typ, results.Units[i].Type)
	}

	assert.True(t, results.Units[0].FromCache)
	assert.True(t, results.Units[1].FromCache)
	assert.True(t, results.Units[6].FromCache)
	assert.False(t, results.Units[2].FromCache)

	// キャッシュヒットしたユニットは再保存されない
	assert.Len(t, resultCache.stored, 5)

	// 進捗は厳密に単調増加し、必ず全ユニット数に到達する
	require.NotEmpty(t, *progresses)
	assert.Equal(t, Progress{ProcessedUnits: 0, TotalUnits: 8}, (*progresses)[0])
	for i := 1; i < len(*progresses); i++ {
		assert.Equal(t, i, (*progresses)[i].ProcessedUnits)
		assert.Equal(t, 8, (*progresses)[i].TotalUnits)
	}
	assert.Equal(t, 8, (*progresses)[len(*progresses)-1].ProcessedUnits)
}

func TestCoordinator_UnitFailureDoesNotFailRun(t *testing.T) {
	failing := &stubAnalyzer{err: errors.New("backend unavailable")}
	ok := &stubAnalyzer{findings: []Finding{{Category: AnalysisTypeStyle, Severity: SeverityLow, Description: "style"}}}

	analyzers := allStubAnalyzers(ok)
	analyzers[AnalysisTypeBug] = failing

	c := NewCoordinator(
		analyzers,
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithWorkerCount(2),
		WithCoordinatorLogger(discardLogger()),
	)

	results, err := c.Run(context.Background(), testFiles(), []AnalysisType{AnalysisTypeStyle, AnalysisTypeBug}, nil)
	require.NoError(t, err)
	require.Len(t, results.Units, 4)

	for _, unit := range results.Units {
		if unit.Type == AnalysisTypeBug {
			assert.Empty(t, unit.Findings)
		} else {
			assert.Len(t, unit.Findings, 1)
		}
	}
	assert.Equal(t, 2, results.Summary.TotalFindings)
}

func TestCoordinator_CancelledContextStillCountsAllUnits(t *testing.T) {
	analyzer := &stubAnalyzer{findings: []Finding{{Description: "x"}}}

	c := NewCoordinator(
		allStubAnalyzers(analyzer),
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithWorkerCount(2),
		WithCoordinatorLogger(discardLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink, progresses := collectProgress()
	results, err := c.Run(ctx, testFiles(), AllAnalysisTypes(), sink)
	require.NoError(t, err)

	require.Len(t, results.Units, 8)
	assert.Equal(t, int32(0), analyzer.calls.Load())
	for _, unit := range results.Units {
		assert.Empty(t, unit.Findings)
	}
	assert.Equal(t, 8, (*progresses)[len(*progresses)-1].ProcessedUnits)
}

func TestCoordinator_CacheErrorTreatedAsMiss(t *testing.T) {
	analyzer := &stubAnalyzer{findings: []Finding{{Description: "x", Severity: SeverityLow, Category: AnalysisTypeStyle}}}
	resultCache := newStubResultCache()
	resultCache.err = errors.New("cache down")

	c := NewCoordinator(
		allStubAnalyzers(analyzer),
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithResultCache(resultCache),
		WithCoordinatorLogger(discardLogger()),
	)

	results, err := c.Run(context.Background(), testFiles(), []AnalysisType{AnalysisTypeStyle}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, results.Summary.CacheHits)
	assert.Equal(t, int32(2), analyzer.calls.Load())
}

func TestCoordinator_UnknownAnalyzerType(t *testing.T) {
	c := NewCoordinator(
		map[AnalysisType]Analyzer{AnalysisTypeStyle: &stubAnalyzer{}},
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithCoordinatorLogger(discardLogger()),
	)

	_, err := c.Run(context.Background(), testFiles(), []AnalysisType{AnalysisTypeBug}, nil)
	require.ErrorIs(t, err, ErrNoAnalyzer)
}
