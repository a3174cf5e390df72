package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWorkerCount = 4
	defaultUnitTimeout = 2 * time.Minute
)

// Coordinator は変更ファイルを (ファイル × 解析種別) のユニットに展開し、
// ワーカープールで並行解析して1つの JobResults に集約する。
// ユニット単位の失敗は空結果への縮退にとどめ、ジョブ全体は止めない
type Coordinator struct {
	analyzers     map[AnalysisType]Analyzer
	fingerprinter *Fingerprinter
	cache         ResultCache
	logger        *slog.Logger
	workerCount   int
	unitTimeout   time.Duration
}

type coordinatorOptions struct {
	cache       ResultCache
	logger      *slog.Logger
	workerCount int
	unitTimeout time.Duration
}

// CoordinatorOption は Coordinator のオプション設定
type CoordinatorOption func(*coordinatorOptions)

// WithResultCache は解析結果キャッシュを設定する
func WithResultCache(cache ResultCache) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.cache = cache
	}
}

// WithWorkerCount は並行ワーカー数を設定する
func WithWorkerCount(n int) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

// WithUnitTimeout はユニット1件あたりのタイムアウトを設定する
func WithUnitTimeout(d time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if d > 0 {
			o.unitTimeout = d
		}
	}
}

// WithCoordinatorLogger はロガーを設定する
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// NewCoordinator は新しい Coordinator を作成する
func NewCoordinator(analyzers map[AnalysisType]Analyzer, fingerprinter *Fingerprinter, opts ...CoordinatorOption) *Coordinator {
	options := coordinatorOptions{
		logger:      slog.Default(),
		workerCount: defaultWorkerCount,
		unitTimeout: defaultUnitTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Coordinator{
		analyzers:     analyzers,
		fingerprinter: fingerprinter,
		cache:         options.cache,
		logger:        options.logger,
		workerCount:   options.workerCount,
		unitTimeout:   options.unitTimeout,
	}
}

// Run は変更ファイル群を解析して集約結果を返す。
// sink には ProcessedUnits が厳密に単調増加する順序で進捗が通知され、
// ctx がキャンセルされても残ユニットは縮退結果としてカウントされるため
// ProcessedUnits は必ず TotalUnits に到達する
func (c *Coordinator) Run(ctx context.Context, files []*ChangedFile, types []AnalysisType, sink ProgressSink) (*JobResults, error) {
	for _, t := range types {
		if _, ok := c.analyzers[t]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoAnalyzer, t)
		}
	}

	units := expandUnits(files, types)
	total := len(units)

	if sink != nil {
		sink(Progress{ProcessedUnits: 0, TotalUnits: total})
	}

	results := make([]UnitResult, total)
	unitCh := make(chan int)

	var (
		mu        sync.Mutex
		processed int
		wg        sync.WaitGroup
	)

	for range c.workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range unitCh {
				unit := units[idx]
				results[idx] = c.processUnit(ctx, unit)

				mu.Lock()
				processed++
				if sink != nil {
					sink(Progress{
						ProcessedUnits: processed,
						TotalUnits:     total,
						CurrentFile:    unit.FilePath,
					})
				}
				mu.Unlock()
			}
		}()
	}

	// キャンセル済みでも全ユニットを投入する。ワーカー側が即座に
	// 縮退結果を返すので、カウンタの整合性が保たれる
	for idx := range units {
		unitCh <- idx
	}
	close(unitCh)
	wg.Wait()

	return aggregate(results), nil
}

// processUnit は1ユニットを解析する。キャッシュヒットなら再解析せず、
// 解析の失敗やタイムアウトは SoftFailed の空結果に縮退する
func (c *Coordinator) processUnit(ctx context.Context, unit AnalysisUnit) UnitResult {
	start := time.Now()
	result := UnitResult{
		FilePath: unit.FilePath,
		Type:     unit.Type,
		Language: unit.Language,
	}

	if ctx.Err() != nil {
		result.SoftFailed = true
		result.Duration = time.Since(start)
		return result
	}

	fp := c.fingerprinter.Fingerprint(ctx, unit)

	if c.cache != nil {
		findings, hit, err := c.cache.LookupFindings(ctx, fp.ExactKey, fp.Embedding, unit.Type, unit.Language)
		if err != nil {
			c.logger.Warn("キャッシュ参照に失敗、ミスとして継続",
				"path", unit.FilePath,
				"type", unit.Type,
				"error", err,
			)
		} else if hit {
			result.Findings = findings
			result.FromCache = true
			result.Duration = time.Since(start)
			return result
		}
	}

	unitCtx, cancel := context.WithTimeout(ctx, c.unitTimeout)
	defer cancel()

	findings, err := c.analyzers[unit.Type].Analyze(unitCtx, unit)
	if err != nil {
		c.logger.Warn("ユニット解析に失敗、空結果に縮退",
			"path", unit.FilePath,
			"type", unit.Type,
			"error", err,
		)
		result.SoftFailed = true
		result.Duration = time.Since(start)
		return result
	}

	result.Findings = findings
	result.Duration = time.Since(start)

	if c.cache != nil {
		if err := c.cache.StoreFindings(ctx, fp.ExactKey, fp.Embedding, unit.Type, unit.Language, findings); err != nil {
			c.logger.Warn("キャッシュ保存に失敗",
				"path", unit.FilePath,
				"type", unit.Type,
				"error", err,
			)
		}
	}

	return result
}

// expandUnits は変更ファイルと解析種別の直積をユニット列に展開する。
// 順序はファイル順 × 種別の定義順で決定的
func expandUnits(files []*ChangedFile, types []AnalysisType) []AnalysisUnit {
	requested := make(map[AnalysisType]bool, len(types))
	for _, t := range types {
		requested[t] = true
	}

	ordered := make([]AnalysisType, 0, len(types))
	for _, t := range AllAnalysisTypes() {
		if requested[t] {
			ordered = append(ordered, t)
		}
	}

	units := make([]AnalysisUnit, 0, len(files)*len(ordered))
	for _, f := range files {
		for _, t := range ordered {
			units = append(units, AnalysisUnit{
				FilePath: f.Path,
				Content:  f.Content,
				Diff:     f.Diff,
				Language: f.Language,
				Type:     t,
			})
		}
	}
	return units
}

// aggregate は全ユニット結果を1つの JobResults にまとめる
func aggregate(results []UnitResult) *JobResults {
	summary := ResultSummary{
		TotalUnits: len(results),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[AnalysisType]int),
		ByFile:     make(map[string]int),
	}

	units := make([]UnitReport, 0, len(results))
	for _, r := range results {
		findings := r.Findings
		if findings == nil {
			findings = []Finding{}
		}

		units = append(units, UnitReport{
			FilePath:  r.FilePath,
			Type:      r.Type,
			Language:  r.Language,
			FromCache: r.FromCache,
			Duration:  r.Duration,
			Findings:  findings,
		})

		if r.FromCache {
			summary.CacheHits++
		}
		summary.TotalFindings += len(findings)
		for _, f := range findings {
			summary.BySeverity[f.Severity]++
			summary.ByType[f.Category]++
			summary.ByFile[r.FilePath]++
		}
	}

	return &JobResults{Units: units, Summary: summary}
}
