package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultJobTimeout   = 30 * time.Minute
	defaultSoftTimeout  = 25 * time.Minute
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 60 * time.Second
)

// JobRunner はジョブ1件の実行ライフサイクルを担う。
// PENDING → PROCESSING の遷移、リトライ、タイムアウト、終端状態への
// 確定までを行い、解析そのものは Coordinator に委譲する
type JobRunner struct {
	repo         JobRepository
	source       ChangeSource
	coordinator  *Coordinator
	logger       *slog.Logger
	jobTimeout   time.Duration
	softTimeout  time.Duration
	maxAttempts  int
	retryBackoff time.Duration
}

type runnerOptions struct {
	logger       *slog.Logger
	jobTimeout   time.Duration
	softTimeout  time.Duration
	maxAttempts  int
	retryBackoff time.Duration
}

// RunnerOption は JobRunner のオプション設定
type RunnerOption func(*runnerOptions)

// WithJobTimeout はジョブ全体のハードタイムアウトを設定する
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithSoftTimeout は1試行あたりのソフトタイムアウトを設定する
func WithSoftTimeout(d time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		if d > 0 {
			o.softTimeout = d
		}
	}
}

// WithMaxAttempts は最大試行回数を設定する
func WithMaxAttempts(n int) RunnerOption {
	return func(o *runnerOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryBackoff は試行間の待機時間を設定する
func WithRetryBackoff(d time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		if d >= 0 {
			o.retryBackoff = d
		}
	}
}

// WithRunnerLogger はロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(o *runnerOptions) {
		o.logger = logger
	}
}

// NewJobRunner は新しい JobRunner を作成する
func NewJobRunner(repo JobRepository, source ChangeSource, coordinator *Coordinator, opts ...RunnerOption) *JobRunner {
	options := runnerOptions{
		logger:       slog.Default(),
		jobTimeout:   defaultJobTimeout,
		softTimeout:  defaultSoftTimeout,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &JobRunner{
		repo:         repo,
		source:       source,
		coordinator:  coordinator,
		logger:       options.logger,
		jobTimeout:   options.jobTimeout,
		softTimeout:  options.softTimeout,
		maxAttempts:  options.maxAttempts,
		retryBackoff: options.retryBackoff,
	}
}

// Run はジョブを実行して終端状態まで遷移させる。
// 試行は最大 maxAttempts 回、試行間は retryBackoff だけ待機する。
// 全試行が失敗した場合は FAILED を記録してエラーを返す
func (r *JobRunner) Run(ctx context.Context, job *Job) error {
	hardCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	now := time.Now()
	processing := JobStatusProcessing
	if err := r.repo.Update(hardCtx, job.ID, JobUpdate{
		Status:    &processing,
		StartedAt: &now,
	}); err != nil {
		markErr := fmt.Errorf("failed to mark job as processing: %w", err)
		r.finalize(ctx, job.ID, markErr)
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, markErr)
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = r.attempt(hardCtx, job)
		if lastErr == nil {
			r.logger.Info("ジョブが完了",
				"job_id", job.ID,
				"attempt", attempt,
			)
			return nil
		}

		r.logger.Warn("ジョブ試行が失敗",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", lastErr,
		)

		if hardCtx.Err() != nil || attempt == r.maxAttempts {
			break
		}

		select {
		case <-time.After(r.retryBackoff):
		case <-hardCtx.Done():
			lastErr = fmt.Errorf("job timed out: %w", hardCtx.Err())
		}
	}

	r.finalize(ctx, job.ID, lastErr)
	return fmt.Errorf("job %s failed after %d attempts: %w", job.ID, r.maxAttempts, lastErr)
}

// attempt は1回の試行。変更ファイルの解決から COMPLETED の記録までを行う
func (r *JobRunner) attempt(hardCtx context.Context, job *Job) error {
	softCtx, cancel := context.WithTimeout(hardCtx, r.softTimeout)
	defer cancel()

	files, err := r.source.ResolveChangedFiles(softCtx, job.Repository, job.ChangeRef)
	if err != nil {
		return fmt.Errorf("failed to resolve changed files: %w", err)
	}

	// 進捗の記録は softCtx ではなく hardCtx で行う。ソフトタイムアウト
	// 後の縮退ユニット分の進捗も記録されるようにするため
	var storeFailed atomic.Bool
	sink := func(p Progress) {
		update := JobUpdate{
			TotalUnits:     &p.TotalUnits,
			CompletedUnits: &p.ProcessedUnits,
		}
		if p.CurrentFile != "" {
			update.CurrentUnit = &p.CurrentFile
		}
		if err := r.repo.Update(hardCtx, job.ID, update); err != nil {
			if !storeFailed.Swap(true) {
				r.logger.Error("進捗の記録に失敗", "job_id", job.ID, "error", err)
			}
		}
	}

	results, err := r.coordinator.Run(softCtx, files, job.RequestedTypes, sink)
	if err != nil {
		return fmt.Errorf("failed to run analysis: %w", err)
	}
	if storeFailed.Load() {
		return fmt.Errorf("%w: failed to persist job progress", ErrStoreUnavailable)
	}

	now := time.Now()
	completed := JobStatusCompleted
	if err := r.repo.Update(hardCtx, job.ID, JobUpdate{
		Status:      &completed,
		CompletedAt: &now,
		Results:     results,
	}); err != nil {
		return fmt.Errorf("%w: failed to persist job results: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// finalize はジョブを FAILED として記録する。タイムアウト後でも記録
// できるよう、元の ctx のキャンセルとは切り離して実行する
func (r *JobRunner) finalize(ctx context.Context, jobID string, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := time.Now()
	failed := JobStatusFailed
	msg := cause.Error()
	if err := r.repo.Update(writeCtx, jobID, JobUpdate{
		Status:       &failed,
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}); err != nil {
		r.logger.Error("失敗状態の記録に失敗", "job_id", jobID, "error", err)
	}
}
