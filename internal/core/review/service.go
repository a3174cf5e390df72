package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SubmitRequest はジョブ投入リクエスト。
// Types が空の場合は全解析種別が対象となる
type SubmitRequest struct {
	Repository string
	ChangeRef  string
	Types      []AnalysisType
}

// Service はPRレビュー解析のユースケースを提供する
type Service struct {
	repo   JobRepository
	runner *JobRunner
	queue  TaskQueue
	logger *slog.Logger
}

type serviceOptions struct {
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithServiceLogger はロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(repo JobRepository, runner *JobRunner, queue TaskQueue, opts ...ServiceOption) *Service {
	options := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	return &Service{
		repo:   repo,
		runner: runner,
		queue:  queue,
		logger: options.logger,
	}
}

// Submit は新しいジョブを PENDING で作成し、実行をキューに積む。
// 返却時点でジョブIDは確定しているが、実行はまだ始まっていない
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if req.ChangeRef == "" {
		return nil, fmt.Errorf("change ref is required")
	}

	types := req.Types
	if len(types) == 0 {
		types = AllAnalysisTypes()
	}
	seen := make(map[AnalysisType]bool, len(types))
	deduped := make([]AnalysisType, 0, len(types))
	for _, t := range types {
		if _, err := ParseAnalysisType(string(t)); err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			deduped = append(deduped, t)
		}
	}

	job := &Job{
		ID:             uuid.New().String(),
		Repository:     req.Repository,
		ChangeRef:      req.ChangeRef,
		RequestedTypes: deduped,
		Status:         JobStatusPending,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Enqueue(fmt.Sprintf("analyze-%s", job.ID), func(runCtx context.Context) {
		if err := s.runner.Run(runCtx, job); err != nil {
			s.logger.Error("ジョブ実行が失敗", "job_id", job.ID, "error", err)
		}
	}); err != nil {
		s.markFailed(ctx, job.ID, fmt.Sprintf("failed to enqueue job: %v", err))
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("ジョブを受け付け",
		"job_id", job.ID,
		"repository", job.Repository,
		"change_ref", job.ChangeRef,
		"types", len(deduped),
	)
	return job, nil
}

// GetStatus はジョブの進捗スナップショットを返す
func (s *Service) GetStatus(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &StatusSnapshot{
		JobID:              job.ID,
		Status:             job.Status,
		ProgressPercent:    progressPercent(job),
		ProcessedUnits:     job.CompletedUnits,
		TotalUnits:         job.TotalUnits,
		CurrentUnit:        job.CurrentUnit,
		EstimatedRemaining: estimateRemaining(job, time.Now()),
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
	}, nil
}

// GetResults は COMPLETED に達したジョブの集約結果を返す
func (s *Service) GetResults(ctx context.Context, jobID string) (*JobResults, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case JobStatusCompleted:
		if job.Results == nil {
			return nil, fmt.Errorf("%w: results missing for completed job %s", ErrResultsNotReady, jobID)
		}
		return job.Results, nil
	case JobStatusFailed:
		msg := "unknown error"
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return nil, fmt.Errorf("job %s failed: %s", jobID, msg)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrResultsNotReady, jobID, job.Status)
	}
}

func (s *Service) markFailed(ctx context.Context, jobID, msg string) {
	failed := JobStatusFailed
	now := time.Now()
	if err := s.repo.Update(ctx, jobID, JobUpdate{
		Status:       &failed,
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.Error("失敗状態の記録に失敗", "job_id", jobID, "error", err)
	}
}

// progressPercent は進捗率を計算する。COMPLETED は常に100%
func progressPercent(job *Job) float64 {
	if job.Status == JobStatusCompleted {
		return 100
	}
	if job.TotalUnits == 0 {
		return 0
	}
	return float64(job.CompletedUnits) / float64(job.TotalUnits) * 100
}

// estimateRemaining は完了済みユニットの平均処理時間から残り時間を
// 概算する。推定できない段階では "calculating" を返す
func estimateRemaining(job *Job, now time.Time) string {
	if job.Status.Terminal() {
		return ""
	}
	if job.Status == JobStatusPending {
		return "pending"
	}
	if job.StartedAt == nil || job.CompletedUnits == 0 || job.TotalUnits == 0 {
		return "calculating"
	}

	elapsed := now.Sub(*job.StartedAt)
	perUnit := elapsed / time.Duration(job.CompletedUnits)
	remaining := perUnit * time.Duration(job.TotalUnits-job.CompletedUnits)
	return remaining.Round(time.Second).String()
}
