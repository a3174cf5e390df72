package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

// JobRepository は PostgreSQL を使用した review.JobRepository 実装
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository は新しい JobRepository を作成する
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, repository, change_ref, requested_types, status, total_units, completed_units, current_unit, created_at, started_at, completed_at, error_message, results`

// Create はジョブを新規作成する
func (r *JobRepository) Create(ctx context.Context, job *review.Job) error {
	types := make([]string, 0, len(job.RequestedTypes))
	for _, t := range job.RequestedTypes {
		types = append(types, string(t))
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, repository, change_ref, requested_types, status, total_units, completed_units, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.Repository,
		job.ChangeRef,
		types,
		string(job.Status),
		job.TotalUnits,
		job.CompletedUnits,
		TimestamptzToPgtype(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get はジョブを取得する
func (r *JobRepository) Get(ctx context.Context, jobID string) (*review.Job, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", review.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Update はジョブの部分更新を行う。update の非 nil フィールドだけを書き込む
func (r *JobRepository) Update(ctx context.Context, jobID string, update review.JobUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.TotalUnits != nil {
		add("total_units", *update.TotalUnits)
	}
	if update.CompletedUnits != nil {
		add("completed_units", *update.CompletedUnits)
	}
	if update.CurrentUnit != nil {
		add("current_unit", *update.CurrentUnit)
	}
	if update.StartedAt != nil {
		add("started_at", TimestamptzToPgtype(*update.StartedAt))
	}
	if update.CompletedAt != nil {
		add("completed_at", TimestamptzToPgtype(*update.CompletedAt))
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.Results != nil {
		payload, err := json.Marshal(update.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal job results: %w", err)
		}
		add("results", payload)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, jobID)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", review.ErrJobNotFound, jobID)
	}
	return nil
}

// Stats は管理用のジョブ統計を集計する
func (r *JobRepository) Stats(ctx context.Context) (*review.JobStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	stats := &review.JobStats{
		CountsByStatus: make(map[review.JobStatus]int),
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}
		stats.CountsByStatus[review.JobStatus(status)] = count
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}

	var avgSeconds float64
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)
		FROM jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
	).Scan(&avgSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute average processing time: %w", err)
	}
	stats.AvgProcessingTime = time.Duration(avgSeconds * float64(time.Second))

	return stats, nil
}

func scanJob(row pgx.Row) (*review.Job, error) {
	var (
		job          review.Job
		types        []string
		status       string
		currentUnit  pgtype.Text
		createdAt    pgtype.Timestamptz
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
		errorMessage pgtype.Text
		results      []byte
	)

	if err := row.Scan(
		&job.ID,
		&job.Repository,
		&job.ChangeRef,
		&types,
		&status,
		&job.TotalUnits,
		&job.CompletedUnits,
		&currentUnit,
		&createdAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&results,
	); err != nil {
		return nil, err
	}

	job.RequestedTypes = make([]review.AnalysisType, 0, len(types))
	for _, t := range types {
		job.RequestedTypes = append(job.RequestedTypes, review.AnalysisType(t))
	}
	job.Status = review.JobStatus(status)
	job.CurrentUnit = PgtextToStringPtr(currentUnit)
	job.CreatedAt = PgtypeToTime(createdAt)
	job.StartedAt = PgtypeToTimePtr(startedAt)
	job.CompletedAt = PgtypeToTimePtr(completedAt)
	job.ErrorMessage = PgtextToStringPtr(errorMessage)

	if len(results) > 0 {
		var jobResults review.JobResults
		if err := json.Unmarshal(results, &jobResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job results: %w", err)
		}
		job.Results = &jobResults
	}

	return &job, nil
}

// インターフェース実装の確認
var _ review.JobRepository = (*JobRepository)(nil)
