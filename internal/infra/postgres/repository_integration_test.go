package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pr-analyzer/internal/core/cache"
	"github.com/jinford/pr-analyzer/internal/core/review"
)

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動する
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dockerPool, err := dockertest.NewPool("")
	require.NoError(t, err)
	require.NoError(t, dockerPool.Client.Ping())

	resource, err := dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg17",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dockerPool.Purge(resource)
	})

	connString := fmt.Sprintf("host=localhost port=%s user=test password=test dbname=test sslmode=disable", resource.GetPort("5432/tcp"))

	var pool *pgxpool.Pool
	err = dockerPool.Retry(func() error {
		var err error
		pool, err = pgxpool.New(context.Background(), connString)
		if err != nil {
			return err
		}
		return pool.Ping(context.Background())
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(context.Background(), pool, 3))
	return pool
}

func TestJobRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool := startPostgres(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	job := &review.Job{
		ID:             "11111111-1111-1111-1111-111111111111",
		Repository:     "git@example.com:team/app.git",
		ChangeRef:      "42",
		RequestedTypes: []review.AnalysisType{review.AnalysisTypeBug, review.AnalysisTypeSecurity},
		Status:         review.JobStatusPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Repository, got.Repository)
	assert.Equal(t, job.RequestedTypes, got.RequestedTypes)
	assert.Equal(t, review.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Results)

	// 進捗の部分更新は他のフィールドを壊さない
	processing := review.JobStatusProcessing
	now := time.Now()
	require.NoError(t, repo.Update(ctx, job.ID, review.JobUpdate{
		Status:    &processing,
		StartedAt: &now,
	}))

	completed := 3
	total := 8
	current := "a.go"
	require.NoError(t, repo.Update(ctx, job.ID, review.JobUpdate{
		TotalUnits:     &total,
		CompletedUnits: &completed,
		CurrentUnit:    &current,
	}))

	got, err = repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, review.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, 8, got.TotalUnits)
	assert.Equal(t, 3, got.CompletedUnits)
	require.NotNil(t, got.CurrentUnit)
	assert.Equal(t, "a.go", *got.CurrentUnit)

	// 終端更新で結果が格納される
	done := review.JobStatusCompleted
	results := &review.JobResults{
		Units: []review.UnitReport{{
			FilePath: "a.go",
			Type:     review.AnalysisTypeBug,
			Findings: []review.Finding{{Category: review.AnalysisTypeBug, Severity: review.SeverityHigh, Description: "issue"}},
		}},
		Summary: review.ResultSummary{TotalUnits: 8, TotalFindings: 1},
	}
	require.NoError(t, repo.Update(ctx, job.ID, review.JobUpdate{
		Status:      &done,
		CompletedAt: &now,
		Results:     results,
	}))

	got, err = repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, review.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, 1, got.Results.Summary.TotalFindings)

	_, err = repo.Get(ctx, "99999999-9999-9999-9999-999999999999")
	assert.ErrorIs(t, err, review.ErrJobNotFound)

	err = repo.Update(ctx, "99999999-9999-9999-9999-999999999999", review.JobUpdate{Status: &done})
	assert.ErrorIs(t, err, review.ErrJobNotFound)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.CountsByStatus[review.JobStatusCompleted])
}

func TestCacheRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool := startPostgres(t)
	repo := NewCacheRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &cache.Entry{
		ExactKey:            "key-1",
		AnalysisType:        review.AnalysisTypeBug,
		Language:            "Go",
		Embedding:           []float32{1, 0, 0},
		Findings:            []review.Finding{{Category: review.AnalysisTypeBug, Severity: review.SeverityHigh, Description: "issue"}},
		SimilarityThreshold: 0.85,
		UsageCount:          1,
		CreatedAt:           now,
		LastUsedAt:          now,
	}
	require.NoError(t, repo.Upsert(ctx, entry))

	got, err := repo.GetByExactKey(ctx, "key-1", review.AnalysisTypeBug, "Go")
	require.NoError(t, err)
	assert.Equal(t, entry.Findings, got.Findings)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, 0, got.CacheHitCount)

	_, err = repo.GetByExactKey(ctx, "key-1", review.AnalysisTypeStyle, "Go")
	assert.ErrorIs(t, err, cache.ErrEntryNotFound)

	// ヒット記録
	require.NoError(t, repo.RecordHit(ctx, "key-1", review.AnalysisTypeBug, "Go", now.Add(time.Minute)))
	got, err = repo.GetByExactKey(ctx, "key-1", review.AnalysisTypeBug, "Go")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.Equal(t, 1, got.CacheHitCount)

	// 再保存で usage_count はリセット、cache_hit_count は維持
	require.NoError(t, repo.Upsert(ctx, entry))
	got, err = repo.GetByExactKey(ctx, "key-1", review.AnalysisTypeBug, "Go")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, 1, got.CacheHitCount)

	// 近傍検索はコサイン類似度の高い順
	other := *entry
	other.ExactKey = "key-2"
	other.Embedding = []float32{0, 1, 0}
	require.NoError(t, repo.Upsert(ctx, &other))

	candidates, err := repo.ListNearest(ctx, review.AnalysisTypeBug, "Go", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "key-1", candidates[0].Entry.ExactKey)
	assert.InDelta(t, 1.0, candidates[0].Similarity, 1e-6)
	assert.InDelta(t, 0.0, candidates[1].Similarity, 1e-6)

	// ミスカウンタ
	require.NoError(t, repo.IncrementMisses(ctx))
	require.NoError(t, repo.IncrementMisses(ctx))
	counters, err := repo.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Entries)
	assert.Equal(t, 1, counters.Hits)
	assert.Equal(t, 2, counters.Misses)
	assert.Equal(t, 2, counters.ByType[review.AnalysisTypeBug])
	assert.Equal(t, 2, counters.ByLanguage["Go"])

	// クリーンアップ
	deleted, err := repo.DeleteOlderThan(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
