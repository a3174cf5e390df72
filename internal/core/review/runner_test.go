package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	updates []JobUpdate
	failAll bool
}

func newMemoryJobRepo() *memoryJobRepo {
	return &memoryJobRepo{jobs: make(map[string]*Job)}
}

func (r *memoryJobRepo) Create(ctx context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *memoryJobRepo) Get(ctx context.Context, jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	copied := *job
	return &copied, nil
}

func (r *memoryJobRepo) Update(ctx context.Context, jobID string, update JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("store down")
	}
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	r.updates = append(r.updates, update)
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.TotalUnits != nil {
		job.TotalUnits = *update.TotalUnits
	}
	if update.CompletedUnits != nil {
		job.CompletedUnits = *update.CompletedUnits
	}
	if update.CurrentUnit != nil {
		job.CurrentUnit = update.CurrentUnit
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.Results != nil {
		job.Results = update.Results
	}
	return nil
}

func (r *memoryJobRepo) Stats(ctx context.Context) (*JobStats, error) {
	return &JobStats{}, nil
}

type stubChangeSource struct {
	mu       sync.Mutex
	files    []*ChangedFile
	failures int
	calls    int
}

func (s *stubChangeSource) ResolveChangedFiles(ctx context.Context, repository, changeRef string) ([]*ChangedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, fmt.Errorf("%w: clone failed", ErrSourceUnavailable)
	}
	return s.files, nil
}

func newTestCoordinator() *Coordinator {
	analyzer := &stubAnalyzer{findings: []Finding{{Category: AnalysisTypeBug, Severity: SeverityHigh, Description: "issue"}}}
	return NewCoordinator(
		allStubAnalyzers(analyzer),
		NewFingerprinter(nil, WithFingerprinterLogger(discardLogger())),
		WithCoordinatorLogger(discardLogger()),
	)
}

func newTestJob(repo *memoryJobRepo) *Job {
	job := &Job{
		ID:             "job-1",
		Repository:     "git@example.com:team/app.git",
		ChangeRef:      "42",
		RequestedTypes: []AnalysisType{AnalysisTypeBug},
		Status:         JobStatusPending,
		CreatedAt:      time.Now(),
	}
	_ = repo.Create(context.Background(), job)
	return job
}

func TestJobRunner_CompletesJob(t *testing.T) {
	repo := newMemoryJobRepo()
	source := &stubChangeSource{files: testFiles()}
	runner := NewJobRunner(repo, source, newTestCoordinator(),
		WithRetryBackoff(0),
		WithRunnerLogger(discardLogger()),
	)

	job := newTestJob(repo)
	require.NoError(t, runner.Run(context.Background(), job))

	stored, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.Results)
	assert.Equal(t, 2, stored.Results.Summary.TotalUnits)
	assert.Equal(t, 2, stored.CompletedUnits)
	assert.Equal(t, 1, source.calls)
}

func TestJobRunner_RetriesThenSucceeds(t *testing.T) {
	repo := newMemoryJobRepo()
	source := &stubChangeSource{files: testFiles(), failures: 1}
	runner := NewJobRunner(repo, source, newTestCoordinator(),
		WithRetryBackoff(0),
		WithRunnerLogger(discardLogger()),
	)

	job := newTestJob(repo)
	require.NoError(t, runner.Run(context.Background(), job))

	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, source.calls)
}

func TestJobRunner_FailsAfterMaxAttempts(t *testing.T) {
	repo := newMemoryJobRepo()
	source := &stubChangeSource{failures: 100}
	runner := NewJobRunner(repo, source, newTestCoordinator(),
		WithMaxAttempts(3),
		WithRetryBackoff(0),
		WithRunnerLogger(discardLogger()),
	)

	job := newTestJob(repo)
	err := runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	// 試行回数は上限ちょうどで止まる
	assert.Equal(t, 3, source.calls)

	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "change source unavailable")
	assert.NotNil(t, stored.CompletedAt)
}

func TestJobRunner_StoreUnavailableFailsJob(t *testing.T) {
	repo := newMemoryJobRepo()
	repo.failAll = true
	source := &stubChangeSource{files: testFiles()}
	runner := NewJobRunner(repo, source, newTestCoordinator(),
		WithRetryBackoff(0),
		WithRunnerLogger(discardLogger()),
	)

	job := &Job{ID: "job-2", RequestedTypes: []AnalysisType{AnalysisTypeBug}}
	err := runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestJobRunner_SoftTimeoutDegradesUnits(t *testing.T) {
	repo := newMemoryJobRepo()
	source := &stubChangeSource{files: testFiles()}

	// ソフトタイムアウトを即時に切ることで全ユニットが縮退する
	runner := NewJobRunner(repo, source, newTestCoordinator(),
		WithSoftTimeout(time.Nanosecond),
		WithRetryBackoff(0),
		WithRunnerLogger(discardLogger()),
	)

	job := newTestJob(repo)
	require.NoError(t, runner.Run(context.Background(), job))

	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.Results)
	assert.Equal(t, 2, stored.Results.Summary.TotalUnits)
	assert.Equal(t, 0, stored.Results.Summary.TotalFindings)
	assert.Equal(t, 2, stored.CompletedUnits)
}
