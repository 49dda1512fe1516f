package reporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mriscale/jobs"
)

type memRepo struct {
	mu    sync.Mutex
	store map[string]*jobs.Job
}

func newMemRepo(seed ...*jobs.Job) *memRepo {
	r := &memRepo{store: make(map[string]*jobs.Job)}
	for _, j := range seed {
		copied := *j
		r.store[j.ID] = &copied
	}
	return r
}

// ClaimJob mirrors the guarded claim UPDATE: status check and transition
// happen under one lock, so concurrent claims get one winner.
func (r *memRepo) ClaimJob(_ context.Context, id string) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.store[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if err := jobs.Start(job, time.Now().UTC()); err != nil {
		return nil, err
	}
	copied := *job
	return &copied, nil
}

func (r *memRepo) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.store[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *memRepo) UpdateJob(_ context.Context, job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[job.ID]; !ok {
		return jobs.ErrNotFound
	}
	copied := *job
	r.store[job.ID] = &copied
	return nil
}

type memStatus struct {
	last *jobs.Job
}

func (s *memStatus) Set(_ context.Context, job *jobs.Job) error {
	copied := *job
	s.last = &copied
	return nil
}

func pendingJob(id string) *jobs.Job {
	return &jobs.Job{
		ID:         id,
		OwnerID:    "user-1",
		Type:       jobs.TypePreprocess,
		Status:     jobs.StatusPending,
		InputFiles: []string{"scan.nii"},
	}
}

func newReporter(t *testing.T, repo *memRepo) (*JobReporter, *memStatus) {
	t.Helper()
	status := &memStatus{}
	return NewJobReporter(repo, status, zaptest.NewLogger(t)), status
}

func TestStart_ClaimsExactlyOnce(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, status := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))

	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Equal(t, jobs.StatusProcessing, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, status.last)
	assert.Equal(t, jobs.StatusProcessing, status.last.Status)

	// A redelivered dispatch must not claim the job a second time.
	err := rep.Start(ctx, "job-1")
	assert.True(t, jobs.IsInvalidState(err))
}

func TestStart_ConcurrentDeliveriesClaimOnce(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, _ := newReporter(t, repo)

	const deliveries = 8
	gate := make(chan struct{})
	results := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			results <- rep.Start(context.Background(), "job-1")
		}()
	}
	close(gate)
	wg.Wait()
	close(results)

	claimed := 0
	for err := range results {
		if err == nil {
			claimed++
			continue
		}
		assert.True(t, jobs.IsInvalidState(err), "losers must see an invalid-state rejection, got %v", err)
	}
	assert.Equal(t, 1, claimed, "exactly one delivery may claim the job")

	stored, _ := repo.GetJob(context.Background(), "job-1")
	assert.Equal(t, jobs.StatusProcessing, stored.Status)
}

func TestReportProgress_Sequence(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, status := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))

	for _, p := range []int{10, 30, 30, 80} {
		require.NoError(t, rep.ReportProgress(ctx, "job-1", p))
	}

	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Equal(t, 80, stored.Progress)
	assert.Equal(t, 80, status.last.Progress)
}

func TestReportProgress_RejectsRegression(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, _ := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))
	require.NoError(t, rep.ReportProgress(ctx, "job-1", 60))

	err := rep.ReportProgress(ctx, "job-1", 40)
	assert.True(t, jobs.IsInvalidState(err))

	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Equal(t, 60, stored.Progress, "a rejected report must not move progress")
}

func TestReportProgress_MissingJobIsNoop(t *testing.T) {
	rep, _ := newReporter(t, newMemRepo())

	err := rep.ReportProgress(context.Background(), "deleted-job", 50)
	assert.NoError(t, err, "a report for a deleted job must not crash the worker")
}

func TestReportCompleted_PromotesPartialsAndForcesProgress(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, status := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))
	require.NoError(t, rep.ReportProgress(ctx, "job-1", 45))
	require.NoError(t, rep.ReportPartialOutput(ctx, "job-1", jobs.OutputFile{LR: "lr_0.nii", HR: "hr_0.nii"}))
	require.NoError(t, rep.ReportPartialOutput(ctx, "job-1", jobs.OutputFile{LR: "lr_1.nii", HR: "hr_1.nii"}))

	// Partial outputs stay staged until completion.
	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Empty(t, stored.OutputFiles)
	assert.Len(t, stored.PartialOutputs, 2)

	metrics := map[string]float64{"scale_factor": 2}
	require.NoError(t, rep.ReportCompleted(ctx, "job-1", nil, metrics))

	stored, _ = repo.GetJob(ctx, "job-1")
	assert.Equal(t, jobs.StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Len(t, stored.OutputFiles, 2)
	assert.Equal(t, "lr_0.nii", stored.OutputFiles[0].LR)
	assert.Equal(t, metrics, stored.Metrics)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 100, status.last.Progress)
}

func TestReportCompleted_MissingJobPropagates(t *testing.T) {
	rep, _ := newReporter(t, newMemRepo())

	err := rep.ReportCompleted(context.Background(), "deleted-job", nil, nil)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestReportFailed(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, _ := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))
	require.NoError(t, rep.ReportFailed(ctx, "job-1", "brain extraction failed"))

	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, "brain extraction failed", stored.ErrorMessage)
	require.NotNil(t, stored.CompletedAt)

	// Terminal states are frozen; a second failure report is a no-op.
	require.NoError(t, rep.ReportFailed(ctx, "job-1", "other reason"))
	stored, _ = repo.GetJob(ctx, "job-1")
	assert.Equal(t, "brain extraction failed", stored.ErrorMessage)
}

func TestReportFailed_MissingJobIsNoop(t *testing.T) {
	rep, _ := newReporter(t, newMemRepo())

	err := rep.ReportFailed(context.Background(), "deleted-job", "oom")
	assert.NoError(t, err)
}

func TestTerminalJobRejectsFurtherReports(t *testing.T) {
	repo := newMemRepo(pendingJob("job-1"))
	rep, _ := newReporter(t, repo)
	ctx := context.Background()

	require.NoError(t, rep.Start(ctx, "job-1"))
	require.NoError(t, rep.ReportCompleted(ctx, "job-1", []jobs.OutputFile{{SR: "sr_0.nii"}}, nil))

	err := rep.ReportProgress(ctx, "job-1", 50)
	assert.True(t, jobs.IsInvalidState(err))

	err = rep.ReportPartialOutput(ctx, "job-1", jobs.OutputFile{LR: "late.nii"})
	assert.True(t, jobs.IsInvalidState(err))

	stored, _ := repo.GetJob(ctx, "job-1")
	assert.Equal(t, jobs.StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
}
