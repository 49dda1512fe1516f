package pipeline

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mriscale/jobs"
	"mriscale/storage"
	"mriscale/worker/reporter"
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

// recordingReporter keeps the real state machine in the loop while capturing
// the progress schedule an executor emits.
type recordingReporter struct {
	*reporter.JobReporter
	percents []int
}

func (r *recordingReporter) ReportProgress(ctx context.Context, jobID string, percent int) error {
	r.percents = append(r.percents, percent)
	return r.JobReporter.ReportProgress(ctx, jobID, percent)
}

func newTestStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func decodeDims(t *testing.T, r io.Reader) (int, int) {
	t.Helper()
	img, err := imaging.Decode(r)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func startProcessing(t *testing.T, repo *memRepo, rep reporter.Reporter, id string, jobType jobs.JobType, inputs []string) *jobs.DispatchMessage {
	t.Helper()
	repo.store[id] = &jobs.Job{
		ID:         id,
		OwnerID:    "user-1",
		Type:       jobType,
		Status:     jobs.StatusPending,
		InputFiles: inputs,
	}
	require.NoError(t, rep.Start(context.Background(), id))
	return &jobs.DispatchMessage{JobID: id, JobType: jobType, InputFiles: inputs}
}

func TestStageProgress_MonotoneAcrossFiles(t *testing.T) {
	offsets := []int{0, stageBrainExtraction, stageBiasCorrection, stageNormalization, stageWriteHR, stageDegradeLR}

	for _, total := range []int{1, 2, 3, 5} {
		prev := -1
		for idx := 0; idx < total; idx++ {
			for _, offset := range offsets {
				p := stageProgress(idx, total, offset)
				assert.GreaterOrEqual(t, p, prev, "total=%d idx=%d offset=%d", total, idx, offset)
				assert.LessOrEqual(t, p, 90, "stage reports stay under the completion budget")
				prev = p
			}
		}
	}
}

func TestDegrader_ShrinksRasterSlices(t *testing.T) {
	d := NewDegrader(2, zaptest.NewLogger(t))

	out, err := d.Degrade(bytes.NewReader(pngBytes(t, 64, 48)), "lr_0.png")
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
}

func TestDegrader_PassesVolumesThrough(t *testing.T) {
	d := NewDegrader(2, zaptest.NewLogger(t))

	volume := []byte("\x1f\x8bnot really gzip, definitely not a raster")
	out, err := d.Degrade(bytes.NewReader(volume), "lr_0.nii.gz")
	require.NoError(t, err)

	got, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, volume, got)
}

func TestPreprocessExecutor_ProducesPairPerInput(t *testing.T) {
	files := newTestStore(t)
	repo := newMemRepo()
	logger := zaptest.NewLogger(t)
	rep := &recordingReporter{JobReporter: reporter.NewJobReporter(repo, nil, logger)}

	var inputs []string
	for i := 0; i < 2; i++ {
		ref, err := files.Save("job-1", "upload_"+string(rune('a'+i))+".png", bytes.NewReader(pngBytes(t, 32, 32)))
		require.NoError(t, err)
		inputs = append(inputs, ref)
	}

	msg := startProcessing(t, repo, rep, "job-1", jobs.TypePreprocess, inputs)
	e := NewPreprocessExecutor(files, NewDegrader(2, logger), logger)
	require.NoError(t, e.Execute(context.Background(), msg, rep))

	job, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.PartialOutputs)
	require.Len(t, job.OutputFiles, 2)

	for i, pair := range job.OutputFiles {
		require.NotEmpty(t, pair.HR, "pair %d", i)
		require.NotEmpty(t, pair.LR, "pair %d", i)
		assert.Empty(t, pair.SR)

		hr, err := files.Open(pair.HR)
		require.NoError(t, err)
		hw, hh := decodeDims(t, hr)
		hr.Close()
		assert.Equal(t, 32, hw)
		assert.Equal(t, 32, hh)

		lr, err := files.Open(pair.LR)
		require.NoError(t, err)
		lw, lh := decodeDims(t, lr)
		lr.Close()
		assert.Equal(t, 16, lw)
		assert.Equal(t, 16, lh)
	}

	// The schedule the executor emitted never regressed.
	prev := -1
	for _, p := range rep.percents {
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestPreprocessExecutor_RejectsEmptyInputs(t *testing.T) {
	logger := zaptest.NewLogger(t)
	e := NewPreprocessExecutor(newTestStore(t), NewDegrader(2, logger), logger)

	msg := &jobs.DispatchMessage{JobID: "job-1", JobType: jobs.TypePreprocess}
	err := e.Execute(context.Background(), msg, &recordingReporter{JobReporter: reporter.NewJobReporter(newMemRepo(), nil, logger)})
	assert.Error(t, err)
}

func loadTestModel(t *testing.T, scale int) *ModelManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sr_model.bin")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	model, err := LoadModel(path, scale, zaptest.NewLogger(t))
	require.NoError(t, err)
	return model
}

func TestLoadModel_FailsFastOnMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "missing.bin"), 2, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestInferenceExecutor_SuperResolvesInputs(t *testing.T) {
	files := newTestStore(t)
	repo := newMemRepo()
	logger := zaptest.NewLogger(t)
	rep := &recordingReporter{JobReporter: reporter.NewJobReporter(repo, nil, logger)}

	lrRef, err := files.Save("job-sr", "lr_0.png", bytes.NewReader(pngBytes(t, 16, 16)))
	require.NoError(t, err)

	msg := startProcessing(t, repo, rep, "job-sr", jobs.TypeInference, []string{lrRef})
	e := NewInferenceExecutor(files, loadTestModel(t, 2), logger)
	require.NoError(t, e.Execute(context.Background(), msg, rep))

	job, err := repo.GetJob(context.Background(), "job-sr")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	require.Len(t, job.OutputFiles, 1)
	require.NotEmpty(t, job.OutputFiles[0].SR)
	assert.Empty(t, job.OutputFiles[0].LR)

	sr, err := files.Open(job.OutputFiles[0].SR)
	require.NoError(t, err)
	w, h := decodeDims(t, sr)
	sr.Close()
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)

	assert.Equal(t, 2.0, job.Metrics["scale_factor"])
	assert.Equal(t, 32.0, job.Metrics["output_width"])
}

func TestInferenceExecutor_RequiresModel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	e := NewInferenceExecutor(newTestStore(t), nil, logger)

	msg := &jobs.DispatchMessage{JobID: "job-1", JobType: jobs.TypeInference, InputFiles: []string{"lr_0.png"}}
	err := e.Execute(context.Background(), msg, &recordingReporter{JobReporter: reporter.NewJobReporter(newMemRepo(), nil, logger)})
	assert.ErrorContains(t, err, "model not loaded")
}
