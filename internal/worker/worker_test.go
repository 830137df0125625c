package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/jobs"
	queuememory "github.com/JakeFAU/widget-forge/internal/queue/memory"
	storememory "github.com/JakeFAU/widget-forge/internal/storage/memory"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

type fakeLifecycle struct {
	mu         sync.Mutex
	markErr    error
	completeEr error
	processing []string
	completed  map[string]widget.Artifact
	failed     map[string]string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		completed: make(map[string]widget.Artifact),
		failed:    make(map[string]string),
	}
}

func (f *fakeLifecycle) MarkProcessing(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.processing = append(f.processing, jobID)
	return nil
}

func (f *fakeLifecycle) Complete(_ context.Context, jobID string, artifact widget.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeEr != nil {
		return f.completeEr
	}
	f.completed[jobID] = artifact
	return nil
}

func (f *fakeLifecycle) Fail(ctx context.Context, jobID string, errText string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errText
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	artifact widget.Artifact
	err      error
	block    bool
	panicVal any
	inputs   []widget.JobInput
}

func (r *fakeRunner) Run(ctx context.Context, in widget.JobInput) (widget.Artifact, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()
	if r.panicVal != nil {
		panic(r.panicVal)
	}
	if r.block {
		<-ctx.Done()
		return widget.Artifact{}, fmt.Errorf("fetch sources: %w", ctx.Err())
	}
	return r.artifact, r.err
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

type fakeBlobStore struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[path] = data
	return "memory://" + path, nil
}

type fakeHasher struct{ hash string }

func (h fakeHasher) Hash([]byte) (string, error) { return h.hash, nil }

func queueItem(jobID, maskID string) widget.QueueItem {
	return widget.QueueItem{
		JobID: jobID,
		Input: widget.JobInput{
			MaskID:      maskID,
			Title:       "Menu",
			Description: "Today's specials",
			URLs:        []string{"https://example.com"},
		},
	}
}

func TestWorkerProcessJobSuccessArchives(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{artifact: widget.Artifact{Raw: "raw", HTML: "<div>ok</div>", Fenced: true}}
	blobs := &fakeBlobStore{}
	w := New(nil, lifecycle, runner, blobs, fakeHasher{hash: "abc123"}, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-1", "mask-1"))

	require.Equal(t, []string{"job-1"}, lifecycle.processing)
	require.Equal(t, "<div>ok</div>", lifecycle.completed["job-1"].HTML)
	require.Empty(t, lifecycle.failed)
	require.Equal(t, "job-1", runner.inputs[0].JobID)
	require.Equal(t, []byte("<div>ok</div>"), blobs.objects["widgets/mask-1/job-1-abc123.html"])
}

func TestWorkerPipelineErrorFailsJob(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{err: fmt.Errorf("extract: %w", widget.ErrExtractionFailed)}
	blobs := &fakeBlobStore{}
	w := New(nil, lifecycle, runner, blobs, fakeHasher{hash: "h"}, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-2", "mask-1"))

	require.Empty(t, lifecycle.completed)
	require.Equal(t, "extract: extraction failed", lifecycle.failed["job-2"])
	require.Empty(t, blobs.objects)
}

func TestWorkerSkipsJobsAlreadyClaimed(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.markErr = fmt.Errorf("mark processing: %w", widget.ErrInvalidTransition)
	runner := &fakeRunner{}
	w := New(nil, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-3", "mask-1"))

	require.Zero(t, runner.calls())
	require.Empty(t, lifecycle.completed)
	require.Empty(t, lifecycle.failed)
}

func TestWorkerJobTimeoutFailsJob(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{block: true}
	w := New(nil, lifecycle, runner, nil, nil, Config{JobTimeout: 20 * time.Millisecond}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-4", "mask-1"))

	require.Contains(t, lifecycle.failed["job-4"], "job timed out after 20ms")
	require.Contains(t, lifecycle.failed["job-4"], context.DeadlineExceeded.Error())
}

func TestWorkerCanceledJobIsStillFailed(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{block: true}
	w := New(nil, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.processJob(ctx, queueItem("job-5", "mask-1"))
		close(done)
	}()
	require.Eventually(t, func() bool { return runner.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, "fetch sources: context canceled", lifecycle.failed["job-5"])
}

func TestWorkerCompensatesPersistenceFailure(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.completeEr = fmt.Errorf("complete job: %w: disk full", widget.ErrPersistence)
	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<p>x</p>"}}
	blobs := &fakeBlobStore{}
	w := New(nil, lifecycle, runner, blobs, fakeHasher{hash: "h"}, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-6", "mask-1"))

	require.Equal(t, "complete job: persistence error: disk full", lifecycle.failed["job-6"])
	require.Empty(t, blobs.objects)
}

func TestWorkerPanickingPipelineFailsJob(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{panicVal: "slice bounds out of range [73:53]"}
	w := New(nil, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	require.NotPanics(t, func() {
		w.processJob(context.Background(), queueItem("job-p", "mask-1"))
	})
	require.Equal(t, "pipeline panic: slice bounds out of range [73:53]", lifecycle.failed["job-p"])
	require.Empty(t, lifecycle.completed)
}

func TestWorkerFailsJobWhenClaimCannotBePersisted(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.markErr = fmt.Errorf("mark processing: %w: connection reset", widget.ErrPersistence)
	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<p>x</p>"}}
	w := New(nil, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-m", "mask-1"))

	require.Equal(t, "mark processing: persistence error: connection reset", lifecycle.failed["job-m"])
	require.Zero(t, runner.calls())
}

func TestWorkerRejectedCompleteDoesNotFail(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.completeEr = fmt.Errorf("complete job: %w", widget.ErrInvalidTransition)
	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<p>x</p>"}}
	w := New(nil, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-7", "mask-1"))

	require.Empty(t, lifecycle.failed)
}

func TestWorkerArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<p>x</p>"}}
	blobs := &fakeBlobStore{err: errors.New("bucket unavailable")}
	w := New(nil, lifecycle, runner, blobs, fakeHasher{hash: "h"}, Config{}, zap.NewNop())

	w.processJob(context.Background(), queueItem("job-8", "mask-1"))

	require.Contains(t, lifecycle.completed, "job-8")
	require.Empty(t, lifecycle.failed)
}

func TestWorkerBuildArchivePathTrimsPrefix(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, Config{ArchivePrefix: "/archive/widgets/"}, nil)
	require.Equal(t, "archive/widgets/m/j-h.html", w.buildArchivePath("m", "j", "h"))

	w = New(nil, nil, nil, nil, nil, Config{ArchivePrefix: "/"}, nil)
	require.Equal(t, "widgets/m/j-h.html", w.buildArchivePath("m", "j", "h"))
}

func TestWorkerRunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(2)
	lifecycle := newFakeLifecycle()
	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<p>x</p>"}}
	w := New(queue, lifecycle, runner, nil, nil, Config{}, zap.NewNop())

	require.NoError(t, queue.Enqueue(context.Background(), queueItem("job-9", "mask-1")))
	queue.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
	require.Contains(t, lifecycle.completed, "job-9")
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestWorkerWithManagerCompletesStoredJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storememory.NewJobStore()
	queue := queuememory.NewQueue(4)
	manager, err := jobs.NewManager(jobs.Config{
		Store:  store,
		Queue:  queue,
		IDs:    &sequenceIDs{},
		Clock:  fixedClock{now: time.Unix(1_700_000_000, 0).UTC()},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	jobID, err := manager.Create(ctx, jobs.CreateRequest{
		MaskID: "mask-1",
		Title:  "Menu",
		URLs:   []string{"https://example.com/menu"},
	})
	require.NoError(t, err)

	runner := &fakeRunner{artifact: widget.Artifact{HTML: "<div>menu</div>"}}
	w := New(queue, manager, runner, nil, nil, Config{}, zap.NewNop())
	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	w.processJob(ctx, item)

	job, err := manager.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, widget.JobStatusCompleted, job.Status)
	var payload widget.ResultPayload
	require.NoError(t, json.Unmarshal(job.Result, &payload))
	require.Equal(t, "<div>menu</div>", payload.HTMLCode)
	require.Equal(t, []string{"https://example.com/menu"}, runner.inputs[0].URLs)

	// A duplicate trigger for a terminal job is skipped.
	w.processJob(ctx, item)
	require.Equal(t, 1, runner.calls())
}
