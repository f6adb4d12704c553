package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/utils"
)

type recordingDisplay struct {
	mu        sync.Mutex
	labels    []string
	completed map[int]string
	failed    map[int]error
	updates   int
	stopped   bool
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{completed: make(map[int]string), failed: make(map[int]error)}
}

func (d *recordingDisplay) StartDisplay() {}
func (d *recordingDisplay) StopDisplay() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}
func (d *recordingDisplay) Register(label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.labels = append(d.labels, label)
	return len(d.labels)
}
func (d *recordingDisplay) SetMessage(int, string) {}
func (d *recordingDisplay) UpdateProgress(int, progress.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
}
func (d *recordingDisplay) Complete(id int, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[id] = message
}
func (d *recordingDisplay) ReportError(id int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed[id] = err
}

type fakeDownloader struct {
	active, peak atomic.Int32
	validateErr  error
	downloadErr  error
	buildCtxErr  error
}

func (f *fakeDownloader) ValidateJob(job *utils.VidzoJob) error { return f.validateErr }
func (f *fakeDownloader) BuildJob(ctx context.Context, job *utils.VidzoJob) error {
	if err := ctx.Err(); err != nil {
		f.buildCtxErr = err
		return utils.NewError(utils.KindCancelled, "build", err)
	}
	if job.OutputPath == "" {
		job.OutputPath = "built.bin"
	}
	return nil
}
func (f *fakeDownloader) Download(ctx context.Context, job *utils.VidzoJob) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	job.ProgressFunc(progress.Snapshot{TotalSize: 10, Downloaded: 10, Complete: true})
	return f.downloadErr
}

func TestRunCompletesJobs(t *testing.T) {
	fake := &fakeDownloader{}
	display := newRecordingDisplay()
	var jobs []utils.VidzoJob
	for i := range 6 {
		jobs = append(jobs, utils.VidzoJob{JobType: "fake", URL: fmt.Sprintf("https://example.com/%d", i)})
	}
	err := run(context.Background(), jobs, 2, display, map[string]utils.Downloader{"fake": fake})
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if len(display.completed) != 6 || len(display.failed) != 0 {
		t.Errorf("completed %d, failed %d", len(display.completed), len(display.failed))
	}
	if display.updates != 6 {
		t.Errorf("progress updates = %d, want 6", display.updates)
	}
	if fake.peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds worker count", fake.peak.Load())
	}
	if !display.stopped {
		t.Error("display was not stopped")
	}
	for _, job := range jobs {
		if job.ID == "" || job.OutputPath != "built.bin" {
			t.Errorf("job not built in place: %+v", job)
		}
	}
}

func TestRunReportsFailures(t *testing.T) {
	display := newRecordingDisplay()
	registry := map[string]utils.Downloader{
		"ok":      &fakeDownloader{},
		"invalid": &fakeDownloader{validateErr: errors.New("bad url")},
		"broken":  &fakeDownloader{downloadErr: utils.NewError(utils.KindClient, "download", errors.New("404"))},
	}
	jobs := []utils.VidzoJob{
		{JobType: "ok", URL: "a"},
		{JobType: "invalid", URL: "b"},
		{JobType: "broken", URL: "c"},
		{JobType: "missing", URL: "d"},
	}
	err := run(context.Background(), jobs, 3, display, registry)
	if err == nil || err.Error() != "3 of 4 downloads failed" {
		t.Fatalf("run() error = %v", err)
	}
	if len(display.completed) != 1 || len(display.failed) != 3 {
		t.Errorf("completed %d, failed %d", len(display.completed), len(display.failed))
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	display := newRecordingDisplay()
	jobs := []utils.VidzoJob{{JobType: "fake", URL: "a"}, {JobType: "fake", URL: "b"}}
	err := run(ctx, jobs, 1, display, map[string]utils.Downloader{"fake": &fakeDownloader{}})
	if utils.KindOf(err) != utils.KindCancelled {
		t.Errorf("run() error kind = %v, want cancelled", utils.KindOf(err))
	}
	if len(display.completed) != 0 {
		t.Errorf("jobs completed after cancellation: %d", len(display.completed))
	}
}

func TestRunClassifiesInputErrors(t *testing.T) {
	display := newRecordingDisplay()
	registry := map[string]utils.Downloader{
		"invalid": &fakeDownloader{validateErr: utils.NewError(utils.KindInvalidInput, "validate", errors.New("bad url"))},
	}
	jobs := []utils.VidzoJob{{JobType: "invalid", URL: "a"}, {JobType: "missing", URL: "b"}}
	run(context.Background(), jobs, 1, display, registry)
	if len(display.failed) != 2 {
		t.Fatalf("failed %d, want 2", len(display.failed))
	}
	for id, err := range display.failed {
		if utils.KindOf(err) != utils.KindInvalidInput {
			t.Errorf("job %d error kind = %v, want invalid input", id, utils.KindOf(err))
		}
	}
}

type cancellingDownloader struct{ fakeDownloader }

func (c *cancellingDownloader) ValidateJob(job *utils.VidzoJob) error {
	cancelFn := job.Metadata["cancel"].(context.CancelFunc)
	cancelFn()
	return nil
}

func TestRunPassesContextToBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &cancellingDownloader{}
	jobs := []utils.VidzoJob{{JobType: "fake", URL: "a", Metadata: map[string]any{"cancel": cancel}}}
	display := newRecordingDisplay()
	run(ctx, jobs, 1, display, map[string]utils.Downloader{"fake": fake})
	if fake.buildCtxErr == nil {
		t.Fatal("BuildJob did not see the cancelled context")
	}
	if len(display.completed) != 0 {
		t.Error("job completed after cancellation")
	}
}
