package vidzohttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tanq16/vidzo/internal/utils"
)

type memSource struct {
	data []byte
}

func (s *memSource) Probe(ctx context.Context) utils.HeadInfo {
	return utils.HeadInfo{TotalSize: int64(len(s.data)), SupportsRanges: true}
}

func (s *memSource) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if end < 0 {
		end = int64(len(s.data)) - 1
	}
	return io.NopCloser(bytes.NewReader(s.data[start : end+1])), nil
}

func (s *memSource) Location() string { return "memory" }

type stallSource struct{}

func (stallSource) Probe(ctx context.Context) utils.HeadInfo {
	return utils.HeadInfo{TotalSize: 1024, SupportsRanges: true}
}

func (stallSource) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	return io.NopCloser(ctxReader{ctx}), nil
}

func (stallSource) Location() string { return "stall" }

type ctxReader struct{ ctx context.Context }

func (r ctxReader) Read(p []byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func tempOutput(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out.bin"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestDownloadChunkWritesOnlyItsRange(t *testing.T) {
	data := testData(3 * testChunk)
	file := tempOutput(t)
	var counted int64
	w := &Worker{
		Source:  &memSource{data: data},
		Policy:  utils.DefaultRetryPolicy(1),
		File:    file,
		OnBytes: func(n int64) { counted += n },
	}
	spec := ChunkSpec{Index: 1, Start: testChunk, End: 2*testChunk - 1}
	written, err := w.DownloadChunk(context.Background(), spec, 100)
	if err != nil {
		t.Fatalf("DownloadChunk: %v", err)
	}
	if written != testChunk || counted != testChunk-100 {
		t.Errorf("written=%d counted=%d", written, counted)
	}
	info, _ := file.Stat()
	if info.Size() != 2*testChunk {
		t.Errorf("file should end with the chunk, size is %d", info.Size())
	}
	got := make([]byte, testChunk-100)
	file.ReadAt(got, testChunk+100)
	if !bytes.Equal(got, data[testChunk+100:2*testChunk]) {
		t.Error("chunk content mismatch")
	}
	if err := VerifyChunk(file, spec, written); err != nil {
		t.Errorf("VerifyChunk: %v", err)
	}
}

func TestDownloadChunkAlreadyComplete(t *testing.T) {
	w := &Worker{Source: stallSource{}, Policy: utils.DefaultRetryPolicy(1), File: tempOutput(t)}
	spec := ChunkSpec{Index: 0, Start: 0, End: 99}
	written, err := w.DownloadChunk(context.Background(), spec, 100)
	if err != nil || written != 100 {
		t.Errorf("expected no work for a complete chunk, got %d, %v", written, err)
	}
}

func TestVerifyChunkMismatch(t *testing.T) {
	file := tempOutput(t)
	file.Truncate(50)
	spec := ChunkSpec{Index: 0, Start: 0, End: 99}
	if err := VerifyChunk(file, spec, 60); utils.KindOf(err) != utils.KindIntegrity {
		t.Errorf("expected integrity error for short count, got %v", err)
	}
	if err := VerifyChunk(file, spec, 100); utils.KindOf(err) != utils.KindIntegrity {
		t.Errorf("expected integrity error for short file, got %v", err)
	}
}

func TestStalledReadIsNetworkError(t *testing.T) {
	w := &Worker{
		Source:      stallSource{},
		Policy:      utils.DefaultRetryPolicy(1),
		File:        tempOutput(t),
		IdleTimeout: 20 * time.Millisecond,
	}
	start := time.Now()
	_, err := w.DownloadChunk(context.Background(), ChunkSpec{Index: 0, Start: 0, End: 1023}, 0)
	if utils.KindOf(err) != utils.KindNetwork || !errors.Is(err, errStalled) {
		t.Fatalf("expected stall to be a network error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("stall detection took too long")
	}
}

func TestRateLimitedChunkIsNotAStall(t *testing.T) {
	// 96KiB at 64KiB/s: the third buffer waits about 0.5s on the limiter
	data := testData(96 * 1024)
	file := tempOutput(t)
	w := &Worker{
		Source:      &memSource{data: data},
		Policy:      utils.DefaultRetryPolicy(1),
		File:        file,
		Limiter:     newLimiter(64 * 1024),
		IdleTimeout: 200 * time.Millisecond,
	}
	spec := ChunkSpec{Index: 0, Start: 0, End: int64(len(data)) - 1}
	written, err := w.DownloadChunk(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("throttled chunk should not stall: %v", err)
	}
	if written != int64(len(data)) {
		t.Errorf("written=%d, want %d", written, len(data))
	}
}

func TestCancelledReadIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	w := &Worker{
		Source:      stallSource{},
		Policy:      utils.DefaultRetryPolicy(5),
		File:        tempOutput(t),
		IdleTimeout: time.Minute,
	}
	_, err := w.DownloadChunk(ctx, ChunkSpec{Index: 0, Start: 0, End: 1023}, 0)
	if utils.KindOf(err) != utils.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewLimiter(t *testing.T) {
	if newLimiter(0) != nil {
		t.Error("zero rate should be unlimited")
	}
	l := newLimiter(1000)
	if l == nil || l.Burst() < utils.DefaultBufferSize {
		t.Error("burst must fit a full read buffer")
	}
}
