package vidzohttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/utils"
	"golang.org/x/time/rate"
)

var (
	errShortRead = errors.New("body ended before the end of the range")
	errLongRead  = errors.New("body is longer than the requested range")
	errStalled   = errors.New("no data received within the timeout")
)

// RangeSource is anything that can report its size and serve byte ranges.
type RangeSource interface {
	Probe(ctx context.Context) utils.HeadInfo
	Open(ctx context.Context, start, end int64) (io.ReadCloser, error)
	Location() string
}

type httpSource struct {
	client *utils.NetworkClient
	link   string
}

func NewHTTPSource(client *utils.NetworkClient, link string) RangeSource {
	return &httpSource{client: client, link: link}
}

func (s *httpSource) Probe(ctx context.Context) utils.HeadInfo {
	return s.client.FetchHead(ctx, s.link)
}

func (s *httpSource) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	return s.client.FetchRange(ctx, s.link, start, end)
}

func (s *httpSource) Location() string {
	return s.link
}

// Worker downloads chunks of a single output file. It is shared by all
// chunk goroutines of a download.
type Worker struct {
	Source      RangeSource
	Policy      utils.RetryPolicy
	File        io.WriterAt
	Limiter     *rate.Limiter
	IdleTimeout time.Duration
	OnBytes     func(n int64)
}

// DownloadChunk fetches the chunk into the output, continuing after the
// already bytes that are known to be on disk. It returns the number of
// bytes of the chunk present when it stopped, successful or not.
func (w *Worker) DownloadChunk(ctx context.Context, spec ChunkSpec, already int64) (int64, error) {
	done := already
	if done >= spec.Length() {
		return spec.Length(), nil
	}
	_, err := utils.Retry(ctx, w.Policy, func(ctx context.Context) (struct{}, error) {
		err := w.attempt(ctx, spec, &done)
		if errors.Is(err, errLongRead) {
			// the server ignored our range; nothing written can be trusted
			w.addBytes(-done)
			done = 0
		}
		if err != nil {
			log.Debug().Str("op", "http/chunk-handlers").Err(err).Int("chunk", spec.Index).Int64("written", done).Msg("Chunk attempt failed")
		}
		return struct{}{}, err
	})
	return done, err
}

func (w *Worker) attempt(parent context.Context, spec ChunkSpec, done *int64) error {
	return w.watch(parent, func(ctx context.Context, watchdog *time.Timer) error {
		return w.stream(ctx, spec, done, watchdog)
	})
}

// watch runs fn with a context that is cancelled when no data arrives for
// IdleTimeout; such a stall is reported as a network error.
func (w *Worker) watch(parent context.Context, fn func(ctx context.Context, watchdog *time.Timer) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	var stalled atomic.Bool
	var watchdog *time.Timer
	if w.IdleTimeout > 0 {
		watchdog = time.AfterFunc(w.IdleTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}
	err := fn(ctx, watchdog)
	if err != nil && stalled.Load() && parent.Err() == nil {
		return utils.NewError(utils.KindNetwork, "read", errStalled)
	}
	return err
}

func (w *Worker) stream(ctx context.Context, spec ChunkSpec, done *int64, watchdog *time.Timer) error {
	offset := spec.Start + *done
	body, err := w.Source.Open(ctx, offset, spec.End)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := w.copyFrom(ctx, io.LimitReader(body, spec.End-offset+1), offset, done, watchdog); err != nil {
		return err
	}
	if *done < spec.Length() {
		return utils.NewError(utils.KindIntegrity, "read chunk", fmt.Errorf("%w: %d of %d bytes", errShortRead, *done, spec.Length()))
	}
	var extra [1]byte
	if n, _ := io.ReadFull(body, extra[:]); n > 0 {
		return utils.NewError(utils.KindIntegrity, "read chunk", errLongRead)
	}
	return nil
}

// copyFrom streams r to the output at offset, counting into done.
func (w *Worker) copyFrom(ctx context.Context, r io.Reader, offset int64, done *int64, watchdog *time.Timer) error {
	out := io.NewOffsetWriter(w.File, offset)
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		n, readErr := r.Read(buffer)
		if watchdog != nil {
			watchdog.Reset(w.IdleTimeout)
		}
		if n > 0 {
			if w.Limiter != nil {
				// throttled time is not idle time
				if watchdog != nil {
					watchdog.Stop()
				}
				if err := w.Limiter.WaitN(ctx, n); err != nil {
					return utils.ClassifyTransport(ctx, "rate limit", err)
				}
				if watchdog != nil {
					watchdog.Reset(w.IdleTimeout)
				}
			}
			if _, err := out.Write(buffer[:n]); err != nil {
				return writeError(err)
			}
			*done += int64(n)
			w.addBytes(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return utils.ClassifyTransport(ctx, "read", readErr)
		}
	}
}

func (w *Worker) addBytes(n int64) {
	if w.OnBytes != nil && n != 0 {
		w.OnBytes(n)
	}
}

// VerifyChunk re-checks a finished chunk against the file on disk.
func VerifyChunk(file *os.File, spec ChunkSpec, written int64) error {
	if written != spec.Length() {
		return utils.NewError(utils.KindIntegrity, "verify chunk", fmt.Errorf("chunk %d has %d of %d bytes", spec.Index, written, spec.Length()))
	}
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error checking output file: %w", err)
	}
	if info.Size() < spec.End+1 {
		return utils.NewError(utils.KindIntegrity, "verify chunk", fmt.Errorf("file ends at %d before chunk %d ends at %d", info.Size(), spec.Index, spec.End+1))
	}
	return nil
}

func writeError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return utils.NewError(utils.KindDiskSpace, "write chunk", err)
	}
	return fmt.Errorf("error writing to output file: %w", err)
}

// newLimiter returns nil for an unlimited rate.
func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := max(int(bytesPerSecond), utils.DefaultBufferSize)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}
