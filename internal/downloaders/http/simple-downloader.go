package vidzohttp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/resume"
	"github.com/tanq16/vidzo/internal/utils"
)

// downloadStream fetches the whole resource through one connection when
// ranges are unusable. total is <= 0 when unknown.
func (m *Manager) downloadStream(ctx context.Context, src RangeSource, req Request, total int64) (string, error) {
	dest := req.Destination
	if resume.HasPartial(dest) {
		log.Info().Str("op", "http/simple-downloader").Str("file", dest).Msg("Discarding chunked partial, the source no longer serves ranges")
		if err := resume.DiscardCorrupted(dest); err != nil {
			return "", m.fail(utils.NewError(utils.KindResume, "resume", err))
		}
	}
	if err := m.checkDiskSpace(dest, total); err != nil {
		return "", m.fail(err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", m.fail(fmt.Errorf("error creating output directory: %w", err))
	}
	tempPath := resume.PartPath(dest)

	m.setState(StateInFlight)
	var downloaded atomic.Int64
	m.mu.Lock()
	m.tracker.Reset(0)
	m.mu.Unlock()
	stopSampling := m.sample(&downloaded, total)
	worker := &Worker{
		Source:      src,
		Limiter:     newLimiter(m.opts.LimitRate),
		IdleTimeout: req.Timeout,
		OnBytes:     func(n int64) { downloaded.Add(n) },
	}
	_, err := utils.Retry(ctx, m.retryPolicy(req.MaxRetries), func(ctx context.Context) (struct{}, error) {
		downloaded.Store(0)
		return struct{}{}, streamAttempt(ctx, worker, tempPath, total)
	})
	stopSampling()
	if err != nil {
		if ctx.Err() != nil {
			return "", m.fail(utils.NewError(utils.KindCancelled, "download", ctx.Err()))
		}
		log.Error().Str("op", "http/simple-downloader").Err(err).Str("file", dest).Msg("Single stream download failed")
		return "", m.fail(err)
	}

	m.setState(StateFinalizing)
	if err := os.Rename(tempPath, dest); err != nil {
		return "", m.fail(fmt.Errorf("error renaming (finalizing) output file: %w", err))
	}
	size := downloaded.Load()
	m.report(size, size)
	m.setState(StateComplete)
	log.Info().Str("op", "http/simple-downloader").Str("file", dest).Str("size", humanize.IBytes(uint64(size))).Msg("Simple download successful")
	return dest, nil
}

func streamAttempt(ctx context.Context, worker *Worker, tempPath string, total int64) error {
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer outFile.Close()
	attempt := *worker
	attempt.File = outFile
	var written int64
	err = attempt.watch(ctx, func(ctx context.Context, watchdog *time.Timer) error {
		body, err := attempt.Source.Open(ctx, 0, utils.OpenEnded)
		if err != nil {
			return err
		}
		defer body.Close()
		return attempt.copyFrom(ctx, body, 0, &written, watchdog)
	})
	if err != nil {
		return err
	}
	if total > 0 && written != total {
		return utils.NewError(utils.KindIntegrity, "read stream", fmt.Errorf("received %d bytes, expected %d", written, total))
	}
	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("error syncing output file: %w", err)
	}
	return nil
}
