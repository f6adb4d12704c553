package vidzohttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/config"
	"github.com/tanq16/vidzo/internal/media"
	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/resume"
	"github.com/tanq16/vidzo/internal/utils"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	StatePlanning State = iota
	StateProbing
	StateResuming
	StateInFlight
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateProbing:
		return "probing"
	case StateResuming:
		return "resuming"
	case StateInFlight:
		return "in-flight"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Request describes one download. TotalSize is 0 when unknown.
type Request struct {
	URL           string
	Destination   string
	TotalSize     int64
	ChunkSize     int64
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
}

type Options struct {
	OnProgress       func(progress.Snapshot)
	LimitRate        int64 // bytes per second shared by all chunks, 0 for unlimited
	HTTPClientConfig utils.HTTPClientConfig
	ProgressInterval time.Duration
	RetryDelay       time.Duration // first backoff delay, 100ms when zero
}

// Manager drives a single download through planning, probing, resume,
// transfer and finalization. A Manager runs one download at a time.
type Manager struct {
	opts      Options
	state     atomic.Int32
	freeSpace func(dir string) (uint64, error)

	mu       sync.Mutex
	tracker  *progress.Tracker
	reported int64
}

func NewManager(opts Options) *Manager {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 200 * time.Millisecond
	}
	return &Manager{
		opts:      opts,
		freeSpace: utils.FreeDiskSpace,
		tracker:   progress.NewTracker(),
	}
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		log.Debug().Str("op", "http/manager").Str("from", prev.String()).Str("to", s.String()).Msg("State transition")
	}
}

// fail moves to Failed and makes sure the caller gets a classified error.
func (m *Manager) fail(err error) error {
	m.setState(StateFailed)
	if de, ok := err.(*utils.DownloadError); ok {
		return de
	}
	var inner *utils.DownloadError
	if errors.As(err, &inner) {
		return &utils.DownloadError{Kind: inner.Kind, Op: "download", StatusCode: inner.StatusCode, Err: err}
	}
	return utils.NewError(utils.KindOf(err), "download", err)
}

// CanResume reports whether dest holds a trustworthy partial download and
// how many bytes of it are confirmed.
func CanResume(dest string) (bool, int64) {
	if !resume.HasPartial(dest) || !resume.Validate(dest, 0) {
		return false, 0
	}
	st, err := resume.Load(dest)
	if err != nil {
		return false, 0
	}
	return true, st.CompletedBytes()
}

// Download fetches req.URL over HTTP into req.Destination and returns the
// final path.
func (m *Manager) Download(ctx context.Context, req Request) (string, error) {
	m.setState(StatePlanning)
	parsed, err := url.Parse(req.URL)
	if err != nil || req.URL == "" {
		return "", m.fail(utils.NewError(utils.KindInvalidInput, "plan", fmt.Errorf("invalid URL %q", req.URL)))
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", m.fail(utils.NewError(utils.KindInvalidInput, "plan", fmt.Errorf("unsupported URL %q", req.URL)))
	}
	req = normalize(req)
	cfg := m.opts.HTTPClientConfig
	cfg.Timeout = req.Timeout
	cfg.HighThreadMode = cfg.HighThreadMode || req.MaxConcurrent > 5
	client := utils.NewNetworkClient(cfg, req.MaxRetries)
	if m.opts.RetryDelay > 0 {
		p := client.RetryPolicy()
		p.InitialDelay = m.opts.RetryDelay
		client.SetRetryPolicy(p)
	}
	return m.DownloadFrom(ctx, NewHTTPSource(client, req.URL), req)
}

// DownloadFrom runs the download against an arbitrary range source.
func (m *Manager) DownloadFrom(ctx context.Context, src RangeSource, req Request) (string, error) {
	m.setState(StatePlanning)
	if req.Destination == "" || !media.IsValidOutputPath(filepath.Base(req.Destination)) {
		return "", m.fail(utils.NewError(utils.KindInvalidInput, "plan", fmt.Errorf("invalid destination %q", req.Destination)))
	}
	req = normalize(req)
	m.mu.Lock()
	m.tracker = progress.NewTracker()
	m.reported = 0
	m.mu.Unlock()

	m.setState(StateProbing)
	info := src.Probe(ctx)
	if ctx.Err() != nil {
		return "", m.fail(utils.NewError(utils.KindCancelled, "probe", ctx.Err()))
	}
	total := info.TotalSize
	if total <= 0 && req.TotalSize > 0 {
		total = req.TotalSize
	} else if total > 0 && req.TotalSize > 0 && total != req.TotalSize {
		log.Warn().Str("op", "http/manager").Int64("expected", req.TotalSize).Int64("remote", total).Msg("Remote size differs from the expected size, using remote")
	}
	if !info.SupportsRanges || total <= 0 {
		log.Info().Str("op", "http/manager").Str("source", src.Location()).Msg("Range requests unavailable, using a single stream")
		return m.downloadStream(ctx, src, req, total)
	}
	return m.downloadChunked(ctx, src, req, total)
}

func (m *Manager) downloadChunked(ctx context.Context, src RangeSource, req Request, total int64) (string, error) {
	dest := req.Destination
	chunkSize := req.ChunkSize
	var st *resume.State
	if resume.HasPartial(dest) {
		if resume.Validate(dest, total) {
			m.setState(StateResuming)
			loaded, err := resume.Load(dest)
			if err == nil {
				st = loaded
				chunkSize = st.ChunkSize
				log.Info().Str("op", "http/manager").Str("file", dest).Str("confirmed", humanize.IBytes(uint64(st.CompletedBytes()))).Msg("Resuming partial download")
			}
		}
		if st == nil {
			if err := resume.DiscardCorrupted(dest); err != nil {
				return "", m.fail(utils.NewError(utils.KindResume, "resume", err))
			}
		}
	}
	fresh := st == nil
	if fresh {
		st = resume.NewState(dest, src.Location(), total, chunkSize)
	}
	confirmed := st.CompletedBytes()
	if err := m.checkDiskSpace(dest, total-confirmed); err != nil {
		return "", m.fail(err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", m.fail(fmt.Errorf("error creating output directory: %w", err))
	}
	flags := os.O_CREATE | os.O_RDWR
	if fresh {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return "", m.fail(fmt.Errorf("error opening output file: %w", err))
	}
	defer file.Close()
	if err := st.Save(); err != nil {
		return "", m.fail(fmt.Errorf("error saving resume metadata: %w", err))
	}

	m.setState(StateInFlight)
	plan := PlanChunks(total, chunkSize)
	var downloaded atomic.Int64
	downloaded.Store(confirmed)
	m.mu.Lock()
	m.tracker.Reset(confirmed)
	m.mu.Unlock()
	stopSampling := m.sample(&downloaded, total)

	worker := &Worker{
		Source:      src,
		Policy:      m.retryPolicy(req.MaxRetries),
		File:        file,
		Limiter:     newLimiter(m.opts.LimitRate),
		IdleTimeout: req.Timeout,
		OnBytes:     func(n int64) { downloaded.Add(n) },
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.MaxConcurrent)
	for _, spec := range plan.Chunks {
		rec := st.Chunk(spec.Index)
		if rec.Complete {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			written, err := worker.DownloadChunk(gctx, spec, rec.Written)
			if err == nil {
				if verr := VerifyChunk(file, spec, written); verr != nil {
					log.Warn().Str("op", "http/manager").Err(verr).Int("chunk", spec.Index).Msg("Chunk failed verification, downloading again")
					downloaded.Add(-written)
					written, err = worker.DownloadChunk(gctx, spec, 0)
					if err == nil {
						err = VerifyChunk(file, spec, written)
					}
				}
			}
			st.Record(spec.Index, written, err == nil)
			if serr := st.Save(); serr != nil {
				log.Warn().Str("op", "http/manager").Err(serr).Msg("Failed to save resume metadata")
			}
			if err != nil {
				return fmt.Errorf("chunk %d: %w", spec.Index, err)
			}
			return nil
		})
	}
	err = g.Wait()
	stopSampling()
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Str("op", "http/manager").Str("file", dest).Msg("Download cancelled, partial data kept for resume")
			return "", m.fail(utils.NewError(utils.KindCancelled, "download", ctx.Err()))
		}
		log.Error().Str("op", "http/manager").Err(err).Str("file", dest).Msg("Download failed, partial data kept for resume")
		return "", m.fail(err)
	}

	m.setState(StateFinalizing)
	if err := finalize(file, st, total); err != nil {
		file.Close()
		if derr := resume.DiscardCorrupted(dest); derr != nil {
			log.Warn().Str("op", "http/manager").Err(derr).Msg("Failed to discard corrupted download")
		}
		return "", m.fail(err)
	}
	if err := file.Close(); err != nil {
		return "", m.fail(fmt.Errorf("error closing output file: %w", err))
	}
	if err := st.Remove(); err != nil {
		log.Warn().Str("op", "http/manager").Err(err).Msg("Failed to remove resume metadata")
	}
	m.report(total, total)
	m.setState(StateComplete)
	m.mu.Lock()
	avg := m.tracker.AverageSpeed()
	m.mu.Unlock()
	log.Info().Str("op", "http/manager").Str("file", dest).Str("size", humanize.IBytes(uint64(total))).Str("avg", humanize.IBytes(uint64(avg))+"/s").Msg("Download complete")
	return dest, nil
}

func finalize(file *os.File, st *resume.State, total int64) error {
	if !st.AllComplete() {
		return utils.NewError(utils.KindIntegrity, "finalize", errors.New("not every chunk completed"))
	}
	if sum := st.CompletedBytes(); sum != total {
		return utils.NewError(utils.KindIntegrity, "finalize", fmt.Errorf("chunks hold %d bytes, expected %d", sum, total))
	}
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error checking output file: %w", err)
	}
	if info.Size() != total {
		return utils.NewError(utils.KindIntegrity, "finalize", fmt.Errorf("file is %d bytes, expected %d", info.Size(), total))
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("error syncing output file: %w", err)
	}
	return nil
}

func (m *Manager) checkDiskSpace(dest string, needed int64) error {
	if needed <= 0 {
		return nil
	}
	dir := filepath.Dir(dest)
	for {
		if _, err := os.Stat(dir); err == nil || filepath.Dir(dir) == dir {
			break
		}
		dir = filepath.Dir(dir)
	}
	free, err := m.freeSpace(dir)
	if err != nil {
		log.Warn().Str("op", "http/manager").Err(err).Msg("Could not determine free disk space")
		return nil
	}
	if free < uint64(needed) {
		return utils.NewError(utils.KindDiskSpace, "plan", fmt.Errorf("need %s, only %s free in %s", humanize.IBytes(uint64(needed)), humanize.IBytes(free), dir))
	}
	return nil
}

func (m *Manager) retryPolicy(maxRetries int) utils.RetryPolicy {
	p := utils.DefaultRetryPolicy(maxRetries)
	if m.opts.RetryDelay > 0 {
		p.InitialDelay = m.opts.RetryDelay
	}
	return p
}

// sample feeds the tracker from the shared counter until stopped.
func (m *Manager) sample(counter *atomic.Int64, total int64) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(m.opts.ProgressInterval)
		defer ticker.Stop()
		m.report(counter.Load(), total)
		for {
			select {
			case <-done:
				m.report(counter.Load(), total)
				return
			case <-ticker.C:
				m.report(counter.Load(), total)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// report publishes a snapshot; progress never moves backwards even when a
// chunk has to be fetched again.
func (m *Manager) report(downloaded, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if downloaded < m.reported {
		downloaded = m.reported
	}
	m.reported = downloaded
	snap := m.tracker.Update(downloaded, max(total, 0))
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(snap)
	}
}

func normalize(req Request) Request {
	var warnings []string
	var w []string
	req.ChunkSize, w = config.ClampChunkSize(req.ChunkSize)
	warnings = append(warnings, w...)
	req.MaxConcurrent, w = config.ClampConcurrency(req.MaxConcurrent)
	warnings = append(warnings, w...)
	req.MaxRetries, w = config.ClampRetries(req.MaxRetries)
	warnings = append(warnings, w...)
	req.Timeout, w = config.ClampTimeout(req.Timeout)
	warnings = append(warnings, w...)
	for _, warning := range warnings {
		log.Warn().Str("op", "http/manager").Msg(warning)
	}
	return req
}
