package s3

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/resume"
	"github.com/tanq16/vidzo/internal/utils"
	"golang.org/x/sync/errgroup"
)

// retryDelay is the first backoff delay for object transfers; zero keeps
// the engine default.
var retryDelay time.Duration

// downloadFolder fetches every object under prefix into job.OutputPath,
// each one as its own resumable chunked download.
func downloadFolder(ctx context.Context, client s3API, bucket, prefix string, job *utils.VidzoJob) error {
	objects, err := listS3Objects(ctx, bucket, prefix, client)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("no objects found under s3://%s/%s", bucket, prefix)
	}
	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}
	log.Info().Str("op", "s3/folder").Int("objects", len(objects)).Int64("size", totalSize).Msg("Downloading folder")

	numWorkers := max(min(job.Connections, len(objects)), 1)
	perObject := max(job.Connections/numWorkers, 1)
	agg := newAggregate(totalSize, job.ProgressFunc)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for _, obj := range objects {
		if gctx.Err() != nil {
			break
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		if rel == "" {
			rel = filepath.Base(obj.Key)
		}
		dest := filepath.Join(job.OutputPath, filepath.FromSlash(rel))
		if utils.FileExists(dest) && !resume.HasPartial(dest) {
			log.Debug().Str("op", "s3/folder").Str("file", dest).Msg("Skipping existing file")
			agg.update(obj.Key, progress.Snapshot{Downloaded: obj.Size})
			continue
		}
		g.Go(func() error {
			manager := newManager(job, func(s progress.Snapshot) { agg.update(obj.Key, s) })
			if _, err := manager.DownloadFrom(gctx, NewSource(client, bucket, obj.Key), objectRequest(job, dest, obj.Size, perObject)); err != nil {
				return fmt.Errorf("error downloading %s: %w", obj.Key, err)
			}
			log.Debug().Str("op", "s3/folder").Str("key", obj.Key).Msg("Object downloaded")
			return nil
		})
	}
	return g.Wait()
}

// aggregate folds per-object progress into one snapshot for the folder.
type aggregate struct {
	mu         sync.Mutex
	total      int64
	sum        int64
	perObject  map[string]int64
	tracker    *progress.Tracker
	onProgress func(progress.Snapshot)
}

func newAggregate(total int64, onProgress func(progress.Snapshot)) *aggregate {
	return &aggregate{
		total:      total,
		perObject:  make(map[string]int64),
		tracker:    progress.NewTracker(),
		onProgress: onProgress,
	}
}

func (a *aggregate) update(key string, s progress.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += s.Downloaded - a.perObject[key]
	a.perObject[key] = s.Downloaded
	snap := a.tracker.Update(a.sum, a.total)
	if a.onProgress != nil {
		a.onProgress(snap)
	}
}
