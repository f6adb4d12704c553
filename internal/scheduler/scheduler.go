package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	vidzohttp "github.com/tanq16/vidzo/internal/downloaders/http"
	"github.com/tanq16/vidzo/internal/downloaders/s3"
	"github.com/tanq16/vidzo/internal/output"
	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/utils"
)

// downloaderRegistry maps job types to their respective downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"http": &vidzohttp.HTTPDownloader{},
	"s3":   &s3.S3Downloader{},
}

// Display is what the scheduler reports job progress to.
type Display interface {
	StartDisplay()
	StopDisplay()
	Register(label string) int
	SetMessage(id int, message string)
	UpdateProgress(id int, s progress.Snapshot)
	Complete(id int, message string)
	ReportError(id int, err error)
}

// Run executes the jobs on numWorkers workers and returns an error when
// any of them failed.
func Run(ctx context.Context, jobs []utils.VidzoJob, numWorkers int) error {
	return run(ctx, jobs, numWorkers, output.NewManager(), downloaderRegistry)
}

func run(ctx context.Context, jobs []utils.VidzoJob, numWorkers int, display Display, registry map[string]utils.Downloader) error {
	display.StartDisplay()
	defer display.StopDisplay()

	jobCh := make(chan *utils.VidzoJob, len(jobs))
	for i := range jobs {
		jobCh <- &jobs[i]
	}
	close(jobCh)

	var mu sync.Mutex
	failed := 0
	var wg sync.WaitGroup
	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := processJob(ctx, job, display, registry); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return utils.NewError(utils.KindCancelled, "scheduler", ctx.Err())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
	}
	return nil
}

func processJob(ctx context.Context, job *utils.VidzoJob, display Display, registry map[string]utils.Downloader) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	label := job.OutputPath
	if label == "" {
		label = job.URL
	}
	id := display.Register(label)
	logger := log.With().Str("op", "scheduler").Str("job", job.ID).Logger()

	fail := func(err error) error {
		logger.Error().Err(err).Msg("Job failed")
		display.ReportError(id, err)
		return err
	}
	if ctx.Err() != nil {
		return fail(utils.NewError(utils.KindCancelled, "scheduler", ctx.Err()))
	}
	downloader, exists := registry[job.JobType]
	if !exists {
		return fail(utils.NewError(utils.KindInvalidInput, "scheduler", fmt.Errorf("unknown job type: %s", job.JobType)))
	}

	display.SetMessage(id, fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(job); err != nil {
		return fail(fmt.Errorf("validation failed: %w", err))
	}
	display.SetMessage(id, fmt.Sprintf("Preparing %s", label))
	if err := downloader.BuildJob(ctx, job); err != nil {
		return fail(fmt.Errorf("build failed: %w", err))
	}

	name := filepath.Base(job.OutputPath)
	display.SetMessage(id, fmt.Sprintf("Downloading %s", name))
	job.ProgressFunc = func(s progress.Snapshot) {
		display.UpdateProgress(id, s)
	}
	logger.Debug().Str("url", job.URL).Str("output", job.OutputPath).Msg("Starting download")
	if err := downloader.Download(ctx, job); err != nil {
		return fail(err)
	}
	display.Complete(id, fmt.Sprintf("Downloaded %s", job.OutputPath))
	return nil
}
