package vidzohttp

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/media"
	"github.com/tanq16/vidzo/internal/resume"
	"github.com/tanq16/vidzo/internal/utils"
)

type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(job *utils.VidzoJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return invalid(fmt.Errorf("invalid URL: %v", err))
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return invalid(fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme))
	}
	if parsedURL.Host == "" {
		return invalid(fmt.Errorf("URL has no host: %s", job.URL))
	}
	if job.OutputPath != "" && !media.IsValidOutputPath(filepath.Base(job.OutputPath)) {
		return invalid(fmt.Errorf("invalid output path: %s", job.OutputPath))
	}
	return nil
}

func invalid(err error) error {
	return utils.NewError(utils.KindInvalidInput, "validate", err)
}

func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.VidzoJob) error {
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	client := utils.NewNetworkClient(job.HTTPClientConfig, job.MaxRetries)
	info := client.FetchHead(ctx, job.URL)
	if ctx.Err() != nil {
		return utils.NewError(utils.KindCancelled, "build", ctx.Err())
	}

	if job.OutputPath == "" {
		job.OutputPath = outputName(job, info)
	}
	if dir, ok := job.Metadata["outputDir"].(string); ok && dir != "" && !filepath.IsAbs(job.OutputPath) {
		job.OutputPath = filepath.Join(dir, job.OutputPath)
	}

	// Check existing file
	if resume.HasPartial(job.OutputPath) && !autoResume(job) {
		if err := resume.DiscardCorrupted(job.OutputPath); err != nil {
			return err
		}
	}
	if resume.HasPartial(job.OutputPath) {
		log.Debug().Str("op", "http/initial").Str("file", job.OutputPath).Msg("Found partial download, keeping path for resume")
	} else if existingFile, err := os.Stat(job.OutputPath); err == nil {
		if info.TotalSize > 0 && existingFile.Size() == info.TotalSize {
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}

	job.Metadata["fileSize"] = info.TotalSize
	job.Metadata["rangeSupported"] = info.SupportsRanges
	WarnIfLarge(job, info.TotalSize)
	return nil
}

// autoResume is true unless the job explicitly turned it off.
func autoResume(job *utils.VidzoJob) bool {
	v, ok := job.Metadata["autoResume"].(bool)
	return !ok || v
}

// WarnIfLarge logs when a download crosses the job's size threshold.
func WarnIfLarge(job *utils.VidzoJob, size int64) {
	threshold, ok := job.Metadata["largeThreshold"].(int64)
	if !ok || threshold <= 0 || size <= threshold {
		return
	}
	log.Warn().Str("op", "http/initial").Str("file", job.OutputPath).
		Str("size", humanize.IBytes(uint64(size))).
		Str("threshold", humanize.IBytes(uint64(threshold))).
		Msg("Large download")
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.VidzoJob) error {
	fileSize, _ := job.Metadata["fileSize"].(int64)
	manager := NewManager(Options{
		OnProgress:       job.ProgressFunc,
		LimitRate:        job.LimitRate,
		HTTPClientConfig: job.HTTPClientConfig,
	})
	_, err := manager.Download(ctx, Request{
		URL:           job.URL,
		Destination:   job.OutputPath,
		TotalSize:     max(fileSize, 0),
		ChunkSize:     job.ChunkSize,
		MaxConcurrent: job.Connections,
		MaxRetries:    job.MaxRetries,
		Timeout:       job.HTTPClientConfig.Timeout,
	})
	return err
}

// outputName prefers "Title [quality].ext" when the job carries media
// metadata, then the server's filename, then the URL path.
func outputName(job *utils.VidzoJob, info utils.HeadInfo) string {
	if title, ok := job.Metadata["title"].(string); ok && title != "" {
		quality, _ := job.Metadata["quality"].(string)
		ext, _ := job.Metadata["ext"].(string)
		return media.GenerateFilename(title, media.Format{Quality: quality, Extension: ext})
	}
	if info.FileName != "" {
		return info.FileName
	}
	return media.SanitizeFilename(utils.NameFromURL(job.URL))
}
