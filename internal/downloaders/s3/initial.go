package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	vidzohttp "github.com/tanq16/vidzo/internal/downloaders/http"
	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/resume"
	"github.com/tanq16/vidzo/internal/utils"
)

type S3Downloader struct {
	// newClient is swapped in tests.
	newClient func(ctx context.Context, profile, bucket string) (s3API, error)
}

func (d *S3Downloader) client(ctx context.Context, job *utils.VidzoJob) (s3API, error) {
	bucket, _ := job.Metadata["bucket"].(string)
	profile, _ := job.Metadata["profile"].(string)
	if d.newClient != nil {
		return d.newClient(ctx, profile, bucket)
	}
	return getS3Client(ctx, profile, bucket)
}

func (d *S3Downloader) ValidateJob(job *utils.VidzoJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return utils.NewError(utils.KindInvalidInput, "validate", err)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	if _, ok := job.Metadata["profile"]; !ok {
		job.Metadata["profile"] = ""
	}
	job.Metadata["bucket"] = bucket
	job.Metadata["key"] = key
	log.Info().Str("op", "s3/initial").Msgf("job validated for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) BuildJob(ctx context.Context, job *utils.VidzoJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	client, err := d.client(ctx, job)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}

	// Check if it's a file or folder
	fileType, size, err := getS3ObjectInfo(ctx, bucket, key, client)
	if err != nil {
		return fmt.Errorf("error getting S3 object info: %v", err)
	}
	job.Metadata["fileType"] = fileType
	job.Metadata["size"] = size
	log.Debug().Str("op", "s3/initial").Msgf("Determined object type: %s, size: %d", fileType, size)

	if job.OutputPath == "" {
		parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
		job.OutputPath = parts[len(parts)-1]
		if job.OutputPath == "" {
			job.OutputPath = bucket
		}
	}
	if dir, ok := job.Metadata["outputDir"].(string); ok && dir != "" && !filepath.IsAbs(job.OutputPath) {
		job.OutputPath = filepath.Join(dir, job.OutputPath)
	}

	switch {
	case fileType == "folder":
		// Existing folders are reused so interrupted objects resume in place.
	case resume.HasPartial(job.OutputPath):
		log.Debug().Str("op", "s3/initial").Str("file", job.OutputPath).Msg("Found partial download, keeping path for resume")
	case utils.FileExists(job.OutputPath):
		if info, err := os.Stat(job.OutputPath); err == nil && info.Size() == size {
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	vidzohttp.WarnIfLarge(job, size)
	log.Info().Str("op", "s3/initial").Msgf("job built for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) Download(ctx context.Context, job *utils.VidzoJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	fileType, _ := job.Metadata["fileType"].(string)
	client, err := d.client(ctx, job)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}
	if fileType == "folder" {
		return downloadFolder(ctx, client, bucket, key, job)
	}
	size, _ := job.Metadata["size"].(int64)
	_, err = newManager(job, job.ProgressFunc).DownloadFrom(ctx, NewSource(client, bucket, key), objectRequest(job, job.OutputPath, size, job.Connections))
	return err
}

func newManager(job *utils.VidzoJob, onProgress func(progress.Snapshot)) *vidzohttp.Manager {
	return vidzohttp.NewManager(vidzohttp.Options{
		OnProgress: onProgress,
		LimitRate:  job.LimitRate,
		RetryDelay: retryDelay,
	})
}

func objectRequest(job *utils.VidzoJob, dest string, size int64, connections int) vidzohttp.Request {
	return vidzohttp.Request{
		URL:           job.URL,
		Destination:   dest,
		TotalSize:     max(size, 0),
		ChunkSize:     job.ChunkSize,
		MaxConcurrent: connections,
		MaxRetries:    job.MaxRetries,
		Timeout:       job.HTTPClientConfig.Timeout,
	}
}
