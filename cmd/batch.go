package cmd

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/media"
	"github.com/tanq16/vidzo/internal/utils"
	"gopkg.in/yaml.v3"
)

// BatchFile groups entries by job type:
//
//	http:
//	  - link: https://example.com/a.mp4
//	    op: a.mp4
//	s3:
//	  - link: s3://bucket/key
type BatchFile map[string][]utils.DownloadEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %v", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("error parsing YAML file: %v", err)
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in the batch file")
			}
			return runJobs(cmd, jobs)
		},
	}
	return cmd
}

func buildJobsFromBatch(batchFile BatchFile) []utils.VidzoJob {
	var jobs []utils.VidzoJob
	types := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		types = append(types, jobType)
	}
	slices.Sort(types)
	for _, jobType := range types {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			log.Warn().Str("op", "cmd/batch").Str("type", jobType).Msg("Unknown job type, skipping")
			continue
		}
		for _, entry := range batchFile[jobType] {
			if len(entry.Formats) > 0 && normalizedType == "http" {
				if err := pickFormat(&entry); err != nil {
					log.Warn().Str("op", "cmd/batch").Err(err).Str("title", entry.Title).Msg("No usable format, skipping")
					continue
				}
			}
			if entry.URL == "" {
				log.Warn().Str("op", "cmd/batch").Str("type", jobType).Msg("Empty link, skipping")
				continue
			}
			switch normalizedType {
			case "s3":
				job := newJob("s3", s3URL(entry.URL), entry.OutputPath)
				job.Metadata["profile"] = ""
				jobs = append(jobs, job)
			default:
				job := newJob("http", entry.URL, entry.OutputPath)
				applyMediaMetadata(&job, entry.Title, entry.Quality, entry.Extension, entry.Page)
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	case "s3":
		return "s3"
	}
	return ""
}

// qualityPreference is the configured default, or "audio" when audio-only
// downloads are preferred.
func qualityPreference() string {
	if settings.PreferAudioOnly {
		return "audio"
	}
	return settings.DefaultQuality
}

// pickFormat resolves an entry with several renditions to one link.
func pickFormat(entry *utils.DownloadEntry) error {
	formats := make([]media.Format, 0, len(entry.Formats))
	for _, f := range entry.Formats {
		kind := media.Video
		if f.Audio {
			kind = media.Audio
		}
		format := media.NewFormat(f.Quality, kind, f.Ext, f.Link)
		format.Bitrate = f.Bitrate
		format.Codec = f.Codec
		format.FileSize = f.Size
		formats = append(formats, format)
	}
	pref := entry.Quality
	if pref == "" {
		pref = qualityPreference()
	}
	chosen, err := media.Select(formats, pref)
	if err != nil {
		return err
	}
	log.Info().Str("op", "cmd/batch").Str("title", entry.Title).Str("format", chosen.Description()).Bool("hq", chosen.IsHighQuality()).Msg("Selected format")
	entry.URL = chosen.DownloadURL
	entry.Quality = chosen.Quality
	if chosen.Kind == media.Audio && chosen.Bitrate > 0 && chosen.Quality == "" {
		entry.Quality = fmt.Sprintf("%dkbps", chosen.Bitrate)
	}
	entry.Extension = chosen.Extension
	return nil
}
