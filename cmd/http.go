package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/media"
	"github.com/tanq16/vidzo/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath, title, quality, ext, page string

	cmd := &cobra.Command{
		Use:   "http [URL] [--output OUTPUT_PATH]",
		Short: "Download file via HTTP/HTTPS",
		Long: `Download a file over HTTP/HTTPS with parallel ranged requests.

Interrupted downloads resume from the last confirmed chunk when the same
command is run again. Servers without range support are downloaded as a
single stream.

Examples:
  vidzo http https://example.com/video.mp4
  vidzo http https://cdn.example.com/v/123 --title "My Talk" --quality 1080p --ext mp4
  vidzo http https://cdn.example.com/v/123 --page https://youtu.be/dQw4w9WgXcQ`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("http", args[0], outputPath)
			applyMediaMetadata(&job, title, quality, ext, page)
			return runJobs(cmd, []utils.VidzoJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	cmd.Flags().StringVar(&title, "title", "", "Media title used to name the file")
	cmd.Flags().StringVar(&quality, "quality", "", "Quality label for the file name (eg. 1080p, 128kbps)")
	cmd.Flags().StringVar(&ext, "ext", "", "Extension for the file name (eg. mp4)")
	cmd.Flags().StringVar(&page, "page", "", "Page the stream URL was taken from")
	return cmd
}

// applyMediaMetadata records naming hints; a YouTube page lends its video
// ID as the title when none is given.
func applyMediaMetadata(job *utils.VidzoJob, title, quality, ext, page string) {
	if page != "" && media.IsValidYouTubeURL(page) {
		if id, err := media.ExtractVideoID(page); err == nil {
			job.Metadata["videoID"] = id
			if title == "" {
				title = id
			}
		}
		if normalized, err := media.NormalizeURL(page); err == nil {
			job.Metadata["page"] = normalized
		}
		if list, ok := media.PlaylistID(page); ok {
			job.Metadata["playlist"] = list
		}
	}
	if title == "" {
		return
	}
	if ext == "" {
		ext = "mp4"
	}
	job.Metadata["title"] = title
	job.Metadata["quality"] = quality
	job.Metadata["ext"] = ext
}
