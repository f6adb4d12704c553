package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputPath string
	var profile string

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY]",
		Short: "Download files from AWS S3",
		Long: `Download files or folders from AWS S3.

Objects are fetched with parallel ranged GETs and resume like HTTP
downloads. A key ending in / downloads every object under that prefix.

Examples:
  vidzo s3 mybucket/path/to/file.zip
  vidzo s3 s3://mybucket/path/to/folder/
  vidzo s3 mybucket/file.zip --profile myprofile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("s3", s3URL(args[0]), outputPath)
			job.Metadata["profile"] = profile
			return runJobs(cmd, []utils.VidzoJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use (default credential chain when empty)")
	return cmd
}

func s3URL(arg string) string {
	if strings.HasPrefix(arg, "s3://") {
		return arg
	}
	return "s3://" + arg
}
