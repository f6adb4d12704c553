package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/output"
	"github.com/tanq16/vidzo/internal/resume"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [OUTPUT_PATH...]",
		Short: "Show whether downloads can be resumed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dest := range args {
				status, err := resume.Inspect(dest)
				if err != nil {
					return err
				}
				printStatus(status)
			}
			return nil
		},
	}
}

func printStatus(s resume.Status) {
	output.PrintHeader(s.Destination)
	switch {
	case s.HasPartial && s.Valid:
		output.PrintSuccess(fmt.Sprintf("  Resumable: %s of %s confirmed (%d/%d chunks)",
			humanize.IBytes(uint64(s.ConfirmedBytes)), humanize.IBytes(uint64(s.TotalSize)), s.ChunksComplete, s.ChunksTotal))
		output.PrintDetail(fmt.Sprintf("  Source: %s", s.Source))
		output.PrintDetail(fmt.Sprintf("  Last update: %s", humanize.Time(s.UpdatedAt)))
	case s.HasPartial:
		output.PrintWarning("  Partial download is inconsistent and will be restarted; run 'vidzo clean' to remove it")
	case s.StreamPartial:
		output.PrintWarning("  Single-stream download in progress; it cannot be resumed and will restart")
	default:
		output.PrintInfo("  No partial download")
	}
}
