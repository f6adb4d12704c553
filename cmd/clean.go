package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/output"
	"github.com/tanq16/vidzo/internal/resume"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH...]",
		Short: "Remove partial downloads and their resume data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dest := range args {
				status, err := resume.Inspect(dest)
				if err != nil {
					return err
				}
				if !status.HasPartial && !status.StreamPartial {
					output.PrintInfo(fmt.Sprintf("Nothing to clean for %s", dest))
					continue
				}
				if err := resume.DiscardCorrupted(dest); err != nil {
					return err
				}
				output.PrintSuccess(fmt.Sprintf("Removed partial download %s", dest))
			}
			return nil
		},
	}
}
