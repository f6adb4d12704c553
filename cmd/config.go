package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/config"
	"github.com/tanq16/vidzo/internal/output"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented sample settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath()
			if err != nil {
				return err
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Sample config written to %s", path))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the settings in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			output.PrintHeader(path)
			fmt.Print(string(data))
			for _, warning := range settings.Validate() {
				output.PrintWarning(warning)
			}
			return nil
		},
	})
	return cmd
}

func settingsPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}
