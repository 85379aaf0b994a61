package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"qcheck/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return fmt.Errorf("failed to get color flag: %w", err)
		}
		applyColor(mode)
		return nil
	},
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	info := version.Current()
	switch format {
	case "pretty":
		fmt.Fprint(cmd.OutOrStdout(), info.Pretty())
	case "json":
		data, err := info.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	default:
		return fmt.Errorf("unknown format %q (want pretty|json)", format)
	}
	return nil
}
