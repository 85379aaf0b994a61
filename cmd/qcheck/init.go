package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qcheck/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter qcheck.toml",
	Args:  cobra.MaximumNArgs(1),
	// A broken qcheck.toml must not stop init from replacing it.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing qcheck.toml")
}

func runInit(cmd *cobra.Command, args []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	path, err := config.WriteTemplate(dir, force)
	if errors.Is(err, config.ErrExists) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
