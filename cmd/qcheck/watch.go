package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qcheck/internal/driver"
)

var watchCmd = &cobra.Command{
	Use:   "watch [flags] [file.qir.yaml ...]",
	Short: "Re-check IR files whenever they change",
	RunE:  runWatch,
}

func init() {
	addCheckFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 200*time.Millisecond, "quiet period before re-checking")
	watchCmd.Flags().Bool("clear", false, "clear the screen before each run")
}

func runWatch(cmd *cobra.Command, args []string) error {
	s := sessionFrom(cmd)
	defer finishSession(cmd, s)

	r, err := newCheckRun(cmd, s)
	if err != nil {
		return err
	}
	files, err := inputs(s, args)
	if err != nil {
		return err
	}
	debounce, err := cmd.Flags().GetDuration("debounce")
	if err != nil {
		return fmt.Errorf("failed to get debounce flag: %w", err)
	}
	clearScreen, err := cmd.Flags().GetBool("clear")
	if err != nil {
		return fmt.Errorf("failed to get clear flag: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %d file(s); press Ctrl-C to stop\n", len(files))
	err = driver.Watch(ctx, files, debounce, func(changed []string) {
		if len(changed) > 0 {
			log.Debugf("changed: %v", changed)
		}
		if clearScreen {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		results := make([]*driver.Result, 0, len(files))
		for _, path := range files {
			res, err := driver.Diagnose(ctx, path, r.opts)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Errorf("%s: %v", path, err)
				}
				return
			}
			results = append(results, res)
		}
		if err := r.render(out, results); err != nil {
			log.Errorf("render: %v", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
