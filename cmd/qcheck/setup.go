package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qcheck/internal/config"
	"qcheck/internal/observ"
	"qcheck/internal/trace"
)

// session is the per-invocation state shared by the subcommands.
type session struct {
	cfg     *config.Config
	timer   *observ.Timer
	tracer  trace.Tracer
	span    *trace.Span
	timings bool
}

type sessionKey struct{}

func sessionFrom(cmd *cobra.Command) *session {
	if s, ok := cmd.Context().Value(sessionKey{}).(*session); ok {
		return s
	}
	return &session{cfg: ptr(config.Default()), tracer: trace.Nop}
}

func ptr[T any](v T) *T { return &v }

func setupRun(cmd *cobra.Command, _ []string) error {
	pf := cmd.Root().PersistentFlags()

	verbose, err := pf.GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	dir, err := pf.GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		log.Debugf("using %s", cfg.Path)
	}
	if err := applyRootFlags(cmd, cfg); err != nil {
		return err
	}
	applyColor(cfg.Check.Color)

	s := &session{cfg: cfg, timer: observ.NewTimer()}
	if s.timings, err = pf.GetBool("timings"); err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if s.tracer, err = setupTracing(cmd, cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = trace.WithTracer(ctx, s.tracer)
	s.span = trace.Begin(s.tracer, trace.ScopeDriver, "qcheck "+cmd.Name(), 0)
	ctx = trace.WithSpan(ctx, s.span)
	cmd.SetContext(context.WithValue(ctx, sessionKey{}, s))
	return nil
}

// finishSession closes the driver span, prints timings and flushes the
// tracer. Commands defer it so it also runs when they fail.
func finishSession(cmd *cobra.Command, s *session) {
	if s.span != nil {
		s.span.End("")
		s.span = nil
	}
	if s.timings && s.timer != nil {
		fmt.Fprint(cmd.ErrOrStderr(), s.timer.Summary())
		s.timings = false
	}
	if s.tracer == nil {
		return
	}
	if err := s.tracer.Flush(); err != nil {
		log.Warnf("trace: flush: %v", err)
	}
	if err := s.tracer.Close(); err != nil {
		log.Warnf("trace: close: %v", err)
	}
	s.tracer = nil
}

// applyRootFlags lays explicitly set flags over the loaded config.
func applyRootFlags(cmd *cobra.Command, cfg *config.Config) error {
	pf := cmd.Root().PersistentFlags()
	if pf.Changed("color") {
		v, _ := pf.GetString("color") //nolint:errcheck
		cfg.Check.Color = v
	}
	if pf.Changed("max-diagnostics") {
		v, _ := pf.GetInt("max-diagnostics") //nolint:errcheck
		cfg.Check.MaxDiagnostics = v
	}
	if pf.Changed("trace-level") {
		v, _ := pf.GetString("trace-level") //nolint:errcheck
		cfg.Trace.Level = v
	}
	if pf.Changed("trace-mode") {
		v, _ := pf.GetString("trace-mode") //nolint:errcheck
		cfg.Trace.Mode = v
	}
	if pf.Changed("trace") {
		v, _ := pf.GetString("trace") //nolint:errcheck
		cfg.Trace.Output = v
		if !pf.Changed("trace-level") && cfg.Trace.Level == "off" {
			cfg.Trace.Level = "unit"
		}
	}
	return cfg.Validate()
}

func applyColor(mode string) {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	}
}

func setupTracing(cmd *cobra.Command, cfg *config.Config) (trace.Tracer, error) {
	level, err := trace.ParseLevel(cfg.Trace.Level)
	if err != nil {
		return nil, err
	}
	if level == trace.LevelOff {
		return trace.Nop, nil
	}
	mode, err := trace.ParseMode(cfg.Trace.Mode)
	if err != nil {
		return nil, err
	}
	ringSize, err := cmd.Root().PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	tr, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: cfg.Trace.Output,
		RingSize:   ringSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	return tr, nil
}

// dumpTrace writes the ring buffer to stderr after a failed run.
func dumpTrace(cmd *cobra.Command, s *session) {
	var ring *trace.RingTracer
	switch tr := s.tracer.(type) {
	case *trace.RingTracer:
		ring = tr
	case *trace.MultiTracer:
		ring = tr.Ring()
	}
	if ring == nil {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "--- trace ---")
	if err := ring.Dump(cmd.ErrOrStderr(), trace.FormatText); err != nil {
		log.Warnf("trace: dump: %v", err)
	}
}
