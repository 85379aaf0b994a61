package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qcheck/internal/diagfmt"
	"qcheck/internal/driver"
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] [file.qir.yaml ...]",
	Short: "Check IR files and report diagnostics",
	Long: `Check every unit of the given IR files (YAML, JSON or msgpack). Without
arguments the files listed under [ir].files in qcheck.toml are checked.
The exit status is non-zero when any error is reported.`,
	RunE: runCheck,
}

func init() {
	addCheckFlags(checkCmd)
	checkCmd.Flags().String("ui", "auto", "live progress view (auto|on|off)")
	checkCmd.Flags().Bool("with-notes", true, "include diagnostic notes")
	checkCmd.Flags().Int("context", 1, "source lines shown around each diagnostic")
	checkCmd.Flags().Bool("fullpath", false, "print absolute file paths")
}

// addCheckFlags registers the flags shared by check, annotate and watch.
func addCheckFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "", "output format (pretty|json|short)")
	cmd.Flags().IntP("jobs", "j", 0, "parallel unit checks (0 = GOMAXPROCS)")
	cmd.Flags().Bool("cache", false, "reuse results of unchanged units across runs")
}

type checkRun struct {
	opts     driver.Options
	format   string
	notes    bool
	context  int
	pathMode diagfmt.PathMode
}

func newCheckRun(cmd *cobra.Command, s *session) (*checkRun, error) {
	cfg := s.cfg
	flags := cmd.Flags()
	if flags.Changed("format") {
		v, _ := flags.GetString("format") //nolint:errcheck
		cfg.Check.Format = v
	}
	if flags.Changed("jobs") {
		v, _ := flags.GetInt("jobs") //nolint:errcheck
		cfg.Check.Jobs = v
	}
	if flags.Changed("cache") {
		v, _ := flags.GetBool("cache") //nolint:errcheck
		cfg.Check.Cache = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &checkRun{
		format:   cfg.Check.Format,
		notes:    true,
		context:  1,
		pathMode: diagfmt.PathModeRelative,
		opts: driver.Options{
			Jobs:           cfg.Check.Jobs,
			MaxDiagnostics: cfg.Check.MaxDiagnostics,
			MinVersion:     cfg.IR.MinVersion,
			MaxVersion:     cfg.IR.MaxVersion,
			Timer:          s.timer,
		},
	}
	if flags.Lookup("with-notes") != nil {
		r.notes, _ = flags.GetBool("with-notes") //nolint:errcheck
		r.context, _ = flags.GetInt("context")   //nolint:errcheck
		if full, _ := flags.GetBool("fullpath"); full { //nolint:errcheck
			r.pathMode = diagfmt.PathModeAbsolute
		}
	}
	if cfg.Check.Cache {
		cache, err := driver.OpenDiskCache("qcheck")
		if err != nil {
			log.Warnf("result cache disabled: %v", err)
		} else {
			log.Debugf("result cache at %s", cache.Dir())
			r.opts.Cache = cache
		}
	}
	return r, nil
}

// inputs returns args, or the configured IR files when args is empty.
func inputs(s *session, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	files := s.cfg.IRFiles()
	if len(files) == 0 {
		return nil, fmt.Errorf("no IR files given and no [ir].files in %s", configName(s))
	}
	return files, nil
}

func configName(s *session) string {
	if s.cfg.Path != "" {
		return s.cfg.Path
	}
	return "qcheck.toml"
}

func runCheck(cmd *cobra.Command, args []string) error {
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
	uiValue, _ := cmd.Flags().GetString("ui") //nolint:errcheck
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	results := make([]*driver.Result, 0, len(files))
	for _, path := range files {
		var res *driver.Result
		if shouldUseTUI(mode) && r.format == "pretty" {
			res, err = r.diagnoseWithUI(cmd.Context(), path)
		} else {
			res, err = driver.Diagnose(cmd.Context(), path, r.opts)
		}
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if err := r.render(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	for _, res := range results {
		if !res.Accepted() {
			dumpTrace(cmd, s)
			return errRejected
		}
	}
	return nil
}

func (r *checkRun) diagnoseWithUI(ctx context.Context, path string) (*driver.Result, error) {
	p, err := ir.Load(path, ir.LoadOptions{
		MinVersion: r.opts.MinVersion,
		MaxVersion: r.opts.MaxVersion,
		Files:      source.NewFileSet(),
	})
	if err != nil {
		// Diagnose turns the load failure into a diagnostic.
		return driver.Diagnose(ctx, path, r.opts)
	}
	units := make([]string, len(p.Units))
	for i := range p.Units {
		units[i] = p.Units[i].Name
	}

	events := make(chan driver.Event, 256)
	type outcome struct {
		res *driver.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer close(events)
		opts := r.opts
		opts.Progress = driver.ChannelSink{Ch: events}
		res, err := driver.CheckProgram(ctx, p, opts)
		if res != nil {
			res.Path = path
		}
		done <- outcome{res, err}
	}()

	if err := runProgress("checking "+path, units, events); err != nil {
		log.Warnf("progress view: %v", err)
	}
	// The view may quit early; keep the producer unblocked.
	for range events {
	}
	out := <-done
	return out.res, out.err
}

func (r *checkRun) render(w io.Writer, results []*driver.Result) error {
	switch r.format {
	case "json":
		return r.renderJSON(w, results)
	case "short":
		for _, res := range results {
			if err := diagfmt.Short(w, res.Bag, res.Files(), r.notes); err != nil {
				return err
			}
		}
		return nil
	}
	for i, res := range results {
		if i > 0 && res.Bag.Len() > 0 {
			fmt.Fprintln(w)
		}
		diagfmt.Pretty(w, res.Bag, res.Files(), diagfmt.PrettyOpts{
			Color:     colorEnabled(),
			Context:   int8(min(max(r.context, 0), 16)), // #nosec G115 -- clamped
			PathMode:  r.pathMode,
			ShowNotes: r.notes,
		})
		fmt.Fprintln(w, summaryLine(res))
	}
	return nil
}

type jsonFileReport struct {
	Path     string                    `json:"path"`
	Accepted bool                      `json:"accepted"`
	Units    []jsonUnitReport          `json:"units"`
	Output   diagfmt.DiagnosticsOutput `json:"diagnostics"`
}

type jsonUnitReport struct {
	Unit     string  `json:"unit"`
	Accepted bool    `json:"accepted"`
	Errors   int     `json:"errors"`
	Cached   bool    `json:"cached,omitempty"`
	Millis   float64 `json:"ms"`
}

func (r *checkRun) renderJSON(w io.Writer, results []*driver.Result) error {
	reports := make([]jsonFileReport, 0, len(results))
	for _, res := range results {
		rep := jsonFileReport{
			Path:     res.Path,
			Accepted: res.Accepted(),
			Units:    make([]jsonUnitReport, 0, len(res.Units)),
			Output: diagfmt.BuildDiagnosticsOutput(res.Bag, res.Files(), diagfmt.JSONOpts{
				IncludePositions: true,
				IncludeNotes:     r.notes,
				PathMode:         r.pathMode,
			}),
		}
		for _, u := range res.Units {
			rep.Units = append(rep.Units, jsonUnitReport{
				Unit:     u.Result.Unit,
				Accepted: u.Result.Accepted,
				Errors:   u.Result.Errors,
				Cached:   u.Cached,
				Millis:   float64(u.Elapsed.Microseconds()) / 1000,
			})
		}
		reports = append(reports, rep)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func summaryLine(res *driver.Result) string {
	if res.Program == nil {
		return fmt.Sprintf("%s: not checked", res.Path)
	}
	rejected := 0
	for _, u := range res.Units {
		if !u.Result.Accepted {
			rejected++
		}
	}
	if rejected == 0 && res.Accepted() {
		return fmt.Sprintf("%s: %d unit(s) accepted", res.Path, len(res.Units))
	}
	return fmt.Sprintf("%s: %d of %d unit(s) rejected, %d diagnostic(s)", res.Path, rejected, len(res.Units), res.Bag.Len()+res.Bag.Dropped())
}
