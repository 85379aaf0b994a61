// Package driver loads IR files and checks their units in parallel.
package driver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"qcheck/internal/check"
	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/observ"
	"qcheck/internal/source"
	"qcheck/internal/trace"
)

// Options configures a check run. The zero value checks with GOMAXPROCS
// workers, no cache and no progress reporting.
type Options struct {
	Jobs int
	// MaxDiagnostics caps the merged bag; zero means unbounded.
	MaxDiagnostics int
	// Events keeps each unit's ownership trace in its annotations.
	Events     bool
	MinVersion string
	MaxVersion string

	Cache    *DiskCache
	Progress ProgressSink
	Timer    *observ.Timer
}

// UnitOutcome is the result of one unit.
type UnitOutcome struct {
	Result      *check.Result
	Diagnostics []diag.Diagnostic
	Cached      bool
	Elapsed     time.Duration
}

// Result is the outcome of a run. Program is nil when loading failed; the
// reason is then in Bag.
type Result struct {
	Path       string
	Program    *ir.Program
	Signatures *check.Signatures
	Units      []UnitOutcome
	// Bag holds signature diagnostics first, then each unit's diagnostics in
	// unit order.
	Bag *diag.Bag
}

// Accepted reports whether no error was found.
func (r *Result) Accepted() bool {
	return r.Program != nil && !r.Bag.HasErrors()
}

// Files returns the file set spans resolve against.
func (r *Result) Files() *source.FileSet {
	if r.Program == nil || r.Program.Files == nil {
		return source.NewFileSet()
	}
	return r.Program.Files
}

// Diagnose loads the IR file at path and checks it. Load failures are
// reported as diagnostics; the returned error is reserved for cancellation.
func Diagnose(ctx context.Context, path string, opts Options) (*Result, error) {
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopePhase, "load", trace.ParentID(ctx))
	idx := opts.Timer.Begin("load")
	emit(opts.Progress, Event{Stage: StageLoad, Status: StatusWorking})

	p, err := ir.Load(path, ir.LoadOptions{
		MinVersion: opts.MinVersion,
		MaxVersion: opts.MaxVersion,
		Files:      source.NewFileSet(),
	})
	opts.Timer.End(idx, path)
	span.End(path)
	if err != nil {
		log.Debugf("load %s: %v", path, err)
		bag := diag.NewBag(opts.MaxDiagnostics)
		bag.Add(loadDiagnostic(path, err))
		return &Result{Path: path, Bag: bag}, nil
	}
	log.Debugf("loaded %s: %d ops, %d units", path, len(p.Ops), len(p.Units))

	res, err := CheckProgram(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	res.Path = path
	return res, nil
}

func loadDiagnostic(path string, err error) diag.Diagnostic {
	code := diag.IRLoadError
	switch {
	case errors.Is(err, ir.ErrVersionUnsupported):
		code = diag.IRVersionUnsupported
	case !errors.Is(err, ir.ErrDecode):
		code = diag.IOReadError
	}
	d := diag.NewError(code, source.NoSpan, err.Error())
	d.Unit = path
	return d
}

// CheckProgram builds the signature table and checks every unit of p.
// Units run on up to opts.Jobs goroutines; each owns its checker state and
// reports into its own bag, so the merged output does not depend on
// scheduling.
func CheckProgram(ctx context.Context, p *ir.Program, opts Options) (*Result, error) {
	tr := trace.FromContext(ctx)
	parent := trace.ParentID(ctx)

	sigSpan := trace.Begin(tr, trace.ScopePhase, "signatures", parent)
	idx := opts.Timer.Begin("signatures")
	emit(opts.Progress, Event{Stage: StageSignatures, Status: StatusWorking})
	sigBag := diag.NewBag(0)
	sigs := check.BuildSignatures(p, diag.BagReporter{Bag: sigBag})
	opts.Timer.End(idx, fmt.Sprintf("%d ops, %d units", len(sigs.Ops()), len(sigs.Units())))
	sigSpan.End("")

	key := ""
	if opts.Cache != nil {
		key = programKey(p, sigs)
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	for i := range p.Units {
		emit(opts.Progress, Event{Unit: p.Units[i].Name, Stage: StageCheck, Status: StatusQueued})
	}

	checkSpan := trace.Begin(tr, trace.ScopePhase, "check", parent)
	ctx = trace.WithSpan(ctx, checkSpan)
	idx = opts.Timer.Begin("check")
	emit(opts.Progress, Event{Stage: StageCheck, Status: StatusWorking})

	// Each goroutine writes only its own index.
	outcomes := make([]UnitOutcome, len(p.Units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(p.Units))))
	for i := range p.Units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = checkUnit(gctx, &p.Units[i], sigs, key, opts)
			return nil
		})
	}
	err := g.Wait()
	checkSpan.WithExtra("units", fmt.Sprint(len(p.Units))).End("")
	opts.Timer.End(idx, fmt.Sprintf("%d units, %d jobs", len(p.Units), jobs))
	if err != nil {
		return nil, err
	}

	bag := diag.NewBag(opts.MaxDiagnostics)
	bag.Merge(sigBag)
	for _, o := range outcomes {
		for _, d := range o.Diagnostics {
			bag.Add(d)
		}
	}
	return &Result{Program: p, Signatures: sigs, Units: outcomes, Bag: bag}, nil
}

func checkUnit(ctx context.Context, u *ir.Unit, sigs *check.Signatures, key string, opts Options) UnitOutcome {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeUnit, "unit:"+u.Name, trace.ParentID(ctx))
	idx := opts.Timer.Begin("check/" + u.Name)
	emit(opts.Progress, Event{Unit: u.Name, Stage: StageCheck, Status: StatusWorking})
	start := time.Now()

	var digest Digest
	if opts.Cache != nil {
		var err error
		if digest, err = UnitDigest(u, key, opts.Events); err != nil {
			log.Warnf("cache key for %s: %v", u.Name, err)
		} else if out, ok := cacheLookup(opts.Cache, digest, u.Name); ok {
			out.Elapsed = time.Since(start)
			finishUnit(opts, u.Name, &out, span, idx, StageCached)
			return out
		}
	}

	bag := diag.NewBag(0)
	res := check.CheckUnit(u, check.Options{
		Reporter:   diag.BagReporter{Bag: bag},
		Signatures: sigs,
		Events:     opts.Events,
	})
	out := UnitOutcome{Result: res, Diagnostics: bag.Items(), Elapsed: time.Since(start)}

	if opts.Cache != nil && !digest.IsZero() {
		if err := opts.Cache.Put(digest, &CachedUnit{Result: res, Diagnostics: out.Diagnostics}); err != nil {
			log.Warnf("cache write for %s: %v", u.Name, err)
			w := diag.New(diag.SevWarning, diag.IOCacheError, source.NoSpan, fmt.Sprintf("result cache not updated: %v", err))
			w.Unit = u.Name
			out.Diagnostics = append(out.Diagnostics, w)
		}
	}
	finishUnit(opts, u.Name, &out, span, idx, StageCheck)
	return out
}

func cacheLookup(c *DiskCache, key Digest, unit string) (UnitOutcome, bool) {
	var payload CachedUnit
	hit, err := c.Get(key, &payload)
	if err != nil {
		log.Warnf("cache read for %s: %v", unit, err)
		return UnitOutcome{}, false
	}
	if !hit || payload.Result == nil {
		return UnitOutcome{}, false
	}
	log.Debugf("cache hit for %s (%s)", unit, key)
	return UnitOutcome{Result: payload.Result, Diagnostics: payload.Diagnostics, Cached: true}, true
}

func finishUnit(opts Options, unit string, out *UnitOutcome, span *trace.Span, idx int, stage Stage) {
	status, detail := StatusAccepted, "accepted"
	if out.Result.Errors > 0 {
		status, detail = StatusRejected, "rejected"
	}
	if out.Cached {
		detail += " (cached)"
	}
	span.WithExtra("errors", fmt.Sprint(out.Result.Errors)).End(detail)
	opts.Timer.End(idx, detail)
	emit(opts.Progress, Event{
		Unit:    unit,
		Stage:   stage,
		Status:  status,
		Errors:  out.Result.Errors,
		Elapsed: out.Elapsed,
	})
}

// programKey extends the signature description with every declaration span,
// since notes may point at a callee's declaration.
func programKey(p *ir.Program, sigs *check.Signatures) string {
	var b strings.Builder
	b.WriteString(sigs.Describe())
	for _, op := range p.Ops {
		fmt.Fprintf(&b, "@op %s %s\n", op.Name, op.Span)
	}
	for i := range p.Units {
		fmt.Fprintf(&b, "@unit %s %s\n", p.Units[i].Name, p.Units[i].Span)
	}
	return b.String()
}
