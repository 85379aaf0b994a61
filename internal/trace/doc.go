// Package trace records what the qcheck driver is doing.
//
// Spans bracket the driver run, each phase (load, signatures, check, render)
// and each checked unit. Events go to a stream (text or NDJSON), to an
// in-memory ring that can be dumped after a failure, or to both.
//
//	tr, _ := trace.New(trace.Config{Level: trace.LevelUnit, Mode: trace.ModeStream})
//	ctx = trace.WithTracer(ctx, tr)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePhase, "check", 0)
//	defer span.End("")
//
// The checker core never traces; only the driver and the CLI do.
package trace
