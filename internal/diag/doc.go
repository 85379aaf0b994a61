// Package diag defines the diagnostic model shared by the IR loader, the
// ownership checker and the driver.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity – Info, Warning or Error. Every checker finding is an Error;
//     the lower tiers exist for driver notices only.
//   - Code – compact numeric identifier with a stable string form (QCK3001).
//   - Unit – the analysis unit the finding belongs to, if any.
//   - Subject – the offending binding and/or resource.
//   - Primary – the source.Span pointing at the node that failed.
//   - Notes – secondary spans that add context ("moved here").
//
// # Emitting diagnostics
//
// Producers talk to a Reporter. ReportError returns a ReportBuilder that
// collects notes and a subject before Emit. BagReporter stores everything
// in a Bag; NopReporter drops it.
//
// Package diag performs no formatting or IO. Rendering lives in
// internal/diagfmt.
package diag
