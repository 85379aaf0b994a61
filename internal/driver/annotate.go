package driver

import (
	"qcheck/internal/check"
	"qcheck/internal/diagfmt"
	"qcheck/internal/ir"
)

// AnnotatedDocument is what `qcheck annotate` writes: the input IR, one
// result per unit and the diagnostics. ir.Decode accepts it as input again.
type AnnotatedDocument struct {
	IR          *ir.WireProgram          `yaml:"ir" json:"ir" msgpack:"ir"`
	Accepted    bool                     `yaml:"accepted" json:"accepted" msgpack:"accepted"`
	Results     []*check.Result          `yaml:"results" json:"results" msgpack:"results"`
	Diagnostics []diagfmt.DiagnosticJSON `yaml:"diagnostics,omitempty" json:"diagnostics,omitempty" msgpack:"diagnostics,omitempty"`
}

// Annotate assembles the annotated document for a finished run. Rejected
// units keep their result but lose their annotations, which code generation
// must not consume.
func Annotate(res *Result) *AnnotatedDocument {
	doc := &AnnotatedDocument{Accepted: res.Accepted()}
	if res.Program != nil {
		doc.IR = ir.ToWire(res.Program)
	}
	for _, u := range res.Units {
		r := *u.Result
		if !r.Accepted {
			r.Annotations = nil
		}
		doc.Results = append(doc.Results, &r)
	}
	out := diagfmt.BuildDiagnosticsOutput(res.Bag, res.Files(), diagfmt.JSONOpts{
		IncludePositions: true,
		IncludeNotes:     true,
		PathMode:         diagfmt.PathModeRelative,
	})
	doc.Diagnostics = out.Diagnostics
	return doc
}
