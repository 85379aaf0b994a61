package diag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"qcheck/internal/source"
)

type goldenDiagnostic struct {
	Severity string
	Code     string
	Path     string
	Line     uint32
	Column   uint32
	Message  string
}

// FormatGoldenDiagnostics renders diagnostics one per line, sorted by
// location, for golden comparisons:
//
//	error QCK3001 prog.qir:3:1 use of moved binding "q"
//
// Diagnostics without a resolvable span use their unit name as path.
func FormatGoldenDiagnostics(diags []Diagnostic, fs *source.FileSet, includeNotes bool) string {
	rendered := collect(diags, fs, includeNotes)
	sort.SliceStable(rendered, func(i, j int) bool {
		di, dj := rendered[i], rendered[j]
		if di.Path != dj.Path {
			return di.Path < dj.Path
		}
		if di.Line != dj.Line {
			return di.Line < dj.Line
		}
		if di.Column != dj.Column {
			return di.Column < dj.Column
		}
		if di.Code != dj.Code {
			return di.Code < dj.Code
		}
		return di.Message < dj.Message
	})
	return join(rendered)
}

// FormatShortDiagnostics renders diagnostics one per line in the order given.
func FormatShortDiagnostics(diags []Diagnostic, fs *source.FileSet, includeNotes bool) string {
	return join(collect(diags, fs, includeNotes))
}

func collect(diags []Diagnostic, fs *source.FileSet, includeNotes bool) []goldenDiagnostic {
	out := make([]goldenDiagnostic, 0, len(diags))
	for _, d := range diags {
		path, line, col := locate(fs, d.Primary, d.Unit)
		out = append(out, goldenDiagnostic{
			Severity: d.Severity.Label(),
			Code:     d.Code.ID(),
			Path:     path,
			Line:     line,
			Column:   col,
			Message:  sanitizeMessage(d.Message),
		})
		if !includeNotes {
			continue
		}
		for _, note := range d.Notes {
			path, line, col := locate(fs, note.Span, d.Unit)
			out = append(out, goldenDiagnostic{
				Severity: "note",
				Code:     d.Code.ID(),
				Path:     path,
				Line:     line,
				Column:   col,
				Message:  sanitizeMessage(note.Msg),
			})
		}
	}
	return out
}

func join(rendered []goldenDiagnostic) string {
	var b strings.Builder
	for i, d := range rendered {
		fmt.Fprintf(&b, "%s %s %s:%d:%d %s", d.Severity, d.Code, d.Path, d.Line, d.Column, d.Message)
		if i < len(rendered)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func locate(fs *source.FileSet, span source.Span, unit string) (path string, line, col uint32) {
	fallback := unit
	if fallback == "" {
		fallback = "<ir>"
	}
	if fs == nil {
		return fallback, 0, 0
	}
	file := fs.Get(span.File)
	if file == nil {
		return fallback, 0, 0
	}
	start, _ := fs.Resolve(span)
	return normalizePath(file.FormatPath("relative", fs.BaseDir())), start.Line, start.Col
}

func normalizePath(path string) string {
	p := filepath.ToSlash(path)
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	return p
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\r", "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}
