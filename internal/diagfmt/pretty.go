package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"qcheck/internal/diag"
	"qcheck/internal/source"
)

type palette struct {
	err, warn, info *color.Color
	code, loc, note *color.Color
	gutter, msg     *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:    color.New(color.FgRed, color.Bold),
		warn:   color.New(color.FgYellow, color.Bold),
		info:   color.New(color.FgCyan),
		code:   color.New(color.FgMagenta),
		loc:    color.New(color.Bold),
		note:   color.New(color.FgCyan, color.Bold),
		gutter: color.New(color.FgBlue),
		msg:    color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.info, p.code, p.loc, p.note, p.gutter, p.msg} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	}
	return p.info
}

// Pretty renders the bag in order:
//
//	prog.qir.yaml:7:9: ERROR QCK3001: use of moved binding "q" [unit main]
//	  7 |       - {op: measure, args: [q]}
//	    |         ^^^^^^^^^^^^^^^^^^^^^^^^^^
//	  note: prog.qir.yaml:5:9: moved here
//
// Diagnostics without a position print their unit (or file) instead.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	if fs == nil {
		fs = source.NewFileSet()
	}
	p := newPalette(opts.Color)
	for i, d := range bag.Items() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writePretty(w, d, fs, opts, p)
	}
	if n := bag.Dropped(); n > 0 {
		fmt.Fprintf(w, "\n... %d more diagnostic(s) not shown\n", n)
	}
}

func writePretty(w io.Writer, d diag.Diagnostic, fs *source.FileSet, opts PrettyOpts, p palette) {
	sev := p.severity(d.Severity)
	fmt.Fprintf(w, "%s: %s %s: %s",
		p.loc.Sprint(location(d.Primary, fs, opts.PathMode, d.Unit)),
		sev.Sprint(d.Severity.String()),
		p.code.Sprint(d.Code.ID()),
		p.msg.Sprint(d.Message))
	if d.Unit != "" && fs.Get(d.Primary.File) != nil {
		fmt.Fprintf(w, " [unit %s]", d.Unit)
	}
	fmt.Fprintln(w)
	writeContext(w, d.Primary, fs, int(opts.Context), p, sev)

	if !opts.ShowNotes {
		return
	}
	for _, n := range d.Notes {
		fmt.Fprintf(w, "  %s %s: %s\n", p.note.Sprint("note:"), location(n.Span, fs, opts.PathMode, d.Unit), n.Msg)
	}
}

// writeContext prints the lines around span and underlines the span on its
// first line.
func writeContext(w io.Writer, span source.Span, fs *source.FileSet, context int, p palette, mark *color.Color) {
	f := fs.Get(span.File)
	if f == nil {
		return
	}
	start, end := fs.Resolve(span)
	if start.Line == 0 {
		return
	}
	first := max(1, int(start.Line)-context)
	last := min(len(f.LineIdx)+1, int(start.Line)+context)
	width := len(fmt.Sprint(last))

	for ln := first; ln <= last; ln++ {
		text := f.GetLine(uint32(ln)) // #nosec G115 -- bounded by the line index
		if ln > int(start.Line) && text == "" && ln == last {
			break
		}
		fmt.Fprintf(w, "  %s %s\n", p.gutter.Sprintf("%*d |", width, ln), text)
		if ln != int(start.Line) {
			continue
		}
		col := max(1, min(int(start.Col), len(text)+1))
		prefix := text[:col-1]
		n := len(text) - len(prefix)
		if end.Line == start.Line && end.Col > start.Col {
			n = min(n, int(end.Col-start.Col))
		}
		underline := strings.Repeat("^", max(1, runewidth.StringWidth(text[len(prefix):len(prefix)+n])))
		fmt.Fprintf(w, "  %s %s%s\n", p.gutter.Sprintf("%*s |", width, ""), padding(prefix), mark.Sprint(underline))
	}
}

// padding blanks out prefix, keeping tabs so the caret lines up.
func padding(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		if r == '\t' {
			b.WriteByte('\t')
			continue
		}
		b.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
	}
	return b.String()
}
