package diagfmt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"qcheck/internal/diag"
	"qcheck/internal/source"
)

const progYAML = `units:
  - name: main
    body:
      - {op: alloc, results: [q]}
      - {op: move, from: q, to: r}
      - {op: measure, args: [q]}
`

func sampleBag() (*diag.Bag, *source.FileSet) {
	fs := source.NewFileSet()
	fs.SetBaseDir("/work")
	file := fs.AddVirtual("/work/ir/prog.qir.yaml", []byte(progYAML))
	moveAt := strings.Index(progYAML, "{op: move")
	useAt := strings.Index(progYAML, "{op: measure")

	bag := diag.NewBag(0)
	d := diag.NewError(diag.UseAfterMove, source.SpanOf(file, useAt, useAt+24), `use of moved binding "q"`).
		WithNote(source.SpanOf(file, moveAt, moveAt+28), "moved here")
	d.Unit = "main"
	d.Subject = diag.Subject{Binding: "q", Resource: 1}
	bag.Add(d)

	load := diag.NewError(diag.IRLoadError, source.NoSpan, "malformed IR")
	load.Unit = "other.qir.yaml"
	bag.Add(load)
	return bag, fs
}

func TestPrettyRendersContextAndNotes(t *testing.T) {
	bag, fs := sampleBag()
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{PathMode: PathModeRelative, ShowNotes: true})
	out := buf.String()

	for _, want := range []string{
		`ir/prog.qir.yaml:6:9: ERROR QCK3001: use of moved binding "q" [unit main]`,
		"  6 |       - {op: measure, args: [q]}",
		"    |         " + strings.Repeat("^", 24) + "\n",
		"  note: ir/prog.qir.yaml:5:9: moved here",
		"other.qir.yaml: ERROR QIR1001: malformed IR",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output misses %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colour escapes without Color:\n%s", out)
	}
}

func TestPrettyContextLines(t *testing.T) {
	bag, fs := sampleBag()
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{PathMode: PathModeBasename, Context: 1})
	out := buf.String()
	if !strings.Contains(out, "prog.qir.yaml:6:9") || !strings.Contains(out, "  5 |       - {op: move") {
		t.Fatalf("expected one line of leading context:\n%s", out)
	}
	if strings.Contains(out, "note:") {
		t.Fatalf("notes shown without ShowNotes:\n%s", out)
	}
}

func TestPrettyColour(t *testing.T) {
	bag, fs := sampleBag()
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{Color: true})
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected colour escapes:\n%q", buf.String())
	}
}

func TestPrettyReportsDropped(t *testing.T) {
	bag := diag.NewBag(1)
	bag.Add(diag.NewError(diag.UseAfterMove, source.NoSpan, "a"))
	bag.Add(diag.NewError(diag.UseAfterMove, source.NoSpan, "b"))
	var buf bytes.Buffer
	Pretty(&buf, bag, nil, PrettyOpts{})
	if !strings.Contains(buf.String(), "1 more diagnostic(s) not shown") {
		t.Fatalf("missing overflow line:\n%s", buf.String())
	}
}

func TestJSON(t *testing.T) {
	bag, fs := sampleBag()
	var buf bytes.Buffer
	if err := JSON(&buf, bag, fs, JSONOpts{IncludePositions: true, IncludeNotes: true, PathMode: PathModeBasename}); err != nil {
		t.Fatal(err)
	}
	var out DiagnosticsOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if out.Count != 2 || len(out.Diagnostics) != 2 {
		t.Fatalf("count = %d", out.Count)
	}
	d := out.Diagnostics[0]
	if d.Code != "QCK3001" || d.Name != "UseAfterMove" || d.Severity != "error" || d.Binding != "q" || d.Unit != "main" {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
	if d.Location.File != "prog.qir.yaml" || d.Location.StartLine != 6 || d.Location.StartCol != 9 {
		t.Fatalf("unexpected location %+v", d.Location)
	}
	if len(d.Notes) != 1 || d.Notes[0].Location.StartLine != 5 {
		t.Fatalf("unexpected notes %+v", d.Notes)
	}
	if out.Diagnostics[1].Location.File != "" {
		t.Fatalf("positionless diagnostic got a file: %+v", out.Diagnostics[1].Location)
	}
}

func TestJSONMax(t *testing.T) {
	bag, fs := sampleBag()
	out := BuildDiagnosticsOutput(bag, fs, JSONOpts{Max: 1})
	if out.Count != 1 || out.Dropped != 1 {
		t.Fatalf("count=%d dropped=%d", out.Count, out.Dropped)
	}
	if out.Diagnostics[0].Notes != nil {
		t.Fatalf("notes included without IncludeNotes")
	}
}

func TestShort(t *testing.T) {
	bag, fs := sampleBag()
	var buf bytes.Buffer
	if err := Short(&buf, bag, fs, false); err != nil {
		t.Fatal(err)
	}
	want := "error QCK3001 ir/prog.qir.yaml:6:9 use of moved binding \"q\"\n" +
		"error QIR1001 other.qir.yaml:0:0 malformed IR\n"
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
