package diagfmt

import (
	"io"

	"qcheck/internal/diag"
	"qcheck/internal/source"
)

// Short writes one line per diagnostic in bag order:
//
//	error QCK3001 prog.qir.yaml:7:9 use of moved binding "q"
func Short(w io.Writer, bag *diag.Bag, fs *source.FileSet, includeNotes bool) error {
	out := diag.FormatShortDiagnostics(bag.Items(), fs, includeNotes)
	if out == "" {
		return nil
	}
	_, err := io.WriteString(w, out+"\n")
	return err
}
