package diagfmt

import (
	"fmt"

	"qcheck/internal/source"
)

func formatPath(f *source.File, fs *source.FileSet, mode PathMode) string {
	if mode == PathModeRelative {
		return f.FormatPath(mode.String(), fs.BaseDir())
	}
	return f.FormatPath(mode.String(), "")
}

// location renders path:line:col, or fallback when span has no file.
func location(span source.Span, fs *source.FileSet, mode PathMode, fallback string) string {
	f := fs.Get(span.File)
	if f == nil {
		if fallback == "" {
			return "<unknown>"
		}
		return fallback
	}
	start, _ := fs.Resolve(span)
	return fmt.Sprintf("%s:%d:%d", formatPath(f, fs, mode), start.Line, start.Col)
}
