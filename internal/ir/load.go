package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"qcheck/internal/source"
)

// Format is an IR encoding.
type Format uint8

const (
	FormatYAML Format = iota
	FormatJSON
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	}
	return "yaml"
}

// ParseFormat accepts "yaml", "json" or "msgpack".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	}
	return 0, fmt.Errorf("unknown IR format %q", s)
}

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".mp", ".msgpack", ".qirb":
		return FormatMsgpack, nil
	}
	return 0, fmt.Errorf("%s: unrecognised IR extension", path)
}

// IsIRFile reports whether path has an IR extension.
func IsIRFile(path string) bool {
	_, err := FormatForPath(path)
	return err == nil
}

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("malformed IR")

type LoadOptions struct {
	MinVersion string
	MaxVersion string
	// Files receives the IR file and, when found, the surface source file.
	Files *source.FileSet
}

// Load reads, decodes and version-checks the IR file at path.
func Load(path string, opts LoadOptions) (*Program, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is provided by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read IR: %w", err)
	}
	return Decode(data, format, path, opts)
}

// Decode decodes data in the given format. name is used for spans and
// relative source lookups. Annotated documents written by the checker are
// accepted and their annotations ignored.
func Decode(data []byte, format Format, name string, opts LoadOptions) (*Program, error) {
	fs := opts.Files
	if fs == nil {
		fs = source.NewFileSet()
	}
	w, err := decodeWire(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
	}
	if err := CheckVersion(w.Version, opts.MinVersion, opts.MaxVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	irFile := fs.AddVirtual(name, data)
	var srcFile source.FileID
	if w.Source != "" {
		path := w.Source
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(name), path)
		}
		if id, loadErr := fs.Load(path); loadErr == nil {
			srcFile = id
		}
	}
	spans := func(at []int, line, col int) source.Span {
		if len(at) == 2 && srcFile != 0 {
			return source.SpanOf(srcFile, at[0], at[1])
		}
		if line <= 0 || col <= 0 || format != FormatYAML {
			return source.NoSpan
		}
		return lineSpan(fs.Get(irFile), line, col)
	}

	p, err := fromWire(w, spans)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
	}
	p.Files = fs
	return p, nil
}

func lineSpan(f *source.File, line, col int) source.Span {
	lc := source.LineCol{Line: uint32(line), Col: uint32(col)} // #nosec G115 -- yaml positions are small
	off, ok := f.Offset(lc)
	if !ok {
		return source.NoSpan
	}
	text := f.GetLine(lc.Line)
	end := int(off) + len(text) - (col - 1)
	return source.SpanOf(f.ID, int(off), end)
}

type envelope struct {
	IR *WireProgram `yaml:"ir" json:"ir" msgpack:"ir"`
}

func decodeWire(data []byte, format Format) (*WireProgram, error) {
	var env envelope
	if err := unmarshal(data, format, &env); err == nil && env.IR != nil {
		return env.IR, nil
	}
	var w WireProgram
	if err := unmarshal(data, format, &w); err != nil {
		return nil, err
	}
	if len(w.Units) == 0 && len(w.Ops) == 0 {
		return nil, errors.New("document declares no units")
	}
	return &w, nil
}

func unmarshal(data []byte, format Format, v any) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatMsgpack:
		return msgpack.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

// Marshal encodes v in the given format. YAML output uses two-space
// indentation to match hand-written IR files.
func Marshal(v any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	case FormatMsgpack:
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
