package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Template is the qcheck.toml written by `qcheck init`.
const Template = `# qcheck project configuration

[check]
# Worker goroutines; 0 uses every CPU.
jobs = 0
# Stop collecting after this many diagnostics; 0 keeps all.
max_diagnostics = 0
# pretty | json | short
format = "pretty"
# auto | on | off
color = "auto"
# Reuse results of unchanged units across runs.
cache = false

[ir]
files = ["main.qir.yaml"]
min_version = "1.0.0"
max_version = "1.x"

[trace]
# off | error | phase | unit | debug
level = "off"
# stream | ring | both
mode = "stream"
output = ""
`

// ErrExists is returned by WriteTemplate when the file is already there.
var ErrExists = errors.New(FileName + " already exists")

// WriteTemplate creates dir/qcheck.toml. force replaces an existing file.
func WriteTemplate(dir string, force bool) (string, error) {
	path := filepath.Join(dir, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, ErrExists
		}
	}
	if err := os.WriteFile(path, []byte(Template), 0o600); err != nil {
		return path, fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
