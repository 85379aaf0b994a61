// Package config resolves qcheck settings. Precedence, lowest first:
// built-in defaults, qcheck.toml, a .env file next to it, the process
// environment, then command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"

	"qcheck/internal/trace"
)

// FileName is the project config file looked up from the working directory
// upwards.
const FileName = "qcheck.toml"

// Environment overrides.
const (
	EnvJobs   = "QCHECK_JOBS"
	EnvFormat = "QCHECK_FORMAT"
	EnvTrace  = "QCHECK_TRACE"
)

var (
	Formats    = []string{"pretty", "json", "short"}
	ColorModes = []string{"auto", "on", "off"}
)

type Config struct {
	// Path is the qcheck.toml that was read; empty when none was found.
	Path string `toml:"-"`
	// Root is the directory relative IR paths resolve against.
	Root string `toml:"-"`

	Check CheckConfig `toml:"check"`
	IR    IRConfig    `toml:"ir"`
	Trace TraceConfig `toml:"trace"`
}

type CheckConfig struct {
	Jobs           int    `toml:"jobs"`
	MaxDiagnostics int    `toml:"max_diagnostics"`
	Format         string `toml:"format"`
	Color          string `toml:"color"`
	Cache          bool   `toml:"cache"`
}

type IRConfig struct {
	// Files are checked when no path is given on the command line.
	Files      []string `toml:"files"`
	MinVersion string   `toml:"min_version"`
	MaxVersion string   `toml:"max_version"`
}

type TraceConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
	Mode   string `toml:"mode"`
}

func Default() Config {
	return Config{
		Root: ".",
		Check: CheckConfig{
			Format: "pretty",
			Color:  "auto",
		},
		Trace: TraceConfig{
			Level: "off",
			Mode:  "stream",
		},
	}
}

// Find walks from startDir up to the filesystem root looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load resolves the configuration for startDir. A missing qcheck.toml is
// not an error.
func Load(startDir string) (*Config, error) {
	cfg := Default()
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	} else if startDir != "" {
		cfg.Root = startDir
	}

	env, err := readDotEnv(filepath.Join(cfg.Root, ".env"))
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads path on top of the defaults, without environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	var errs []error
	for _, key := range meta.Undecoded() {
		errs = append(errs, fmt.Errorf("%s: unknown key %s", path, key))
	}
	if meta.IsDefined("check", "jobs") && c.Check.Jobs < 0 {
		errs = append(errs, fmt.Errorf("%s: [check].jobs must not be negative", path))
	}
	if meta.IsDefined("check", "max_diagnostics") && c.Check.MaxDiagnostics < 0 {
		errs = append(errs, fmt.Errorf("%s: [check].max_diagnostics must not be negative", path))
	}
	if meta.IsDefined("ir", "files") && len(c.IR.Files) == 0 {
		errs = append(errs, fmt.Errorf("%s: [ir].files is empty", path))
	}
	if err := c.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.Path = path
	c.Root = filepath.Dir(path)
	return nil
}

// ApplyEnv overrides settings from lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvJobs); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s=%q: expected a non-negative integer", EnvJobs, v)
		}
		c.Check.Jobs = n
	}
	if v, ok := lookup(EnvFormat); ok && v != "" {
		c.Check.Format = strings.ToLower(v)
	}
	if v, ok := lookup(EnvTrace); ok && v != "" {
		c.Trace.Level = strings.ToLower(v)
	}
	return c.Validate()
}

// Validate checks enumerated values, trace settings and version bounds.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Formats, c.Check.Format) {
		errs = append(errs, fmt.Errorf("format %q is not one of %s", c.Check.Format, strings.Join(Formats, "|")))
	}
	if !slices.Contains(ColorModes, c.Check.Color) {
		errs = append(errs, fmt.Errorf("color %q is not one of %s", c.Check.Color, strings.Join(ColorModes, "|")))
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		errs = append(errs, err)
	}
	for _, v := range []struct{ key, value string }{
		{"min_version", c.IR.MinVersion},
		{"max_version", c.IR.MaxVersion},
	} {
		if v.value == "" {
			continue
		}
		if _, err := semver.NewConstraint("<= " + v.value); err != nil {
			errs = append(errs, fmt.Errorf("[ir].%s %q: %w", v.key, v.value, err))
		}
	}
	return errors.Join(errs...)
}

// IRFiles returns the configured IR files resolved against Root.
func (c *Config) IRFiles() []string {
	out := make([]string, 0, len(c.IR.Files))
	for _, f := range c.IR.Files {
		if filepath.IsAbs(f) {
			out = append(out, f)
			continue
		}
		out = append(out, filepath.Join(c.Root, filepath.FromSlash(f)))
	}
	return out
}

func readDotEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}
