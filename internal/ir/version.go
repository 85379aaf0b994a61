package ir

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the IR schema this checker reads and writes.
const SchemaVersion = "1.1.0"

// Default bounds accepted when the project config does not narrow them.
const (
	DefaultMinVersion = "1.0.0"
	DefaultMaxVersion = "1.x"
)

// ErrVersionUnsupported is wrapped by CheckVersion failures.
var ErrVersionUnsupported = errors.New("unsupported IR version")

// CheckVersion reports whether version lies within [min, max]. max accepts
// wildcards ("1.x"). An empty version is treated as SchemaVersion.
func CheckVersion(version, minVersion, maxVersion string) error {
	if version == "" {
		version = SchemaVersion
	}
	if minVersion == "" {
		minVersion = DefaultMinVersion
	}
	if maxVersion == "" {
		maxVersion = DefaultMaxVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrVersionUnsupported, version, err)
	}
	c, err := semver.NewConstraint(fmt.Sprintf(">= %s, <= %s", minVersion, maxVersion))
	if err != nil {
		return fmt.Errorf("invalid version bounds %s..%s: %w", minVersion, maxVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrVersionUnsupported, v, minVersion, maxVersion)
	}
	return nil
}
