package trace

import (
	"fmt"
	"strings"
)

// Level controls how much is recorded.
type Level uint8

const (
	LevelOff Level = iota
	// LevelError keeps events only for post-mortem ring dumps.
	LevelError
	// LevelPhase records the driver and its phases.
	LevelPhase
	// LevelUnit adds one span per checked unit.
	LevelUnit
	// LevelDebug records everything.
	LevelDebug
)

var levelNames = [...]string{
	LevelOff:   "off",
	LevelError: "error",
	LevelPhase: "phase",
	LevelUnit:  "unit",
	LevelDebug: "debug",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts the names printed by String, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level %q (expected off|error|phase|unit|debug)", s)
}

// ShouldEmit reports whether events of scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelPhase:
		return scope <= ScopePhase
	case LevelUnit:
		return scope <= ScopeUnit
	case LevelDebug:
		return true
	}
	return false
}
