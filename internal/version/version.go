// Package version holds build metadata, overridable via -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/fatih/color"
)

var (
	// Version is the semantic version of qcheck.
	Version = "0.3.0-dev"
	// IRSchema is the newest IR schema version this build reads.
	IRSchema = "1.1.0"
	// GitCommit is an optional commit hash.
	GitCommit = ""
	// BuildDate is an optional ISO-8601 build date.
	BuildDate = ""
)

// Info is the machine-readable form of the build metadata.
type Info struct {
	Version   string `json:"version"`
	IRSchema  string `json:"ir_schema"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go"`
}

func Current() Info {
	return Info{
		Version:   Version,
		IRSchema:  IRSchema,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
	}
}

// Pretty renders the build info for humans; colour follows color.NoColor.
func (i Info) Pretty() string {
	title := color.New(color.FgYellow, color.Bold)
	key := color.New(color.FgBlue)
	out := fmt.Sprintf("%s %s\n", title.Sprint("qcheck"), color.GreenString(i.Version))
	out += fmt.Sprintf("  %s %s\n", key.Sprint("ir schema:"), i.IRSchema)
	if i.GitCommit != "" {
		out += fmt.Sprintf("  %s %s\n", key.Sprint("commit:   "), i.GitCommit)
	}
	if i.BuildDate != "" {
		out += fmt.Sprintf("  %s %s\n", key.Sprint("built:    "), i.BuildDate)
	}
	out += fmt.Sprintf("  %s %s\n", key.Sprint("go:       "), i.Go)
	return out
}

func (i Info) JSON() ([]byte, error) {
	return json.MarshalIndent(i, "", "  ")
}
