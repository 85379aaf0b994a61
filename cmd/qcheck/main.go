package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"qcheck/internal/version"
)

// errRejected signals that diagnostics were printed and the exit status
// must be non-zero; there is nothing more to say.
var errRejected = errors.New("check failed")

var rootCmd = &cobra.Command{
	Use:   "qcheck",
	Short: "Ownership, borrowing and entanglement checker for quantum IR",
	Long: `qcheck verifies that every qubit in a quantum IR program is used linearly,
that borrows do not conflict, that entangled resources are consumed together,
and that ancillas can be uncomputed before release.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupRun,
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("color", "", "colorize output (auto|on|off)")
	pf.Bool("timings", false, "print phase timings to stderr")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.Int("max-diagnostics", -1, "maximum number of diagnostics to collect (0 = unlimited)")
	pf.String("config", "", "directory to search for qcheck.toml (default: working directory)")
	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "", "trace level (off|error|phase|unit|debug)")
	pf.String("trace-mode", "", "trace storage (stream|ring|both)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err unless the diagnostics already said everything.
func reportError(w io.Writer, err error) {
	if errors.Is(err, errRejected) {
		return
	}
	fmt.Fprintf(w, "qcheck: %v\n", err)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 -- file descriptors fit in int
}
