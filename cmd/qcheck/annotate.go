package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qcheck/internal/diagfmt"
	"qcheck/internal/driver"
	"qcheck/internal/ir"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate [flags] file.qir.yaml",
	Short: "Check one IR file and write the annotated IR",
	Long: `Check one IR file and write the annotated document: the input IR, the
per-unit annotations (entanglement classes, splits, uncomputation sequences,
final resource states, node reversibility) and any diagnostics. Rejected
units carry no annotations.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	f := annotateCmd.Flags()
	f.IntP("jobs", "j", 0, "parallel unit checks (0 = GOMAXPROCS)")
	f.Bool("cache", false, "reuse results of unchanged units across runs")
	f.StringP("output", "o", "-", "output file (- for stdout)")
	f.String("out-format", "", "document encoding (yaml|json|msgpack); default from --output extension, else yaml")
	f.Bool("events", false, "include the ownership event log of each unit")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	s := sessionFrom(cmd)
	defer finishSession(cmd, s)

	r, err := newCheckRun(cmd, s)
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	format, err := annotateFormat(cmd, output)
	if err != nil {
		return err
	}
	if r.opts.Events, err = cmd.Flags().GetBool("events"); err != nil {
		return fmt.Errorf("failed to get events flag: %w", err)
	}

	res, err := driver.Diagnose(cmd.Context(), args[0], r.opts)
	if err != nil {
		return err
	}
	data, err := ir.Marshal(driver.Annotate(res), format)
	if err != nil {
		return fmt.Errorf("encode annotated IR: %w", err)
	}

	if output == "-" || output == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	} else {
		// #nosec G306 -- annotated IR is not secret
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", output, err)
		}
		log.Debugf("wrote %s (%s, %d bytes)", output, format, len(data))
	}

	if !res.Accepted() {
		diagfmt.Pretty(cmd.ErrOrStderr(), res.Bag, res.Files(), diagfmt.PrettyOpts{
			Color:     colorEnabled(),
			Context:   1,
			PathMode:  diagfmt.PathModeRelative,
			ShowNotes: true,
		})
		dumpTrace(cmd, s)
		return errRejected
	}
	return nil
}

func annotateFormat(cmd *cobra.Command, output string) (ir.Format, error) {
	value, err := cmd.Flags().GetString("out-format")
	if err != nil {
		return 0, fmt.Errorf("failed to get out-format flag: %w", err)
	}
	if value != "" {
		return ir.ParseFormat(value)
	}
	if output != "-" && output != "" {
		if f, err := ir.FormatForPath(output); err == nil {
			return f, nil
		}
	}
	return ir.FormatYAML, nil
}
