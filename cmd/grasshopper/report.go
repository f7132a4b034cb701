package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/grasshopper/pkg/runner"
	"github.com/ethpandaops/grasshopper/pkg/tracker"
)

// runReport is what a finished run prints and archives.
type runReport struct {
	Result *runner.Result    `json:"result"`
	Stats  *tracker.RunStats `json:"stats,omitempty"`
}

// humanDuration renders d for people, keeping sub-second precision that
// go-units rounds away.
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}

	return fmt.Sprintf("%s (%.2fs)", units.HumanDuration(d), d.Seconds())
}

func printReport(w io.Writer, report *runReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Test run report")
	fmt.Fprintf(tw, "  Run ID:\t%s\n", report.Result.Run.ID)

	if report.Stats == nil {
		fmt.Fprintf(tw, "  Samples reported:\t%d\n", report.Result.Samples)
		fmt.Fprintln(tw, "  Statistics:\tunavailable")
	} else {
		s := report.Stats
		fmt.Fprintf(tw, "  Name:\t%s\n", s.Name)
		fmt.Fprintf(tw, "  Description:\t%s\n", s.Description)
		fmt.Fprintf(tw, "  Threshold:\t%.2f%%\n", s.Threshold)
		fmt.Fprintf(tw, "  Measurements:\t%d\n", s.Measurements)
		fmt.Fprintf(tw, "  Total time:\t%s\n", humanDuration(s.Total()))
		fmt.Fprintf(tw, "  Time above threshold:\t%s\n", humanDuration(s.TimeAbove()))
		fmt.Fprintf(tw, "  Threshold passed:\t%t\n", s.PassedThreshold)
	}

	if report.Result.ReportFailures > 0 {
		fmt.Fprintf(tw, "  Failed reports:\t%d\n", report.Result.ReportFailures)
	}

	if report.Result.Interrupted {
		fmt.Fprintln(tw, "  Interrupted:\ttrue")
	}

	if report.Result.ExitCode >= 0 {
		fmt.Fprintf(tw, "  Exit code:\t%d\n", report.Result.ExitCode)
	}

	return tw.Flush()
}

// files renders the report as the objects archived per run.
func (r *runReport) files() (map[string][]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	var summary bytes.Buffer
	if err := printReport(&summary, r); err != nil {
		return nil, fmt.Errorf("rendering summary: %w", err)
	}

	return map[string][]byte{
		"report.json": data,
		"summary.txt": summary.Bytes(),
	}, nil
}
