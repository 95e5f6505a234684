// Package cli provides output and progress helpers for the wembed command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/scanner"
	"github.com/hyperjump/wembed/internal/storage"
	"github.com/hyperjump/wembed/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Status is what `wembed status` reports.
type Status struct {
	Backend        string         `json:"backend"`
	FellBack       bool           `json:"fell_back"`
	LocalPath      string         `json:"local_path"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
	Stats          *storage.Stats `json:"stats"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRunResult writes the summaries of a full run.
func WriteRunResult(w io.Writer, res *runner.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Source: %s (%s) on %s backend\n", res.Source.DisplayName(), res.Source.Kind, res.Backend)
	if res.Scan != nil {
		writeScanText(w, res.Scan)
	}
	if res.Process != nil {
		writeSummaryText(w, res.Process)
	}
	if res.Documents != nil {
		writeSummaryText(w, res.Documents)
	}
	fmt.Fprintf(w, "Finished in %s\n", res.Duration.Round(time.Millisecond))
	return nil
}

// WriteRunResults writes one result per source. JSON output is always an array.
func WriteRunResults(w io.Writer, results []*runner.Result, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*runner.Result{}
		}
		return writeJSON(w, results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := WriteRunResult(w, res, format); err != nil {
			return err
		}
	}
	return nil
}

// WriteScanSummaries writes one scan summary per source. JSON output is always an array.
func WriteScanSummaries(w io.Writer, sums []*scanner.Summary, format OutputFormat) error {
	if format == OutputJSON {
		if sums == nil {
			sums = []*scanner.Summary{}
		}
		return writeJSON(w, sums)
	}
	for _, s := range sums {
		name := s.Run.Name
		if name == "" {
			name = s.Run.Root
		}
		fmt.Fprintf(w, "Source: %s (%s)\n", name, s.Run.Kind)
		writeScanText(w, s)
	}
	return nil
}

// WriteScanSummary writes the result of a scan pass.
func WriteScanSummary(w io.Writer, s *scanner.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	writeScanText(w, s)
	return nil
}

// WriteBatchSummary writes the result of one process or documents batch.
func WriteBatchSummary(w io.Writer, s *models.BatchSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	writeSummaryText(w, s)
	return nil
}

func writeScanText(w io.Writer, s *scanner.Summary) {
	run := s.Run
	fmt.Fprintf(w, "%-10s %d entries: %d ok, %d unchanged, %d failed, %d too large (%s)\n",
		"scan", run.Entries, s.OK, run.Unchanged, run.Failed, run.TooLarge, run.Duration().Round(time.Millisecond))
}

func writeSummaryText(w io.Writer, s *models.BatchSummary) {
	fmt.Fprintf(w, "%-10s %d total: %d succeeded, %d skipped, %d failed (%s)\n",
		s.Stage, s.Total, s.Succeeded, s.Skipped, s.Failed, s.Duration().Round(time.Millisecond))
	for _, f := range s.Failures {
		target := f.Path
		if target == "" {
			target = f.RecordID
		}
		fmt.Fprintf(w, "  ! %s [%s] %s\n", target, f.Reason, utils.Truncate(f.Message, 160))
	}
}

// WriteStatus writes store statistics.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	backend := st.Backend
	if st.FellBack {
		backend += " (remote unreachable, using local)"
	}
	fmt.Fprintf(w, "Backend:      %s\n", backend)
	fmt.Fprintf(w, "Local store:  %s (%s)\n", st.LocalPath, humanize.IBytes(uint64(max(st.DiskUsageBytes, 0))))
	if st.Stats == nil {
		return nil
	}
	fmt.Fprintf(w, "Scan runs:    %d\n", st.Stats.ScanRuns)
	fmt.Fprintf(w, "Scan entries: %d\n", st.Stats.ScanEntries)
	fmt.Fprintf(w, "Files:        %d\n", st.Stats.FileRecords)
	for _, status := range models.AllStatuses {
		if n := st.Stats.FilesByStatus[status]; n > 0 {
			fmt.Fprintf(w, "  %-11s %d\n", status, n)
		}
	}
	fmt.Fprintf(w, "Documents:    %d\n", st.Stats.Documents)
	fmt.Fprintf(w, "Chunks:       %d\n", st.Stats.Chunks)
	fmt.Fprintf(w, "Embeddings:   %d\n", st.Stats.Embeddings)
	return nil
}

// WriteFiles writes File Records, one per line in text mode.
func WriteFiles(w io.Writer, recs []*models.FileRecord, format OutputFormat) error {
	if format == OutputJSON {
		if recs == nil {
			recs = []*models.FileRecord{}
		}
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No files.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGEN\tSTATUS\tKIND\tSIZE\tPATH")
	for _, r := range recs {
		status := string(r.Status)
		if r.Status == models.StatusFailed && r.FailureReason != "" {
			status += " (" + string(r.FailureReason) + ")"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Generation, status, r.Kind, humanize.IBytes(uint64(max(r.Size, 0))), r.Path)
	}
	return tw.Flush()
}

// WriteFile writes one File Record including its rendered preview.
func WriteFile(w io.Writer, rec *models.FileRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	if rec.Preview != "" {
		fmt.Fprintln(w, rec.Preview)
		return nil
	}
	fmt.Fprintf(w, "%s (generation %d)\n", rec.Path, rec.Generation)
	fmt.Fprintf(w, "Status: %s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:  %s\n", rec.Error)
	}
	fmt.Fprintf(w, "Kind:   %s (%s)\n", rec.Kind, rec.MimeType)
	fmt.Fprintf(w, "Size:   %s\n", humanize.IBytes(uint64(max(rec.Size, 0))))
	return nil
}
