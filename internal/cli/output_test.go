package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/scanner"
	"github.com/hyperjump/wembed/internal/storage"
)

func sampleResult() *runner.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	process := &models.BatchSummary{Stage: "process", Total: 3, Succeeded: 2, StartedAt: start, FinishedAt: start.Add(time.Second)}
	process.AddFailure("/src/broken.txt", "", models.ReasonRead, errors.New("permission denied"))
	return &runner.Result{
		Source: models.SourceDescriptor{Kind: models.SourceRepository, Root: "/src"},
		Scan: &scanner.Summary{
			Run: &models.ScanRun{Entries: 3, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
			OK:  3,
		},
		Process:   process,
		Documents: &models.BatchSummary{Stage: "documents", Total: 2, Succeeded: 2, StartedAt: start, FinishedAt: start.Add(time.Second)},
		Backend:   "sqlite",
		Duration:  4 * time.Second,
	}
}

func TestWriteRunResult_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunResult(&buf, sampleResult(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Source: src (repository) on sqlite backend",
		"3 entries: 3 ok",
		"process",
		"3 total: 2 succeeded, 0 skipped, 1 failed",
		"/src/broken.txt [read-error] permission denied",
		"documents",
		"Finished in 4s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRunResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunResult(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Backend string              `json:"backend"`
		Process models.BatchSummary `json:"process"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Backend != "sqlite" || decoded.Process.Failed != 1 || len(decoded.Process.Failures) != 1 {
		t.Errorf("unexpected decoded result %+v", decoded)
	}
}

func TestWriteStatus(t *testing.T) {
	st := &Status{
		Backend:        "sqlite",
		FellBack:       true,
		LocalPath:      "/tmp/wembed.db",
		DiskUsageBytes: 2048,
		Stats: &storage.Stats{
			FileRecords: 4,
			FilesByStatus: map[models.FileStatus]int64{
				models.StatusComplete: 3,
				models.StatusFailed:   1,
			},
			Chunks: 12,
		},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"remote unreachable", "2.0 KiB", "Files:        4", "complete", "failed", "Chunks:       12"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pending") {
		t.Errorf("zero counts should be omitted:\n%s", out)
	}
}

func TestWriteFiles(t *testing.T) {
	recs := []*models.FileRecord{
		{ID: "f1", Path: "/src/a.txt", Generation: 1, Status: models.StatusComplete, Kind: models.KindText, Size: 500},
		{ID: "f2", Path: "/src/b.pdf", Generation: 2, Status: models.StatusFailed, FailureReason: models.ReasonConversion, Kind: models.KindDocument, Size: 3 << 20},
	}
	var buf bytes.Buffer
	if err := WriteFiles(&buf, recs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got:\n%s", out)
	}
	if !strings.Contains(lines[2], "failed (conversion-error)") || !strings.Contains(lines[2], "3.0 MiB") {
		t.Errorf("unexpected row %q", lines[2])
	}

	buf.Reset()
	if err := WriteFiles(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list = %q", buf.String())
	}
}

func TestWriteFile_PrefersPreview(t *testing.T) {
	var buf bytes.Buffer
	rec := &models.FileRecord{Path: "/src/a.md", Preview: "# a.md *(Version 1)*"}
	if err := WriteFile(&buf, rec, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "# a.md") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	rec = &models.FileRecord{Path: "/src/b.bin", Generation: 1, Status: models.StatusProcessed, Kind: models.KindBinary}
	if err := WriteFile(&buf, rec, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "/src/b.bin (generation 1)") {
		t.Errorf("got %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteRunResults(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunResults(&buf, []*runner.Result{sampleResult(), sampleResult()}, OutputText); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "Source: src"); n != 2 {
		t.Errorf("expected two sources, got %d:\n%s", n, buf.String())
	}

	buf.Reset()
	if err := WriteRunResults(&buf, []*runner.Result{sampleResult()}, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 1 {
		t.Fatalf("expected a one element array, got %v: %s", err, buf.String())
	}
}

func TestWriteScanSummaries(t *testing.T) {
	sum := &scanner.Summary{
		Run: &models.ScanRun{Root: "/notes", Name: "notes", Kind: models.SourceVault, Entries: 2, Unchanged: 1},
		OK:  2,
	}
	var buf bytes.Buffer
	if err := WriteScanSummaries(&buf, []*scanner.Summary{sum}, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Source: notes (vault)") || !strings.Contains(out, "2 entries: 2 ok, 1 unchanged") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
