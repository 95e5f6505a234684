package models

import "time"

// ScanOutcome is the result of considering one candidate file during a scan.
type ScanOutcome string

const (
	OutcomeOK        ScanOutcome = "ok"
	OutcomeFailed    ScanOutcome = "failed"
	OutcomeTooLarge  ScanOutcome = "too-large"
	OutcomeUnchanged ScanOutcome = "unchanged"
)

// Persisted reports whether entries with this outcome are written to the store.
func (o ScanOutcome) Persisted() bool {
	return o == OutcomeOK || o == OutcomeFailed
}

// ScanRun records one pass of the scanner over a source.
type ScanRun struct {
	ID         string            `json:"id"`
	Root       string            `json:"root"`
	Name       string            `json:"name"`
	Kind       SourceKind        `json:"kind"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Host       string            `json:"host"`
	User       string            `json:"user"`
	Options    map[string]string `json:"options,omitempty"`
	Entries    int               `json:"entries"`
	Unchanged  int               `json:"unchanged"`
	Failed     int               `json:"failed"`
	TooLarge   int               `json:"too_large"`
}

// Duration is the wall time of the run, zero while it is still running.
func (r *ScanRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ScanEntry is one file discovered during a scan pass. Entries are never mutated.
type ScanEntry struct {
	ID           string      `json:"id"`
	ScanID       string      `json:"scan_id"`
	Path         string      `json:"path"`
	RelativePath string      `json:"relative_path"`
	SourceKind   SourceKind  `json:"source_kind"`
	SourceRoot   string      `json:"source_root"`
	SourceName   string      `json:"source_name"`
	DiscoveredAt time.Time   `json:"discovered_at"`
	Fingerprint  string      `json:"fingerprint,omitempty"`
	Size         int64       `json:"size"`
	ModTime      time.Time   `json:"mod_time"`
	Outcome      ScanOutcome `json:"outcome"`
	Error        string      `json:"error,omitempty"`
}

// Resolvable reports whether the entry carries a fingerprint the processor can act on.
func (e *ScanEntry) Resolvable() bool {
	return (e.Outcome == OutcomeOK || e.Outcome == OutcomeUnchanged) && e.Fingerprint != ""
}

// FileKind is the processor's classification of a file's content.
type FileKind string

const (
	KindText     FileKind = "text"
	KindMarkdown FileKind = "markdown"
	KindCode     FileKind = "code"
	KindDocument FileKind = "document"
	KindBinary   FileKind = "binary"
)

// TextLike reports whether the content is readable text that gets a full preview.
func (k FileKind) TextLike() bool {
	return k == KindText || k == KindMarkdown || k == KindCode
}

// Convertible reports whether the document pipeline accepts this kind.
func (k FileKind) Convertible() bool {
	return k.TextLike() || k == KindDocument
}

// FileRecord is one generation of a file, keyed by (path, fingerprint).
type FileRecord struct {
	ID              string        `json:"id"`
	Path            string        `json:"path"`
	RelativePath    string        `json:"relative_path"`
	SourceKind      SourceKind    `json:"source_kind"`
	SourceRoot      string        `json:"source_root"`
	SourceName      string        `json:"source_name"`
	Name            string        `json:"name"`
	Suffix          string        `json:"suffix"`
	Fingerprint     string        `json:"fingerprint"`
	Size            int64         `json:"size"`
	Mode            uint32        `json:"mode"`
	ModTime         time.Time     `json:"mod_time"`
	MimeType        string        `json:"mime_type"`
	Kind            FileKind      `json:"kind"`
	Language        string        `json:"language,omitempty"`
	Content         []byte        `json:"-"`
	HasContent      bool          `json:"has_content"`
	Preview         string        `json:"preview,omitempty"`
	LineCount       int           `json:"line_count"`
	Generation      int           `json:"generation"`
	Eligible        bool          `json:"eligible"`
	Status          FileStatus    `json:"status"`
	FailedStage     FileStatus    `json:"failed_stage,omitempty"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	Error           string        `json:"error,omitempty"`
	Reprocessed     int           `json:"reprocessed"`
	Host            string        `json:"host"`
	User            string        `json:"user"`
	FirstSeenAt     time.Time     `json:"first_seen_at"`
	LastProcessedAt time.Time     `json:"last_processed_at"`
	// CurrentAt is when a scan last found this content at Path. The most recent one is the
	// path's current generation, which need not be the highest.
	CurrentAt       time.Time     `json:"current_at"`
}

// URI returns the file:// URI of the record's path.
func (f *FileRecord) URI() string {
	return "file://" + f.Path
}
