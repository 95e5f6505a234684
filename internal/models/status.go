package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidTransition is returned when a status change would move a record backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

// FileStatus is the lifecycle position of a File Record generation.
type FileStatus string

const (
	StatusProcessed  FileStatus = "processed"
	StatusPending    FileStatus = "pending"
	StatusConverting FileStatus = "converting"
	StatusChunking   FileStatus = "chunking"
	StatusEmbedding  FileStatus = "embedding"
	StatusComplete   FileStatus = "complete"
	StatusFailed     FileStatus = "failed"
)

// AllStatuses lists every status in lifecycle order, failed last.
var AllStatuses = []FileStatus{
	StatusProcessed, StatusPending, StatusConverting, StatusChunking,
	StatusEmbedding, StatusComplete, StatusFailed,
}

// ParseStatuses parses a comma separated status list such as "complete,failed".
func ParseStatuses(s string) ([]FileStatus, error) {
	var out []FileStatus
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st := FileStatus(strings.ToLower(part))
		if !slices.Contains(AllStatuses, st) {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

var statusRank = map[FileStatus]int{
	StatusProcessed:  1,
	StatusPending:    2,
	StatusConverting: 3,
	StatusChunking:   4,
	StatusEmbedding:  5,
	StatusComplete:   6,
}

// Rank returns the position of s in the lifecycle; failed and unknown statuses rank 0.
func (s FileStatus) Rank() int {
	return statusRank[s]
}

// InPipeline reports whether s is a document pipeline stage (pending through embedding).
func (s FileStatus) InPipeline() bool {
	r := s.Rank()
	return r >= statusRank[StatusPending] && r < statusRank[StatusComplete]
}

// CanTransition reports whether a record in status from may move to status to.
// failedAt is the stage a failed record failed in; a retry may re-enter that
// stage or a later one, never an earlier one.
func CanTransition(from, failedAt, to FileStatus) bool {
	if to == StatusFailed {
		return from != StatusFailed && from != StatusComplete
	}
	if _, ok := statusRank[to]; !ok {
		return false
	}
	if from == StatusFailed {
		return to.Rank() >= failedAt.Rank()
	}
	if from == to {
		return true
	}
	return to.Rank() > from.Rank()
}

// FailureReason classifies why a unit of work failed.
type FailureReason string

const (
	ReasonDiscovery          FailureReason = "discovery-error"
	ReasonRead               FailureReason = "read-error"
	ReasonConversion         FailureReason = "conversion-error"
	ReasonEmbedding          FailureReason = "embedding-error"
	ReasonBackendUnreachable FailureReason = "backend-unreachable"
	ReasonBackendOperation   FailureReason = "backend-operation-error"
)

// Advance moves the record to status to, clearing any failure details.
func (f *FileRecord) Advance(to FileStatus) error {
	if !CanTransition(f.Status, f.FailedStage, to) {
		return fmt.Errorf("%w: %s -> %s (file %s)", ErrInvalidTransition, f.Status, to, f.Path)
	}
	if to != StatusFailed {
		f.FailedStage = ""
		f.FailureReason = ""
		f.Error = ""
	}
	f.Status = to
	return nil
}

// Fail marks the record failed in its current stage.
func (f *FileRecord) Fail(reason FailureReason, cause error) error {
	if !CanTransition(f.Status, f.FailedStage, StatusFailed) {
		return fmt.Errorf("%w: %s -> failed (file %s)", ErrInvalidTransition, f.Status, f.Path)
	}
	f.FailedStage = f.Status
	f.Status = StatusFailed
	f.FailureReason = reason
	if cause != nil {
		f.Error = cause.Error()
	}
	return nil
}

// ResetForReprocess is the explicit force-reprocess reset back to pending.
func (f *FileRecord) ResetForReprocess() {
	f.Status = StatusPending
	f.FailedStage = ""
	f.FailureReason = ""
	f.Error = ""
	f.Reprocessed++
}
