package models

import "time"

// Failure describes one unit of work that did not succeed.
type Failure struct {
	Path     string        `json:"path"`
	RecordID string        `json:"record_id,omitempty"`
	Reason   FailureReason `json:"reason"`
	Message  string        `json:"message"`
}

// BatchSummary is the result of running one stage over a batch.
type BatchSummary struct {
	Stage      string    `json:"stage"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewBatchSummary starts a summary for stage.
func NewBatchSummary(stage string) *BatchSummary {
	return &BatchSummary{Stage: stage, StartedAt: time.Now()}
}

// AddFailure records a failed unit.
func (s *BatchSummary) AddFailure(path, recordID string, reason FailureReason, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.Failed++
	s.Failures = append(s.Failures, Failure{Path: path, RecordID: recordID, Reason: reason, Message: msg})
}

// Finish stamps the end time.
func (s *BatchSummary) Finish() *BatchSummary {
	s.FinishedAt = time.Now()
	return s
}

// Duration is the wall time of the batch.
func (s *BatchSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
