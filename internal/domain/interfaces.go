package domain

import "time"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// CopyStatus is the overall result of one copy operation.
type CopyStatus string

const (
	CopyRunning   CopyStatus = "RUNNING"
	CopySucceeded CopyStatus = "SUCCEEDED"
	CopyFailed    CopyStatus = "FAILED"
)

// CopyRecord is one row of copy history.
type CopyRecord struct {
	ID          string     `json:"id"`
	Model       string     `json:"model"`
	Target      string     `json:"target"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Status      CopyStatus `json:"status"`
	Bytes       int64      `json:"bytes"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at,omitempty"`
}

// HistoryStore persists copy operations and their per-blob outcomes.
// Implemented by infra/sqlite.DB.
type HistoryStore interface {
	BeginCopy(rec CopyRecord) error
	RecordTransfer(copyID string, task TransferTask) error
	FinishCopy(copyID string, status CopyStatus, bytes int64, errMsg string) error
	ListCopies(limit int) ([]CopyRecord, error)
	ListTransfers(copyID string) ([]TransferTask, error)
}
