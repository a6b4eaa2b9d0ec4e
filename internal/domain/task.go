// Package domain — transfer task types.
// A TransferTask is created for every unique digest of a model being copied:
// Pending → Probing → (Skipped | Transferring) → (Completed | Failed).
package domain

import (
	"fmt"
	"time"
)

// Role says what a blob is to its model.
type Role string

const (
	RoleModel     Role = "model"
	RoleAdapter   Role = "adapter"
	RoleProjector Role = "projector"

	// RoleMetadata covers config, template, params and license layers,
	// which only a registry pull moves as blobs.
	RoleMetadata Role = "metadata"
)

// TaskState tracks a TransferTask's lifecycle.
type TaskState string

const (
	TaskPending      TaskState = "PENDING"
	TaskProbing      TaskState = "PROBING"
	TaskSkipped      TaskState = "SKIPPED"
	TaskTransferring TaskState = "TRANSFERRING"
	TaskCompleted    TaskState = "COMPLETED"
	TaskFailed       TaskState = "FAILED"
)

var taskTransitions = map[TaskState][]TaskState{
	TaskPending:      {TaskProbing, TaskFailed},
	TaskProbing:      {TaskSkipped, TaskTransferring, TaskFailed},
	TaskTransferring: {TaskCompleted, TaskFailed},
}

// Topology says where a transfer's two endpoints live.
type Topology string

const (
	LocalToRemote  Topology = "local->remote"
	RemoteToLocal  Topology = "remote->local"
	RemoteToRemote Topology = "remote->remote"
)

// Outcome is the per-blob result class.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeTransferred Outcome = "transferred"
	OutcomeFailed      Outcome = "failed"
)

// BlobResult is what the engine reports for one digest.
type BlobResult struct {
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Bytes    int64         `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// Skipped builds a skipped result.
func Skipped(reason string) BlobResult {
	return BlobResult{Outcome: OutcomeSkipped, Reason: reason}
}

// Transferred builds a successful transfer result.
func Transferred(n int64, d time.Duration) BlobResult {
	return BlobResult{Outcome: OutcomeTransferred, Bytes: n, Duration: d}
}

// Failed builds a failed result.
func Failed(err error) BlobResult {
	return BlobResult{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// TransferTask moves one blob from Source to Destination.
type TransferTask struct {
	Digest      Digest     `json:"digest"`
	Role        Role       `json:"role"`
	FileName    string     `json:"file_name"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Size        int64      `json:"size,omitempty"`
	State       TaskState  `json:"state"`
	Result      BlobResult `json:"result"`
}

// NewTransferTask returns a task in the Pending state.
func NewTransferTask(d Digest, role Role, fileName, src, dst string) *TransferTask {
	return &TransferTask{
		Digest:      d,
		Role:        role,
		FileName:    fileName,
		Source:      src,
		Destination: dst,
		State:       TaskPending,
	}
}

// Advance moves the task to next, rejecting transitions the state machine
// does not allow.
func (t *TransferTask) Advance(next TaskState) error {
	for _, allowed := range taskTransitions[t.State] {
		if allowed == next {
			t.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, t.State, next)
}

// IsTerminal returns true once the task can no longer change.
func (t *TransferTask) IsTerminal() bool {
	return t.State == TaskSkipped || t.State == TaskCompleted || t.State == TaskFailed
}

// Succeeded reports whether the blob is present at the destination.
func (t *TransferTask) Succeeded() bool {
	return t.State == TaskSkipped || t.State == TaskCompleted
}
