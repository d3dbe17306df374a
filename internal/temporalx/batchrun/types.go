package batchrun

import (
	"time"

	"github.com/google/uuid"
)

const (
	WorkflowName     = "batch_run"
	ActivityRunBatch = "batch_run_pass"
	SignalWake       = "batch_wake"
)

// WorkflowID is stable per batch so a dispatch either starts the run or
// signals the one already in flight.
func WorkflowID(batchID uuid.UUID) string { return "batch-run:" + batchID.String() }

type Input struct {
	BatchID    string        `json:"batch_id"`
	FirstDelay time.Duration `json:"first_delay"`
	Delay      time.Duration `json:"delay"`
}

// PassResult is the batch state after one controller pass.
type PassResult struct {
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"`
	NeedsRun  bool   `json:"needs_run"`
}
