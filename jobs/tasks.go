// Package jobs holds the Asynq task definitions and worker wiring for
// background maintenance work.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSweepExpired expires due grants, delegations and overrides.
	TaskSweepExpired = "authz:sweep_expired"
	// TaskArchiveAudit prunes audit rows past the retention window.
	TaskArchiveAudit = "audit:archive"
)

// SweepExpiredPayload parameterises a sweep run. An empty payload sweeps
// everything.
type SweepExpiredPayload struct {
	// Kinds limits the sweep to a subset of "grants", "delegations",
	// "overrides". Empty means all three.
	Kinds []string `json:"kinds,omitempty"`
}

// NewSweepExpiredTask constructs an Asynq task.
func NewSweepExpiredTask(payload SweepExpiredPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSweepExpired, data), nil
}

// ArchiveAuditPayload sets the retention horizon for audit pruning.
type ArchiveAuditPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewArchiveAuditTask constructs an Asynq task.
func NewArchiveAuditTask(payload ArchiveAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskArchiveAudit, data), nil
}
