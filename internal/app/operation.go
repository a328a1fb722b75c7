package app

import (
	"time"

	"medup/internal/dedup"
)

// Operation is the history entry for the running command. It is only
// written to the database once Start is called, so read-only commands
// leave no trace.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
}

func NewOperation(name string) *Operation {
	return &Operation{Name: name, Status: dedup.OperationSuccess}
}

// Start assigns id and returns the record to insert. The record is
// running until Close stores the final status.
func (op *Operation) Start(id, parameters string, at time.Time) *dedup.OperationRecord {
	op.ID = id
	op.Parameters = parameters
	return &dedup.OperationRecord{
		ID:         id,
		Operation:  op.Name,
		Parameters: parameters,
		Status:     dedup.OperationRunning,
		StartedAt:  at.UTC(),
	}
}

func (op *Operation) Fail() { op.Status = dedup.OperationError }

func (op *Operation) Persisted() bool { return op.ID != "" }
