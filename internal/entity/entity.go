// Package entity holds the collaborator contracts the orchestrator depends
// on: the entity/case store, the payload serializer, and the operation
// executor that applies a completed job's effects back onto an entity.
// Reference sqlite-backed implementations live alongside the contracts.
package entity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an entity or case does not exist.
var ErrNotFound = errors.New("entity not found")

// Record is one case-management entity (artifact, alert, task, ...).
// Fields is the raw attribute map as stored; CaseID links the entity to its
// owning case when it has one.
type Record struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	CaseID string         `json:"case_id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// Case is the read-only sensitivity view of an owning case.
type Case struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	TLP   int    `json:"tlp"`
	PAP   int    `json:"pap"`
}

// Store provides entity persistence.
type Store interface {
	Get(ctx context.Context, entityType, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
}

// CaseResolver resolves an entity's owning case for sensitivity levels.
type CaseResolver interface {
	OwningCase(ctx context.Context, entityType, entityID string) (*Case, error)
}

// Operation is one side-effecting instruction extracted from a job report.
// Its shape is opaque to the orchestrator beyond the type discriminator.
type Operation map[string]any

// Type returns the operation's type discriminator, or "" when absent.
func (o Operation) Type() string {
	t, _ := o["type"].(string)
	return t
}

// String returns the operation field named key, or "" when absent or not a
// string.
func (o Operation) String(key string) string {
	v, _ := o[key].(string)
	return v
}

// Operation result statuses.
const (
	OperationSuccess = "success"
	OperationFailure = "failure"
)

// OperationResult records the outcome of applying one operation.
type OperationResult struct {
	Operation Operation `json:"operation"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// OperationExecutor applies a single operation to a target entity. A failed
// application is reported through the result or the error; either way it
// must not affect sibling operations.
type OperationExecutor interface {
	Apply(ctx context.Context, rec *Record, op Operation) (OperationResult, error)
}
