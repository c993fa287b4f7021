package entity

import (
	"context"
	"fmt"
	"sync"
)

// Operation types produced by responder reports.
const (
	OpAddTagToArtifact = "AddTagToArtifact"
	OpAddTagToCase     = "AddTagToCase"
	OpAddCustomFields  = "AddCustomFields"
	OpMarkAlertAsRead  = "MarkAlertAsRead"
)

// caseTagger is the slice of the case store the executor needs for
// case-level operations.
type caseTagger interface {
	AddCaseTag(ctx context.Context, caseID, tag string) error
}

// Applier is the reference OperationExecutor. It applies report operations
// to the local entity store; unknown operation types produce a recorded
// failure result rather than an error, so one unsupported operation never
// aborts its siblings.
type Applier struct {
	entities Store
	cases    caseTagger

	// Operations from one report run concurrently but share the record's
	// field map; mutations are serialized here.
	mu sync.Mutex
}

var _ OperationExecutor = (*Applier)(nil)

// NewApplier creates an executor over the given stores.
func NewApplier(entities Store, cases caseTagger) *Applier {
	return &Applier{entities: entities, cases: cases}
}

// Apply applies one operation to rec.
func (a *Applier) Apply(ctx context.Context, rec *Record, op Operation) (OperationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	var message string

	switch op.Type() {
	case OpAddTagToArtifact:
		err = a.addEntityTag(ctx, rec, op.String("tag"))
		message = fmt.Sprintf("tagged %s %s", rec.Type, rec.ID)
	case OpAddTagToCase:
		err = a.addCaseTag(ctx, rec, op.String("tag"))
		message = "tagged owning case"
	case OpAddCustomFields:
		err = a.addCustomField(ctx, rec, op.String("name"), op["value"])
		message = fmt.Sprintf("custom field %s set", op.String("name"))
	case OpMarkAlertAsRead:
		err = a.setField(ctx, rec, "read", true)
		message = "alert marked read"
	default:
		return OperationResult{
			Operation: op,
			Status:    OperationFailure,
			Message:   fmt.Sprintf("unsupported operation type %q", op.Type()),
		}, nil
	}

	if err != nil {
		return OperationResult{Operation: op, Status: OperationFailure, Message: err.Error()}, nil
	}
	return OperationResult{Operation: op, Status: OperationSuccess, Message: message}, nil
}

func (a *Applier) addEntityTag(ctx context.Context, rec *Record, tag string) error {
	if tag == "" {
		return fmt.Errorf("operation has no tag")
	}

	tags, _ := rec.Fields["tags"].([]any)
	for _, existing := range tags {
		if existing == tag {
			return nil
		}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.Fields["tags"] = append(tags, tag)
	return a.entities.Update(ctx, rec)
}

func (a *Applier) addCaseTag(ctx context.Context, rec *Record, tag string) error {
	if tag == "" {
		return fmt.Errorf("operation has no tag")
	}
	if rec.CaseID == "" {
		return fmt.Errorf("%s %s has no owning case", rec.Type, rec.ID)
	}
	return a.cases.AddCaseTag(ctx, rec.CaseID, tag)
}

func (a *Applier) addCustomField(ctx context.Context, rec *Record, name string, value any) error {
	if name == "" {
		return fmt.Errorf("operation has no field name")
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	custom, _ := rec.Fields["customFields"].(map[string]any)
	if custom == nil {
		custom = map[string]any{}
	}
	custom[name] = value
	rec.Fields["customFields"] = custom
	return a.entities.Update(ctx, rec)
}

func (a *Applier) setField(ctx context.Context, rec *Record, key string, value any) error {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.Fields[key] = value
	return a.entities.Update(ctx, rec)
}
