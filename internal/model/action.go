package model

import (
	"encoding/json"
	"time"
)

// Action status constants. An Action carries no status while its job is
// still running; the poller sets a terminal status together with EndedAt.
const (
	ActionSuccess = "success"
	ActionFailure = "failure"
)

// Action is the persisted record of one responder dispatch, from submission
// through job completion. It is created when the job is submitted and is
// mutated only by the poller that owns it.
type Action struct {
	ID            string          `json:"id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	ResponderID   string          `json:"responder_id"`
	ResponderName string          `json:"responder_name"`
	ResponderDef  string          `json:"responder_definition,omitempty"`
	InstanceName  string          `json:"instance_name"`
	JobID         string          `json:"job_id"`
	Status        string          `json:"status,omitempty"`
	Report        json.RawMessage `json:"report,omitempty"`
	Operations    json.RawMessage `json:"operations,omitempty"`
	Message       string          `json:"message,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	TLP           int             `json:"tlp"`
	PAP           int             `json:"pap"`
	CreatedAt     time.Time       `json:"created_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
}

// Terminal reports whether the action has reached a final state.
func (a *Action) Terminal() bool {
	return a.EndedAt != nil
}

// ActionStatusForJob maps a terminal job status to the action status that
// mirrors it.
func ActionStatusForJob(jobStatus string) string {
	if jobStatus == JobSuccess {
		return ActionSuccess
	}
	return ActionFailure
}
