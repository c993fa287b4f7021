package model

import "encoding/json"

// Job status constants as reported by an analysis engine.
const (
	JobWaiting    = "Waiting"
	JobInProgress = "InProgress"
	JobSuccess    = "Success"
	JobFailure    = "Failure"
)

// JobTerminal reports whether a job status is final.
func JobTerminal(status string) bool {
	return status == JobSuccess || status == JobFailure
}

// Job is one remote execution of a responder, as reported by the engine that
// owns it. The wire field names follow the engine API; InstanceName is filled
// in by the client that fetched the job.
type Job struct {
	ID            string          `json:"id"`
	ResponderID   string          `json:"workerId"`
	ResponderName string          `json:"workerName"`
	ResponderDef  string          `json:"workerDefinition"`
	Status        string          `json:"status"`
	Report        json.RawMessage `json:"report,omitempty"`
	InstanceName  string          `json:"-"`
}
