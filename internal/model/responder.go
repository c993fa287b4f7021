package model

// DataTypeNamespace prefixes entity types when they are sent to engines as
// observable data types, e.g. "relay:case_artifact".
const DataTypeNamespace = "relay"

// DataType returns the engine-facing data type for an entity type.
func DataType(entityType string) string {
	return DataTypeNamespace + ":" + entityType
}

// Responder is a named analysis/response capability exposed by one engine
// instance. MaxTLP/MaxPAP bound the sensitivity of entities it may receive;
// nil means unlimited.
type Responder struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	DataTypeList []string `json:"dataTypeList,omitempty"`
	MaxTLP       *int     `json:"maxTlp,omitempty"`
	MaxPAP       *int     `json:"maxPap,omitempty"`
	InstanceName string   `json:"instance_name,omitempty"`
}

// ResponderRef ties a logical responder back to one concrete instance. A
// caller must resolve a merged responder to a ref before submitting a job.
type ResponderRef struct {
	InstanceName string `json:"instance_name"`
	ResponderID  string `json:"responder_id"`
}

// MergedResponder is the fleet-wide view of responders sharing a logical
// name across several engine instances.
type MergedResponder struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	MaxTLP      *int           `json:"max_tlp,omitempty"`
	MaxPAP      *int           `json:"max_pap,omitempty"`
	Refs        []ResponderRef `json:"refs"`
}
