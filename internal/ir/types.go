package ir

import (
	"fmt"
	"time"
)

// OpID identifies an operation for its whole lifetime.
type OpID string

// FeatureID identifies a derived feature. Ids are never reused, even after
// the producing operation is rolled back.
type FeatureID string

// Status is the lifecycle state of an operation.
// The zero value is not a valid status.
type Status string

const (
	StatusActive       Status = "active"
	StatusSuperseded   Status = "superseded"
	StatusRolledBack   Status = "rolled_back"
	StatusInconsistent Status = "inconsistent"
)

// ValidStatuses lists every status accepted from persisted records.
var ValidStatuses = map[Status]bool{
	StatusActive:       true,
	StatusSuperseded:   true,
	StatusRolledBack:   true,
	StatusInconsistent: true,
}

// statusTransitions is the only way an operation changes after it is
// logged. Superseded -> Active exists only for undoing a committed recall,
// which reinstates the operation the recall replaced.
var statusTransitions = map[Status]map[Status]bool{
	StatusActive:       {StatusSuperseded: true, StatusRolledBack: true, StatusInconsistent: true},
	StatusInconsistent: {StatusActive: true, StatusSuperseded: true, StatusRolledBack: true},
	StatusSuperseded:   {StatusActive: true},
	StatusRolledBack:   {},
}

// CanTransition reports whether an operation may move from one status to another.
func CanTransition(from, to Status) bool {
	return statusTransitions[from][to]
}

// Live reports whether the operation still contributes features.
// Superseded and rolled back operations are retained for audit only.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusInconsistent
}

// Operation is one editing action in the log.
type Operation struct {
	ID         OpID        `json:"id"`
	Seq        int64       `json:"seq"`
	Kind       string      `json:"kind"`
	Inputs     []FeatureID `json:"inputs"`
	Outputs    []FeatureID `json:"outputs"`
	Params     IRObject    `json:"params"`
	Status     Status      `json:"status"`
	Supersedes OpID        `json:"supersedes,omitempty"` // set on recall replacements
	Author     string      `json:"author"`
}

// Clone returns a deep copy so log entries never alias caller memory.
func (op Operation) Clone() Operation {
	out := op
	out.Inputs = append([]FeatureID(nil), op.Inputs...)
	out.Outputs = append([]FeatureID(nil), op.Outputs...)
	out.Params = op.Params.Clone()
	if out.Params == nil {
		out.Params = IRObject{}
	}
	return out
}

// IsRecall reports whether the operation replaced an earlier one.
func (op Operation) IsRecall() bool {
	return op.Supersedes != ""
}

// CanonicalObject renders the operation for canonical JSON.
func (op Operation) CanonicalObject() IRObject {
	params := op.Params
	if params == nil {
		params = IRObject{}
	}
	return IRObject{
		"id":         IRString(op.ID),
		"seq":        IRInt(op.Seq),
		"kind":       IRString(op.Kind),
		"inputs":     featureArray(op.Inputs),
		"outputs":    featureArray(op.Outputs),
		"params":     params,
		"status":     IRString(op.Status),
		"supersedes": IRString(op.Supersedes),
		"author":     IRString(op.Author),
	}
}

func featureArray(ids []FeatureID) IRArray {
	arr := make(IRArray, len(ids))
	for i, id := range ids {
		arr[i] = IRString(id)
	}
	return arr
}

// String implements fmt.Stringer.
func (op Operation) String() string {
	return fmt.Sprintf("#%d %s (%s)", op.Seq, op.Kind, op.Status)
}

// Job is the unit of collaborative work.
type Job struct {
	ID               string `json:"id"`
	CurrentRevision  int64  `json:"current_revision"` // as last known by this session
	UnpublishedCount int    `json:"unpublished_count"`
}

// User attributes operations and publishes.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RevisionRecord is an immutable published checkpoint.
type RevisionRecord struct {
	Job       string    `json:"job"`
	Revision  int64     `json:"revision"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	EditCount int       `json:"edit_count"`
	Sequences []int64   `json:"sequences"`
}
