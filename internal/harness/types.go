package harness

// Outcome values recorded for a step.
const (
	OutcomeOK       = "ok"
	OutcomeDeclined = "declined"
)

// TraceEvent records what one scenario step did. Every field except Step,
// User, Command and Outcome is optional and only set when the command
// produced it.
type TraceEvent struct {
	Step    int    `json:"step"`
	User    string `json:"user"`
	Command string `json:"command"`

	// Outcome is "ok" or the error code returned by the command.
	Outcome string `json:"outcome"`

	Op           string   `json:"op,omitempty"`
	Seq          int64    `json:"seq,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
	Superseded   string   `json:"superseded,omitempty"`
	Recomputed   []string `json:"recomputed,omitempty"`
	Inconsistent []string `json:"inconsistent,omitempty"`
	Undone       string   `json:"undone,omitempty"`
	Revision     int64    `json:"revision,omitempty"`
	Rebased      int      `json:"rebased,omitempty"`
	Discarded    []string `json:"discarded,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Digests maps each user to the digest of their final session state.
	Digests map[string]string `json:"digests,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Digests: make(map[string]string),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
