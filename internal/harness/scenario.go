package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadlog/internal/session"
)

// Scenario is a scripted multi-user editing session. Steps run in order,
// each against the session of the user it names, all sharing one store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Job is the job id. Defaults to Name.
	Job string `yaml:"job,omitempty"`

	// Users lists the participants. Sessions are opened in this order
	// before the first step.
	Users []UserSpec `yaml:"users"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final session states.
	Assertions []Assertion `yaml:"assertions"`
}

// UserSpec declares one participant.
type UserSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`

	// Prefix for generated ids: prefix-0001, prefix-0002, ... Defaults to ID.
	Prefix string `yaml:"prefix,omitempty"`
}

// Step runs one command for one user.
type Step struct {
	User string `yaml:"user"`

	// Command is a session command name, or "reopen" to discard the
	// user's session and open it again from the store.
	Command string `yaml:"command"`

	Kind   string         `yaml:"kind,omitempty"`
	Inputs []string       `yaml:"inputs,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// Target is the feature a recall points at; TargetOp points at an
	// operation instead.
	Target   string `yaml:"target,omitempty"`
	TargetOp string `yaml:"target_op,omitempty"`

	// Op is the predecessor to revise. Empty means the target's producer.
	Op string `yaml:"op,omitempty"`

	AcceptArityChange bool `yaml:"accept_arity_change,omitempty"`

	// Expect validates the step's trace event. Without it the step must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// CommandReopen reopens a user's session from the store.
const CommandReopen = "reopen"

// ExpectClause lists expected trace fields. Only the fields that are set
// are compared.
type ExpectClause struct {
	// Outcome is "ok" (the default), "declined", or an error code.
	Outcome string `yaml:"outcome,omitempty"`

	Op           string   `yaml:"op,omitempty"`
	Seq          int64    `yaml:"seq,omitempty"`
	Outputs      []string `yaml:"outputs,omitempty"`
	Superseded   string   `yaml:"superseded,omitempty"`
	Recomputed   []string `yaml:"recomputed,omitempty"`
	Inconsistent []string `yaml:"inconsistent,omitempty"`
	Undone       string   `yaml:"undone,omitempty"`
	Revision     int64    `yaml:"revision,omitempty"`
	Rebased      int      `yaml:"rebased,omitempty"`
	Discarded    []string `yaml:"discarded,omitempty"`
}

// Assertion validates the final state of one or more sessions.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	User  string   `yaml:"user,omitempty"`
	Users []string `yaml:"users,omitempty"` // same_state

	Op      string `yaml:"op,omitempty"`      // op_status
	Status  string `yaml:"status,omitempty"`  // op_status
	Feature string `yaml:"feature,omitempty"` // feature_point, feature_absent

	// X and Y are expected coordinates in millimetres (feature_point).
	X int64 `yaml:"x,omitempty"`
	Y int64 `yaml:"y,omitempty"`

	Count    int      `yaml:"count,omitempty"`    // feature_count, unpublished, trace_count
	Revision int64    `yaml:"revision,omitempty"` // revision
	Ops      []string `yaml:"ops,omitempty"`      // history

	Command string `yaml:"command,omitempty"` // trace_count
	Outcome string `yaml:"outcome,omitempty"` // trace_count
}

// Assertion types.
const (
	AssertOpStatus      = "op_status"
	AssertFeaturePoint  = "feature_point"
	AssertFeatureAbsent = "feature_absent"
	AssertFeatureCount  = "feature_count"
	AssertUnpublished   = "unpublished"
	AssertRevision      = "revision"
	AssertHistory       = "history"
	AssertSameState     = "same_state"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Users) == 0 {
		return fmt.Errorf("users list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	users := make(map[string]bool, len(s.Users))
	prefixes := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if users[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		users[u.ID] = true
		if prefixes[u.prefix()] {
			return fmt.Errorf("users[%d]: duplicate id prefix %q", i, u.prefix())
		}
		prefixes[u.prefix()] = true
	}

	commands := validCommands()
	for i, step := range s.Steps {
		if !users[step.User] {
			return fmt.Errorf("steps[%d]: unknown user %q", i, step.User)
		}
		if !slices.Contains(commands, step.Command) {
			return fmt.Errorf("steps[%d]: unknown command %q", i, step.Command)
		}
		switch session.CommandName(step.Command) {
		case session.CmdEdit:
			if step.Kind == "" {
				return fmt.Errorf("steps[%d]: kind is required for edit", i)
			}
		case session.CmdRecall:
			if step.Target == "" && step.TargetOp == "" {
				return fmt.Errorf("steps[%d]: target or target_op is required for recall", i)
			}
			if step.Target != "" && step.TargetOp != "" {
				return fmt.Errorf("steps[%d]: target and target_op are mutually exclusive", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], users); err != nil {
			return err
		}
	}
	return nil
}

func validCommands() []string {
	names := []string{CommandReopen}
	for _, n := range session.CommandNames() {
		names = append(names, string(n))
	}
	return names
}

func validateAssertion(index int, a *Assertion, users map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needUser := func() error {
		if !users[a.User] {
			return fmt.Errorf("assertions[%d]: %s requires a known user, got %q", index, a.Type, a.User)
		}
		return nil
	}

	switch a.Type {
	case AssertOpStatus:
		if a.Op == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: op and status are required for op_status", index)
		}
		return needUser()
	case AssertFeaturePoint, AssertFeatureAbsent:
		if a.Feature == "" {
			return fmt.Errorf("assertions[%d]: feature is required for %s", index, a.Type)
		}
		return needUser()
	case AssertFeatureCount, AssertUnpublished, AssertRevision, AssertHistory:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
		return needUser()
	case AssertSameState:
		if len(a.Users) < 2 {
			return fmt.Errorf("assertions[%d]: same_state needs at least two users", index)
		}
		for _, u := range a.Users {
			if !users[u] {
				return fmt.Errorf("assertions[%d]: unknown user %q", index, u)
			}
		}
	case AssertTraceCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (u UserSpec) prefix() string {
	if u.Prefix != "" {
		return u.Prefix
	}
	return u.ID
}

func (u UserSpec) name() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// JobID is the job the scenario runs in.
func (s *Scenario) JobID() string {
	if s.Job != "" {
		return s.Job
	}
	return s.Name
}
