package recall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/engine"
	"github.com/roach88/cadlog/internal/features"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/oplog"
)

// State is the position of a recall in its lifecycle.
type State int

const (
	Idle State = iota
	SelectingPredecessor
	EditingParameters
	Applying
	Committed
	RolledBack
)

var stateNames = map[State]string{
	Idle:                 "idle",
	SelectingPredecessor: "selecting_predecessor",
	EditingParameters:    "editing_parameters",
	Applying:             "applying",
	Committed:            "committed",
	RolledBack:           "rolled_back",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CommandID names the editing command that created an operation.
type CommandID string

// RecalledAction is handed from predecessor selection to parameter
// editing: the command that originally produced the operation, and the
// operation as logged.
type RecalledAction struct {
	Origin    CommandID
	Operation ir.Operation
}

// Picker chooses one operation from the candidates, or declines.
type Picker interface {
	Pick(candidates []ir.Operation) (ir.OpID, bool)
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(candidates []ir.Operation) (ir.OpID, bool)

// Pick calls f.
func (f PickerFunc) Pick(candidates []ir.Operation) (ir.OpID, bool) { return f(candidates) }

// ReviseOptions adjusts a revision beyond its parameters.
type ReviseOptions struct {
	// Inputs replaces the operation's inputs when non-nil.
	Inputs []ir.FeatureID

	// AcceptArityChange allows the revised parameters to change the number
	// of outputs. Surviving positions keep their feature ids, new positions
	// get fresh ids, and dropped features must have no consumers.
	AcceptArityChange bool
}

// Outcome describes a finished Apply.
type Outcome struct {
	Original    ir.OpID
	Replacement ir.OpID
	Added       []ir.FeatureID
	Dropped     []ir.FeatureID
	Cascade     engine.Result
}

// Coordinator drives recalls for one session. Not safe for concurrent use.
type Coordinator struct {
	log      *oplog.Log
	features *features.Store
	index    *depindex.Index
	engine   *engine.Engine
	catalog  *kinds.Catalog
	ids      engine.IDGenerator
	author   string
	logger   *slog.Logger

	state      State
	target     depindex.Target
	candidates []ir.Operation
	action     *RecalledAction
	params     ir.IRObject
	inputs     []ir.FeatureID
	outputs    []ir.FeatureID
	dropped    []ir.FeatureID
	added      []ir.FeatureID
	revised    bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a coordinator over a session's components. author is recorded
// on replacement operations.
func New(log *oplog.Log, fs *features.Store, ix *depindex.Index, eng *engine.Engine, catalog *kinds.Catalog, ids engine.IDGenerator, author string, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:      log,
		features: fs,
		index:    ix,
		engine:   eng,
		catalog:  catalog,
		ids:      ids,
		author:   author,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State { return c.state }

// Action returns the selected operation, once Select has succeeded.
func (c *Coordinator) Action() (RecalledAction, bool) {
	if c.action == nil {
		return RecalledAction{}, false
	}
	return *c.action, true
}

func (c *Coordinator) require(states ...State) error {
	if slices.Contains(states, c.state) {
		return nil
	}
	return ir.NewError(ir.ErrCodeInvalidState, "recall is %s", c.state)
}

func (c *Coordinator) reset() {
	c.candidates = nil
	c.action = nil
	c.params = nil
	c.inputs = nil
	c.outputs = nil
	c.dropped = nil
	c.added = nil
	c.revised = false
}

// Begin starts a recall at target and returns the candidate operations:
// the producer of the target and everything it transitively depends on,
// oldest first.
func (c *Coordinator) Begin(target depindex.Target) ([]ir.Operation, error) {
	if err := c.require(Idle, Committed, RolledBack); err != nil {
		return nil, err
	}

	ids, err := c.index.Predecessors(target)
	if err != nil {
		return nil, err
	}

	c.reset()
	c.target = target
	for _, id := range ids {
		op, ok := c.log.Get(id)
		if !ok {
			return nil, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "indexed operation missing from log", Op: id}
		}
		c.candidates = append(c.candidates, op)
	}
	c.state = SelectingPredecessor
	return slices.Clone(c.candidates), nil
}

// Select chooses the operation to revise. id must be one of the candidates
// from Begin, and only Active or Inconsistent operations can be recalled. A
// failed Select leaves the recall in SelectingPredecessor.
func (c *Coordinator) Select(id ir.OpID) (RecalledAction, error) {
	if err := c.require(SelectingPredecessor); err != nil {
		return RecalledAction{}, err
	}
	if !slices.ContainsFunc(c.candidates, func(op ir.Operation) bool { return op.ID == id }) {
		return RecalledAction{}, &ir.EditError{
			Code:    ir.ErrCodeNotFound,
			Message: fmt.Sprintf("operation is not a predecessor of %s", c.target),
			Op:      id,
		}
	}

	op, ok := c.log.Get(id)
	if !ok {
		return RecalledAction{}, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation not in log", Op: id}
	}
	if !op.Status.Live() {
		return RecalledAction{}, &ir.EditError{
			Code:    ir.ErrCodeInvalidState,
			Message: fmt.Sprintf("cannot recall a %s operation", op.Status),
			Op:      id,
		}
	}

	c.action = &RecalledAction{Origin: CommandID(op.Kind), Operation: op}
	c.state = EditingParameters
	return *c.action, nil
}

// Pick lets p choose among the candidates from Begin. A declined pick
// cancels the recall.
func (c *Coordinator) Pick(p Picker) (RecalledAction, bool, error) {
	if err := c.require(SelectingPredecessor); err != nil {
		return RecalledAction{}, false, err
	}
	id, ok := p.Pick(slices.Clone(c.candidates))
	if !ok {
		return RecalledAction{}, false, c.Cancel()
	}
	action, err := c.Select(id)
	return action, err == nil, err
}

// Revise records revised parameters. It validates their shape against the
// kind schema and checks the output arity, but changes nothing: a failed
// Revise leaves the recall in EditingParameters.
func (c *Coordinator) Revise(params ir.IRObject, opts ReviseOptions) error {
	if err := c.require(EditingParameters); err != nil {
		return err
	}
	orig := c.action.Operation

	kind, err := c.catalog.Lookup(orig.Kind)
	if err != nil {
		return err
	}
	if err := kind.Validate(params); err != nil {
		return err
	}

	inputs := orig.Inputs
	if opts.Inputs != nil {
		inputs = opts.Inputs
	}
	if len(inputs) != len(kind.Inputs) {
		return ir.NewError(ir.ErrCodeValidation, "%s takes %d inputs, got %d", kind.Name, len(kind.Inputs), len(inputs))
	}
	for _, f := range inputs {
		if _, ok := c.features.Get(f); !ok {
			return &ir.EditError{Code: ir.ErrCodeNotFound, Message: "input feature does not exist", Feature: f}
		}
		if slices.Contains(orig.Outputs, f) {
			return &ir.EditError{Code: ir.ErrCodeDependencyCycle, Message: "operation would read its own output", Op: orig.ID, Feature: f}
		}
	}

	arity, err := kind.Arity(params)
	if err != nil {
		return err
	}
	outputs, added, dropped, err := c.resolveArity(orig, arity, opts.AcceptArityChange)
	if err != nil {
		return err
	}

	c.params = params.Clone()
	c.inputs = slices.Clone(inputs)
	c.outputs = outputs
	c.added = added
	c.dropped = dropped
	c.revised = true
	return nil
}

func (c *Coordinator) resolveArity(orig ir.Operation, arity int, accept bool) (outputs, added, dropped []ir.FeatureID, err error) {
	have := len(orig.Outputs)
	if arity == have {
		return slices.Clone(orig.Outputs), nil, nil, nil
	}
	if !accept {
		return nil, nil, nil, &ir.EditError{
			Code:    ir.ErrCodeArityChange,
			Message: fmt.Sprintf("revision produces %d outputs instead of %d", arity, have),
			Op:      orig.ID,
			Details: map[string]string{"from": fmt.Sprint(have), "to": fmt.Sprint(arity)},
		}
	}

	keep := min(arity, have)
	outputs = slices.Clone(orig.Outputs[:keep])
	for range arity - keep {
		id := ir.FeatureID(c.ids.NewID())
		outputs = append(outputs, id)
		added = append(added, id)
	}
	dropped = slices.Clone(orig.Outputs[keep:])
	for _, f := range dropped {
		if consumers := c.index.ConsumersOf(f); len(consumers) > 0 {
			return nil, nil, nil, &ir.EditError{
				Code:    ir.ErrCodeArityChange,
				Message: fmt.Sprintf("dropped feature is read by %d operations", len(consumers)),
				Op:      consumers[0],
				Feature: f,
			}
		}
	}
	return outputs, added, dropped, nil
}

// Cancel abandons the recall before Apply. Nothing has been mutated, so
// there is nothing to undo.
func (c *Coordinator) Cancel() error {
	if err := c.require(SelectingPredecessor, EditingParameters); err != nil {
		return err
	}
	c.state = RolledBack
	return nil
}
