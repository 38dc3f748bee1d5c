package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/recall"
)

// ErrRecallDeclined is returned when a Recall's picker chooses nothing.
var ErrRecallDeclined = errors.New("recall declined")

// EditAction is one edit entering a session: Direct or Recall.
type EditAction interface {
	editAction()
}

// Direct adds a new operation of Kind.
type Direct struct {
	Kind   string
	Inputs []ir.FeatureID
	Params ir.IRObject
}

// Recall revises an earlier operation and recomputes what depends on it.
type Recall struct {
	// Target is the feature or operation the user pointed at.
	Target depindex.Target

	// Op is the predecessor of Target to revise. Empty means the
	// producer of Target itself.
	Op ir.OpID

	// Picker chooses among the predecessors of Target. It takes
	// precedence over Op.
	Picker recall.Picker

	// Params are the revised parameters; nil keeps the original ones.
	Params ir.IRObject

	// Inputs replaces the operation's inputs when non-nil.
	Inputs []ir.FeatureID

	AcceptArityChange bool
}

func (Direct) editAction() {}
func (Recall) editAction() {}

// Result is the outcome of Do.
type Result struct {
	// Op is the operation the edit appended: the new operation of a
	// direct edit, or the replacement of a recall.
	Op ir.Operation

	// Recall is set for recalls.
	Recall *recall.Outcome
}

// Do applies action.
//
// A direct edit is evaluated before anything is written; if it cannot be
// applied Do returns a ValidationError and the session is unchanged. A
// recall follows the recall coordinator: it may commit with a
// RecomputeFailure, in which case both the Result and the error are set.
func (s *Session) Do(ctx context.Context, action EditAction) (Result, error) {
	switch a := action.(type) {
	case Direct:
		return s.doDirect(ctx, a)
	case Recall:
		return s.doRecall(ctx, a)
	default:
		return Result{}, ir.NewError(ir.ErrCodeValidation, "unknown edit action %T", action)
	}
}

func (s *Session) doDirect(ctx context.Context, a Direct) (Result, error) {
	kind, err := s.catalog.Lookup(a.Kind)
	if err != nil {
		return Result{}, err
	}
	params := a.Params.Clone()
	if params == nil {
		params = ir.IRObject{}
	}
	if err := kind.Validate(params); err != nil {
		return Result{}, err
	}
	arity, err := kind.Arity(params)
	if err != nil {
		return Result{}, err
	}

	op := ir.Operation{
		Kind:    a.Kind,
		Inputs:  append([]ir.FeatureID{}, a.Inputs...),
		Outputs: make([]ir.FeatureID, arity),
		Params:  params,
		Author:  s.user.ID,
	}
	if _, err := s.engine.Evaluate(op); err != nil {
		if ir.CodeOf(err) == "" {
			err = &ir.EditError{
				Code:    ir.ErrCodeValidation,
				Message: fmt.Sprintf("%s cannot be applied", a.Kind),
				Err:     err,
			}
		}
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	op.ID = ir.OpID(s.ids.NewID())
	for i := range op.Outputs {
		op.Outputs[i] = ir.FeatureID(s.ids.NewID())
	}

	restore := s.checkpoint()
	appended, err := s.log.Append(op, s.log.Tail())
	if err != nil {
		restore()
		return Result{}, err
	}
	if err := s.index.Link(appended, ""); err != nil {
		restore()
		return Result{}, err
	}
	if err := s.engine.Apply(ctx, appended, ""); err != nil {
		restore()
		return Result{}, err
	}

	s.logger.Info("edit applied", "op", appended.ID, "seq", appended.Seq, "kind", appended.Kind, "outputs", len(appended.Outputs))
	return Result{Op: appended}, s.saveDrafts(ctx)
}

func (s *Session) doRecall(ctx context.Context, a Recall) (Result, error) {
	target := a.Target
	if target == (depindex.Target{}) && a.Op != "" {
		target = depindex.OpTarget(a.Op)
	}

	if _, err := s.recall.Begin(target); err != nil {
		return Result{}, err
	}

	var action recall.RecalledAction
	if a.Picker != nil {
		picked, ok, err := s.recall.Pick(a.Picker)
		if err != nil {
			s.abandonRecall()
			return Result{}, err
		}
		if !ok {
			return Result{}, ErrRecallDeclined
		}
		action = picked
	} else {
		var err error
		id := a.Op
		if id == "" {
			if id, err = s.producerOf(target); err != nil {
				s.abandonRecall()
				return Result{}, err
			}
		}
		if action, err = s.recall.Select(id); err != nil {
			s.abandonRecall()
			return Result{}, err
		}
	}

	params := a.Params
	if params == nil {
		params = action.Operation.Params
	}
	opts := recall.ReviseOptions{Inputs: a.Inputs, AcceptArityChange: a.AcceptArityChange}
	if err := s.recall.Revise(params, opts); err != nil {
		s.abandonRecall()
		return Result{}, err
	}

	outcome, err := s.recall.Apply(ctx)
	if err != nil && !ir.IsRecomputeFailure(err) {
		return Result{}, err
	}

	replacement, _ := s.log.Get(outcome.Replacement)
	res := Result{Op: replacement, Recall: &outcome}
	if saveErr := s.saveDrafts(ctx); saveErr != nil && err == nil {
		err = saveErr
	}
	return res, err
}

func (s *Session) producerOf(target depindex.Target) (ir.OpID, error) {
	if target.Op != "" {
		return target.Op, nil
	}
	id, ok := s.index.ProducerOf(target.Feature)
	if !ok {
		return "", &ir.EditError{Code: ir.ErrCodeNotFound, Message: "feature has no producer", Feature: target.Feature}
	}
	return id, nil
}

// abandonRecall cancels a recall that has not reached Apply.
func (s *Session) abandonRecall() {
	switch s.recall.State() {
	case recall.SelectingPredecessor, recall.EditingParameters:
		if err := s.recall.Cancel(); err != nil {
			s.logger.Error("cancel recall", "error", err)
		}
	}
}
