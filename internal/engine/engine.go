package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/features"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/oplog"
)

// Engine applies operations of one session.
type Engine struct {
	log      *oplog.Log
	features *features.Store
	index    *depindex.Index
	catalog  *kinds.Catalog
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over the session's log, features and index.
// The engine keeps the pointers; callers that roll back must reset those
// values in place rather than swap them.
func New(log *oplog.Log, fs *features.Store, ix *depindex.Index, catalog *kinds.Catalog, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		features: fs,
		index:    ix,
		catalog:  catalog,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarizes a Recompute call.
type Result struct {
	Recomputed   []ir.OpID // applied cleanly, in order
	Inconsistent []ir.OpID // marked Inconsistent, in order
	Failed       ir.OpID   // first operation whose own apply failed
}

// Evaluate computes op's outputs without writing anything.
func (e *Engine) Evaluate(op ir.Operation) ([]orb.Geometry, error) {
	kind, err := e.catalog.Lookup(op.Kind)
	if err != nil {
		return nil, err
	}

	inputs := make([]orb.Geometry, len(op.Inputs))
	for i, f := range op.Inputs {
		g, err := e.features.Geometry(f)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		inputs[i] = g
	}

	out, err := kind.Apply(inputs, op.Params)
	if err != nil {
		return nil, err
	}
	if len(out) != len(op.Outputs) {
		return nil, &ir.EditError{
			Code:    ir.ErrCodeArityChange,
			Message: fmt.Sprintf("%s produced %d outputs, operation has %d", op.Kind, len(out), len(op.Outputs)),
			Op:      op.ID,
		}
	}
	return out, nil
}

// Apply runs op and writes its outputs. When replaces is set, op takes over
// features produced by that operation. Nothing is written unless every
// output can be written.
func (e *Engine) Apply(ctx context.Context, op ir.Operation, replaces ir.OpID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := e.Evaluate(op)
	if err != nil {
		return err
	}

	for _, f := range op.Outputs {
		if cur, ok := e.features.Get(f); ok && cur.ProducedBy != op.ID && cur.ProducedBy != replaces {
			return &ir.EditError{
				Code:    ir.ErrCodeInvalidState,
				Message: fmt.Sprintf("feature belongs to %s", cur.ProducedBy),
				Op:      op.ID,
				Feature: f,
			}
		}
	}
	for i, f := range op.Outputs {
		if _, err := e.features.Put(f, op.ID, replaces, out[i]); err != nil {
			return err
		}
	}

	e.logger.Debug("applied operation", "op", op.ID, "seq", op.Seq, "kind", op.Kind, "outputs", len(out))
	return nil
}

// Recompute applies each operation in ordered, in order.
//
// Operations that are no longer live are skipped. An operation that fails,
// and every later one reading its outputs, is marked Inconsistent. A
// previously Inconsistent operation that applies cleanly returns to Active.
func (e *Engine) Recompute(ctx context.Context, ordered []ir.OpID) (Result, error) {
	res := Result{}
	tainted := make(map[ir.FeatureID]bool)
	var firstErr error

	for _, id := range ordered {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		op, ok := e.log.Get(id)
		if !ok {
			return res, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation not in log", Op: id}
		}
		if !op.Status.Live() {
			continue
		}

		if readsAny(op.Inputs, tainted) {
			if err := e.markInconsistent(op, tainted); err != nil {
				return res, err
			}
			res.Inconsistent = append(res.Inconsistent, id)
			continue
		}

		if err := e.Apply(ctx, op, ""); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			e.logger.Warn("recompute failed", "op", id, "seq", op.Seq, "kind", op.Kind, "error", err)
			if markErr := e.markInconsistent(op, tainted); markErr != nil {
				return res, markErr
			}
			res.Inconsistent = append(res.Inconsistent, id)
			if firstErr == nil {
				res.Failed = id
				firstErr = err
			}
			continue
		}

		if op.Status == ir.StatusInconsistent {
			if err := e.log.SetStatus(id, ir.StatusActive); err != nil {
				return res, err
			}
		}
		res.Recomputed = append(res.Recomputed, id)
	}

	if firstErr != nil {
		return res, &ir.EditError{
			Code:    ir.ErrCodeRecomputeFailure,
			Message: fmt.Sprintf("%d of %d operations left inconsistent", len(res.Inconsistent), len(ordered)),
			Op:      res.Failed,
			Err:     firstErr,
		}
	}
	return res, nil
}

func (e *Engine) markInconsistent(op ir.Operation, tainted map[ir.FeatureID]bool) error {
	for _, f := range op.Outputs {
		tainted[f] = true
	}
	return e.log.SetStatus(op.ID, ir.StatusInconsistent)
}

func readsAny(inputs []ir.FeatureID, set map[ir.FeatureID]bool) bool {
	for _, f := range inputs {
		if set[f] {
			return true
		}
	}
	return false
}

// Cascade recomputes every live operation that transitively reads any of
// changed, in dependency order.
func (e *Engine) Cascade(ctx context.Context, changed []ir.FeatureID) (Result, error) {
	ordered, err := e.index.Dependents(changed)
	if err != nil {
		return Result{}, err
	}
	return e.Recompute(ctx, ordered)
}
