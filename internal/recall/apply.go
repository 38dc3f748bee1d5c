package recall

import (
	"context"
	"slices"

	"github.com/roach88/cadlog/internal/ir"
)

// Apply commits the revision: the original is superseded by a new
// operation with the same kind and, unless revised, the same inputs; the
// new operation re-derives the original's features in place; then every
// dependent is recomputed.
//
// The recall commits even when the cascade fails downstream; the error is
// then a RecomputeFailure naming the first failing operation. If the new
// operation itself cannot be applied the recall rolls back and Apply
// returns a ValidationError. If ctx is cancelled the recall rolls back and
// Apply returns ctx.Err().
func (c *Coordinator) Apply(ctx context.Context) (Outcome, error) {
	if err := c.require(EditingParameters); err != nil {
		return Outcome{}, err
	}
	if !c.revised {
		return Outcome{}, ir.NewError(ir.ErrCodeInvalidState, "no revised parameters; call Revise first")
	}
	if err := ctx.Err(); err != nil {
		c.state = RolledBack
		return Outcome{}, err
	}

	c.state = Applying
	orig := c.action.Operation
	logSnap := c.log.Clone()
	fsSnap := c.features.Clone()

	rollback := func(cause error) (Outcome, error) {
		c.log.ResetTo(logSnap)
		c.features.ResetTo(fsSnap)
		if err := c.index.Rebuild(c.log); err != nil {
			c.logger.Error("rebuild index after rollback", "error", err)
		}
		c.state = RolledBack
		c.logger.Info("recall rolled back", "op", orig.ID, "reason", cause)
		return Outcome{}, cause
	}

	if err := c.log.SetStatus(orig.ID, ir.StatusSuperseded); err != nil {
		return rollback(err)
	}
	replacement, err := c.log.Append(ir.Operation{
		ID:         ir.OpID(c.ids.NewID()),
		Kind:       orig.Kind,
		Inputs:     c.inputs,
		Outputs:    c.outputs,
		Params:     c.params,
		Supersedes: orig.ID,
		Author:     c.author,
	}, c.log.Tail())
	if err != nil {
		return rollback(err)
	}
	if err := c.index.Link(replacement, orig.ID); err != nil {
		return rollback(err)
	}
	for _, f := range c.dropped {
		c.features.Remove(f)
	}

	if err := c.engine.Apply(ctx, replacement, orig.ID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rollback(ctxErr)
		}
		if !ir.IsValidation(err) {
			err = &ir.EditError{
				Code:    ir.ErrCodeValidation,
				Message: "revised operation cannot be applied",
				Op:      replacement.ID,
				Err:     err,
			}
		}
		return rollback(err)
	}

	changed := append(slices.Clone(replacement.Outputs), c.dropped...)
	result, err := c.engine.Cascade(ctx, changed)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return rollback(ctxErr)
	}
	if err != nil && !ir.IsRecomputeFailure(err) {
		return rollback(err)
	}

	c.state = Committed
	out := Outcome{
		Original:    orig.ID,
		Replacement: replacement.ID,
		Added:       slices.Clone(c.added),
		Dropped:     slices.Clone(c.dropped),
		Cascade:     result,
	}
	c.logger.Info("recall committed",
		"op", orig.ID,
		"replacement", replacement.ID,
		"seq", replacement.Seq,
		"recomputed", len(result.Recomputed),
		"inconsistent", len(result.Inconsistent),
	)
	return out, err
}
