package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/cadlog/internal/features"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/oplog"
)

// RefreshResult describes a load of the shared store and the rebase of the
// unpublished operations on top of it.
type RefreshResult struct {
	// Revision is the store revision the session is now based on.
	Revision int64

	// Published is the number of published operations replayed.
	Published int

	// Rebased is the number of unpublished operations replayed after the
	// published tail, in their original order.
	Rebased int

	// Skipped lists unpublished operations that were already in the store.
	Skipped []ir.OpID

	// Inconsistent lists rebased operations that no longer apply.
	Inconsistent []ir.OpID

	// Discarded lists rebased recalls whose original was superseded or
	// rolled back by another user. They are kept as RolledBack.
	Discarded []ir.OpID
}

// Refresh reloads the published operations and rebases the unpublished
// suffix after the new tail. Unpublished operations are renumbered but
// never merged or dropped. Use it after a PublishConflict.
//
// On error the session is left as it was.
func (s *Session) Refresh(ctx context.Context) (RefreshResult, error) {
	if err := ctx.Err(); err != nil {
		return RefreshResult{}, err
	}

	suffix := s.log.UnpublishedSuffix()
	restore := s.checkpoint()

	s.log.ResetTo(oplog.New(s.job))
	s.features.ResetTo(features.NewStore())
	if err := s.index.Rebuild(s.log); err != nil {
		restore()
		return RefreshResult{}, err
	}

	res, err := s.load(ctx, suffix)
	if err != nil {
		restore()
		return RefreshResult{}, err
	}

	s.logger.Info("session refreshed",
		"revision", res.Revision,
		"published", res.Published,
		"rebased", res.Rebased,
		"inconsistent", len(res.Inconsistent),
		"discarded", len(res.Discarded),
	)
	return res, s.saveDrafts(ctx)
}

// load replays the job's published operations into an empty session, then
// pending after the published tail.
func (s *Session) load(ctx context.Context, pending []ir.Operation) (RefreshResult, error) {
	rev, err := s.shared.CurrentRevision(ctx, s.job)
	if err != nil {
		return RefreshResult{}, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "read revision of job %s", s.job)
	}
	// Loaded after the revision: a publish in between only makes the
	// session look staler than it is, which a later publish detects.
	published, err := s.shared.LoadPublished(ctx, s.job)
	if err != nil {
		return RefreshResult{}, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "load job %s", s.job)
	}

	res := RefreshResult{Revision: rev, Published: len(published)}
	for _, op := range published {
		if err := s.replay(ctx, op); err != nil {
			return RefreshResult{}, fmt.Errorf("replay published operation %s: %w", op.ID, err)
		}
	}
	if n := len(published); n > 0 {
		if err := s.log.MarkPublished(published[n-1].Seq); err != nil {
			return RefreshResult{}, err
		}
	}

	for _, op := range pending {
		if _, ok := s.log.Get(op.ID); ok {
			res.Skipped = append(res.Skipped, op.ID)
			continue
		}
		op.Seq = s.log.Tail() + 1
		if err := s.replay(ctx, op); err != nil {
			return RefreshResult{}, fmt.Errorf("rebase operation %s: %w", op.ID, err)
		}
		res.Rebased++

		status, _ := s.log.Status(op.ID)
		switch {
		case status == ir.StatusInconsistent:
			res.Inconsistent = append(res.Inconsistent, op.ID)
		case status == ir.StatusRolledBack && op.Status != ir.StatusRolledBack:
			res.Discarded = append(res.Discarded, op.ID)
		}
	}

	s.ledger.Observe(rev)
	return res, nil
}

// replay restores one persisted operation through the same steps a live
// edit takes: log, index, apply. The persisted status only matters for
// RolledBack; every other status is re-derived.
func (s *Session) replay(ctx context.Context, op ir.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case op.Status == ir.StatusRolledBack:
		return s.log.Restore(op)
	case op.IsRecall():
		return s.replayRecall(ctx, op)
	}

	op.Status = ir.StatusActive
	if err := s.log.Restore(op); err != nil {
		return err
	}
	if err := s.index.Link(op, ""); err != nil {
		return err
	}
	_, err := s.applyOrMark(ctx, op, "")
	return err
}

func (s *Session) replayRecall(ctx context.Context, op ir.Operation) error {
	orig, ok := s.log.Get(op.Supersedes)
	if !ok || !orig.Status.Live() {
		s.logger.Warn("recalled operation is no longer live", "op", op.ID, "supersedes", op.Supersedes)
		op.Status = ir.StatusRolledBack
		return s.log.Restore(op)
	}

	op.Status = ir.StatusActive
	if err := s.log.SetStatus(orig.ID, ir.StatusSuperseded); err != nil {
		return err
	}
	if err := s.log.Restore(op); err != nil {
		return err
	}
	if err := s.index.Link(op, orig.ID); err != nil {
		return err
	}
	dropped := missingFrom(orig.Outputs, op.Outputs)
	for _, f := range dropped {
		s.features.Remove(f)
	}

	applied, err := s.applyOrMark(ctx, op, orig.ID)
	if err != nil {
		return err
	}
	if !applied {
		// Features still owned by the superseded operation would block
		// a later recompute of op.
		for _, f := range op.Outputs {
			if cur, ok := s.features.Get(f); ok && cur.ProducedBy == orig.ID {
				s.features.Remove(f)
			}
		}
	}

	_, err = s.engine.Cascade(ctx, append(slices.Clone(op.Outputs), dropped...))
	if err != nil && !ir.IsRecomputeFailure(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

// applyOrMark applies op and marks it Inconsistent when it does not apply.
// Only cancellation and log errors are returned.
func (s *Session) applyOrMark(ctx context.Context, op ir.Operation, replaces ir.OpID) (bool, error) {
	err := s.engine.Apply(ctx, op, replaces)
	if err == nil {
		return true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	s.logger.Warn("operation does not apply", "op", op.ID, "seq", op.Seq, "kind", op.Kind, "error", err)
	return false, s.log.SetStatus(op.ID, ir.StatusInconsistent)
}

// missingFrom returns the ids of a that are not in b, in a's order.
func missingFrom(a, b []ir.FeatureID) []ir.FeatureID {
	var out []ir.FeatureID
	for _, f := range a {
		if !slices.Contains(b, f) {
			out = append(out, f)
		}
	}
	return out
}
