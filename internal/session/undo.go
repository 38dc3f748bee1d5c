package session

import (
	"context"
	"slices"

	"github.com/roach88/cadlog/internal/ir"
)

// Undo rolls back the most recent live, unpublished operation that no
// other operation reads: its status becomes RolledBack and its features are
// removed. Undoing a recall replacement reinstates the operation it
// superseded. Published operations cannot be undone.
//
// It returns the id of the rolled back operation.
func (s *Session) Undo(ctx context.Context) (ir.OpID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	op, ok := s.undoCandidate()
	if !ok {
		if s.log.PublishedBoundary() > 0 {
			return "", ir.NewError(ir.ErrCodeInvalidState, "published operations cannot be undone")
		}
		return "", ir.NewError(ir.ErrCodeInvalidState, "nothing to undo")
	}

	restore := s.checkpoint()
	if err := s.log.SetStatus(op.ID, ir.StatusRolledBack); err != nil {
		restore()
		return "", err
	}

	orig, reinstate := s.log.Get(op.Supersedes)
	reinstate = reinstate && orig.Status == ir.StatusSuperseded
	if reinstate {
		if err := s.log.SetStatus(orig.ID, ir.StatusActive); err != nil {
			restore()
			return "", err
		}
		orig.Status = ir.StatusActive
	}
	if err := s.index.Rebuild(s.log); err != nil {
		restore()
		return "", err
	}

	for _, f := range op.Outputs {
		if reinstate && slices.Contains(orig.Outputs, f) {
			continue
		}
		s.features.Remove(f)
	}
	if reinstate {
		applied, err := s.applyOrMark(ctx, orig, op.ID)
		if err != nil {
			restore()
			return "", err
		}
		if !applied {
			for _, f := range orig.Outputs {
				if cur, ok := s.features.Get(f); ok && cur.ProducedBy == op.ID {
					s.features.Remove(f)
				}
			}
		}
	}

	s.logger.Info("operation undone", "op", op.ID, "seq", op.Seq, "kind", op.Kind, "reinstated", orig.ID)
	return op.ID, s.saveDrafts(ctx)
}

// undoCandidate finds the newest unpublished live operation without
// consumers.
func (s *Session) undoCandidate() (ir.Operation, bool) {
	suffix := s.log.UnpublishedSuffix()
	for i := len(suffix) - 1; i >= 0; i-- {
		op := suffix[i]
		if op.Status.Live() && !s.index.HasConsumers(op.ID) {
			return op, true
		}
	}
	return ir.Operation{}, false
}
