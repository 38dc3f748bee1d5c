// Package oplog is the append-only, per-job record of editing operations.
//
// The log is an arena: operations live in a slice ordered by sequence and
// are addressed by position, never by pointer. Dependencies between
// operations are expressed through feature ids and resolved by the
// dependency index, not stored here.
//
// Once logged, an operation changes only through SetStatus. Nothing is ever
// removed; superseded and rolled back operations stay for audit.
package oplog

import (
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/cadlog/internal/ir"
)

// Log is one job's operation history as seen by one session.
// Not safe for concurrent use.
type Log struct {
	job       string
	ops       []ir.Operation
	pos       map[ir.OpID]int
	published int64 // highest sequence known to the shared store
}

// New returns an empty log for job.
func New(job string) *Log {
	return &Log{job: job, pos: make(map[ir.OpID]int)}
}

// Job returns the job id.
func (l *Log) Job() string { return l.job }

// Len returns the number of logged operations, in any status.
func (l *Log) Len() int { return len(l.ops) }

// Tail returns the highest sequence in the log, or the published boundary
// when the log holds nothing beyond it.
func (l *Log) Tail() int64 {
	if len(l.ops) == 0 {
		return l.published
	}
	return max(l.ops[len(l.ops)-1].Seq, l.published)
}

// Append adds op as a new Active operation at Tail()+1.
// expectedTail is the caller's view of the tail; a stale view fails with
// SequenceConflict and leaves the log untouched.
func (l *Log) Append(op ir.Operation, expectedTail int64) (ir.Operation, error) {
	tail := l.Tail()
	if expectedTail != tail {
		return ir.Operation{}, &ir.EditError{
			Code:    ir.ErrCodeSequenceConflict,
			Message: fmt.Sprintf("expected tail %d, log tail is %d", expectedTail, tail),
			Op:      op.ID,
		}
	}

	op = op.Clone()
	op.Seq = tail + 1
	op.Status = ir.StatusActive
	if err := l.insert(op); err != nil {
		return ir.Operation{}, err
	}
	return op.Clone(), nil
}

// Restore adds a previously persisted operation, keeping its sequence and
// status. Used when replaying published operations and drafts.
func (l *Log) Restore(op ir.Operation) error {
	if op.Seq <= l.lastSeq() {
		return &ir.EditError{
			Code:    ir.ErrCodeSequenceConflict,
			Message: fmt.Sprintf("sequence %d is not after tail %d", op.Seq, l.lastSeq()),
			Op:      op.ID,
		}
	}
	if !ir.ValidStatuses[op.Status] {
		return ir.NewError(ir.ErrCodeValidation, "operation %s has invalid status %q", op.ID, op.Status)
	}
	return l.insert(op.Clone())
}

func (l *Log) lastSeq() int64 {
	if len(l.ops) == 0 {
		return 0
	}
	return l.ops[len(l.ops)-1].Seq
}

func (l *Log) insert(op ir.Operation) error {
	if op.ID == "" {
		return ir.NewError(ir.ErrCodeValidation, "operation id is required")
	}
	if _, dup := l.pos[op.ID]; dup {
		return ir.NewError(ir.ErrCodeValidation, "operation %s already logged", op.ID)
	}
	l.pos[op.ID] = len(l.ops)
	l.ops = append(l.ops, op)
	return nil
}

// Get returns a copy of the operation with id.
func (l *Log) Get(id ir.OpID) (ir.Operation, bool) {
	i, ok := l.pos[id]
	if !ok {
		return ir.Operation{}, false
	}
	return l.ops[i].Clone(), true
}

// Seq returns the sequence of id, or 0 if unknown. Cheaper than Get.
func (l *Log) Seq(id ir.OpID) int64 {
	i, ok := l.pos[id]
	if !ok {
		return 0
	}
	return l.ops[i].Seq
}

// Status returns the status of id.
func (l *Log) Status(id ir.OpID) (ir.Status, bool) {
	i, ok := l.pos[id]
	if !ok {
		return "", false
	}
	return l.ops[i].Status, true
}

// SetStatus moves an operation to a new status. Only transitions allowed by
// ir.CanTransition are accepted.
func (l *Log) SetStatus(id ir.OpID, status ir.Status) error {
	i, ok := l.pos[id]
	if !ok {
		return &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation not in log", Op: id}
	}
	from := l.ops[i].Status
	if from == status {
		return nil
	}
	if !ir.CanTransition(from, status) {
		return &ir.EditError{
			Code:    ir.ErrCodeInvalidState,
			Message: fmt.Sprintf("cannot move operation from %s to %s", from, status),
			Op:      id,
		}
	}
	l.ops[i].Status = status
	return nil
}

// SetOutputs replaces the output ids of an operation. Only the recall
// coordinator does this, before the operation is first applied.
func (l *Log) SetOutputs(id ir.OpID, outputs []ir.FeatureID) error {
	i, ok := l.pos[id]
	if !ok {
		return &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation not in log", Op: id}
	}
	l.ops[i].Outputs = slices.Clone(outputs)
	return nil
}

// Iterate yields copies of the operations with sequence >= from, in
// sequence order. The sequence is finite and may be ranged over again.
func (l *Log) Iterate(from int64) iter.Seq[ir.Operation] {
	return func(yield func(ir.Operation) bool) {
		start, _ := slices.BinarySearchFunc(l.ops, from, func(op ir.Operation, seq int64) int {
			switch {
			case op.Seq < seq:
				return -1
			case op.Seq > seq:
				return 1
			}
			return 0
		})
		for i := start; i < len(l.ops); i++ {
			if !yield(l.ops[i].Clone()) {
				return
			}
		}
	}
}

// All is Iterate(0).
func (l *Log) All() iter.Seq[ir.Operation] {
	return l.Iterate(0)
}

// PublishedBoundary returns the highest published sequence.
func (l *Log) PublishedBoundary() int64 {
	return l.published
}

// MarkPublished advances the published boundary to seq.
func (l *Log) MarkPublished(seq int64) error {
	if seq < l.published {
		return ir.NewError(ir.ErrCodeInvalidState, "published boundary cannot move back from %d to %d", l.published, seq)
	}
	if seq > l.Tail() {
		return ir.NewError(ir.ErrCodeInvalidState, "published boundary %d is past tail %d", seq, l.Tail())
	}
	l.published = seq
	return nil
}

// IsPublished reports whether id lies at or before the published boundary.
func (l *Log) IsPublished(id ir.OpID) bool {
	seq := l.Seq(id)
	return seq != 0 && seq <= l.published
}

// UnpublishedSuffix returns the operations after the published boundary.
// The slice is a snapshot; later mutations of the log do not affect it.
func (l *Log) UnpublishedSuffix() []ir.Operation {
	return slices.Collect(l.Iterate(l.published + 1))
}

// Clone returns an independent copy for checkpoint and rollback.
func (l *Log) Clone() *Log {
	c := &Log{
		job:       l.job,
		ops:       make([]ir.Operation, len(l.ops)),
		pos:       make(map[ir.OpID]int, len(l.pos)),
		published: l.published,
	}
	for i, op := range l.ops {
		c.ops[i] = op.Clone()
	}
	for id, i := range l.pos {
		c.pos[id] = i
	}
	return c
}

// Digest hashes the full log, every operation and the published boundary.
// Two logs with equal digests are byte-for-byte identical in canonical form.
func (l *Log) Digest() (string, error) {
	arr := make(ir.IRArray, len(l.ops))
	for i, op := range l.ops {
		arr[i] = op.CanonicalObject()
	}
	return ir.Digest(ir.DomainState, ir.IRObject{
		"job":       ir.IRString(l.job),
		"published": ir.IRInt(l.published),
		"ops":       arr,
	})
}

// ResetTo replaces the contents of l with a copy of snapshot. Pointers to l
// held by other components stay valid.
func (l *Log) ResetTo(snapshot *Log) {
	*l = *snapshot.Clone()
}
