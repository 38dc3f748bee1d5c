// Package depindex maps features to the operations that produce and consume
// them.
//
// The index is derived state: it can always be rebuilt from the operation
// log with Build, and is kept current between rebuilds with Link and
// Unlink. Only live operations (Active or Inconsistent) participate.
//
// Edges run from a producing operation to the operations that read its
// outputs. The graph is kept acyclic; Link refuses an operation that would
// close a cycle.
package depindex

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/roach88/cadlog/internal/ir"
)

// Source is anything that can list operations in sequence order.
// *oplog.Log satisfies it.
type Source interface {
	All() iter.Seq[ir.Operation]
}

// Index is the producer/consumer index of one session.
// Not safe for concurrent use.
type Index struct {
	producers map[ir.FeatureID]ir.OpID
	consumers map[ir.FeatureID]map[ir.OpID]struct{}
	ops       map[ir.OpID]ir.Operation

	walked int // operations visited by cycle checks
}

// New returns an empty index.
func New() *Index {
	return &Index{
		producers: make(map[ir.FeatureID]ir.OpID),
		consumers: make(map[ir.FeatureID]map[ir.OpID]struct{}),
		ops:       make(map[ir.OpID]ir.Operation),
	}
}

// Build indexes every live operation of src in sequence order.
func Build(src Source) (*Index, error) {
	ix := New()
	for op := range src.All() {
		if err := ix.Link(op, ""); err != nil {
			return nil, fmt.Errorf("build index at seq %d: %w", op.Seq, err)
		}
	}
	return ix, nil
}

// Link adds op to the index. When replaces is set, that operation is
// removed first and op takes over its outputs. Non-live operations are
// ignored.
//
// Link fails with DependencyCycle if op would depend on its own outputs,
// and with InvalidState if one of its outputs already has another
// producer. On failure the index is unchanged.
func (ix *Index) Link(op ir.Operation, replaces ir.OpID) error {
	if !op.Status.Live() {
		return nil
	}

	for _, f := range op.Outputs {
		if p, ok := ix.producers[f]; ok && p != op.ID && p != replaces {
			return &ir.EditError{
				Code:    ir.ErrCodeInvalidState,
				Message: fmt.Sprintf("feature already produced by %s", p),
				Op:      op.ID,
				Feature: f,
			}
		}
	}
	if err := ix.checkCycle(op, replaces); err != nil {
		return err
	}

	if replaces != "" {
		ix.Unlink(replaces)
	}
	if _, ok := ix.ops[op.ID]; ok {
		ix.Unlink(op.ID)
	}

	ix.ops[op.ID] = op.Clone()
	for _, f := range op.Outputs {
		ix.producers[f] = op.ID
	}
	for _, f := range op.Inputs {
		set, ok := ix.consumers[f]
		if !ok {
			set = make(map[ir.OpID]struct{})
			ix.consumers[f] = set
		}
		set[op.ID] = struct{}{}
	}
	return nil
}

// checkCycle fails if op would read, directly or through upstream
// operations, one of its own outputs. A cycle needs a live reader of an
// output, so fresh appends return without walking; only replacements that
// take over consumed outputs walk upstream from op's inputs.
func (ix *Index) checkCycle(op ir.Operation, replaces ir.OpID) error {
	outs := make(map[ir.FeatureID]bool, len(op.Outputs))
	for _, f := range op.Outputs {
		outs[f] = true
	}
	cycle := func(f ir.FeatureID) error {
		return &ir.EditError{
			Code:    ir.ErrCodeDependencyCycle,
			Message: "operation would depend on its own output",
			Op:      op.ID,
			Feature: f,
		}
	}

	read := false
	for _, f := range op.Inputs {
		if outs[f] {
			return cycle(f)
		}
	}
	for _, f := range op.Outputs {
		if len(ix.consumers[f]) > 0 {
			read = true
			break
		}
	}
	if !read {
		return nil
	}

	visited := make(map[ir.OpID]bool)
	stack := slices.Clone(op.Inputs)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if outs[f] {
			return cycle(f)
		}

		p, ok := ix.producers[f]
		if !ok || p == op.ID || p == replaces || visited[p] {
			continue
		}
		visited[p] = true
		ix.walked++
		stack = append(stack, ix.ops[p].Inputs...)
	}
	return nil
}

// Unlink removes an operation and its edges. Called when an operation is
// superseded or rolled back.
func (ix *Index) Unlink(id ir.OpID) {
	op, ok := ix.ops[id]
	if !ok {
		return
	}
	delete(ix.ops, id)
	for _, f := range op.Outputs {
		if ix.producers[f] == id {
			delete(ix.producers, f)
		}
	}
	for _, f := range op.Inputs {
		if set, ok := ix.consumers[f]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.consumers, f)
			}
		}
	}
}

// Contains reports whether id is indexed (that is, live).
func (ix *Index) Contains(id ir.OpID) bool {
	_, ok := ix.ops[id]
	return ok
}

// Operation returns the indexed copy of a live operation.
func (ix *Index) Operation(id ir.OpID) (ir.Operation, bool) {
	op, ok := ix.ops[id]
	return op, ok
}

// ProducerOf returns the unique producing operation of a feature.
func (ix *Index) ProducerOf(f ir.FeatureID) (ir.OpID, bool) {
	p, ok := ix.producers[f]
	return p, ok
}

// ConsumersOf returns the operations reading f, ordered by sequence.
// The result is empty, never nil, when nothing reads f.
func (ix *Index) ConsumersOf(f ir.FeatureID) []ir.OpID {
	return ix.bySeq(maps.Keys(ix.consumers[f]))
}

// HasConsumers reports whether any live operation reads an output of id.
func (ix *Index) HasConsumers(id ir.OpID) bool {
	for _, f := range ix.ops[id].Outputs {
		if len(ix.consumers[f]) > 0 {
			return true
		}
	}
	return false
}

func (ix *Index) bySeq(ids iter.Seq[ir.OpID]) []ir.OpID {
	out := slices.Collect(ids)
	if out == nil {
		out = []ir.OpID{}
	}
	slices.SortFunc(out, ix.compareSeq)
	return out
}

func (ix *Index) compareSeq(a, b ir.OpID) int {
	return cmp.Or(cmp.Compare(ix.ops[a].Seq, ix.ops[b].Seq), cmp.Compare(a, b))
}

// Digest hashes every producer and consumer edge, so two indexes with the
// same digest answer every query identically.
func (ix *Index) Digest() (string, error) {
	producers := make(ir.IRObject, len(ix.producers))
	for f, p := range ix.producers {
		producers[string(f)] = ir.IRString(p)
	}
	consumers := make(ir.IRObject, len(ix.consumers))
	for f := range ix.consumers {
		ids := ix.ConsumersOf(f)
		arr := make(ir.IRArray, len(ids))
		for i, id := range ids {
			arr[i] = ir.IRString(id)
		}
		consumers[string(f)] = arr
	}
	return ir.Digest(ir.DomainIndex, ir.IRObject{
		"producers": producers,
		"consumers": consumers,
	})
}

// Rebuild replaces the index contents with a fresh Build of src.
// On error the index is left unchanged.
func (ix *Index) Rebuild(src Source) error {
	fresh, err := Build(src)
	if err != nil {
		return err
	}
	*ix = *fresh
	return nil
}
