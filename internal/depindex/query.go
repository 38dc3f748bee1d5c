package depindex

import (
	"slices"

	"github.com/roach88/cadlog/internal/ir"
)

// Target names what a recall starts from: a feature or an operation.
type Target struct {
	Feature ir.FeatureID
	Op      ir.OpID
}

// FeatureTarget targets the producer of a feature.
func FeatureTarget(f ir.FeatureID) Target { return Target{Feature: f} }

// OpTarget targets an operation directly.
func OpTarget(id ir.OpID) Target { return Target{Op: id} }

func (t Target) String() string {
	if t.Feature != "" {
		return "feature " + string(t.Feature)
	}
	return "operation " + string(t.Op)
}

// Predecessors returns the operation behind target followed by every
// operation it transitively depends on, ordered oldest first.
func (ix *Index) Predecessors(t Target) ([]ir.OpID, error) {
	start := t.Op
	if t.Feature != "" {
		p, ok := ix.producers[t.Feature]
		if !ok {
			return nil, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "no live producer", Feature: t.Feature}
		}
		start = p
	}
	if _, ok := ix.ops[start]; !ok {
		return nil, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation is not live", Op: start}
	}

	seen := map[ir.OpID]bool{start: true}
	queue := []ir.OpID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, f := range ix.ops[id].Inputs {
			p, ok := ix.producers[f]
			if !ok || seen[p] {
				continue
			}
			seen[p] = true
			queue = append(queue, p)
		}
	}

	out := make([]ir.OpID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.SortFunc(out, ix.compareSeq)
	return out, nil
}

// Dependents returns every live operation that transitively reads any of
// features, in an order where each operation follows all of its producers.
// Among operations that are ready at the same time the lower sequence goes
// first, so the order is deterministic.
func (ix *Index) Dependents(features []ir.FeatureID) ([]ir.OpID, error) {
	closure := make(map[ir.OpID]bool)
	queue := slices.Clone(features)
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for c := range ix.consumers[f] {
			if closure[c] {
				continue
			}
			closure[c] = true
			queue = append(queue, ix.ops[c].Outputs...)
		}
	}
	return ix.topoSort(closure)
}

// topoSort orders the closure with Kahn's algorithm. Only edges between
// members of the closure count.
func (ix *Index) topoSort(closure map[ir.OpID]bool) ([]ir.OpID, error) {
	indegree := make(map[ir.OpID]int, len(closure))
	for id := range closure {
		n := 0
		for _, f := range distinct(ix.ops[id].Inputs) {
			if p, ok := ix.producers[f]; ok && closure[p] {
				n++
			}
		}
		indegree[id] = n
	}

	var ready []ir.OpID
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]ir.OpID, 0, len(closure))
	for len(ready) > 0 {
		slices.SortFunc(ready, ix.compareSeq)
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		for _, f := range distinct(ix.ops[id].Outputs) {
			for c := range ix.consumers[f] {
				if !closure[c] {
					continue
				}
				indegree[c]--
				if indegree[c] == 0 {
					ready = append(ready, c)
				}
			}
		}
	}

	if len(out) != len(closure) {
		return nil, ir.NewError(ir.ErrCodeDependencyCycle, "dependents of %d operations contain a cycle", len(closure))
	}
	return out, nil
}

func distinct(ids []ir.FeatureID) []ir.FeatureID {
	out := make([]ir.FeatureID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
