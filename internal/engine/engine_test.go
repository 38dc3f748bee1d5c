package engine

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/features"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/oplog"
)

type fixture struct {
	log *oplog.Log
	fs  *features.Store
	ix  *depindex.Index
	eng *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		log: oplog.New("job-1"),
		fs:  features.NewStore(),
		ix:  depindex.New(),
	}
	f.eng = New(f.log, f.fs, f.ix, kinds.MustCatalog())
	return f
}

func (f *fixture) add(t *testing.T, id, kind string, inputs, outputs []ir.FeatureID, params ir.IRObject) ir.Operation {
	t.Helper()
	op, err := f.log.Append(ir.Operation{
		ID: ir.OpID(id), Kind: kind, Inputs: inputs, Outputs: outputs, Params: params, Author: "alice",
	}, f.log.Tail())
	require.NoError(t, err)
	require.NoError(t, f.ix.Link(op, ""))
	require.NoError(t, f.eng.Apply(context.Background(), op, ""))
	return op
}

func pt(x, y int64) ir.IRObject {
	return ir.IRObject{"x": ir.IRInt(x), "y": ir.IRInt(y)}
}

func fids(ids ...string) []ir.FeatureID {
	out := make([]ir.FeatureID, len(ids))
	for i, id := range ids {
		out[i] = ir.FeatureID(id)
	}
	return out
}

// supersede replaces op with a revised copy the way a recall does.
func (f *fixture) supersede(t *testing.T, orig ir.Operation, newID string, params ir.IRObject) ir.Operation {
	t.Helper()
	require.NoError(t, f.log.SetStatus(orig.ID, ir.StatusSuperseded))
	op, err := f.log.Append(ir.Operation{
		ID: ir.OpID(newID), Kind: orig.Kind, Inputs: orig.Inputs, Outputs: orig.Outputs,
		Params: params, Supersedes: orig.ID, Author: "alice",
	}, f.log.Tail())
	require.NoError(t, err)
	require.NoError(t, f.ix.Link(op, orig.ID))
	require.NoError(t, f.eng.Apply(context.Background(), op, orig.ID))
	return op
}

func TestApplyWritesOutputs(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", "new_point", nil, fids("fa"), pt(1000, 2000))
	f.add(t, "B", "offset_point", fids("fa"), fids("fb"), ir.IRObject{"dx": ir.IRInt(500), "dy": ir.IRInt(0)})

	fb, ok := f.fs.Get("fb")
	require.True(t, ok)
	assert.Equal(t, orb.Point{1.5, 2}, fb.Geometry)
	assert.Equal(t, ir.OpID("B"), fb.ProducedBy)
	assert.Equal(t, int64(1), fb.Version)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))

	// X claims fa, which A owns: nothing may be written.
	x := ir.Operation{ID: "X", Kind: "new_point", Outputs: fids("fnew", "fa"), Params: pt(1, 1)}
	err := f.eng.Apply(context.Background(), x, "")
	require.Error(t, err)
	_, ok := f.fs.Get("fnew")
	assert.False(t, ok)
}

func TestApplyMissingInput(t *testing.T) {
	f := newFixture(t)
	op := ir.Operation{ID: "B", Kind: "offset_point", Inputs: fids("ghost"), Outputs: fids("fb"),
		Params: ir.IRObject{"dx": ir.IRInt(1), "dy": ir.IRInt(1)}}
	err := f.eng.Apply(context.Background(), op, "")
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestApplyArityMismatch(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	f.add(t, "Z", "new_point", nil, fids("fz"), pt(4000, 0))
	f.add(t, "L", "new_line", fids("fa", "fz"), fids("fl"), ir.IRObject{})

	op := ir.Operation{ID: "S", Kind: "subdivide_line", Inputs: fids("fl"), Outputs: fids("s1"),
		Params: ir.IRObject{"parts": ir.IRInt(3)}}
	err := f.eng.Apply(context.Background(), op, "")
	require.Error(t, err)
	assert.True(t, ir.IsArityChange(err))
}

func TestApplyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.eng.Apply(ctx, ir.Operation{ID: "A", Kind: "new_point", Outputs: fids("fa"), Params: pt(0, 0)}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.fs.Len())
}

func TestCascadeBumpsVersions(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	f.add(t, "B", "offset_point", fids("fa"), fids("fb"), ir.IRObject{"dx": ir.IRInt(1000), "dy": ir.IRInt(0)})

	f.supersede(t, a, "A2", pt(2000, 0))
	res, err := f.eng.Cascade(context.Background(), fids("fa"))
	require.NoError(t, err)
	assert.Equal(t, []ir.OpID{"B"}, res.Recomputed)
	assert.Empty(t, res.Inconsistent)

	fa, _ := f.fs.Get("fa")
	assert.Equal(t, ir.OpID("A2"), fa.ProducedBy)
	assert.Equal(t, int64(2), fa.Version)

	fb, _ := f.fs.Get("fb")
	assert.Equal(t, orb.Point{3, 0}, fb.Geometry)
	assert.Equal(t, int64(2), fb.Version)
}

// A -> {B, C}; revising A makes C fail. B and everything independent of C
// still recompute; C and its dependents end up Inconsistent.
func TestCascadeFailureMarksOnlyDependents(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	f.add(t, "P", "new_point", nil, fids("fp"), pt(5000, 0))
	f.add(t, "B", "offset_point", fids("fa"), fids("fb"), ir.IRObject{"dx": ir.IRInt(0), "dy": ir.IRInt(1000)})
	f.add(t, "C", "new_line", fids("fa", "fp"), fids("fc"), ir.IRObject{})
	f.add(t, "D", "subdivide_line", fids("fc"), fids("fd"), ir.IRObject{"parts": ir.IRInt(2)})
	f.add(t, "E", "offset_point", fids("fb"), fids("fe"), ir.IRObject{"dx": ir.IRInt(1), "dy": ir.IRInt(0)})

	fcBefore, _ := f.fs.Get("fc")

	// Move A onto P: the line C becomes degenerate.
	f.supersede(t, a, "A2", pt(5000, 0))
	res, err := f.eng.Cascade(context.Background(), fids("fa"))
	require.Error(t, err)
	assert.True(t, ir.IsRecomputeFailure(err))

	ee, ok := ir.AsEditError(err)
	require.True(t, ok)
	assert.Equal(t, ir.OpID("C"), ee.Op)
	assert.ErrorIs(t, err, kinds.ErrDegenerateLine)

	assert.Equal(t, ir.OpID("C"), res.Failed)
	assert.Equal(t, []ir.OpID{"B", "E"}, res.Recomputed)
	assert.Equal(t, []ir.OpID{"C", "D"}, res.Inconsistent)

	for id, want := range map[ir.OpID]ir.Status{
		"A": ir.StatusSuperseded, "A2": ir.StatusActive, "B": ir.StatusActive,
		"C": ir.StatusInconsistent, "D": ir.StatusInconsistent, "E": ir.StatusActive,
	} {
		got, _ := f.log.Status(id)
		assert.Equal(t, want, got, id)
	}

	fcAfter, _ := f.fs.Get("fc")
	assert.Equal(t, fcBefore, fcAfter, "failed operation keeps its last good output")
}

func TestRecomputeRestoresInconsistent(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	f.add(t, "P", "new_point", nil, fids("fp"), pt(5000, 0))
	f.add(t, "C", "new_line", fids("fa", "fp"), fids("fc"), ir.IRObject{})

	a2 := f.supersede(t, a, "A2", pt(5000, 0))
	_, err := f.eng.Cascade(context.Background(), fids("fa"))
	require.Error(t, err)

	f.supersede(t, a2, "A3", pt(1000, 0))
	res, err := f.eng.Cascade(context.Background(), fids("fa"))
	require.NoError(t, err)
	assert.Equal(t, []ir.OpID{"C"}, res.Recomputed)

	status, _ := f.log.Status("C")
	assert.Equal(t, ir.StatusActive, status)
}

func TestRecomputeCancelledBetweenOperations(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	f.add(t, "B", "offset_point", fids("fa"), fids("fb"), ir.IRObject{"dx": ir.IRInt(1), "dy": ir.IRInt(1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.eng.Recompute(ctx, []ir.OpID{"B"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Recomputed)
}

func TestRecomputeSkipsDeadOperations(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", "new_point", nil, fids("fa"), pt(0, 0))
	require.NoError(t, f.log.SetStatus("A", ir.StatusRolledBack))

	res, err := f.eng.Recompute(context.Background(), []ir.OpID{"A"})
	require.NoError(t, err)
	assert.Empty(t, res.Recomputed)

	_, err = f.eng.Recompute(context.Background(), []ir.OpID{"missing"})
	assert.True(t, ir.IsNotFound(err))
}

func TestRecomputeDeterministic(t *testing.T) {
	build := func() string {
		f := newFixture(t)
		a := f.add(t, "A", "new_point", nil, fids("fa"), pt(123, 456))
		f.add(t, "Z", "new_point", nil, fids("fz"), pt(9876, 5432))
		f.add(t, "L", "new_line", fids("fa", "fz"), fids("fl"), ir.IRObject{})
		f.add(t, "S", "subdivide_line", fids("fl"), fids("s1", "s2"), ir.IRObject{"parts": ir.IRInt(3)})
		f.supersede(t, a, "A2", pt(-77, 31))
		_, err := f.eng.Cascade(context.Background(), fids("fa"))
		require.NoError(t, err)
		d, err := f.fs.Digest()
		require.NoError(t, err)
		return d
	}
	assert.Equal(t, build(), build())
}

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator("op")
	assert.Equal(t, "op-0001", g.NewID())
	assert.Equal(t, "op-0002", g.NewID())
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.NewID(), g.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
