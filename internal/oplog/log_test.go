package oplog

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
)

func newOp(id string) ir.Operation {
	return ir.Operation{
		ID:      ir.OpID(id),
		Kind:    "new_point",
		Outputs: []ir.FeatureID{ir.FeatureID("f-" + id)},
		Params:  ir.IRObject{"x": ir.IRInt(0), "y": ir.IRInt(0)},
		Author:  "alice",
	}
}

func appendN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(newOp(fmt.Sprintf("op-%d", l.Len()+1)), l.Tail())
		require.NoError(t, err)
	}
}

func TestAppendAssignsSequenceAndStatus(t *testing.T) {
	l := New("job-1")

	op := newOp("op-1")
	op.Status = ir.StatusSuperseded
	op.Seq = 99

	got, err := l.Append(op, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, ir.StatusActive, got.Status)

	got, err = l.Append(newOp("op-2"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Seq)
	assert.Equal(t, int64(2), l.Tail())
}

func TestAppendStaleTail(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 2)

	before, err := l.Digest()
	require.NoError(t, err)

	_, err = l.Append(newOp("op-x"), 1)
	require.Error(t, err)
	assert.True(t, ir.IsSequenceConflict(err))

	after, err := l.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 1)

	_, err := l.Append(newOp("op-1"), 1)
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
	assert.Equal(t, 1, l.Len())
}

func TestAppendDoesNotAliasCaller(t *testing.T) {
	l := New("job-1")
	op := newOp("op-1")
	_, err := l.Append(op, 0)
	require.NoError(t, err)

	op.Params["x"] = ir.IRInt(42)
	op.Outputs[0] = "changed"

	stored, ok := l.Get("op-1")
	require.True(t, ok)
	assert.Equal(t, ir.IRInt(0), stored.Params["x"])
	assert.Equal(t, ir.FeatureID("f-op-1"), stored.Outputs[0])
}

func TestIterateFromSequence(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 5)

	var seqs []int64
	for op := range l.Iterate(3) {
		seqs = append(seqs, op.Seq)
	}
	assert.Equal(t, []int64{3, 4, 5}, seqs)

	// Restartable.
	assert.Len(t, slices.Collect(l.Iterate(3)), 3)
	assert.Len(t, slices.Collect(l.All()), 5)
	assert.Empty(t, slices.Collect(l.Iterate(6)))
}

func TestIterateStopsEarly(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 5)

	count := 0
	for range l.Iterate(0) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestSetStatusTransitions(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 1)

	require.NoError(t, l.SetStatus("op-1", ir.StatusSuperseded))
	require.NoError(t, l.SetStatus("op-1", ir.StatusActive))
	require.NoError(t, l.SetStatus("op-1", ir.StatusRolledBack))

	err := l.SetStatus("op-1", ir.StatusActive)
	require.Error(t, err)
	assert.Equal(t, ir.ErrCodeInvalidState, ir.CodeOf(err))

	err = l.SetStatus("missing", ir.StatusActive)
	assert.True(t, ir.IsNotFound(err))
}

func TestUnpublishedSuffix(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 4)
	require.NoError(t, l.MarkPublished(2))

	suffix := l.UnpublishedSuffix()
	require.Len(t, suffix, 2)
	assert.Equal(t, int64(3), suffix[0].Seq)
	assert.Equal(t, int64(4), suffix[1].Seq)

	assert.True(t, l.IsPublished("op-2"))
	assert.False(t, l.IsPublished("op-3"))

	require.NoError(t, l.MarkPublished(4))
	assert.Empty(t, l.UnpublishedSuffix())
}

func TestMarkPublishedBounds(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 2)
	require.NoError(t, l.MarkPublished(2))

	assert.Error(t, l.MarkPublished(1))
	assert.Error(t, l.MarkPublished(3))
}

func TestRestoreKeepsSequenceAndStatus(t *testing.T) {
	l := New("job-1")

	op := newOp("op-a")
	op.Seq = 7
	op.Status = ir.StatusSuperseded
	require.NoError(t, l.Restore(op))

	got, ok := l.Get("op-a")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Seq)
	assert.Equal(t, ir.StatusSuperseded, got.Status)

	op2 := newOp("op-b")
	op2.Seq = 7
	op2.Status = ir.StatusActive
	assert.True(t, ir.IsSequenceConflict(l.Restore(op2)))

	op3 := newOp("op-c")
	op3.Seq = 8
	op3.Status = "bogus"
	assert.True(t, ir.IsValidation(l.Restore(op3)))
}

func TestTailFollowsPublishedBoundary(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 3)
	require.NoError(t, l.MarkPublished(3))

	_, err := l.Append(newOp("op-4"), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), l.Tail())
}

func TestCloneAndDigest(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 3)

	c := l.Clone()
	d1, err := l.Digest()
	require.NoError(t, err)
	d2, err := c.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	require.NoError(t, c.SetStatus("op-2", ir.StatusSuperseded))
	appendN(t, c, 1)

	d3, err := l.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d3, "mutating the clone must not touch the original")

	d4, err := c.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d4)
}

func TestResetToKeepsPointer(t *testing.T) {
	l := New("job-1")
	appendN(t, l, 2)
	snapshot := l.Clone()
	held := l

	appendN(t, l, 3)
	require.NoError(t, l.SetStatus("op-1", ir.StatusSuperseded))

	l.ResetTo(snapshot)
	assert.Equal(t, 2, held.Len())
	status, _ := held.Status("op-1")
	assert.Equal(t, ir.StatusActive, status)

	want, err := snapshot.Digest()
	require.NoError(t, err)
	got, err := held.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
