// Package storetest holds the behaviour every shared store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
)

// Store is a shared store that also keeps per-user drafts.
type Store interface {
	publish.SharedStore
	SaveDrafts(ctx context.Context, job, user string, ops []ir.Operation) error
	LoadDrafts(ctx context.Context, job, user string) ([]ir.Operation, error)
}

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) Store

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Op builds an active test operation.
func Op(seq int64, id, kind, author string, inputs, outputs []ir.FeatureID, params ir.IRObject) ir.Operation {
	if inputs == nil {
		inputs = []ir.FeatureID{}
	}
	if outputs == nil {
		outputs = []ir.FeatureID{}
	}
	return ir.Operation{
		ID:      ir.OpID(id),
		Seq:     seq,
		Kind:    kind,
		Inputs:  inputs,
		Outputs: outputs,
		Params:  params,
		Status:  ir.StatusActive,
		Author:  author,
	}
}

func point(seq int64, id, author string, x, y int64) ir.Operation {
	return Op(seq, id, "new_point", author, nil,
		[]ir.FeatureID{ir.FeatureID(fmt.Sprintf("f-%s", id))},
		ir.NewIRObjectFromPairs(ir.O("x", ir.IRInt(x)), ir.O("y", ir.IRInt(y))))
}

// Run exercises the full store contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EmptyJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rev, err := s.CurrentRevision(ctx, "job-empty")
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)

		ops, err := s.LoadPublished(ctx, "job-empty")
		require.NoError(t, err)
		assert.NotNil(t, ops)
		assert.Empty(t, ops)

		recs, err := s.Revisions(ctx, "job-empty")
		require.NoError(t, err)
		assert.Empty(t, recs)

		last, err := s.LastRevisionBy(ctx, "job-empty", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), last)
	})

	t.Run("CommitRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		line := Op(3, "op-3", "new_line", "alice",
			[]ir.FeatureID{"f-op-1", "f-op-2"}, []ir.FeatureID{"f-op-3"}, ir.IRObject{})
		ops := []ir.Operation{point(1, "op-1", "alice", 0, 0), point(2, "op-2", "alice", 1500, -200), line}

		rec, err := s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 0, Ops: ops, Timestamp: epoch,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Revision)
		assert.Equal(t, 3, rec.EditCount)
		assert.Equal(t, []int64{1, 2, 3}, rec.Sequences)

		rev, err := s.CurrentRevision(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)

		got, err := s.LoadPublished(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range ops {
			want, err := ir.OperationDigest(ops[i])
			require.NoError(t, err)
			have, err := ir.OperationDigest(got[i])
			require.NoError(t, err)
			assert.Equal(t, want, have, "operation %d changed in storage", i)
		}

		recs, err := s.Revisions(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "alice", recs[0].Author)
		assert.True(t, recs[0].Timestamp.Equal(epoch))
		assert.Equal(t, []int64{1, 2, 3}, recs[0].Sequences)
	})

	t.Run("StaleBaseConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 0,
			Ops: []ir.Operation{point(1, "op-1", "alice", 0, 0)}, Timestamp: epoch,
		})
		require.NoError(t, err)

		_, err = s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "bob", Base: 0,
			Ops: []ir.Operation{point(2, "op-2", "bob", 5, 5)}, Timestamp: epoch,
		})
		require.ErrorIs(t, err, publish.ErrRevisionConflict)

		rev, err := s.CurrentRevision(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)

		got, err := s.LoadPublished(ctx, "job-1")
		require.NoError(t, err)
		assert.Len(t, got, 1, "conflicting commit must write nothing")
	})

	t.Run("ConflictingBaseOnNewJob", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Commit(context.Background(), publish.CommitRequest{
			Job: "job-new", Author: "alice", Base: 3,
			Ops: []ir.Operation{point(1, "op-1", "alice", 0, 0)}, Timestamp: epoch,
		})
		require.ErrorIs(t, err, publish.ErrRevisionConflict)
	})

	t.Run("SequentialRevisions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 0,
			Ops: []ir.Operation{point(1, "op-1", "alice", 0, 0)}, Timestamp: epoch,
		})
		require.NoError(t, err)
		_, err = s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "bob", Base: 1,
			Ops: []ir.Operation{point(2, "op-2", "bob", 10, 10), point(3, "op-3", "bob", 20, 20)},
			Timestamp: epoch.Add(time.Minute),
		})
		require.NoError(t, err)
		_, err = s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 2,
			Ops: []ir.Operation{point(4, "op-4", "alice", 30, 30)}, Timestamp: epoch.Add(2 * time.Minute),
		})
		require.NoError(t, err)

		recs, err := s.Revisions(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{recs[0].Revision, recs[1].Revision, recs[2].Revision})
		assert.Equal(t, []int64{2, 3}, recs[1].Sequences)

		last, err := s.LastRevisionBy(ctx, "job-1", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(3), last)
		last, err = s.LastRevisionBy(ctx, "job-1", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(2), last)

		got, err := s.LoadPublished(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, got, 4)
		for i, op := range got {
			assert.Equal(t, int64(i+1), op.Seq)
		}
	})

	t.Run("JobsAreIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, publish.CommitRequest{
			Job: "job-a", Author: "alice", Base: 0,
			Ops: []ir.Operation{point(1, "op-1", "alice", 0, 0)}, Timestamp: epoch,
		})
		require.NoError(t, err)

		rev, err := s.CurrentRevision(ctx, "job-b")
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)
		got, err := s.LoadPublished(ctx, "job-b")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DraftsReplaceAndClearOnCommit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		drafts := []ir.Operation{point(1, "op-1", "alice", 0, 0), point(2, "op-2", "alice", 1, 1)}
		require.NoError(t, s.SaveDrafts(ctx, "job-1", "alice", drafts))
		require.NoError(t, s.SaveDrafts(ctx, "job-1", "bob", []ir.Operation{point(1, "op-b1", "bob", 9, 9)}))

		got, err := s.LoadDrafts(ctx, "job-1", "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ir.OpID("op-1"), got[0].ID)

		superseded := drafts[0].Clone()
		superseded.Status = ir.StatusSuperseded
		require.NoError(t, s.SaveDrafts(ctx, "job-1", "alice", []ir.Operation{superseded}))
		got, err = s.LoadDrafts(ctx, "job-1", "alice")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ir.StatusSuperseded, got[0].Status)

		_, err = s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 0, Ops: []ir.Operation{superseded}, Timestamp: epoch,
		})
		require.NoError(t, err)

		got, err = s.LoadDrafts(ctx, "job-1", "alice")
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = s.LoadDrafts(ctx, "job-1", "bob")
		require.NoError(t, err)
		assert.Len(t, got, 1, "other users' drafts survive a publish")
	})

	t.Run("ConflictKeepsDrafts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "bob", Base: 0,
			Ops: []ir.Operation{point(1, "op-b1", "bob", 0, 0)}, Timestamp: epoch,
		})
		require.NoError(t, err)

		mine := []ir.Operation{point(1, "op-a1", "alice", 5, 5)}
		require.NoError(t, s.SaveDrafts(ctx, "job-1", "alice", mine))
		_, err = s.Commit(ctx, publish.CommitRequest{
			Job: "job-1", Author: "alice", Base: 0, Ops: mine, Timestamp: epoch,
		})
		require.ErrorIs(t, err, publish.ErrRevisionConflict)

		got, err := s.LoadDrafts(ctx, "job-1", "alice")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("ConcurrentCommitsOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 4
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
			others    []error
		)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				author := fmt.Sprintf("user-%d", i)
				_, err := s.Commit(ctx, publish.CommitRequest{
					Job: "job-race", Author: author, Base: 0,
					Ops:       []ir.Operation{point(1, fmt.Sprintf("op-%d", i), author, int64(i), 0)},
					Timestamp: epoch,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, publish.ErrRevisionConflict):
					conflicts++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		require.Empty(t, others)
		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		rev, err := s.CurrentRevision(ctx, "job-race")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)
	})
}
