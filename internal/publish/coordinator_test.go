package publish

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/ledger"
	"github.com/roach88/cadlog/internal/oplog"
)

// memStore is an in-memory SharedStore with the same conditional-write
// contract as the real stores.
type memStore struct {
	mu        sync.Mutex
	revision  map[string]int64
	ops       map[string][]ir.Operation
	revisions map[string][]ir.RevisionRecord
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{
		revision:  map[string]int64{},
		ops:       map[string][]ir.Operation{},
		revisions: map[string][]ir.RevisionRecord{},
	}
}

func (m *memStore) CurrentRevision(_ context.Context, job string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision[job], nil
}

func (m *memStore) Commit(_ context.Context, req CommitRequest) (ir.RevisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return ir.RevisionRecord{}, m.failWith
	}
	if m.revision[req.Job] != req.Base {
		return ir.RevisionRecord{}, ErrRevisionConflict
	}
	rec := req.Record()
	m.revision[req.Job] = rec.Revision
	m.ops[req.Job] = append(m.ops[req.Job], req.Ops...)
	m.revisions[req.Job] = append(m.revisions[req.Job], rec)
	return rec, nil
}

func (m *memStore) LoadPublished(_ context.Context, job string) ([]ir.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops[job]), nil
}

func (m *memStore) Revisions(_ context.Context, job string) ([]ir.RevisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return slices.Clone(m.revisions[job]), nil
}

func (m *memStore) LastRevisionBy(_ context.Context, job, user string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last int64
	for _, r := range m.revisions[job] {
		if r.Author == user {
			last = r.Revision
		}
	}
	return last, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type session struct {
	log *oplog.Log
	led *ledger.Ledger
}

func newSession(user string, base int64) *session {
	log := oplog.New("job-1")
	return &session{log: log, led: ledger.New("job-1", user, log, 0, base)}
}

func (s *session) edit(t *testing.T, n int) {
	t.Helper()
	for range n {
		id := ir.OpID(fmt.Sprintf("%s-%d", s.led.User(), s.log.Len()+1))
		_, err := s.log.Append(ir.Operation{ID: id, Kind: "new_point", Author: s.led.User()}, s.log.Tail())
		require.NoError(t, err)
	}
}

func newCoordinator(store SharedStore) *Coordinator {
	return NewCoordinator(store, WithClock(func() time.Time { return fixedNow }))
}

func TestPublishEmptyIsNoOp(t *testing.T) {
	store := newMemStore()
	s := newSession("alice", 0)

	res, err := newCoordinator(store).Publish(context.Background(), s.log, s.led)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, store.revisions["job-1"])
}

func TestPublishCommitsSuffix(t *testing.T) {
	store := newMemStore()
	s := newSession("alice", 0)
	s.edit(t, 3)

	res, err := newCoordinator(store).Publish(context.Background(), s.log, s.led)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, ir.RevisionRecord{
		Job:       "job-1",
		Revision:  1,
		Author:    "alice",
		Timestamp: fixedNow,
		EditCount: 3,
		Sequences: []int64{1, 2, 3},
	}, res.Revision)

	assert.Equal(t, int64(3), s.log.PublishedBoundary())
	assert.Equal(t, 0, s.led.UnpublishedCount())
	assert.Equal(t, int64(1), s.led.LastPublishedRevision())
	assert.Len(t, store.ops["job-1"], 3)
}

func TestPublishIsIdempotent(t *testing.T) {
	store := newMemStore()
	s := newSession("alice", 0)
	s.edit(t, 2)
	pc := newCoordinator(store)

	_, err := pc.Publish(context.Background(), s.log, s.led)
	require.NoError(t, err)

	res, err := pc.Publish(context.Background(), s.log, s.led)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Len(t, store.revisions["job-1"], 1)
}

func TestPublishConflictLeavesLocalStateUntouched(t *testing.T) {
	store := newMemStore()
	pc := newCoordinator(store)

	alice := newSession("alice", 0)
	alice.edit(t, 2)
	bob := newSession("bob", 0)
	bob.edit(t, 1)

	_, err := pc.Publish(context.Background(), alice.log, alice.led)
	require.NoError(t, err)

	before, err := bob.log.Digest()
	require.NoError(t, err)

	_, err = pc.Publish(context.Background(), bob.log, bob.led)
	require.Error(t, err)
	assert.True(t, ir.IsPublishConflict(err))
	assert.ErrorIs(t, err, ErrRevisionConflict)

	after, err := bob.log.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, bob.led.UnpublishedCount())
	assert.Equal(t, int64(0), bob.led.KnownRevision())

	rev, _ := store.CurrentRevision(context.Background(), "job-1")
	assert.Equal(t, int64(1), rev)
}

func TestPublishStoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("connection refused")
	s := newSession("alice", 0)
	s.edit(t, 1)

	_, err := newCoordinator(store).Publish(context.Background(), s.log, s.led)
	require.Error(t, err)
	assert.True(t, ir.IsStoreUnavailable(err))
	assert.Equal(t, 1, s.led.UnpublishedCount())

	_, err = newCoordinator(store).Revisions(context.Background(), "job-1")
	assert.True(t, ir.IsStoreUnavailable(err))
}

func TestPublishCancelledBeforeWrite(t *testing.T) {
	store := newMemStore()
	s := newSession("alice", 0)
	s.edit(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCoordinator(store).Publish(ctx, s.log, s.led)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.revisions["job-1"])
	assert.Equal(t, 1, s.led.UnpublishedCount())
}

func TestRevisionsAreGapFree(t *testing.T) {
	store := newMemStore()
	pc := newCoordinator(store)
	s := newSession("alice", 0)

	for range 5 {
		s.edit(t, 2)
		_, err := pc.Publish(context.Background(), s.log, s.led)
		require.NoError(t, err)
	}

	recs, err := pc.Revisions(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, int64(i+1), r.Revision)
		assert.Equal(t, []int64{int64(2*i + 1), int64(2*i + 2)}, r.Sequences)
	}
}

func TestConcurrentPublishersOneWins(t *testing.T) {
	store := newMemStore()
	pc := newCoordinator(store)

	sessions := make([]*session, 8)
	for i := range sessions {
		sessions[i] = newSession(fmt.Sprintf("u%d", i), 0)
		sessions[i].edit(t, 1)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = pc.Publish(context.Background(), s.log, s.led)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, ir.IsPublishConflict(err))
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, store.revisions["job-1"], 1)
}
