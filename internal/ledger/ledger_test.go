package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/oplog"
)

func TestUnpublishedCountFollowsLog(t *testing.T) {
	log := oplog.New("job-1")
	led := New("job-1", "alice", log, 0, 0)
	assert.Equal(t, 0, led.UnpublishedCount())

	for i, id := range []ir.OpID{"a", "b", "c"} {
		_, err := log.Append(ir.Operation{ID: id, Kind: "new_point"}, int64(i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, led.UnpublishedCount())

	require.NoError(t, log.MarkPublished(2))
	assert.Equal(t, 1, led.UnpublishedCount())
}

func TestRecordPublish(t *testing.T) {
	led := New("job-1", "alice", oplog.New("job-1"), 0, 3)
	assert.Equal(t, int64(3), led.KnownRevision())

	led.RecordPublish(4)
	assert.Equal(t, int64(4), led.LastPublishedRevision())
	assert.Equal(t, int64(4), led.KnownRevision())

	led.Observe(2)
	assert.Equal(t, int64(4), led.KnownRevision(), "known revision never moves back")
}

func TestSnapshot(t *testing.T) {
	log := oplog.New("job-1")
	_, err := log.Append(ir.Operation{ID: "a", Kind: "new_point"}, 0)
	require.NoError(t, err)

	led := New("job-1", "alice", log, 1, 5)
	assert.Equal(t, ir.Job{ID: "job-1", CurrentRevision: 5, UnpublishedCount: 1}, led.Snapshot())
	assert.Equal(t, "alice", led.User())
	assert.Equal(t, "job-1", led.Job())
}
