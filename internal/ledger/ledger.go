// Package ledger tracks, per job and user, what this session has published
// and what it has not.
package ledger

import (
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/oplog"
)

// Ledger is the revision ledger of one (job, user) session.
type Ledger struct {
	job           string
	user          string
	log           *oplog.Log
	lastPublished int64
	known         int64
}

// New creates a ledger over the session's log. lastPublished is the
// highest revision this user published before the session started; known
// is the store revision the session was loaded at.
func New(job, user string, log *oplog.Log, lastPublished, known int64) *Ledger {
	return &Ledger{job: job, user: user, log: log, lastPublished: lastPublished, known: known}
}

// Job returns the job id.
func (l *Ledger) Job() string { return l.job }

// User returns the user id.
func (l *Ledger) User() string { return l.user }

// LastPublishedRevision is the highest revision this user has published,
// or 0.
func (l *Ledger) LastPublishedRevision() int64 { return l.lastPublished }

// KnownRevision is the store revision the local log is based on. A publish
// succeeds only while the store is still at this revision.
func (l *Ledger) KnownRevision() int64 { return l.known }

// UnpublishedCount is the number of log entries after the published
// boundary.
func (l *Ledger) UnpublishedCount() int {
	return len(l.log.UnpublishedSuffix())
}

// Observe records that the session has caught up with revision.
func (l *Ledger) Observe(revision int64) {
	if revision > l.known {
		l.known = revision
	}
}

// RecordPublish records a successful publish of revision by this user.
func (l *Ledger) RecordPublish(revision int64) {
	l.lastPublished = revision
	l.Observe(revision)
}

// Snapshot returns the session's view of the job.
func (l *Ledger) Snapshot() ir.Job {
	return ir.Job{
		ID:               l.job,
		CurrentRevision:  l.known,
		UnpublishedCount: l.UnpublishedCount(),
	}
}
