// Package publish checkpoints a session's unpublished operations into the
// shared store.
//
// The shared store is the only point where sessions meet. Every
// implementation offers one conditional write: append these operations as
// revision N+1 if, and only if, the job is still at revision N. A session
// that lost the race gets a PublishConflict and must refresh before it can
// publish again; nothing local changes on a conflict.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/cadlog/internal/ir"
)

// ErrRevisionConflict is returned by SharedStore.Commit when the job's
// revision is no longer the request's base.
var ErrRevisionConflict = errors.New("revision conflict")

// CommitRequest asks the store to append Ops as revision Base+1.
type CommitRequest struct {
	Job       string
	Author    string
	Base      int64
	Ops       []ir.Operation
	Timestamp time.Time
}

// Sequences returns the sequences covered by the request.
func (r CommitRequest) Sequences() []int64 {
	seqs := make([]int64, len(r.Ops))
	for i, op := range r.Ops {
		seqs[i] = op.Seq
	}
	return seqs
}

// Record builds the revision record a successful commit creates.
func (r CommitRequest) Record() ir.RevisionRecord {
	return ir.RevisionRecord{
		Job:       r.Job,
		Revision:  r.Base + 1,
		Author:    r.Author,
		Timestamp: r.Timestamp.UTC(),
		EditCount: len(r.Ops),
		Sequences: r.Sequences(),
	}
}

// SharedStore is the multi-writer store behind every session of a job.
type SharedStore interface {
	// CurrentRevision returns the job's revision, 0 if never published.
	CurrentRevision(ctx context.Context, job string) (int64, error)

	// Commit appends the request's operations as revision Base+1 and
	// deletes the author's drafts for the job, atomically. It returns
	// ErrRevisionConflict, and writes nothing, if the job is not at Base.
	Commit(ctx context.Context, req CommitRequest) (ir.RevisionRecord, error)

	// LoadPublished returns every published operation of the job in
	// sequence order.
	LoadPublished(ctx context.Context, job string) ([]ir.Operation, error)

	// Revisions returns the job's revision records in revision order.
	Revisions(ctx context.Context, job string) ([]ir.RevisionRecord, error)

	// LastRevisionBy returns the highest revision published by user, or 0.
	LastRevisionBy(ctx context.Context, job, user string) (int64, error)
}
