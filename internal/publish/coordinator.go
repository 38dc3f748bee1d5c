package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/ledger"
	"github.com/roach88/cadlog/internal/oplog"
)

// Result is the outcome of a Publish call.
type Result struct {
	// NoOp is set when there was nothing to publish.
	NoOp     bool
	Revision ir.RevisionRecord
}

// Coordinator publishes sessions into one shared store.
type Coordinator struct {
	store  SharedStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock sets the timestamp source for revision records.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store SharedStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish commits the unpublished suffix of log as the job's next revision.
//
// With nothing to publish it returns a NoOp result. On success the log's
// published boundary and the ledger advance. On PublishConflict,
// StoreUnavailable or a cancelled context nothing local changes.
func (c *Coordinator) Publish(ctx context.Context, log *oplog.Log, led *ledger.Ledger) (Result, error) {
	suffix := log.UnpublishedSuffix()
	if len(suffix) == 0 {
		return Result{NoOp: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	req := CommitRequest{
		Job:       led.Job(),
		Author:    led.User(),
		Base:      led.KnownRevision(),
		Ops:       suffix,
		Timestamp: c.now(),
	}
	rec, err := c.store.Commit(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrRevisionConflict):
		c.logger.Info("publish conflict", "job", req.Job, "base", req.Base)
		return Result{}, &ir.EditError{
			Code:    ir.ErrCodePublishConflict,
			Message: fmt.Sprintf("job %s moved past revision %d; refresh and retry", req.Job, req.Base),
			Details: map[string]string{"base": fmt.Sprint(req.Base)},
			Err:     err,
		}
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	default:
		return Result{}, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "commit revision %d of job %s", req.Base+1, req.Job)
	}

	if err := log.MarkPublished(suffix[len(suffix)-1].Seq); err != nil {
		return Result{}, fmt.Errorf("advance published boundary: %w", err)
	}
	led.RecordPublish(rec.Revision)

	c.logger.Info("published", "job", rec.Job, "revision", rec.Revision, "edits", rec.EditCount, "author", rec.Author)
	return Result{Revision: rec}, nil
}

// Revisions lists the job's revision records.
func (c *Coordinator) Revisions(ctx context.Context, job string) ([]ir.RevisionRecord, error) {
	recs, err := c.store.Revisions(ctx, job)
	if err != nil {
		return nil, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "list revisions of job %s", job)
	}
	return recs, nil
}
