package session

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/engine"
	"github.com/roach88/cadlog/internal/features"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/ledger"
	"github.com/roach88/cadlog/internal/oplog"
	"github.com/roach88/cadlog/internal/publish"
	"github.com/roach88/cadlog/internal/recall"
)

// DraftStore persists a user's unpublished operations between runs.
type DraftStore interface {
	// SaveDrafts replaces the user's drafts for job with ops.
	SaveDrafts(ctx context.Context, job, user string, ops []ir.Operation) error

	// LoadDrafts returns the user's drafts for job in sequence order.
	LoadDrafts(ctx context.Context, job, user string) ([]ir.Operation, error)
}

// Session is the explicit editing context threaded through every command.
type Session struct {
	job  string
	user ir.User

	log      *oplog.Log
	features *features.Store
	index    *depindex.Index
	engine   *engine.Engine
	catalog  *kinds.Catalog
	recall   *recall.Coordinator
	ledger   *ledger.Ledger

	publisher *publish.Coordinator
	shared    publish.SharedStore
	drafts    DraftStore

	ids    engine.IDGenerator
	logger *slog.Logger
}

type options struct {
	logger  *slog.Logger
	ids     engine.IDGenerator
	now     func() time.Time
	catalog *kinds.Catalog
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithIDs sets the generator for operation and feature ids. The default is
// UUIDv7.
func WithIDs(ids engine.IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// WithClock sets the timestamp source for revision records.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCatalog sets the kind catalog. The default is the built-in catalog.
func WithCatalog(c *kinds.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// Open starts a session for user on job. It replays the job's published
// operations in sequence order, then the user's drafts, rebased after the
// published tail. drafts may be nil, in which case nothing is persisted
// between runs.
func Open(ctx context.Context, shared publish.SharedStore, drafts DraftStore, job string, user ir.User, opts ...Option) (*Session, error) {
	if job == "" {
		return nil, ir.NewError(ir.ErrCodeValidation, "job id is required")
	}
	if user.ID == "" {
		return nil, ir.NewError(ir.ErrCodeValidation, "user id is required")
	}

	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    engine.UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		c, err := kinds.NewCatalog()
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		o.catalog = c
	}

	logger := o.logger.With("job", job, "user", user.ID)
	s := &Session{
		job:      job,
		user:     user,
		log:      oplog.New(job),
		features: features.NewStore(),
		index:    depindex.New(),
		catalog:  o.catalog,
		shared:   shared,
		drafts:   drafts,
		ids:      o.ids,
		logger:   logger,
	}
	s.engine = engine.New(s.log, s.features, s.index, s.catalog, engine.WithLogger(logger))
	s.recall = recall.New(s.log, s.features, s.index, s.engine, s.catalog, s.ids, user.ID, recall.WithLogger(logger))
	s.publisher = publish.NewCoordinator(shared, publish.WithLogger(logger), publish.WithClock(o.now))

	lastPublished, err := shared.LastRevisionBy(ctx, job, user.ID)
	if err != nil {
		return nil, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "open job %s", job)
	}
	s.ledger = ledger.New(job, user.ID, s.log, lastPublished, 0)

	var pending []ir.Operation
	if drafts != nil {
		pending, err = drafts.LoadDrafts(ctx, job, user.ID)
		if err != nil {
			return nil, ir.WrapError(ir.ErrCodeStoreUnavailable, err, "load drafts of job %s", job)
		}
	}
	if _, err := s.load(ctx, pending); err != nil {
		return nil, err
	}

	logger.Info("session opened",
		"revision", s.ledger.KnownRevision(),
		"ops", s.log.Len(),
		"unpublished", s.ledger.UnpublishedCount(),
	)
	return s, nil
}

// Job returns the session's view of the job.
func (s *Session) Job() ir.Job { return s.ledger.Snapshot() }

// User returns the session's user.
func (s *Session) User() ir.User { return s.user }

// Ledger returns the revision ledger.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Catalog returns the kind catalog.
func (s *Session) Catalog() *kinds.Catalog { return s.catalog }

// Features returns the feature store. Callers must treat it as read-only.
func (s *Session) Features() *features.Store { return s.features }

// RecallState returns the recall coordinator's state.
func (s *Session) RecallState() recall.State { return s.recall.State() }

// Operation returns the logged operation with id.
func (s *Session) Operation(id ir.OpID) (ir.Operation, bool) {
	return s.log.Get(id)
}

// History iterates the log from sequence from, in any status.
func (s *Session) History(from int64) iter.Seq[ir.Operation] {
	return s.log.Iterate(from)
}

// Producer returns the operation a recall of target revises by default:
// the target operation itself, or the producer of the target feature.
func (s *Session) Producer(target depindex.Target) (ir.OpID, error) {
	return s.producerOf(target)
}

// Predecessors returns the operations target depends on, itself included,
// oldest first.
func (s *Session) Predecessors(target depindex.Target) ([]ir.Operation, error) {
	ids, err := s.index.Predecessors(target)
	if err != nil {
		return nil, err
	}
	ops := make([]ir.Operation, 0, len(ids))
	for _, id := range ids {
		if op, ok := s.log.Get(id); ok {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// Revisions lists the job's revision records from the shared store.
func (s *Session) Revisions(ctx context.Context) ([]ir.RevisionRecord, error) {
	return s.publisher.Revisions(ctx, s.job)
}

// Publish commits the unpublished suffix as the job's next revision. The
// store clears the user's drafts in the same write.
func (s *Session) Publish(ctx context.Context) (publish.Result, error) {
	return s.publisher.Publish(ctx, s.log, s.ledger)
}

// Digest hashes the log and the feature store together. Two sessions with
// equal digests hold identical state.
func (s *Session) Digest() (string, error) {
	logDigest, err := s.log.Digest()
	if err != nil {
		return "", err
	}
	fsDigest, err := s.features.Digest()
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainState, ir.IRObject{
		"log":      ir.IRString(logDigest),
		"features": ir.IRString(fsDigest),
	})
}

// saveDrafts persists the unpublished suffix. It runs after a mutation has
// already happened, so it ignores cancellation of ctx.
func (s *Session) saveDrafts(ctx context.Context) error {
	if s.drafts == nil {
		return nil
	}
	suffix := s.log.UnpublishedSuffix()
	if err := s.drafts.SaveDrafts(context.WithoutCancel(ctx), s.job, s.user.ID, suffix); err != nil {
		return ir.WrapError(ir.ErrCodeStoreUnavailable, err, "save %d drafts of job %s", len(suffix), s.job)
	}
	return nil
}

// checkpoint captures the log and features for rollback. Restoring resets
// them in place so the engine and recall coordinator keep valid pointers.
func (s *Session) checkpoint() func() {
	logSnap := s.log.Clone()
	fsSnap := s.features.Clone()
	return func() {
		s.log.ResetTo(logSnap)
		s.features.ResetTo(fsSnap)
		if err := s.index.Rebuild(s.log); err != nil {
			s.logger.Error("rebuild index after rollback", "error", err)
		}
	}
}
