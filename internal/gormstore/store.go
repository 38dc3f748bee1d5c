// Package gormstore is a shared store backed by any database GORM can
// drive. Teams running a central PostgreSQL server use OpenPostgres; the
// SQLite dialect exists for single-machine use and tests.
//
// The conditional publish is an UPDATE ... WHERE revision = base inside a
// transaction; zero affected rows means another session published first.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
)

// Store is a GORM shared store. It implements publish.SharedStore and the
// session draft store.
type Store struct {
	db *gorm.DB
}

var _ publish.SharedStore = (*Store)(nil)

// Option configures Open.
type Option func(*gorm.Config)

// WithLogLevel sets GORM's SQL log level. The default is silent.
func WithLogLevel(level logger.LogLevel) Option {
	return func(c *gorm.Config) {
		c.Logger = logger.Default.LogMode(level)
	}
}

// OpenPostgres connects to PostgreSQL using a libpq-style DSN or URL.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	return Open(postgres.Open(dsn), opts...)
}

// OpenSQLite opens a SQLite database file through GORM.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	s, err := Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), opts...)
	if err != nil {
		return nil, err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: %w", err)
	}
	// SQLite only supports one writer at a time
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

// Open connects with dialector and migrates the schema.
func Open(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("gormstore: connect: %w", err)
	}
	if err := db.AutoMigrate(&jobModel{}, &operationModel{}, &revisionModel{}, &draftModel{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CurrentRevision returns the job's published revision, 0 if never published.
func (s *Store) CurrentRevision(ctx context.Context, job string) (int64, error) {
	var m jobModel
	err := s.db.WithContext(ctx).Where("job_id = ?", job).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query revision: %w", err)
	}
	return m.Revision, nil
}

// Commit appends req.Ops as revision req.Base+1 and clears the author's
// drafts in one transaction.
func (s *Store) Commit(ctx context.Context, req publish.CommitRequest) (ir.RevisionRecord, error) {
	record := req.Record()

	ops := make([]operationModel, len(req.Ops))
	for i, op := range req.Ops {
		cols, err := toColumns(op)
		if err != nil {
			return ir.RevisionRecord{}, fmt.Errorf("commit: operation %s: %w", op.ID, err)
		}
		ops[i] = operationModel{JobID: req.Job, opColumns: cols, Revision: record.Revision}
	}
	seqs, err := json.Marshal(record.Sequences)
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: marshal sequences: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&jobModel{JobID: req.Job}).Error; err != nil {
			return fmt.Errorf("ensure job: %w", err)
		}

		res := tx.Model(&jobModel{}).
			Where("job_id = ? AND revision = ?", req.Job, req.Base).
			Update("revision", gorm.Expr("revision + 1"))
		if res.Error != nil {
			return fmt.Errorf("bump revision: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return publish.ErrRevisionConflict
		}

		if len(ops) > 0 {
			if err := tx.Create(&ops).Error; err != nil {
				return fmt.Errorf("write operations: %w", err)
			}
		}
		if err := tx.Create(&revisionModel{
			JobID:     record.Job,
			Revision:  record.Revision,
			Author:    record.Author,
			Timestamp: record.Timestamp,
			EditCount: record.EditCount,
			Sequences: string(seqs),
		}).Error; err != nil {
			return fmt.Errorf("write revision: %w", err)
		}
		return deleteDrafts(tx, req.Job, req.Author)
	})
	if errors.Is(err, publish.ErrRevisionConflict) {
		return ir.RevisionRecord{}, err
	}
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

// LoadPublished returns every published operation of job in sequence order.
func (s *Store) LoadPublished(ctx context.Context, job string) ([]ir.Operation, error) {
	var rows []operationModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", job).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	ops := make([]ir.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := row.operation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Revisions returns the job's revision records in revision order.
func (s *Store) Revisions(ctx context.Context, job string) ([]ir.RevisionRecord, error) {
	var rows []revisionModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", job).Order("revision ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	records := make([]ir.RevisionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// LastRevisionBy returns the highest revision user published for job, or 0.
func (s *Store) LastRevisionBy(ctx context.Context, job, user string) (int64, error) {
	var rev int64
	err := s.db.WithContext(ctx).Model(&revisionModel{}).
		Where("job_id = ? AND author = ?", job, user).
		Select("COALESCE(MAX(revision), 0)").
		Scan(&rev).Error
	if err != nil {
		return 0, fmt.Errorf("query last revision: %w", err)
	}
	return rev, nil
}

// SaveDrafts replaces the user's draft operations for job with ops.
func (s *Store) SaveDrafts(ctx context.Context, job, user string, ops []ir.Operation) error {
	rows := make([]draftModel, len(ops))
	for i, op := range ops {
		cols, err := toColumns(op)
		if err != nil {
			return fmt.Errorf("save drafts: operation %s: %w", op.ID, err)
		}
		rows[i] = draftModel{JobID: job, UserID: user, opColumns: cols}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteDrafts(tx, job, user); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("save drafts: %w", err)
	}
	return nil
}

// LoadDrafts returns the user's draft operations for job ordered by seq.
func (s *Store) LoadDrafts(ctx context.Context, job, user string) ([]ir.Operation, error) {
	var rows []draftModel
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND user_id = ?", job, user).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	ops := make([]ir.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := row.operation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func deleteDrafts(tx *gorm.DB, job, user string) error {
	if err := tx.Where("job_id = ? AND user_id = ?", job, user).Delete(&draftModel{}).Error; err != nil {
		return fmt.Errorf("delete drafts: %w", err)
	}
	return nil
}
