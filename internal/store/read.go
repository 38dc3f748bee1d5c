package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cadlog/internal/ir"
)

// CurrentRevision returns the job's published revision, 0 if it has never
// been published.
func (s *Store) CurrentRevision(ctx context.Context, job string) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		SELECT revision FROM jobs WHERE job_id = ?
	`, job).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query revision: %w", err)
	}
	return rev, nil
}

// LoadPublished returns every published operation of job.
// Ordered by seq ASC; returns an empty slice (not nil) for unknown jobs.
func (s *Store) LoadPublished(ctx context.Context, job string) ([]ir.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, inputs, outputs, params, status, supersedes, author
		FROM operations
		WHERE job_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, job)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows, "operations")
}

// LoadDrafts returns the user's draft operations for job ordered by seq.
func (s *Store) LoadDrafts(ctx context.Context, job, user string) ([]ir.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, inputs, outputs, params, status, supersedes, author
		FROM drafts
		WHERE job_id = ? AND user_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, job, user)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows, "drafts")
}

// Revisions returns the job's revision records in revision order.
func (s *Store) Revisions(ctx context.Context, job string) ([]ir.RevisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, revision, author, timestamp, edit_count, sequences
		FROM revisions
		WHERE job_id = ?
		ORDER BY revision ASC
	`, job)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	records := []ir.RevisionRecord{}
	for rows.Next() {
		var (
			rec       ir.RevisionRecord
			timestamp string
			seqs      string
		)
		if err := rows.Scan(&rec.Job, &rec.Revision, &rec.Author, &timestamp, &rec.EditCount, &seqs); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		if rec.Timestamp, err = parseTimestamp(timestamp); err != nil {
			return nil, fmt.Errorf("revision %d: %w", rec.Revision, err)
		}
		if rec.Sequences, err = unmarshalSequences(seqs); err != nil {
			return nil, fmt.Errorf("revision %d: %w", rec.Revision, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return records, nil
}

// LastRevisionBy returns the highest revision user published for job, or 0.
func (s *Store) LastRevisionBy(ctx context.Context, job, user string) (int64, error) {
	var rev sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(revision) FROM revisions WHERE job_id = ? AND author = ?
	`, job, user).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("query last revision: %w", err)
	}
	return rev.Int64, nil
}

func scanOperations(rows *sql.Rows, table string) ([]ir.Operation, error) {
	ops := []ir.Operation{}
	for rows.Next() {
		var r opRow
		if err := rows.Scan(&r.Seq, &r.ID, &r.Kind, &r.Inputs, &r.Outputs, &r.Params, &r.Status, &r.Supersedes, &r.Author); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		op, err := r.operation()
		if err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", table, r.Seq, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ops, nil
}
