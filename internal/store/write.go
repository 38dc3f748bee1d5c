package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
)

var _ publish.SharedStore = (*Store)(nil)

// Commit appends req.Ops as revision req.Base+1 and clears the author's
// drafts in one transaction.
//
// The revision bump is a conditional UPDATE; when no row matches, another
// session published first and publish.ErrRevisionConflict is returned with
// nothing written.
func (s *Store) Commit(ctx context.Context, req publish.CommitRequest) (ir.RevisionRecord, error) {
	record := req.Record()

	rows := make([]opRow, len(req.Ops))
	for i, op := range req.Ops {
		row, err := toRow(op)
		if err != nil {
			return ir.RevisionRecord{}, fmt.Errorf("commit: operation %s: %w", op.ID, err)
		}
		rows[i] = row
	}
	seqs, err := marshalSequences(record.Sequences)
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (job_id, revision) VALUES (?, 0)
		ON CONFLICT(job_id) DO NOTHING
	`, req.Job); err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: ensure job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET revision = revision + 1
		WHERE job_id = ? AND revision = ?
	`, req.Job, req.Base)
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: bump revision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: rows affected: %w", err)
	}
	if n == 0 {
		return ir.RevisionRecord{}, publish.ErrRevisionConflict
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operations
			(job_id, seq, id, kind, inputs, outputs, params, status, supersedes, author, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			req.Job,
			row.Seq,
			row.ID,
			row.Kind,
			row.Inputs,
			row.Outputs,
			row.Params,
			row.Status,
			row.Supersedes,
			row.Author,
			record.Revision,
		); err != nil {
			return ir.RevisionRecord{}, fmt.Errorf("commit: write operation %s: %w", row.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (job_id, revision, author, timestamp, edit_count, sequences)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		record.Job,
		record.Revision,
		record.Author,
		formatTimestamp(record.Timestamp),
		record.EditCount,
		seqs,
	); err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: write revision: %w", err)
	}

	if err := deleteDrafts(ctx, tx, req.Job, req.Author); err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("commit: %w", err)
	}
	return record, nil
}

// SaveDrafts replaces the user's draft operations for job with ops.
// An empty ops clears them.
func (s *Store) SaveDrafts(ctx context.Context, job, user string, ops []ir.Operation) error {
	rows := make([]opRow, len(ops))
	for i, op := range ops {
		row, err := toRow(op)
		if err != nil {
			return fmt.Errorf("save drafts: operation %s: %w", op.ID, err)
		}
		rows[i] = row
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save drafts: begin: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDrafts(ctx, tx, job, user); err != nil {
		return fmt.Errorf("save drafts: %w", err)
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drafts
			(job_id, user_id, seq, id, kind, inputs, outputs, params, status, supersedes, author)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			job,
			user,
			row.Seq,
			row.ID,
			row.Kind,
			row.Inputs,
			row.Outputs,
			row.Params,
			row.Status,
			row.Supersedes,
			row.Author,
		); err != nil {
			return fmt.Errorf("save drafts: write %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save drafts: %w", err)
	}
	return nil
}

func deleteDrafts(ctx context.Context, tx *sql.Tx, job, user string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM drafts WHERE job_id = ? AND user_id = ?
	`, job, user); err != nil {
		return fmt.Errorf("delete drafts: %w", err)
	}
	return nil
}
