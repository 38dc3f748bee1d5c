package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cadlog/internal/ir"
)

type jobModel struct {
	JobID    string `gorm:"column:job_id;primaryKey"`
	Revision int64  `gorm:"column:revision;not null"`
}

func (jobModel) TableName() string { return "cadlog_jobs" }

// opColumns are the columns shared by published and draft operations.
type opColumns struct {
	Seq        int64  `gorm:"column:seq;primaryKey;autoIncrement:false"`
	ID         string `gorm:"column:id;not null"`
	Kind       string `gorm:"column:kind;not null"`
	Inputs     string `gorm:"column:inputs;type:text;not null"`
	Outputs    string `gorm:"column:outputs;type:text;not null"`
	Params     string `gorm:"column:params;type:text;not null"`
	Status     string `gorm:"column:status;not null"`
	Supersedes string `gorm:"column:supersedes;not null"`
	Author     string `gorm:"column:author;not null"`
}

type operationModel struct {
	JobID string `gorm:"column:job_id;primaryKey"`
	opColumns
	Revision int64 `gorm:"column:revision;not null"`
}

func (operationModel) TableName() string { return "cadlog_operations" }

type revisionModel struct {
	JobID     string    `gorm:"column:job_id;primaryKey"`
	Revision  int64     `gorm:"column:revision;primaryKey;autoIncrement:false"`
	Author    string    `gorm:"column:author;not null;index:idx_cadlog_revisions_author"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
	EditCount int       `gorm:"column:edit_count;not null"`
	Sequences string    `gorm:"column:sequences;type:text;not null"`
}

func (revisionModel) TableName() string { return "cadlog_revisions" }

type draftModel struct {
	JobID  string `gorm:"column:job_id;primaryKey"`
	UserID string `gorm:"column:user_id;primaryKey"`
	opColumns
}

func (draftModel) TableName() string { return "cadlog_drafts" }

func toColumns(op ir.Operation) (opColumns, error) {
	params := op.Params
	if params == nil {
		params = ir.IRObject{}
	}
	paramsJSON, err := ir.MarshalCanonical(params)
	if err != nil {
		return opColumns{}, fmt.Errorf("marshal params: %w", err)
	}
	inputs, err := marshalFeatureIDs(op.Inputs)
	if err != nil {
		return opColumns{}, fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalFeatureIDs(op.Outputs)
	if err != nil {
		return opColumns{}, fmt.Errorf("marshal outputs: %w", err)
	}
	return opColumns{
		Seq:        op.Seq,
		ID:         string(op.ID),
		Kind:       op.Kind,
		Inputs:     inputs,
		Outputs:    outputs,
		Params:     string(paramsJSON),
		Status:     string(op.Status),
		Supersedes: string(op.Supersedes),
		Author:     op.Author,
	}, nil
}

func (c opColumns) operation() (ir.Operation, error) {
	var params ir.IRObject
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return ir.Operation{}, fmt.Errorf("operation %s: unmarshal params: %w", c.ID, err)
	}
	inputs := []ir.FeatureID{}
	if err := json.Unmarshal([]byte(c.Inputs), &inputs); err != nil {
		return ir.Operation{}, fmt.Errorf("operation %s: unmarshal inputs: %w", c.ID, err)
	}
	outputs := []ir.FeatureID{}
	if err := json.Unmarshal([]byte(c.Outputs), &outputs); err != nil {
		return ir.Operation{}, fmt.Errorf("operation %s: unmarshal outputs: %w", c.ID, err)
	}
	status := ir.Status(c.Status)
	if !ir.ValidStatuses[status] {
		return ir.Operation{}, fmt.Errorf("operation %s: invalid status %q", c.ID, c.Status)
	}
	return ir.Operation{
		ID:         ir.OpID(c.ID),
		Seq:        c.Seq,
		Kind:       c.Kind,
		Inputs:     inputs,
		Outputs:    outputs,
		Params:     params,
		Status:     status,
		Supersedes: ir.OpID(c.Supersedes),
		Author:     c.Author,
	}, nil
}

func marshalFeatureIDs(ids []ir.FeatureID) (string, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	data, err := ir.MarshalCanonical(strs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m revisionModel) record() (ir.RevisionRecord, error) {
	seqs := []int64{}
	if err := json.Unmarshal([]byte(m.Sequences), &seqs); err != nil {
		return ir.RevisionRecord{}, fmt.Errorf("revision %d: unmarshal sequences: %w", m.Revision, err)
	}
	return ir.RevisionRecord{
		Job:       m.JobID,
		Revision:  m.Revision,
		Author:    m.Author,
		Timestamp: m.Timestamp.UTC(),
		EditCount: m.EditCount,
		Sequences: seqs,
	}, nil
}
