package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cadlog/internal/ir"
)

// opRow is an operation as stored in the operations and drafts tables.
type opRow struct {
	Seq        int64
	ID         string
	Kind       string
	Inputs     string
	Outputs    string
	Params     string
	Status     string
	Supersedes string
	Author     string
}

// toRow converts an operation into column values.
// Params are stored as RFC 8785 canonical JSON for deterministic replay.
func toRow(op ir.Operation) (opRow, error) {
	params := op.Params
	if params == nil {
		params = ir.IRObject{}
	}
	paramsJSON, err := ir.MarshalCanonical(params)
	if err != nil {
		return opRow{}, fmt.Errorf("marshal params: %w", err)
	}
	inputs, err := marshalFeatureIDs(op.Inputs)
	if err != nil {
		return opRow{}, fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalFeatureIDs(op.Outputs)
	if err != nil {
		return opRow{}, fmt.Errorf("marshal outputs: %w", err)
	}
	return opRow{
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

// operation parses column values back into an operation.
func (r opRow) operation() (ir.Operation, error) {
	params, err := unmarshalParams(r.Params)
	if err != nil {
		return ir.Operation{}, err
	}
	inputs, err := unmarshalFeatureIDs(r.Inputs)
	if err != nil {
		return ir.Operation{}, fmt.Errorf("unmarshal inputs: %w", err)
	}
	outputs, err := unmarshalFeatureIDs(r.Outputs)
	if err != nil {
		return ir.Operation{}, fmt.Errorf("unmarshal outputs: %w", err)
	}
	status := ir.Status(r.Status)
	if !ir.ValidStatuses[status] {
		return ir.Operation{}, fmt.Errorf("operation %s: invalid status %q", r.ID, r.Status)
	}
	return ir.Operation{
		ID:         ir.OpID(r.ID),
		Seq:        r.Seq,
		Kind:       r.Kind,
		Inputs:     inputs,
		Outputs:    outputs,
		Params:     params,
		Status:     status,
		Supersedes: ir.OpID(r.Supersedes),
		Author:     r.Author,
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

func unmarshalFeatureIDs(data string) ([]ir.FeatureID, error) {
	ids := []ir.FeatureID{}
	if data == "" || data == "[]" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// unmarshalParams parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON so integers never pass through float64.
func unmarshalParams(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return obj, nil
}

func marshalSequences(seqs []int64) (string, error) {
	if seqs == nil {
		seqs = []int64{}
	}
	data, err := json.Marshal(seqs)
	if err != nil {
		return "", fmt.Errorf("marshal sequences: %w", err)
	}
	return string(data), nil
}

func unmarshalSequences(data string) ([]int64, error) {
	seqs := []int64{}
	if err := json.Unmarshal([]byte(data), &seqs); err != nil {
		return nil, fmt.Errorf("unmarshal sequences: %w", err)
	}
	return seqs, nil
}

// Timestamps are informational only; ordering never depends on them.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return t.UTC(), nil
}
