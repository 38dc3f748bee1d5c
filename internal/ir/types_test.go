package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusActive, StatusSuperseded, true},
		{StatusActive, StatusRolledBack, true},
		{StatusActive, StatusInconsistent, true},
		{StatusInconsistent, StatusActive, true},
		{StatusInconsistent, StatusSuperseded, true},
		{StatusSuperseded, StatusActive, true},
		{StatusSuperseded, StatusInconsistent, false},
		{StatusSuperseded, StatusRolledBack, false},
		{StatusRolledBack, StatusActive, false},
		{StatusRolledBack, StatusSuperseded, false},
		{StatusActive, StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusLive(t *testing.T) {
	assert.True(t, StatusActive.Live())
	assert.True(t, StatusInconsistent.Live())
	assert.False(t, StatusSuperseded.Live())
	assert.False(t, StatusRolledBack.Live())
}

func TestOperationCloneDoesNotAlias(t *testing.T) {
	op := Operation{
		ID:      "op-1",
		Inputs:  []FeatureID{"f-1"},
		Outputs: []FeatureID{"f-2"},
		Params:  IRObject{"dx": IRInt(5)},
	}
	c := op.Clone()
	c.Inputs[0] = "x"
	c.Outputs[0] = "y"
	c.Params["dx"] = IRInt(6)

	assert.Equal(t, FeatureID("f-1"), op.Inputs[0])
	assert.Equal(t, FeatureID("f-2"), op.Outputs[0])
	assert.Equal(t, IRInt(5), op.Params["dx"])

	assert.NotNil(t, Operation{}.Clone().Params)
}

func TestOperationJSONFieldNaming(t *testing.T) {
	op := Operation{
		ID:         "op-2",
		Seq:        2,
		Kind:       "offset_point",
		Inputs:     []FeatureID{"f-1"},
		Outputs:    []FeatureID{"f-2"},
		Params:     IRObject{"dx": IRInt(5), "dy": IRInt(0)},
		Status:     StatusActive,
		Supersedes: "op-1",
		Author:     "alice",
	}
	data, err := json.Marshal(op)
	require.NoError(t, err)
	s := string(data)

	for _, key := range []string{`"id"`, `"seq"`, `"kind"`, `"inputs"`, `"outputs"`, `"params"`, `"status"`, `"supersedes"`, `"author"`} {
		assert.Contains(t, s, key)
	}

	var decoded Operation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, op, decoded)
}

func TestOperationIsRecall(t *testing.T) {
	assert.False(t, Operation{ID: "a"}.IsRecall())
	assert.True(t, Operation{ID: "b", Supersedes: "a"}.IsRecall())
}

func TestOperationString(t *testing.T) {
	op := Operation{Seq: 3, Kind: "new_line", Status: StatusInconsistent}
	assert.Equal(t, "#3 new_line (inconsistent)", op.String())
}
