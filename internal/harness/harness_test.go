package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
)

func runYAML(t *testing.T, doc string) *Result {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	result, err := Run(context.Background(), sc, newStore(t))
	require.NoError(t, err)
	return result
}

func TestRunRecordsFailedExpectations(t *testing.T) {
	result := runYAML(t, `
name: wrong_expect
description: "expectations that do not hold"
users: [{id: ana, prefix: a}]
steps:
  - user: ana
    command: edit
    kind: new_point
    params: { x: 0, y: 0 }
    expect: { op: a-0009, seq: 4 }
  - user: ana
    command: undo
    expect: { outcome: INVALID_STATE }
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected op a-0009, got a-0001")
	assert.Contains(t, result.Errors[1], "expected seq 4, got 1")
	assert.Contains(t, result.Errors[2], "expected outcome INVALID_STATE, got ok")
}

func TestRunFailsUnexpectedErrorOutcome(t *testing.T) {
	result := runYAML(t, `
name: bad_kind
description: "unknown kind without expect"
users: [{id: ana}]
steps:
  - user: ana
    command: edit
    kind: new_circle
    params: { r: 5 }
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.NotEqual(t, OutcomeOK, result.Trace[0].Outcome)
}

func TestRunUndoAndRefreshOutcomes(t *testing.T) {
	result := runYAML(t, `
name: undo_refresh
description: "undo on an empty session, then a point undone"
users: [{id: ana, prefix: a}, {id: bea, prefix: b}]
steps:
  - user: ana
    command: undo
    expect: { outcome: INVALID_STATE }
  - user: ana
    command: edit
    kind: new_point
    params: { x: 5, y: 5 }
  - user: ana
    command: undo
    expect: { undone: a-0001 }
  - user: ana
    command: publish
  - user: bea
    command: refresh
assertions:
  - type: op_status
    user: ana
    op: a-0001
    status: rolled_back
  - type: feature_count
    user: ana
    count: 0
  - type: same_state
    users: [ana, bea]
`)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "a-0001", result.Trace[2].Undone)
	assert.Equal(t, int64(1), result.Trace[3].Revision)
}

func TestRunRejectsNonIntegerParams(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: float_param
description: "floats are not parameters"
users: [{id: ana}]
steps:
  - user: ana
    command: edit
    kind: new_point
    params: { x: 1.5, y: 0 }
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), sc, newStore(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestConvertToIRValue(t *testing.T) {
	v, err := convertToIRValue(map[string]any{
		"n":    3,
		"f":    float64(4),
		"ok":   true,
		"name": "x",
		"list": []any{1, "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{
		"n":    ir.IRInt(3),
		"f":    ir.IRInt(4),
		"ok":   ir.IRBool(true),
		"name": ir.IRString("x"),
		"list": ir.IRArray{ir.IRInt(1), ir.IRString("a")},
	}, v)

	_, err = convertToIRValue(nil)
	require.Error(t, err)
	_, err = convertToIRValue(struct{}{})
	require.Error(t, err)
}
