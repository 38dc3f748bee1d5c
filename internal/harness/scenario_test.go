package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one point"
users:
  - id: ana
steps:
  - user: ana
    command: edit
    kind: new_point
    params: { x: 1, y: 2 }
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", sc.Name)
	assert.Equal(t, "minimal", sc.JobID(), "job defaults to the name")
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, "new_point", sc.Steps[0].Kind)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, sc.Steps[0].Params)
	assert.Equal(t, "ana", sc.Users[0].prefix())
	assert.Equal(t, "ana", sc.Users[0].name())
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", sc.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenarioRejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nusers: [{id: a}]\nsteps: [{user: a, command: undo}]\n",
			want: "name is required",
		},
		{
			name: "missing users",
			yaml: "name: n\ndescription: d\nsteps: [{user: a, command: undo}]\n",
			want: "users list is required",
		},
		{
			name: "duplicate prefix",
			yaml: "name: n\ndescription: d\nusers: [{id: a, prefix: p}, {id: b, prefix: p}]\nsteps: [{user: a, command: undo}]\n",
			want: "duplicate id prefix",
		},
		{
			name: "unknown user",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: b, command: undo}]\n",
			want: "unknown user",
		},
		{
			name: "unknown command",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: merge}]\n",
			want: "unknown command",
		},
		{
			name: "edit without kind",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: edit}]\n",
			want: "kind is required",
		},
		{
			name: "recall without target",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: recall}]\n",
			want: "target or target_op",
		},
		{
			name: "recall with both targets",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: recall, target: f, target_op: o}]\n",
			want: "mutually exclusive",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: undo}]\nassertions: [{type: vibes}]\n",
			want: "unknown assertion type",
		},
		{
			name: "same_state with one user",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: undo}]\nassertions: [{type: same_state, users: [a]}]\n",
			want: "at least two users",
		},
		{
			name: "op_status without status",
			yaml: "name: n\ndescription: d\nusers: [{id: a}]\nsteps: [{user: a, command: undo}]\nassertions: [{type: op_status, user: a, op: x}]\n",
			want: "op and status are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDirIsSorted(t *testing.T) {
	scenarios, err := LoadDir(scenarioDir)
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}
	assert.Equal(t, []string{"arity_undo", "cascade_failure", "publish_conflict", "recall_cascade"}, names)
}
