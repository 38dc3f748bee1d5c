package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/engine"
	"github.com/roach88/cadlog/internal/testutil"
)

// cliRig runs commands against one SQLite file, sharing an id generator and
// clock across invocations the way a single user's shell would.
type cliRig struct {
	t   *testing.T
	db  string
	ids engine.IDGenerator
	now *testutil.DeterministicClock
}

func newRig(t *testing.T) *cliRig {
	t.Helper()
	return &cliRig{
		t:   t,
		db:  filepath.Join(t.TempDir(), "cadlog.db"),
		ids: engine.NewSequentialGenerator("t"),
		now: testutil.NewDeterministicClock(),
	}
}

// run executes one command as user and returns stdout and the error.
func (r *cliRig) run(user string, args ...string) (string, error) {
	r.t.Helper()
	out, _, err := r.runLogged(user, args...)
	return out, err
}

// runLogged is run that also returns what was written to stderr.
func (r *cliRig) runLogged(user string, args ...string) (string, string, error) {
	r.t.Helper()
	cmd := newRootCommand(&RootOptions{IDs: r.ids, Now: r.now.Now})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	base := []string{
		"--env-file", filepath.Join(r.t.TempDir(), "missing.env"),
		"--store", "sqlite",
		"--db", r.db,
		"--job", "bracket",
		"--user", user,
		"--format", "json",
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decode decodes a JSON response and returns its status and data payload.
func decode[T any](t *testing.T, out string) (string, T) {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
		Error  *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if resp.Error != nil {
		return resp.Error.Code, resp.Data
	}
	return resp.Status, resp.Data
}

type opJSON struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	Kind       string         `json:"kind"`
	Outputs    []string       `json:"outputs"`
	Params     map[string]any `json:"params"`
	Status     string         `json:"status"`
	Supersedes string         `json:"supersedes"`
}

type editJSON struct {
	Op     opJSON `json:"op"`
	Recall *struct {
		Original     string   `json:"original"`
		Recomputed   []string `json:"recomputed"`
		Inconsistent []string `json:"inconsistent"`
	} `json:"recall"`
}

func TestEditAndRecallCascade(t *testing.T) {
	rig := newRig(t)

	out, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)
	status, edit := decode[editJSON](t, out)
	assert.Equal(t, "ok", status)
	assert.Equal(t, "t-0001", edit.Op.ID)
	assert.Equal(t, []string{"t-0002"}, edit.Op.Outputs)

	_, err = rig.run("ana", "edit", "new_point", "--params", `{"x":1000,"y":0}`)
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "new_line", "-i", "t-0002", "-i", "t-0004")
	require.NoError(t, err)
	out, err = rig.run("ana", "edit", "subdivide_line", "-i", "t-0006", "-p", "parts=2")
	require.NoError(t, err)
	_, edit = decode[editJSON](t, out)
	assert.Equal(t, []string{"t-0008"}, edit.Op.Outputs)

	// Only x is given; y is carried over from the original operation.
	out, err = rig.run("ana", "recall", "t-0008", "--op", "t-0003", "-p", "x=2000")
	require.NoError(t, err)
	status, edit = decode[editJSON](t, out)
	assert.Equal(t, "ok", status)
	assert.Equal(t, "t-0009", edit.Op.ID)
	assert.Equal(t, "t-0003", edit.Op.Supersedes)
	assert.Equal(t, []string{"t-0004"}, edit.Op.Outputs)
	assert.Equal(t, map[string]any{"x": float64(2000), "y": float64(0)}, edit.Op.Params)
	require.NotNil(t, edit.Recall)
	assert.Equal(t, "t-0003", edit.Recall.Original)
	assert.Equal(t, []string{"t-0005", "t-0007"}, edit.Recall.Recomputed)

	out, err = rig.run("ana", "history", "--live")
	require.NoError(t, err)
	_, ops := decode[[]opJSON](t, out)
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	assert.Equal(t, []string{"t-0001", "t-0005", "t-0007", "t-0009"}, ids)

	out, err = rig.run("ana", "history")
	require.NoError(t, err)
	_, ops = decode[[]opJSON](t, out)
	assert.Len(t, ops, 5)
	assert.Equal(t, "superseded", ops[1].Status)
}

func TestRecallTargetsProducerByDefault(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)

	out, err := rig.run("ana", "recall", "t-0002", "-p", "y=500")
	require.NoError(t, err)
	_, edit := decode[editJSON](t, out)
	assert.Equal(t, "t-0001", edit.Op.Supersedes)
	assert.Equal(t, map[string]any{"x": float64(0), "y": float64(500)}, edit.Op.Params)
}

func TestEditValidationError(t *testing.T) {
	rig := newRig(t)

	out, err := rig.run("ana", "edit", "new_point", "-p", "x=0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	code, _ := decode[json.RawMessage](t, out)
	assert.Equal(t, "VALIDATION_ERROR", code)

	out, err = rig.run("ana", "history")
	require.NoError(t, err)
	_, ops := decode[[]opJSON](t, out)
	assert.Empty(t, ops)
}

func TestRecallArityChangeNeedsConsent(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "new_point", "-p", "x=3000", "-p", "y=0")
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "new_line", "-i", "t-0002", "-i", "t-0004")
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "subdivide_line", "-i", "t-0006", "-p", "parts=2")
	require.NoError(t, err)

	out, err := rig.run("ana", "recall", "--target-op", "t-0007", "-p", "parts=3")
	require.Error(t, err)
	code, _ := decode[json.RawMessage](t, out)
	assert.Equal(t, "ARITY_CHANGE", code)

	out, err = rig.run("ana", "recall", "--target-op", "t-0007", "-p", "parts=3", "--accept-arity-change")
	require.NoError(t, err)
	_, edit := decode[editJSON](t, out)
	assert.Len(t, edit.Op.Outputs, 2)
	assert.Equal(t, "t-0008", edit.Op.Outputs[0])
}

func TestPredecessors(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "new_point", "-p", "x=1000", "-p", "y=0")
	require.NoError(t, err)
	_, err = rig.run("ana", "edit", "new_line", "-i", "t-0002", "-i", "t-0004")
	require.NoError(t, err)

	out, err := rig.run("ana", "predecessors", "t-0006")
	require.NoError(t, err)
	_, ops := decode[[]opJSON](t, out)
	require.Len(t, ops, 3)
	assert.Equal(t, "t-0001", ops[0].ID)
	assert.Equal(t, "t-0005", ops[2].ID)

	out, err = rig.run("ana", "predecessors", "missing")
	require.Error(t, err)
	code, _ := decode[json.RawMessage](t, out)
	assert.Equal(t, "NOT_FOUND", code)

	_, err = rig.run("ana", "predecessors")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSessionLogAttributesAppearOnce(t *testing.T) {
	rig := newRig(t)

	_, logs, err := rig.runLogged("ana", "--verbose", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)
	assert.Contains(t, logs, "edit applied")

	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if strings.Contains(line, "user=") {
			assert.Equal(t, 1, strings.Count(line, "job=bracket"), line)
			assert.Equal(t, 1, strings.Count(line, "user=ana"), line)
		}
	}
}

func TestUndo(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)

	out, err := rig.run("ana", "undo")
	require.NoError(t, err)
	_, undone := decode[undoView](t, out)
	assert.Equal(t, "t-0001", string(undone.Undone))

	out, err = rig.run("ana", "undo")
	require.Error(t, err)
	code, _ := decode[json.RawMessage](t, out)
	assert.Equal(t, "INVALID_STATE", code)
}

func TestPublishAndRefresh(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=0", "-p", "y=0")
	require.NoError(t, err)
	_, err = rig.run("bea", "edit", "new_point", "-p", "x=500", "-p", "y=500")
	require.NoError(t, err)

	out, err := rig.run("ana", "publish")
	require.NoError(t, err)
	_, pub := decode[publishView](t, out)
	require.NotNil(t, pub.Revision)
	assert.Equal(t, int64(1), pub.Revision.Revision)
	assert.Equal(t, "ana", pub.Revision.Author)

	// Every invocation opens a fresh session, so bea's draft is already
	// rebased after ana's revision.
	out, err = rig.run("bea", "refresh")
	require.NoError(t, err)
	_, refresh := decode[refreshView](t, out)
	assert.Equal(t, int64(1), refresh.Revision)
	assert.Equal(t, 1, refresh.Published)
	assert.Equal(t, 1, refresh.Rebased)

	out, err = rig.run("bea", "publish")
	require.NoError(t, err)
	_, pub = decode[publishView](t, out)
	assert.Equal(t, int64(2), pub.Revision.Revision)

	out, err = rig.run("bea", "publish")
	require.NoError(t, err)
	_, pub = decode[publishView](t, out)
	assert.True(t, pub.NoOp)

	out, err = rig.run("ana", "status")
	require.NoError(t, err)
	_, status := decode[statusView](t, out)
	assert.Equal(t, "bracket", status.Job.ID)
	assert.Equal(t, int64(2), status.Job.CurrentRevision)
	assert.Equal(t, int64(1), status.Published)
	assert.Equal(t, 2, status.Features)
	require.Len(t, status.Revisions, 2)
	assert.Equal(t, "bea", status.Revisions[1].Author)
}

func TestExportGeoJSON(t *testing.T) {
	rig := newRig(t)

	_, err := rig.run("ana", "edit", "new_point", "-p", "x=1500", "-p", "y=-200")
	require.NoError(t, err)

	out, err := rig.run("ana", "export")
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection([]byte(out))
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "t-0002", fc.Features[0].ID)
	assert.Equal(t, "Point", fc.Features[0].Geometry.GeoJSONType())

	path := filepath.Join(t.TempDir(), "out.geojson")
	_, err = rig.run("ana", "export", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, out, string(data))
}

func TestKinds(t *testing.T) {
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetArgs([]string{"--format", "json", "kinds"})
	require.NoError(t, cmd.Execute())

	_, kinds := decode[[]kindView](t, stdout.String())
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Name
	}
	assert.Equal(t, []string{"intersect_lines", "new_line", "new_point", "offset_point", "subdivide_line"}, names)
	assert.Equal(t, []string{"point", "point"}, kinds[1].Inputs)
	assert.Empty(t, kinds[2].Inputs)
}

func TestKindsText(t *testing.T) {
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetArgs([]string{"kinds"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "subdivide_line  inputs: line")
	assert.Contains(t, stdout.String(), "new_point       inputs: -")
}

func TestInvalidStoreConfig(t *testing.T) {
	rig := newRig(t)
	_, err := rig.run("ana", "--store", "postgres", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}
