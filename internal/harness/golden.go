package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cadlog/internal/ir"
)

// TraceSnapshot captures the trace of a scenario run for golden comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to plain values for
// ir.MarshalCanonical. Empty optional fields are left out.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"user":    ev.User,
			"command": ev.Command,
			"outcome": ev.Outcome,
		}
		putString(m, "op", ev.Op)
		putString(m, "superseded", ev.Superseded)
		putString(m, "undone", ev.Undone)
		putList(m, "outputs", ev.Outputs)
		putList(m, "recomputed", ev.Recomputed)
		putList(m, "inconsistent", ev.Inconsistent)
		putList(m, "discarded", ev.Discarded)
		if ev.Seq != 0 {
			m["seq"] = ev.Seq
		}
		if ev.Revision != 0 {
			m["revision"] = ev.Revision
		}
		if ev.Rebased != 0 {
			m["rebased"] = ev.Rebased
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putList(m map[string]any, key string, v []string) {
	if len(v) > 0 {
		m[key] = v
	}
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// AssertGolden compares the result's trace against
// testdata/golden/{scenarioName}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
