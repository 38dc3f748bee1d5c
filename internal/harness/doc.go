// Package harness runs scripted multi-user editing scenarios.
//
// A scenario opens one session per user against a single shared store and
// drives them through session commands, recording a trace event per step.
// Expect clauses check individual steps; assertions check the final
// sessions.
//
// # Scenario Format
//
//	name: recall_cascade
//	description: "Moving a point recomputes the line built on it"
//	users:
//	  - id: ana
//	    prefix: a
//	steps:
//	  - user: ana
//	    command: edit
//	    kind: new_point
//	    params: { x: 0, y: 0 }
//	    expect: { op: a-0001, outputs: [a-0002] }
//	  - user: ana
//	    command: recall
//	    target: a-0008
//	    op: a-0003
//	    params: { x: 2000, y: 0 }
//	    expect: { superseded: a-0003, recomputed: [a-0005, a-0007] }
//	assertions:
//	  - type: feature_point
//	    user: ana
//	    feature: a-0008
//	    x: 1000
//	    y: 0
//
// Commands are edit, recall, undo, publish, refresh and reopen. Parameters
// are integer millimetres.
//
// # Assertion Types
//
//   - op_status: an operation has the given status
//   - feature_point: a point feature sits at x, y (mm)
//   - feature_absent: a feature is not in the user's store
//   - feature_count: the user's store holds count features
//   - unpublished: the user has count unpublished operations
//   - revision: the user's session is based on the given revision
//   - history: the user's log holds exactly these operation ids, in order
//   - same_state: the users' sessions have identical digests
//   - trace_count: command (with outcome, when set) appears count times
//
// # Deterministic Testing
//
// Ids come from a per-user engine.SequentialGenerator and publish
// timestamps from testutil.DeterministicClock, so a scenario produces the
// same trace on every run and against every store backend. Traces are
// compared with golden files via goldie.
package harness
