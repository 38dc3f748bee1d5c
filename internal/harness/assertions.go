package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/session"
)

// pointTolerance is the coordinate tolerance in metres.
const pointTolerance = 1e-9

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s %s\n", ev.Step, ev.User, ev.Command, ev.Outcome, ev.Op)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final sessions.
type AssertionContext struct {
	Sessions map[string]*session.Session
	Digests  map[string]string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertSameState:
			err = assertSameState(actx, a)
		default:
			s, ok := actx.Sessions[a.User]
			if !ok {
				err = fmt.Errorf("assertion[%d]: no session for user %q", i, a.User)
				break
			}
			err = assertSession(s, a)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertSession(s *session.Session, a Assertion) error {
	switch a.Type {
	case AssertOpStatus:
		return assertOpStatus(s, a)
	case AssertFeaturePoint:
		return assertFeaturePoint(s, a)
	case AssertFeatureAbsent:
		if _, ok := s.Features().Get(ir.FeatureID(a.Feature)); ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("feature %s absent for %s", a.Feature, a.User),
				Actual:   "feature present",
			}
		}
	case AssertFeatureCount:
		if n := s.Features().Len(); n != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d features for %s", a.Count, a.User),
				Actual:   fmt.Sprintf("%d features", n),
			}
		}
	case AssertUnpublished:
		if n := s.Ledger().UnpublishedCount(); n != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d unpublished operations for %s", a.Count, a.User),
				Actual:   fmt.Sprintf("%d unpublished", n),
			}
		}
	case AssertRevision:
		if rev := s.Job().CurrentRevision; rev != a.Revision {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("revision %d for %s", a.Revision, a.User),
				Actual:   fmt.Sprintf("revision %d", rev),
			}
		}
	case AssertHistory:
		var got []string
		for op := range s.History(0) {
			got = append(got, string(op.ID))
		}
		if !slices.Equal(got, a.Ops) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("history of %s = %v", a.User, a.Ops),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func assertOpStatus(s *session.Session, a Assertion) error {
	op, ok := s.Operation(ir.OpID(a.Op))
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("operation %s with status %s", a.Op, a.Status),
			Actual:   "operation not in log",
		}
	}
	if string(op.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("operation %s status %s", a.Op, a.Status),
			Actual:   fmt.Sprintf("status %s", op.Status),
		}
	}
	return nil
}

func assertFeaturePoint(s *session.Session, a Assertion) error {
	want := orb.Point{kinds.Metres(a.X), kinds.Metres(a.Y)}
	g, err := s.Features().Geometry(ir.FeatureID(a.Feature))
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("feature %s at %s", a.Feature, kinds.Describe(want)),
			Actual:   err.Error(),
		}
	}
	p, ok := g.(orb.Point)
	if !ok || math.Abs(p.X()-want.X()) > pointTolerance || math.Abs(p.Y()-want.Y()) > pointTolerance {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("feature %s at %s", a.Feature, kinds.Describe(want)),
			Actual:   kinds.Describe(g),
		}
	}
	return nil
}

func assertSameState(actx *AssertionContext, a Assertion) error {
	first := actx.Digests[a.Users[0]]
	for _, u := range a.Users[1:] {
		if d := actx.Digests[u]; d != first {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s and %s share state %s", a.Users[0], u, short(first)),
				Actual:   fmt.Sprintf("%s has %s", u, short(d)),
			}
		}
	}
	return nil
}

// assertTraceCount counts steps with the given command, and outcome when set.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Command == a.Command && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d occurrences of %s %s", a.Count, a.Command, a.Outcome),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// checkExpect compares a step's event with its expect clause.
func checkExpect(ev TraceEvent, exp *ExpectClause) []string {
	var errs []string
	fail := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("step %d (%s %s): expected %s %v, got %v", ev.Step, ev.User, ev.Command, field, want, got))
	}

	if exp == nil {
		if ev.Outcome != OutcomeOK {
			fail("outcome", OutcomeOK, ev.Outcome)
		}
		return errs
	}

	outcome := exp.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}
	if ev.Outcome != outcome {
		fail("outcome", outcome, ev.Outcome)
	}
	if exp.Op != "" && exp.Op != ev.Op {
		fail("op", exp.Op, ev.Op)
	}
	if exp.Seq != 0 && exp.Seq != ev.Seq {
		fail("seq", exp.Seq, ev.Seq)
	}
	if exp.Outputs != nil && !slices.Equal(exp.Outputs, ev.Outputs) {
		fail("outputs", exp.Outputs, ev.Outputs)
	}
	if exp.Superseded != "" && exp.Superseded != ev.Superseded {
		fail("superseded", exp.Superseded, ev.Superseded)
	}
	if exp.Recomputed != nil && !slices.Equal(exp.Recomputed, ev.Recomputed) {
		fail("recomputed", exp.Recomputed, ev.Recomputed)
	}
	if exp.Inconsistent != nil && !slices.Equal(exp.Inconsistent, ev.Inconsistent) {
		fail("inconsistent", exp.Inconsistent, ev.Inconsistent)
	}
	if exp.Undone != "" && exp.Undone != ev.Undone {
		fail("undone", exp.Undone, ev.Undone)
	}
	if exp.Revision != 0 && exp.Revision != ev.Revision {
		fail("revision", exp.Revision, ev.Revision)
	}
	if exp.Rebased != 0 && exp.Rebased != ev.Rebased {
		fail("rebased", exp.Rebased, ev.Rebased)
	}
	if exp.Discarded != nil && !slices.Equal(exp.Discarded, ev.Discarded) {
		fail("discarded", exp.Discarded, ev.Discarded)
	}
	return errs
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
