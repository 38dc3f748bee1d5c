package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/engine"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
	"github.com/roach88/cadlog/internal/session"
	"github.com/roach88/cadlog/internal/testutil"
)

// Store is what a scenario runs against: one shared store that also keeps
// every user's drafts.
type Store interface {
	publish.SharedStore
	session.DraftStore
}

// Harness runs the steps of one scenario.
type Harness struct {
	store    Store
	job      string
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
	users    map[string]UserSpec
	ids      map[string]*engine.SequentialGenerator
	sessions map[string]*session.Session
}

type options struct {
	job    string
	logger *slog.Logger
}

// Option configures Run.
type Option func(*options)

// WithJob overrides the scenario's job id, e.g. to run the same scenario
// twice against a persistent store.
func WithJob(job string) Option {
	return func(o *options) {
		o.job = job
	}
}

// WithLogger sets the logger passed to every session. The default discards
// output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario against st and returns the result.
//
// Ids are deterministic per user (prefix-0001, ...) and publish timestamps
// come from a stepping clock, so the same scenario yields the same trace on
// every run. A command failing with an error code is recorded in the trace;
// any other error aborts the run.
func Run(ctx context.Context, scenario *Scenario, st Store, opts ...Option) (*Result, error) {
	o := options{
		job:    scenario.JobID(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		store:    st,
		job:      o.job,
		clock:    testutil.NewDeterministicClock(),
		logger:   o.logger,
		users:    make(map[string]UserSpec, len(scenario.Users)),
		ids:      make(map[string]*engine.SequentialGenerator, len(scenario.Users)),
		sessions: make(map[string]*session.Session, len(scenario.Users)),
	}

	for _, u := range scenario.Users {
		h.users[u.ID] = u
		h.ids[u.ID] = engine.NewSequentialGenerator(u.prefix())
		if err := h.open(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i+1, step.User, step.Command, err)
		}
		result.AddTrace(ev)
		for _, msg := range checkExpect(ev, step.Expect) {
			result.AddError(msg)
		}
	}

	for id, s := range h.sessions {
		d, err := s.Digest()
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", id, err)
		}
		result.Digests[id] = d
	}

	actx := &AssertionContext{Sessions: h.sessions, Digests: result.Digests}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context, user string) error {
	u := h.users[user]
	s, err := session.Open(ctx, h.store, h.store, h.job, ir.User{ID: u.ID, Name: u.name()},
		session.WithIDs(h.ids[user]),
		session.WithClock(h.clock.Now),
		session.WithLogger(h.logger.With("user", u.ID)),
	)
	if err != nil {
		return fmt.Errorf("open session for %s: %w", user, err)
	}
	h.sessions[user] = s
	return nil
}

// execute runs one step. The returned error is reserved for failures that
// are not editing outcomes.
func (h *Harness) execute(ctx context.Context, n int, step Step) (TraceEvent, error) {
	ev := TraceEvent{Step: n, User: step.User, Command: step.Command, Outcome: OutcomeOK}

	if step.Command == CommandReopen {
		if err := h.open(ctx, step.User); err != nil {
			return ev, err
		}
		ev.Revision = h.sessions[step.User].Job().CurrentRevision
		return ev, nil
	}

	req, err := buildRequest(step)
	if err != nil {
		return ev, err
	}

	resp, err := h.sessions[step.User].Run(ctx, session.CommandName(step.Command), req)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRecallDeclined):
		ev.Outcome = OutcomeDeclined
	case ir.CodeOf(err) != "":
		ev.Outcome = string(ir.CodeOf(err))
	default:
		return ev, err
	}

	h.logger.Info("step completed", "step", n, "user", step.User, "command", step.Command, "outcome", ev.Outcome)
	record(&ev, resp)
	return ev, nil
}

func buildRequest(step Step) (session.Request, error) {
	req := session.Request{
		Kind:              step.Kind,
		Op:                ir.OpID(step.Op),
		AcceptArityChange: step.AcceptArityChange,
	}
	if step.Inputs != nil {
		req.Inputs = make([]ir.FeatureID, len(step.Inputs))
		for i, f := range step.Inputs {
			req.Inputs[i] = ir.FeatureID(f)
		}
	}
	if step.Params != nil {
		params, err := convertArgsToIRObject(step.Params)
		if err != nil {
			return req, fmt.Errorf("params: %w", err)
		}
		req.Params = params
	}
	switch {
	case step.Target != "":
		req.Target = depindex.FeatureTarget(ir.FeatureID(step.Target))
	case step.TargetOp != "":
		req.Target = depindex.OpTarget(ir.OpID(step.TargetOp))
	}
	return req, nil
}

func record(ev *TraceEvent, resp session.Response) {
	if r := resp.Edit; r != nil {
		ev.Op = string(r.Op.ID)
		ev.Seq = r.Op.Seq
		ev.Outputs = featureStrings(r.Op.Outputs)
		if r.Recall != nil {
			ev.Superseded = string(r.Recall.Original)
			ev.Recomputed = opStrings(r.Recall.Cascade.Recomputed)
			ev.Inconsistent = opStrings(r.Recall.Cascade.Inconsistent)
		}
	}
	if resp.Undone != "" {
		ev.Undone = string(resp.Undone)
	}
	if p := resp.Publish; p != nil && !p.NoOp {
		ev.Revision = p.Revision.Revision
	}
	if r := resp.Refresh; r != nil {
		ev.Revision = r.Revision
		ev.Rebased = r.Rebased
		ev.Inconsistent = opStrings(r.Inconsistent)
		ev.Discarded = opStrings(r.Discarded)
	}
}

func featureStrings(ids []ir.FeatureID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func opStrings(ids []ir.OpID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// convertArgsToIRObject converts YAML-decoded parameters to an ir.IRObject.
func convertArgsToIRObject(args map[string]any) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}

	result := make(ir.IRObject, len(args))
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-decoded value to an IRValue. Nulls and
// non-integral numbers are rejected: parameters are integer millimetres.
func convertToIRValue(val any) (ir.IRValue, error) {
	if val == nil {
		return nil, fmt.Errorf("null values are not allowed in parameters")
	}

	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are not allowed in parameters: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		return convertArgsToIRObject(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
