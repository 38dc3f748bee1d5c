package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/publish"
	"github.com/roach88/cadlog/internal/session"
)

// operationLine renders one operation for text output.
func operationLine(op ir.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-4d %-15s %s  %s", op.Seq, op.Kind, op.ID, op.Status)
	if len(op.Inputs) > 0 {
		fmt.Fprintf(&b, "  in=%s", joinIDs(op.Inputs))
	}
	if len(op.Outputs) > 0 {
		fmt.Fprintf(&b, "  out=%s", joinIDs(op.Outputs))
	}
	if len(op.Params) > 0 {
		if params, err := op.Params.MarshalJSON(); err == nil {
			fmt.Fprintf(&b, "  %s", params)
		}
	}
	if op.Supersedes != "" {
		fmt.Fprintf(&b, "  supersedes=%s", op.Supersedes)
	}
	return b.String()
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// opsView lists operations.
type opsView []ir.Operation

func (v opsView) String() string {
	if len(v) == 0 {
		return "(no operations)"
	}
	lines := make([]string, len(v))
	for i, op := range v {
		lines[i] = operationLine(op)
	}
	return strings.Join(lines, "\n")
}

// editView is the outcome of edit and recall.
type editView struct {
	Op     ir.Operation `json:"op"`
	Recall *recallView  `json:"recall,omitempty"`
}

type recallView struct {
	Original     ir.OpID        `json:"original"`
	Added        []ir.FeatureID `json:"added,omitempty"`
	Dropped      []ir.FeatureID `json:"dropped,omitempty"`
	Recomputed   []ir.OpID      `json:"recomputed,omitempty"`
	Inconsistent []ir.OpID      `json:"inconsistent,omitempty"`
}

func newEditView(res *session.Result) editView {
	v := editView{Op: res.Op}
	if r := res.Recall; r != nil {
		v.Recall = &recallView{
			Original:     r.Original,
			Added:        r.Added,
			Dropped:      r.Dropped,
			Recomputed:   r.Cascade.Recomputed,
			Inconsistent: r.Cascade.Inconsistent,
		}
	}
	return v
}

func (v editView) String() string {
	var b strings.Builder
	b.WriteString(operationLine(v.Op))
	if r := v.Recall; r != nil {
		fmt.Fprintf(&b, "\nsuperseded %s", r.Original)
		if len(r.Added) > 0 {
			fmt.Fprintf(&b, "\nadded features: %s", joinIDs(r.Added))
		}
		if len(r.Dropped) > 0 {
			fmt.Fprintf(&b, "\ndropped features: %s", joinIDs(r.Dropped))
		}
		fmt.Fprintf(&b, "\nrecomputed: %d", len(r.Recomputed))
		if len(r.Inconsistent) > 0 {
			fmt.Fprintf(&b, "\ninconsistent: %s", joinIDs(r.Inconsistent))
		}
	}
	return b.String()
}

// undoView reports the rolled back operation.
type undoView struct {
	Undone ir.OpID `json:"undone"`
}

func (v undoView) String() string {
	return fmt.Sprintf("undone %s", v.Undone)
}

// publishView reports a publish.
type publishView struct {
	NoOp     bool               `json:"no_op"`
	Revision *ir.RevisionRecord `json:"revision,omitempty"`
}

func newPublishView(res *publish.Result) publishView {
	if res.NoOp {
		return publishView{NoOp: true}
	}
	rec := res.Revision
	return publishView{Revision: &rec}
}

func (v publishView) String() string {
	if v.NoOp {
		return "nothing to publish"
	}
	return fmt.Sprintf("published revision %d (%d edits)", v.Revision.Revision, v.Revision.EditCount)
}

// refreshView reports a refresh.
type refreshView struct {
	Revision     int64     `json:"revision"`
	Published    int       `json:"published"`
	Rebased      int       `json:"rebased"`
	Skipped      []ir.OpID `json:"skipped,omitempty"`
	Inconsistent []ir.OpID `json:"inconsistent,omitempty"`
	Discarded    []ir.OpID `json:"discarded,omitempty"`
}

func newRefreshView(res *session.RefreshResult) refreshView {
	return refreshView{
		Revision:     res.Revision,
		Published:    res.Published,
		Rebased:      res.Rebased,
		Skipped:      res.Skipped,
		Inconsistent: res.Inconsistent,
		Discarded:    res.Discarded,
	}
}

func (v refreshView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "at revision %d: %d published, %d rebased", v.Revision, v.Published, v.Rebased)
	if len(v.Inconsistent) > 0 {
		fmt.Fprintf(&b, "\ninconsistent: %s", joinIDs(v.Inconsistent))
	}
	if len(v.Discarded) > 0 {
		fmt.Fprintf(&b, "\ndiscarded: %s", joinIDs(v.Discarded))
	}
	return b.String()
}

// statusView summarizes a session and the job's revisions.
type statusView struct {
	Job       ir.Job              `json:"job"`
	User      ir.User             `json:"user"`
	Features  int                 `json:"features"`
	Published int64               `json:"last_published_by_user"`
	Revisions []ir.RevisionRecord `json:"revisions"`
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s at revision %d\n", v.Job.ID, v.Job.CurrentRevision)
	fmt.Fprintf(&b, "user %s: %d unpublished, %d features", v.User.ID, v.Job.UnpublishedCount, v.Features)
	if v.Published > 0 {
		fmt.Fprintf(&b, ", last published revision %d", v.Published)
	}
	for _, r := range v.Revisions {
		fmt.Fprintf(&b, "\n  r%-4d %s  %-12s %d edits", r.Revision, r.Timestamp.Format(time.RFC3339), r.Author, r.EditCount)
	}
	return b.String()
}

// kindsView lists the operation catalog.
type kindsView []kindView

type kindView struct {
	Name   string   `json:"name"`
	Inputs []string `json:"inputs"`
}

func (v kindsView) String() string {
	lines := make([]string, len(v))
	for i, k := range v {
		in := "-"
		if len(k.Inputs) > 0 {
			in = strings.Join(k.Inputs, ",")
		}
		lines[i] = fmt.Sprintf("%-15s inputs: %s", k.Name, in)
	}
	return strings.Join(lines, "\n")
}
