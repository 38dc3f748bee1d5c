// Package session is one user's editing session on one job.
//
// A Session owns every single-writer component of the editor: the
// operation log, the feature store, the dependency index, the recompute
// engine, the recall coordinator and the revision ledger. It is passed
// explicitly to every command; there is no process-wide session.
//
// Edits enter through Do as an EditAction, either a Direct edit that adds a
// new operation or a Recall that revises an earlier one. After every
// mutation the unpublished suffix of the log is saved as the user's drafts,
// so Open can resume an interrupted session by replaying the job's
// published operations and then the drafts.
//
// A Session is not safe for concurrent use. Sessions of different users
// meet only in the shared store, through Publish and Refresh.
package session
