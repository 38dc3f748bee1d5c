// Package recall reaches back into the operation log, revises an earlier
// operation and re-derives everything that depended on it.
//
// A recall runs through a fixed sequence of states:
//
//	Idle -> SelectingPredecessor -> EditingParameters -> Applying -> Committed
//	                                                              \-> RolledBack
//
// Begin lists the candidate operations behind a feature or operation,
// Select picks one (only Active or Inconsistent operations qualify),
// Revise checks the new parameters against the kind schema without
// touching anything, and Apply supersedes the original and cascades.
//
// Apply is all or nothing up to the cascade: if the recalled operation's
// own apply fails, or the context is cancelled, the log, features and index
// are restored from a checkpoint taken on entry. A failure further
// downstream is not rolled back; those operations are left Inconsistent and
// the recall still commits.
package recall
