// Package store provides the SQLite-backed shared store for job operation logs.
//
// One database file holds every job. The store keeps:
//   - Jobs: the current published revision of each job
//   - Operations: published operations, keyed by (job, sequence)
//   - Revisions: one immutable record per publish
//   - Drafts: each user's unpublished operations, so an interrupted session
//     can resume where it stopped
//
// # Critical Patterns
//
// Conditional publish:
//   - Commit bumps jobs.revision with UPDATE ... WHERE revision = base
//   - Zero affected rows means another session published first; the
//     transaction is rolled back and nothing is written
//
// Logical ordering:
//   - All ordering uses the sequence column, never timestamps
//   - Queries include ORDER BY seq ASC so replay is deterministic
//
// Canonical parameters:
//   - params columns hold RFC 8785 canonical JSON produced by
//     ir.MarshalCanonical, so a reloaded operation hashes identically
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
