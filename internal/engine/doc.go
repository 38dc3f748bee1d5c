// Package engine re-derives features by running operations.
//
// Apply runs one operation: it reads the input geometries from the feature
// store, runs the operation's kind, and writes the outputs (bumping their
// versions). Recompute runs a list of operations in the order given, which
// the caller obtains from the dependency index.
//
// Single writer:
// The engine mutates the log (status only) and the feature store of one
// session. It takes no locks and must be driven from one goroutine.
//
// Failure semantics:
// Recompute never retries. When an operation fails, it and every later
// operation in the list that reads its outputs, directly or transitively,
// are marked Inconsistent; unrelated operations still run. The first
// failure is reported as a RecomputeFailure. A cancelled context aborts
// between operations and the caller is expected to roll back.
//
// Determinism:
// Same log, same parameters, same order: same features, byte for byte.
// No wall clock, no randomness, no concurrency.
package engine
