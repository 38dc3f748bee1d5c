// Package ir provides the foundational types for cadlog.
//
// This package holds the editing data model (Operation, Status, Job, User,
// RevisionRecord), the constrained parameter values carried by operations,
// canonical JSON, content digests and the error taxonomy shared by every
// other package. All other internal packages import ir; ir imports nothing
// internal.
//
// Key design constraints:
//   - NO float types in parameters - coordinates are integer millimetres
//   - Operations reference features by id, never by sequence
//   - All JSON tags use snake_case
//   - Ordering is by logical sequence, never by wall-clock timestamps
package ir
