// Package kinds is the catalog of operation kinds.
//
// Each kind has a parameter schema, written in CUE and embedded at build
// time, and a deterministic apply function over orb geometry. The schema
// also fixes the kind's input geometry types and its output arity, which
// may depend on the parameters (subdivide_line produces parts-1 points).
//
// Parameters carry integer millimetres; apply functions work in metres.
package kinds
