// Package features owns the derived spatial entities of a session.
//
// A feature is created the first time its producing operation applies and
// is versioned on every re-apply. Its producer is unique: only the producer
// itself, or a recall that supersedes it, may write the feature again.
package features

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/roach88/cadlog/internal/ir"
)

// Feature is a derived spatial entity.
type Feature struct {
	ID         ir.FeatureID
	ProducedBy ir.OpID
	Version    int64
	Geometry   orb.Geometry
}

// Store holds features by id. Not safe for concurrent use; a session drives
// it from one goroutine.
type Store struct {
	byID map[ir.FeatureID]*Feature
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[ir.FeatureID]*Feature)}
}

// Get returns a copy of the feature.
func (s *Store) Get(id ir.FeatureID) (Feature, bool) {
	f, ok := s.byID[id]
	if !ok {
		return Feature{}, false
	}
	return *f, true
}

// Geometry returns the feature's geometry or NotFound.
func (s *Store) Geometry(id ir.FeatureID) (orb.Geometry, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "feature does not exist", Feature: id}
	}
	return f.Geometry, nil
}

// Put writes a feature produced by producer. A new id starts at version 1;
// an existing one is bumped. Writing a feature that belongs to another
// operation is refused unless that operation is the one being replaced.
func (s *Store) Put(id ir.FeatureID, producer, replaces ir.OpID, g orb.Geometry) (Feature, error) {
	f, ok := s.byID[id]
	if !ok {
		f = &Feature{ID: id, ProducedBy: producer, Version: 1, Geometry: g}
		s.byID[id] = f
		return *f, nil
	}

	if f.ProducedBy != producer && (replaces == "" || f.ProducedBy != replaces) {
		return Feature{}, &ir.EditError{
			Code:    ir.ErrCodeInvalidState,
			Message: fmt.Sprintf("feature is produced by %s, not %s", f.ProducedBy, producer),
			Op:      producer,
			Feature: id,
		}
	}

	f.ProducedBy = producer
	f.Version++
	f.Geometry = g
	return *f, nil
}

// Remove deletes a feature. Its id is never handed out again.
func (s *Store) Remove(id ir.FeatureID) {
	delete(s.byID, id)
}

// Len returns the number of features.
func (s *Store) Len() int {
	return len(s.byID)
}

// IDs returns every feature id in sorted order.
func (s *Store) IDs() []ir.FeatureID {
	ids := make([]ir.FeatureID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// All returns copies of every feature, sorted by id.
func (s *Store) All() []Feature {
	out := make([]Feature, 0, len(s.byID))
	for _, id := range s.IDs() {
		out = append(out, *s.byID[id])
	}
	return out
}

// Clone returns an independent copy for checkpointing. Geometries are
// replaced on write, never mutated, so they are shared.
func (s *Store) Clone() *Store {
	c := NewStore()
	for id, f := range s.byID {
		cp := *f
		c.byID[id] = &cp
	}
	return c
}

// ResetTo replaces the contents of s with a copy of snapshot.
func (s *Store) ResetTo(snapshot *Store) {
	s.byID = snapshot.Clone().byID
}
