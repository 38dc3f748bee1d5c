package features

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/roach88/cadlog/internal/ir"
)

// FeatureCollection exports the store as GeoJSON, ordered by feature id.
func (s *Store) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range s.All() {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = string(f.ID)
		gf.Properties = geojson.Properties{
			"produced_by": string(f.ProducedBy),
			"version":     f.Version,
		}
		fc.Append(gf)
	}
	return fc
}

// Digest hashes every feature's id, producer, version and geometry.
// Geometry enters the canonical form as its GeoJSON text because canonical
// JSON carries no floats.
func (s *Store) Digest() (string, error) {
	arr := make(ir.IRArray, 0, len(s.byID))
	for _, f := range s.All() {
		geom, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("feature %s geometry: %w", f.ID, err)
		}
		arr = append(arr, ir.IRObject{
			"id":          ir.IRString(f.ID),
			"produced_by": ir.IRString(f.ProducedBy),
			"version":     ir.IRInt(f.Version),
			"geometry":    ir.IRString(geom),
		})
	}
	return ir.Digest(ir.DomainState, arr)
}
