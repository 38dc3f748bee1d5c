package kinds

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/roach88/cadlog/internal/ir"
)

// Geometry errors returned by apply functions. They are semantic failures:
// the parameters are well formed but the inputs do not admit a result.
var (
	ErrNoIntersection = errors.New("segments do not intersect")
	ErrDegenerateLine = errors.New("line has zero length")
)

const mmPerMetre = 1000

// Metres converts integer millimetres to metres.
func Metres(mm int64) float64 {
	return float64(mm) / mmPerMetre
}

func param(params ir.IRObject, key string) int64 {
	// Validate has already run; a missing key cannot reach here.
	v, _ := params.Int(key)
	return v
}

func applyNewPoint(_ []orb.Geometry, params ir.IRObject) ([]orb.Geometry, error) {
	p := orb.Point{Metres(param(params, "x")), Metres(param(params, "y"))}
	return []orb.Geometry{p}, nil
}

func applyOffsetPoint(inputs []orb.Geometry, params ir.IRObject) ([]orb.Geometry, error) {
	base := inputs[0].(orb.Point)
	p := orb.Point{base.X() + Metres(param(params, "dx")), base.Y() + Metres(param(params, "dy"))}
	return []orb.Geometry{p}, nil
}

func applyNewLine(inputs []orb.Geometry, _ ir.IRObject) ([]orb.Geometry, error) {
	from := inputs[0].(orb.Point)
	to := inputs[1].(orb.Point)
	if from.Equal(to) {
		return nil, ErrDegenerateLine
	}
	return []orb.Geometry{orb.LineString{from, to}}, nil
}

// applySubdivideLine splits a line into equal parts and returns the
// interior division points, from the start of the line.
func applySubdivideLine(inputs []orb.Geometry, params ir.IRObject) ([]orb.Geometry, error) {
	line := inputs[0].(orb.LineString)
	if planar.Length(line) == 0 {
		return nil, ErrDegenerateLine
	}

	parts := param(params, "parts")
	from, to := line[0], line[1]
	out := make([]orb.Geometry, 0, parts-1)
	for i := int64(1); i < parts; i++ {
		t := float64(i) / float64(parts)
		out = append(out, orb.Point{
			from.X() + t*(to.X()-from.X()),
			from.Y() + t*(to.Y()-from.Y()),
		})
	}
	return out, nil
}

// applyIntersectLines returns the crossing point of two segments.
// Parallel, collinear and disjoint segments fail with ErrNoIntersection.
func applyIntersectLines(inputs []orb.Geometry, _ ir.IRObject) ([]orb.Geometry, error) {
	a := inputs[0].(orb.LineString)
	b := inputs[1].(orb.LineString)

	if !a.Bound().Intersects(b.Bound()) {
		return nil, ErrNoIntersection
	}

	p, ok := segmentIntersection(a[0], a[1], b[0], b[1])
	if !ok {
		return nil, ErrNoIntersection
	}
	return []orb.Geometry{p}, nil
}

func segmentIntersection(p1, p2, q1, q2 orb.Point) (orb.Point, bool) {
	rx, ry := p2.X()-p1.X(), p2.Y()-p1.Y()
	sx, sy := q2.X()-q1.X(), q2.Y()-q1.Y()

	denom := rx*sy - ry*sx
	if denom == 0 {
		return orb.Point{}, false
	}

	qpx, qpy := q1.X()-p1.X(), q1.Y()-p1.Y()
	t := (qpx*sy - qpy*sx) / denom
	u := (qpx*ry - qpy*rx) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return orb.Point{}, false
	}
	return orb.Point{p1.X() + t*rx, p1.Y() + t*ry}, true
}

// Describe renders a geometry for logs and CLI output.
func Describe(g orb.Geometry) string {
	switch v := g.(type) {
	case orb.Point:
		return fmt.Sprintf("POINT(%.3f %.3f)", v.X(), v.Y())
	case orb.LineString:
		return fmt.Sprintf("LINE(%.3f %.3f, %.3f %.3f) len=%.3f",
			v[0].X(), v[0].Y(), v[len(v)-1].X(), v[len(v)-1].Y(), planar.Length(v))
	case nil:
		return "EMPTY"
	default:
		return g.GeoJSONType()
	}
}
