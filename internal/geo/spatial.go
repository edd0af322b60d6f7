// Package geo implements the pure spatial operations used by the cache
// registry: polygon validation, containment and intersection tests on WGS84
// coordinates, and slippy-map tile grid arithmetic.
package geo

import (
	"errors"

	"github.com/tilecache-microservice/internal/domain"
)

var (
	ErrPolygonTooSmall       = errors.New("polygon needs at least 3 distinct vertices")
	ErrPolygonNotClosed      = errors.New("polygon ring is not closed")
	ErrPolygonOutOfRange     = errors.New("polygon vertex outside WGS84 range")
	ErrPolygonSelfIntersects = errors.New("polygon ring self-intersects")
	ErrPolygonDegenerate     = errors.New("polygon has zero area")
	ErrAntimeridianCrossing  = errors.New("bounds crossing the antimeridian are not supported")
)

// ValidatePolygon checks that p is a well-formed, closed, non-self-
// intersecting ring within WGS84 bounds. Rings spanning more than 180
// degrees of longitude are rejected rather than interpreted as wrapping
// the antimeridian.
func ValidatePolygon(p domain.Polygon) error {
	v := p.Vertices
	if len(v) < 4 {
		return ErrPolygonTooSmall
	}
	if v[0] != v[len(v)-1] {
		return ErrPolygonNotClosed
	}
	for _, pt := range v {
		if pt.Lat < -90 || pt.Lat > 90 || pt.Lon < -180 || pt.Lon > 180 {
			return ErrPolygonOutOfRange
		}
	}
	box := BoundsOf(p)
	if box.MaxLon-box.MinLon > 180 {
		return ErrAntimeridianCrossing
	}
	if box.MinLon == box.MaxLon || box.MinLat == box.MaxLat {
		return ErrPolygonDegenerate
	}
	if ringSelfIntersects(v) {
		return ErrPolygonSelfIntersects
	}
	return nil
}

// BoundsOf returns the axis-aligned bounding box of the polygon.
func BoundsOf(p domain.Polygon) domain.BoundingBox {
	box := domain.BoundingBox{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, pt := range p.Vertices {
		if pt.Lat < box.MinLat {
			box.MinLat = pt.Lat
		}
		if pt.Lat > box.MaxLat {
			box.MaxLat = pt.Lat
		}
		if pt.Lon < box.MinLon {
			box.MinLon = pt.Lon
		}
		if pt.Lon > box.MaxLon {
			box.MaxLon = pt.Lon
		}
	}
	return box
}

// Centroid returns the arithmetic mean of the ring's distinct vertices.
// Good enough for ordering tile downloads from the middle outwards.
func Centroid(p domain.Polygon) domain.Point {
	v := p.Vertices
	if len(v) == 0 {
		return domain.Point{}
	}
	n := len(v) - 1 // closing vertex duplicates the first
	if n < 1 {
		n = len(v)
	}
	var lat, lon float64
	for _, pt := range v[:n] {
		lat += pt.Lat
		lon += pt.Lon
	}
	return domain.Point{Lat: lat / float64(n), Lon: lon / float64(n)}
}

// PointInPolygon runs a standard ray cast along increasing longitude.
// Points exactly on an edge count as inside.
func PointInPolygon(lon, lat float64, p domain.Polygon) bool {
	v := p.Vertices
	if len(v) < 4 {
		return false
	}
	inside := false
	for i, j := 0, len(v)-1; i < len(v); j, i = i, i+1 {
		yi, xi := v[i].Lat, v[i].Lon
		yj, xj := v[j].Lat, v[j].Lon
		if onSegment(lon, lat, xi, yi, xj, yj) {
			return true
		}
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// BBoxIntersectsPolygon reports whether the query rectangle and the polygon
// share any area: any polygon vertex inside the box, any box corner inside
// the polygon, or any pair of crossing edges.
func BBoxIntersectsPolygon(box domain.BoundingBox, p domain.Polygon) bool {
	if !box.Intersects(BoundsOf(p)) {
		return false
	}
	for _, pt := range p.Vertices {
		if box.Contains(pt.Lon, pt.Lat) {
			return true
		}
	}
	corners := [][2]float64{
		{box.MinLon, box.MinLat},
		{box.MaxLon, box.MinLat},
		{box.MaxLon, box.MaxLat},
		{box.MinLon, box.MaxLat},
	}
	for _, c := range corners {
		if PointInPolygon(c[0], c[1], p) {
			return true
		}
	}
	rect := domain.PolygonFromBBox(box).Vertices
	v := p.Vertices
	for i := 0; i < len(v)-1; i++ {
		for j := 0; j < len(rect)-1; j++ {
			if segmentsIntersect(
				v[i].Lon, v[i].Lat, v[i+1].Lon, v[i+1].Lat,
				rect[j].Lon, rect[j].Lat, rect[j+1].Lon, rect[j+1].Lat,
			) {
				return true
			}
		}
	}
	return false
}

func ringSelfIntersects(v []domain.Point) bool {
	n := len(v) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Skip edges sharing a vertex, including the first/last pair.
			if j == i || j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(
				v[i].Lon, v[i].Lat, v[i+1].Lon, v[i+1].Lat,
				v[j].Lon, v[j].Lat, v[j+1].Lon, v[j+1].Lat,
			) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) bool {
	d1 := cross(cx, cy, dx, dy, ax, ay)
	d2 := cross(cx, cy, dx, dy, bx, by)
	d3 := cross(ax, ay, bx, by, cx, cy)
	d4 := cross(ax, ay, bx, by, dx, dy)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(ax, ay, cx, cy, dx, dy) {
		return true
	}
	if d2 == 0 && onSegment(bx, by, cx, cy, dx, dy) {
		return true
	}
	if d3 == 0 && onSegment(cx, cy, ax, ay, bx, by) {
		return true
	}
	if d4 == 0 && onSegment(dx, dy, ax, ay, bx, by) {
		return true
	}
	return false
}

func cross(ox, oy, ax, ay, bx, by float64) float64 {
	return (ax-ox)*(by-oy) - (ay-oy)*(bx-ox)
}

// onSegment reports whether (px,py) lies on the segment (ax,ay)-(bx,by),
// assuming the three points are collinear or nearly so.
func onSegment(px, py, ax, ay, bx, by float64) bool {
	if cross(ax, ay, bx, by, px, py) != 0 {
		return false
	}
	return minf(ax, bx) <= px && px <= maxf(ax, bx) &&
		minf(ay, by) <= py && py <= maxf(ay, by)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
