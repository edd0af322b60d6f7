package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/geo"
)

func square(minLon, minLat, maxLon, maxLat float64) domain.Polygon {
	return domain.Polygon{Vertices: []domain.Point{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
		{Lat: minLat, Lon: minLon},
	}}
}

func TestValidatePolygon(t *testing.T) {
	t.Run("valid square", func(t *testing.T) {
		assert.NoError(t, geo.ValidatePolygon(square(-1, -1, 1, 1)))
	})

	t.Run("too few vertices", func(t *testing.T) {
		p := domain.Polygon{Vertices: []domain.Point{
			{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 0},
		}}
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrPolygonTooSmall)
	})

	t.Run("open ring", func(t *testing.T) {
		p := domain.Polygon{Vertices: []domain.Point{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
		}}
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrPolygonNotClosed)
	})

	t.Run("vertex out of range", func(t *testing.T) {
		p := domain.Polygon{Vertices: []domain.Point{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 95, Lon: 1}, {Lat: 95, Lon: 0}, {Lat: 0, Lon: 0},
		}}
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrPolygonOutOfRange)
	})

	t.Run("zero area", func(t *testing.T) {
		p := domain.Polygon{Vertices: []domain.Point{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 2}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 0},
		}}
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrPolygonDegenerate)
	})

	t.Run("self intersecting bowtie", func(t *testing.T) {
		p := domain.Polygon{Vertices: []domain.Point{
			{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 0}, {Lat: 0, Lon: 0},
		}}
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrPolygonSelfIntersects)
	})

	t.Run("antimeridian span rejected", func(t *testing.T) {
		// Spans from Japan across the Pacific to Alaska the long way round.
		p := square(-170, 10, 170, 60)
		assert.ErrorIs(t, geo.ValidatePolygon(p), geo.ErrAntimeridianCrossing)
	})
}

func TestPointInPolygon(t *testing.T) {
	sq := square(-1, -1, 1, 1)

	assert.True(t, geo.PointInPolygon(0, 0, sq), "center")
	assert.True(t, geo.PointInPolygon(1, 0, sq), "point on edge counts as inside")
	assert.True(t, geo.PointInPolygon(-1, -1, sq), "corner counts as inside")
	assert.False(t, geo.PointInPolygon(1.5, 0, sq))
	assert.False(t, geo.PointInPolygon(0, -2, sq))

	// Concave "L" shape: the notch is outside.
	l := domain.Polygon{Vertices: []domain.Point{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 4}, {Lat: 1, Lon: 4}, {Lat: 1, Lon: 1},
		{Lat: 4, Lon: 1}, {Lat: 4, Lon: 0}, {Lat: 0, Lon: 0},
	}}
	assert.True(t, geo.PointInPolygon(0.5, 0.5, l))
	assert.True(t, geo.PointInPolygon(3, 0.5, l))
	assert.False(t, geo.PointInPolygon(3, 3, l), "inside bbox but in the notch")
}

func TestBBoxIntersectsPolygon(t *testing.T) {
	sq := square(-1, -1, 1, 1)

	overlap := domain.BoundingBox{MinLat: 0, MinLon: 0, MaxLat: 2, MaxLon: 2}
	assert.True(t, geo.BBoxIntersectsPolygon(overlap, sq))

	containing := domain.BoundingBox{MinLat: -5, MinLon: -5, MaxLat: 5, MaxLon: 5}
	assert.True(t, geo.BBoxIntersectsPolygon(containing, sq), "box fully containing the polygon")

	contained := domain.BoundingBox{MinLat: -0.5, MinLon: -0.5, MaxLat: 0.5, MaxLon: 0.5}
	assert.True(t, geo.BBoxIntersectsPolygon(contained, sq), "box fully inside the polygon")

	disjoint := domain.BoundingBox{MinLat: 5, MinLon: 5, MaxLat: 6, MaxLon: 6}
	assert.False(t, geo.BBoxIntersectsPolygon(disjoint, sq))

	// Box overlapping the polygon's bbox but not the concave ring itself.
	l := domain.Polygon{Vertices: []domain.Point{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 4}, {Lat: 1, Lon: 4}, {Lat: 1, Lon: 1},
		{Lat: 4, Lon: 1}, {Lat: 4, Lon: 0}, {Lat: 0, Lon: 0},
	}}
	notch := domain.BoundingBox{MinLat: 2, MinLon: 2, MaxLat: 3.5, MaxLon: 3.5}
	assert.False(t, geo.BBoxIntersectsPolygon(notch, l))
}

func TestBoundsOfAndCentroid(t *testing.T) {
	p := square(10, 20, 14, 26)

	box := geo.BoundsOf(p)
	assert.Equal(t, 10.0, box.MinLon)
	assert.Equal(t, 14.0, box.MaxLon)
	assert.Equal(t, 20.0, box.MinLat)
	assert.Equal(t, 26.0, box.MaxLat)

	c := geo.Centroid(p)
	assert.InDelta(t, 12.0, c.Lon, 1e-9)
	assert.InDelta(t, 23.0, c.Lat, 1e-9)
}
