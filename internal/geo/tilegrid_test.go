package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tilecache-microservice/internal/geo"
)

func TestValidateZoomLevels(t *testing.T) {
	assert.NoError(t, geo.ValidateZoomLevels([]int{0, 5, 22}))
	assert.ErrorIs(t, geo.ValidateZoomLevels(nil), geo.ErrInvalidZoom)
	assert.ErrorIs(t, geo.ValidateZoomLevels([]int{-1}), geo.ErrInvalidZoom)
	assert.ErrorIs(t, geo.ValidateZoomLevels([]int{23}), geo.ErrInvalidZoom)
}

func TestLonLatToTile(t *testing.T) {
	// At zoom 0 the whole world is one tile.
	x, y := geo.LonLatToTile(13.4, 52.5, 0)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	// Greenwich/equator sits at the top-left corner of the south-east
	// quadrant at zoom 1.
	x, y = geo.LonLatToTile(0, 0, 1)
	assert.Equal(t, 1, x)
	assert.Equal(t, 1, y)

	// Berlin at zoom 10 is a well-known slippy-map fixture.
	x, y = geo.LonLatToTile(13.4, 52.5, 10)
	assert.Equal(t, 550, x)
	assert.Equal(t, 335, y)

	// Latitudes beyond the Mercator range clamp to the grid edge.
	_, y = geo.LonLatToTile(0, 89.9, 4)
	assert.Equal(t, 0, y)
	_, y = geo.LonLatToTile(0, -89.9, 4)
	assert.Equal(t, 15, y)
}

func TestTileBoundsRoundTrip(t *testing.T) {
	b := geo.TileBounds(10, 550, 335)
	assert.Less(t, b.MinLon, 13.4)
	assert.Greater(t, b.MaxLon, 13.4)
	assert.Less(t, b.MinLat, 52.5)
	assert.Greater(t, b.MaxLat, 52.5)

	center := geo.TileCenter(10, 550, 335)
	x, y := geo.LonLatToTile(center.Lon, center.Lat, 10)
	assert.Equal(t, 550, x)
	assert.Equal(t, 335, y)
}

func TestCellsIntersecting(t *testing.T) {
	region := square(-1, -1, 1, 1)

	// Zoom 0: the single world tile covers any region.
	cells := geo.CellsIntersecting(region, 0)
	assert.Len(t, cells, 1)

	// Zoom 1: a region straddling the origin touches all four quadrants.
	cells = geo.CellsIntersecting(region, 1)
	assert.Len(t, cells, 4)

	// A small region away from tile boundaries stays small at low zoom.
	small := square(13.0, 52.0, 13.1, 52.1)
	cells = geo.CellsIntersecting(small, 5)
	assert.Len(t, cells, 1)
}

func TestCellsIntersectingFiltersByRing(t *testing.T) {
	// A thin strip covers far fewer cells than the square sharing its
	// height, even though a pure bbox sweep starts from the same rows.
	l := square(0, 0, 0.1, 4)
	full := geo.CellsIntersecting(square(0, 0, 4, 4), 8)
	thin := geo.CellsIntersecting(l, 8)
	assert.Less(t, len(thin), len(full))
	assert.NotEmpty(t, thin)
}

func TestCountTiles(t *testing.T) {
	region := square(-1, -1, 1, 1)
	total := geo.CountTiles(region, []int{0, 1})
	assert.Equal(t, int64(5), total)
}
