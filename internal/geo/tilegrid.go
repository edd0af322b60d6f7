package geo

import (
	"errors"
	"math"

	"github.com/tilecache-microservice/internal/domain"
)

// MaxZoom is the deepest level of the global tile grid the service accepts.
const MaxZoom = 22

var ErrInvalidZoom = errors.New("zoom level outside valid range")

// GridCell is one cell of the global tile grid at a zoom level.
type GridCell struct {
	Zoom int
	X    int
	Y    int
}

// ValidateZoomLevels checks that the set is non-empty and every level lies
// within the global grid.
func ValidateZoomLevels(levels []int) error {
	if len(levels) == 0 {
		return ErrInvalidZoom
	}
	for _, z := range levels {
		if z < 0 || z > MaxZoom {
			return ErrInvalidZoom
		}
	}
	return nil
}

// LonLatToTile converts a WGS84 coordinate to tile coordinates at a zoom
// level using the Web Mercator grid.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := float64(int(1) << zoom)
	x = int((lon + 180.0) / 360.0 * n)
	latRad := lat * math.Pi / 180.0
	y = int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	return clampTile(x, zoom), clampTile(y, zoom)
}

// TileBounds returns the WGS84 bounding box of one grid cell.
func TileBounds(zoom, x, y int) domain.BoundingBox {
	n := float64(int(1) << zoom)
	minLon := float64(x)/n*360.0 - 180.0
	maxLon := float64(x+1)/n*360.0 - 180.0
	maxLat := tileYToLat(float64(y), n)
	minLat := tileYToLat(float64(y+1), n)
	return domain.BoundingBox{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
}

// TileCenter returns the center point of one grid cell.
func TileCenter(zoom, x, y int) domain.Point {
	b := TileBounds(zoom, x, y)
	return domain.Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}
}

// CellsIntersecting enumerates the grid cells at one zoom level whose extent
// intersects the region polygon. The candidate range comes from the
// polygon's bounding box; each candidate is then tested against the ring so
// an irregular region does not pull in the whole enclosing rectangle.
func CellsIntersecting(p domain.Polygon, zoom int) []GridCell {
	box := BoundsOf(p)
	minX, minY := LonLatToTile(box.MinLon, box.MaxLat, zoom)
	maxX, maxY := LonLatToTile(box.MaxLon, box.MinLat, zoom)

	cells := make([]GridCell, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			if BBoxIntersectsPolygon(TileBounds(zoom, x, y), p) {
				cells = append(cells, GridCell{Zoom: zoom, X: x, Y: y})
			}
		}
	}
	return cells
}

// CountTiles returns the pyramid size for a region across zoom levels.
func CountTiles(p domain.Polygon, levels []int) int64 {
	var total int64
	for _, z := range levels {
		total += int64(len(CellsIntersecting(p, z)))
	}
	return total
}

func tileYToLat(y, n float64) float64 {
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return latRad * 180.0 / math.Pi
}

func clampTile(v, zoom int) int {
	if v < 0 {
		return 0
	}
	max := (1 << zoom) - 1
	if v > max {
		return max
	}
	return v
}
