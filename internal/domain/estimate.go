package domain

// Rough average raster tile sizes by map style, used only for the
// pre-download size estimate. PNG tiles run noticeably larger than
// JPEG/WebP for the same imagery.
var averageTileSizeBytes = map[MapType]int64{
	MapTypeSatellite: 18 << 10,
	MapTypeHybrid:    18 << 10,
	MapTypeTerrain:   14 << 10,
	MapTypeStreet:    10 << 10,
}

const defaultAverageTileSize int64 = 12 << 10

// AverageTileSizeFor returns the expected size in bytes of one tile for the
// given map type and image format.
func AverageTileSizeFor(mapType MapType, format string) int64 {
	size, ok := averageTileSizeBytes[mapType]
	if !ok {
		size = defaultAverageTileSize
	}
	if format == "png" {
		size = size * 14 / 10
	}
	return size
}
