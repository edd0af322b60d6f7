package repository

import "context"

// TileStorageRepository stores tile bytes independently of the record
// store, keyed by a path derived from the tile key.
type TileStorageRepository interface {
	// PathFor derives the storage path for a tile.
	PathFor(cacheID string, zoom, x, y int, format string) string

	// Write persists data at path atomically: an aborted write must never
	// leave a partially-written file at the final path.
	Write(ctx context.Context, path string, data []byte) error

	Read(ctx context.Context, path string) ([]byte, error)

	Exists(ctx context.Context, path string) (bool, error)

	// DeleteCache removes every stored tile belonging to a cache.
	DeleteCache(ctx context.Context, cacheID string) error
}
