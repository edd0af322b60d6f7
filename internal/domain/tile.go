package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TileStatus is the per-tile download state tracked by the tile index.
type TileStatus string

const (
	TileStatusPending     TileStatus = "PENDING"
	TileStatusDownloading TileStatus = "DOWNLOADING"
	TileStatusCompleted   TileStatus = "COMPLETED"
	TileStatusFailed      TileStatus = "FAILED"
	TileStatusCorrupted   TileStatus = "CORRUPTED"
	TileStatusExpired     TileStatus = "EXPIRED"
	TileStatusDeleted     TileStatus = "DELETED"
)

func (s TileStatus) Valid() bool {
	switch s {
	case TileStatusPending, TileStatusDownloading, TileStatusCompleted,
		TileStatusFailed, TileStatusCorrupted, TileStatusExpired, TileStatusDeleted:
		return true
	}
	return false
}

// Claimable reports whether a tile in this status with the given attempt
// count may be claimed for download. FAILED and CORRUPTED tiles stay
// claimable until the retry budget is spent.
func (s TileStatus) Claimable(attempts, maxRetries int) bool {
	switch s {
	case TileStatusPending:
		return true
	case TileStatusFailed, TileStatusCorrupted:
		return attempts < maxRetries
	}
	return false
}

// Tile is one (zoom, x, y) raster unit owned by exactly one cache.
type Tile struct {
	ID               string            `json:"id" db:"id"`
	CacheID          string            `json:"cache_id" db:"cache_id"`
	Zoom             int               `json:"zoom" db:"zoom"`
	X                int               `json:"x" db:"x"`
	Y                int               `json:"y" db:"y"`
	SourceURL        string            `json:"source_url" db:"source_url"`
	StoragePath      *string           `json:"storage_path,omitempty" db:"storage_path"`
	FileSizeBytes    int64             `json:"file_size_bytes" db:"file_size_bytes"`
	Status           TileStatus        `json:"status" db:"status"`
	DownloadAttempts int               `json:"download_attempts" db:"download_attempts"`
	Checksum         *string           `json:"checksum,omitempty" db:"checksum"`
	Compressed       bool              `json:"compressed" db:"compressed"`
	CompressionRatio *float64          `json:"compression_ratio,omitempty" db:"compression_ratio"`
	Metadata         map[string]string `json:"metadata,omitempty" db:"-"`
	LastAttemptAt    *time.Time        `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	LastAccessedAt   *time.Time        `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// NewTile builds a PENDING tile row for one grid cell.
func NewTile(cacheID string, zoom, x, y int, sourceURL string) *Tile {
	now := time.Now().UTC()
	return &Tile{
		ID:        uuid.NewString(),
		CacheID:   cacheID,
		Zoom:      zoom,
		X:         x,
		Y:         y,
		SourceURL: sourceURL,
		Status:    TileStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key is the z/x/y identity of the tile, unique within its cache.
func (t *Tile) Key() string {
	return TileKey(t.Zoom, t.X, t.Y)
}

func TileKey(zoom, x, y int) string {
	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}
