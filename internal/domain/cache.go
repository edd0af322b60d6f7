package domain

import (
	"time"

	"github.com/google/uuid"
)

// CacheStatus is the lifecycle state of an offline tile cache.
type CacheStatus string

const (
	CacheStatusPending     CacheStatus = "PENDING"
	CacheStatusDownloading CacheStatus = "DOWNLOADING"
	CacheStatusPaused      CacheStatus = "PAUSED"
	CacheStatusUpdating    CacheStatus = "UPDATING"
	CacheStatusCompleted   CacheStatus = "COMPLETED"
	CacheStatusFailed      CacheStatus = "FAILED"
	CacheStatusCorrupted   CacheStatus = "CORRUPTED"
	CacheStatusExpired     CacheStatus = "EXPIRED"
	CacheStatusDeleted     CacheStatus = "DELETED"
)

// cacheTransitions enumerates the legal status moves. EXPIRED is reachable
// from every state except DELETED via the sweeper; DELETED from every state
// via explicit delete.
var cacheTransitions = map[CacheStatus][]CacheStatus{
	CacheStatusPending:     {CacheStatusDownloading},
	CacheStatusDownloading: {CacheStatusPaused, CacheStatusCompleted, CacheStatusFailed, CacheStatusCorrupted, CacheStatusUpdating},
	CacheStatusPaused:      {CacheStatusDownloading},
	CacheStatusUpdating:    {CacheStatusDownloading, CacheStatusCompleted, CacheStatusFailed},
	CacheStatusFailed:      {CacheStatusDownloading},
	CacheStatusCorrupted:   {CacheStatusDownloading},
	CacheStatusCompleted:   {CacheStatusUpdating},
}

func (s CacheStatus) Valid() bool {
	switch s {
	case CacheStatusPending, CacheStatusDownloading, CacheStatusPaused,
		CacheStatusUpdating, CacheStatusCompleted, CacheStatusFailed,
		CacheStatusCorrupted, CacheStatusExpired, CacheStatusDeleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s CacheStatus) CanTransitionTo(next CacheStatus) bool {
	if next == CacheStatusDeleted {
		return true
	}
	if next == CacheStatusExpired {
		return s != CacheStatusDeleted
	}
	for _, allowed := range cacheTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MapType identifies the rendered style of the source tiles.
type MapType string

const (
	MapTypeSatellite MapType = "satellite"
	MapTypeStreet    MapType = "street"
	MapTypeTerrain   MapType = "terrain"
	MapTypeHybrid    MapType = "hybrid"
)

func (m MapType) Valid() bool {
	switch m {
	case MapTypeSatellite, MapTypeStreet, MapTypeTerrain, MapTypeHybrid:
		return true
	}
	return false
}

// Cache represents one region's offline map product: the tile pyramid for a
// polygonal region across a set of zoom levels.
type Cache struct {
	ID               string            `json:"id" db:"id"`
	Name             string            `json:"name" db:"name"`
	Description      *string           `json:"description,omitempty" db:"description"`
	RegionID         string            `json:"region_id" db:"region_id"`
	RegionName       string            `json:"region_name" db:"region_name"`
	Bounds           Polygon           `json:"bounds" db:"-"`
	ZoomLevels       []int             `json:"zoom_levels" db:"-"`
	MapType          MapType           `json:"map_type" db:"map_type"`
	TileSourceURL    string            `json:"tile_source_url" db:"tile_source_url"`
	TileFormat       string            `json:"tile_format" db:"tile_format"`
	Status           CacheStatus       `json:"status" db:"status"`
	Priority         int               `json:"priority" db:"priority"`
	TotalTiles       int64             `json:"total_tiles" db:"total_tiles"`
	DownloadedTiles  int64             `json:"downloaded_tiles" db:"downloaded_tiles"`
	FailedTiles      int64             `json:"failed_tiles" db:"failed_tiles"`
	CacheSizeBytes   int64             `json:"cache_size_bytes" db:"cache_size_bytes"`
	EstimatedBytes   int64             `json:"estimated_bytes" db:"estimated_bytes"`
	Compressed       bool              `json:"compressed" db:"compressed"`
	CompressionRatio *float64          `json:"compression_ratio,omitempty" db:"compression_ratio"`
	CreatedBy        *string           `json:"created_by,omitempty" db:"created_by"`
	Metadata         map[string]string `json:"metadata,omitempty" db:"-"`
	DownloadStarted  *time.Time        `json:"download_started_at,omitempty" db:"download_started_at"`
	DownloadFinished *time.Time        `json:"download_completed_at,omitempty" db:"download_completed_at"`
	LastAccessedAt   *time.Time        `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// NewCache builds a PENDING cache with timestamps set. Counts are filled in
// by the registry once the pyramid has been enumerated.
func NewCache(name, regionID, regionName string, bounds Polygon, zoomLevels []int, mapType MapType, sourceURL, format string, priority int) *Cache {
	now := time.Now().UTC()
	return &Cache{
		ID:            uuid.NewString(),
		Name:          name,
		RegionID:      regionID,
		RegionName:    regionName,
		Bounds:        bounds,
		ZoomLevels:    zoomLevels,
		MapType:       mapType,
		TileSourceURL: sourceURL,
		TileFormat:    format,
		Status:        CacheStatusPending,
		Priority:      priority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// DownloadProgress is downloadedTiles/totalTiles in [0,1]; zero when the
// pyramid is empty.
func (c *Cache) DownloadProgress() float64 {
	if c.TotalTiles == 0 {
		return 0
	}
	return float64(c.DownloadedTiles) / float64(c.TotalTiles)
}

// IsExpired reports whether the cache has an expiry in the past and has not
// already been expired or deleted.
func (c *Cache) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	if c.Status == CacheStatusExpired || c.Status == CacheStatusDeleted {
		return false
	}
	return c.ExpiresAt.Before(now)
}

// Touch records a read access.
func (c *Cache) Touch(now time.Time) {
	c.LastAccessedAt = &now
}
