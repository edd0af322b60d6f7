package dto

import (
	"time"

	"github.com/tilecache-microservice/internal/domain"
)

// PointInput is one polygon vertex in a create request.
type PointInput struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// CreateCacheRequest creates one offline cache for a region.
type CreateCacheRequest struct {
	Name          string            `json:"name" validate:"required,min=1,max=200"`
	Description   *string           `json:"description,omitempty"`
	RegionID      string            `json:"region_id" validate:"required"`
	RegionName    string            `json:"region_name" validate:"required"`
	Bounds        []PointInput      `json:"bounds" validate:"required,dive"`
	ZoomLevels    []int             `json:"zoom_levels" validate:"required,min=1"`
	MapType       string            `json:"map_type" validate:"required"`
	TileSourceURL string            `json:"tile_source_url" validate:"required,url,tileurl"`
	TileFormat    string            `json:"tile_format" validate:"required,oneof=png jpg jpeg webp"`
	Priority      int               `json:"priority"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedBy     *string           `json:"created_by,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Polygon converts the request bounds into the domain ring, closing it when
// the caller left it open.
func (r CreateCacheRequest) Polygon() domain.Polygon {
	vertices := make([]domain.Point, 0, len(r.Bounds)+1)
	for _, p := range r.Bounds {
		vertices = append(vertices, domain.Point{Lat: p.Lat, Lon: p.Lon})
	}
	if len(vertices) > 0 && vertices[0] != vertices[len(vertices)-1] {
		vertices = append(vertices, vertices[0])
	}
	return domain.Polygon{Vertices: vertices}
}

// ListCachesRequest filters the cache listing.
type ListCachesRequest struct {
	RegionID *string `json:"region_id,omitempty" query:"region_id"`
	Status   *string `json:"status,omitempty" query:"status"`
	MapType  *string `json:"map_type,omitempty" query:"map_type"`
	Priority *int    `json:"priority,omitempty" query:"priority"`
}

// BBoxRequest is a within-bounds query.
type BBoxRequest struct {
	MinLon float64 `json:"min_lon" query:"min_lon" validate:"gte=-180,lte=180"`
	MinLat float64 `json:"min_lat" query:"min_lat" validate:"gte=-90,lte=90"`
	MaxLon float64 `json:"max_lon" query:"max_lon" validate:"gte=-180,lte=180"`
	MaxLat float64 `json:"max_lat" query:"max_lat" validate:"gte=-90,lte=90"`
}

// PointRequest is a containing-point query.
type PointRequest struct {
	Lon float64 `json:"lon" query:"lon" validate:"gte=-180,lte=180"`
	Lat float64 `json:"lat" query:"lat" validate:"gte=-90,lte=90"`
}

// ListTilesRequest pages through a cache's tile index.
type ListTilesRequest struct {
	Zoom   *int    `json:"zoom,omitempty" query:"zoom"`
	Status *string `json:"status,omitempty" query:"status"`
	Page   int     `json:"page" query:"page"`
	Limit  int     `json:"limit" query:"limit"`
}

// CacheResponse augments the entity with its derived progress.
type CacheResponse struct {
	*domain.Cache
	DownloadProgress float64 `json:"download_progress"`
}

func NewCacheResponse(c *domain.Cache) *CacheResponse {
	return &CacheResponse{Cache: c, DownloadProgress: c.DownloadProgress()}
}

func NewCacheResponses(caches []*domain.Cache) []*CacheResponse {
	result := make([]*CacheResponse, 0, len(caches))
	for _, c := range caches {
		result = append(result, NewCacheResponse(c))
	}
	return result
}
