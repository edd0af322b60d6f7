package domain

import "time"

// CacheStatistics is the global rollup over all caches in a time range.
type CacheStatistics struct {
	TotalCaches     int                 `json:"total_caches"`
	ByStatus        map[CacheStatus]int `json:"by_status"`
	ByMapType       map[MapType]int     `json:"by_map_type"`
	TotalBytes      int64               `json:"total_bytes"`
	TotalTiles      int64               `json:"total_tiles"`
	DownloadedTiles int64               `json:"downloaded_tiles"`
	AverageProgress float64             `json:"average_progress"`
	ActiveSessions  int                 `json:"active_sessions"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// RegionStatistics is the same rollup grouped by region.
type RegionStatistics struct {
	RegionID        string              `json:"region_id"`
	RegionName      string              `json:"region_name"`
	TotalCaches     int                 `json:"total_caches"`
	ByStatus        map[CacheStatus]int `json:"by_status"`
	TotalBytes      int64               `json:"total_bytes"`
	AverageProgress float64             `json:"average_progress"`
}

// StatsRange bounds a statistics query by cache creation time; zero values
// leave the corresponding side open.
type StatsRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r StatsRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
