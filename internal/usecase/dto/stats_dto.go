package dto

import "time"

// StatsRequest bounds a statistics query by cache creation time and
// optionally narrows region rollups to one region.
type StatsRequest struct {
	From     *time.Time `json:"from,omitempty" query:"from"`
	To       *time.Time `json:"to,omitempty" query:"to"`
	RegionID string     `json:"region_id,omitempty" query:"region_id"`
}
