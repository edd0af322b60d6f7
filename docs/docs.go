// Package docs Tile Cache Microservice API.
//
// Offline map tile cache service for disaster-relief field operations.
// Registers caches for polygonal regions, downloads their tile pyramids
// with pause/resume control, answers spatial queries over cached regions
// and serves the stored tile images.
//
//	Schemes: http, https
//	BasePath: /
//	Version: 1.0.0
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//	- image/png
//	- image/jpeg
//	- image/webp
//
// swagger:meta
package docs
