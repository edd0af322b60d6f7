package errors

import "net/http"

var (
	ErrInvalidRegion = New(
		"INVALID_REGION",
		"Region bounds are empty, degenerate, self-intersecting or cross the antimeridian",
		http.StatusBadRequest,
	)

	ErrInvalidZoomRange = New(
		"INVALID_ZOOM_RANGE",
		"Zoom levels must be a non-empty set within the tile grid's valid range",
		http.StatusBadRequest,
	)

	ErrInvalidMapType = New(
		"INVALID_MAP_TYPE",
		"Unknown map type",
		http.StatusBadRequest,
	)

	ErrCacheNotFound = New(
		"CACHE_NOT_FOUND",
		"Cache not found",
		http.StatusNotFound,
	)

	ErrTileNotFound = New(
		"TILE_NOT_FOUND",
		"Tile not found",
		http.StatusNotFound,
	)

	ErrSessionNotFound = New(
		"SESSION_NOT_FOUND",
		"Download session not found",
		http.StatusNotFound,
	)

	ErrDownloadConflict = New(
		"DOWNLOAD_CONFLICT",
		"An active download session already exists for this cache",
		http.StatusConflict,
	)

	ErrSessionNotPaused = New(
		"SESSION_NOT_PAUSED",
		"Download session is not paused",
		http.StatusConflict,
	)

	ErrCacheBusy = New(
		"CACHE_BUSY",
		"Cache has an active download session; pause or cancel it first",
		http.StatusConflict,
	)

	ErrTileAlreadyClaimed = New(
		"TILE_ALREADY_CLAIMED",
		"Tile is already claimed by another worker",
		http.StatusConflict,
	)

	ErrInvalidStatusTransition = New(
		"INVALID_STATUS_TRANSITION",
		"Requested status transition is not allowed",
		http.StatusConflict,
	)

	ErrInvalidRequest = New(
		"INVALID_REQUEST",
		"Invalid request parameters",
		http.StatusBadRequest,
	)

	ErrDatabaseError = New(
		"DATABASE_ERROR",
		"Database operation failed",
		http.StatusInternalServerError,
	)

	ErrStorageError = New(
		"STORAGE_ERROR",
		"Tile storage operation failed",
		http.StatusInternalServerError,
	)

	ErrInternalServer = New(
		"INTERNAL_SERVER_ERROR",
		"Internal server error",
		http.StatusInternalServerError,
	)
)
