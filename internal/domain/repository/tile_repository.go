package repository

import (
	"context"

	"github.com/tilecache-microservice/internal/domain"
)

// TileFilter narrows ListByCache; nil fields are ignored.
type TileFilter struct {
	Zoom   *int
	Status *domain.TileStatus
	Page   int
	Limit  int
}

// TileRepository is the tile index: the single source of truth for per-tile
// status and integrity metadata. Claim is the one operation that may be
// raced by concurrent workers and must be implemented as a conditional
// write against the backing store, not an in-process lock.
type TileRepository interface {
	CreateBatch(ctx context.Context, tiles []*domain.Tile) error

	GetByID(ctx context.Context, id string) (*domain.Tile, error)

	GetByKey(ctx context.Context, cacheID string, zoom, x, y int) (*domain.Tile, error)

	// ListByCache returns one page of tiles plus the unpaginated total.
	ListByCache(ctx context.Context, cacheID string, filter TileFilter) ([]*domain.Tile, int, error)

	// ListClaimable returns tiles in PENDING, or in FAILED/CORRUPTED with
	// attempts below maxRetries, ordered by zoom ascending.
	ListClaimable(ctx context.Context, cacheID string, maxRetries int) ([]*domain.Tile, error)

	// Claim atomically transitions the tile to DOWNLOADING if its current
	// status is claimable under maxRetries. It returns the status the tile
	// held before the claim so a cooperative pause can put it back.
	// Returns errors.ErrTileAlreadyClaimed when the compare fails.
	Claim(ctx context.Context, id string, maxRetries int) (*domain.Tile, domain.TileStatus, error)

	// Release reverts a DOWNLOADING tile to prev without counting an
	// attempt. Used when a pause or cancel aborts an in-flight fetch.
	Release(ctx context.Context, id string, prev domain.TileStatus) error

	// Complete marks the tile COMPLETED with its stored location, size and
	// verified checksum.
	Complete(ctx context.Context, id string, storagePath string, sizeBytes int64, checksum string) error

	// MarkCorrupted records a checksum mismatch: status CORRUPTED, attempt
	// counter incremented.
	MarkCorrupted(ctx context.Context, id string) error

	// Fail records a fetch failure: status FAILED, attempt counter and
	// last-attempt timestamp updated.
	Fail(ctx context.Context, id string) error

	// FailPermanently records a failure that retrying cannot fix (e.g. the
	// source has no such tile): status FAILED with the attempt counter raised
	// to at least maxRetries, so the tile is excluded from future claims.
	FailPermanently(ctx context.Context, id string, maxRetries int) error

	// TouchAccess records a read access on a completed tile.
	TouchAccess(ctx context.Context, id string) error

	CountByStatus(ctx context.Context, cacheID string) (map[domain.TileStatus]int64, error)

	// SumCompletedBytes totals file sizes of COMPLETED tiles for a cache.
	SumCompletedBytes(ctx context.Context, cacheID string) (int64, error)

	// UpdateStatusByCache bulk-moves every tile of a cache, used by expiry
	// and delete cascades.
	UpdateStatusByCache(ctx context.Context, cacheID string, next domain.TileStatus) error

	DeleteByCache(ctx context.Context, cacheID string) error
}
