package repository

import (
	"context"
	"errors"
)

// ErrPermanentFetch marks a fetch failure that retrying cannot fix, such as
// the source returning 404 for the tile. Implementations wrap it so the
// orchestrator can stop retrying early.
var ErrPermanentFetch = errors.New("permanent fetch failure")

// TileSourceRepository is the opaque fetch capability for source tiles.
// The transport behind the URL is not this service's concern.
type TileSourceRepository interface {
	// Fetch downloads one tile's bytes. Context cancellation and deadline
	// must abort the request promptly.
	Fetch(ctx context.Context, url string) ([]byte, error)
}
