// Package tilesource implements the outbound fetch capability for source
// tiles over HTTP.
package tilesource

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tilecache-microservice/internal/domain/repository"
	"go.uber.org/zap"
)

type client struct {
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

// NewClient builds the tile source fetcher. Per-attempt deadlines come from
// the caller's context; the embedded client carries no timeout of its own
// so a longer-lived context is not cut short.
func NewClient(userAgent string, logger *zap.Logger) repository.TileSourceRepository {
	return &client{
		httpClient: &http.Client{},
		userAgent:  userAgent,
		logger:     logger,
	}
}

func (c *client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create tile request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,image/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to the body read
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The source does not have this tile; retrying cannot help.
		c.logger.Debug("Tile source client error",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("tile source returned HTTP %d: %w", resp.StatusCode, repository.ErrPermanentFetch)
	default:
		return nil, fmt.Errorf("tile source returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tile body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tile source returned empty body")
	}
	return data, nil
}
