package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	apperrors "github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/repository/filestore"
	"github.com/tilecache-microservice/internal/repository/memory"
	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

type registryFixture struct {
	caches   *memory.CacheRepository
	tiles    *memory.TileRepository
	sessions *memory.SessionRepository
	store    *filestore.Store
	uc       *usecase.RegistryUseCase
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	store, err := filestore.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	f := &registryFixture{
		caches:   memory.NewCacheRepository(),
		tiles:    memory.NewTileRepository(),
		sessions: memory.NewSessionRepository(),
		store:    store,
	}
	f.uc = usecase.NewRegistryUseCase(f.caches, f.tiles, f.sessions, store, nil, zap.NewNop(), time.Minute)
	return f
}

func squareBounds(minLon, minLat, maxLon, maxLat float64) []dto.PointInput {
	return []dto.PointInput{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
	}
}

func createRequest(bounds []dto.PointInput, zooms []int) dto.CreateCacheRequest {
	return dto.CreateCacheRequest{
		Name:          "equator test region",
		RegionID:      "r1",
		RegionName:    "Equator",
		Bounds:        bounds,
		ZoomLevels:    zooms,
		MapType:       "street",
		TileSourceURL: "https://tiles.example.com/{z}/{x}/{y}.png",
		TileFormat:    "png",
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.Code
}

func TestCreateCacheEnumeratesPyramid(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	// A region straddling the origin: 1 tile at zoom 0, 4 at zoom 1.
	cache, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-1, -1, 1, 1), []int{0, 1}))
	require.NoError(t, err)

	assert.Equal(t, domain.CacheStatusPending, cache.Status)
	assert.Equal(t, int64(5), cache.TotalTiles)
	expected := 5 * domain.AverageTileSizeFor(domain.MapTypeStreet, "png")
	assert.Equal(t, expected, cache.EstimatedBytes)

	tiles, total, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	for _, tile := range tiles {
		assert.Equal(t, domain.TileStatusPending, tile.Status)
		assert.NotContains(t, tile.SourceURL, "{z}", "URL template fully rendered")
	}
}

func TestCreateCacheNormalizesZoomLevels(t *testing.T) {
	f := newRegistryFixture(t)

	cache, err := f.uc.CreateCache(context.Background(),
		createRequest(squareBounds(-1, -1, 1, 1), []int{1, 1, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, cache.ZoomLevels)
	assert.Equal(t, int64(5), cache.TotalTiles)
}

func TestCreateCacheRejectsBadInput(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	t.Run("self-intersecting region", func(t *testing.T) {
		bowtie := []dto.PointInput{
			{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 0},
		}
		_, err := f.uc.CreateCache(ctx, createRequest(bowtie, []int{5}))
		assert.Equal(t, "INVALID_REGION", errCode(t, err))
	})

	t.Run("antimeridian span", func(t *testing.T) {
		_, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-170, 10, 170, 60), []int{5}))
		assert.Equal(t, "INVALID_REGION", errCode(t, err))
	})

	t.Run("zoom out of range", func(t *testing.T) {
		_, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-1, -1, 1, 1), []int{25}))
		assert.Equal(t, "INVALID_ZOOM_RANGE", errCode(t, err))
	})

	t.Run("unknown map type", func(t *testing.T) {
		req := createRequest(squareBounds(-1, -1, 1, 1), []int{5})
		req.MapType = "holographic"
		_, err := f.uc.CreateCache(ctx, req)
		assert.Equal(t, "INVALID_MAP_TYPE", errCode(t, err))
	})
}

func TestGetCacheHidesDeleted(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	cache, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-1, -1, 1, 1), []int{0}))
	require.NoError(t, err)
	require.NoError(t, f.caches.Delete(ctx, cache.ID))

	_, err = f.uc.GetCache(ctx, cache.ID)
	assert.Equal(t, "CACHE_NOT_FOUND", errCode(t, err))
}

func TestSpatialQueries(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	berlin, err := f.uc.CreateCache(ctx, createRequest(squareBounds(13.0, 52.3, 13.8, 52.7), []int{8}))
	require.NoError(t, err)
	_, err = f.uc.CreateCache(ctx, createRequest(squareBounds(-0.5, 51.3, 0.3, 51.7), []int{8}))
	require.NoError(t, err)

	t.Run("within bounds", func(t *testing.T) {
		found, err := f.uc.FindWithinBounds(ctx, domain.BoundingBox{
			MinLat: 52.0, MinLon: 12.0, MaxLat: 53.0, MaxLon: 14.0,
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, berlin.ID, found[0].ID)
	})

	t.Run("containing point", func(t *testing.T) {
		found, err := f.uc.FindContainingPoint(ctx, domain.Point{Lat: 52.5, Lon: 13.4})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, berlin.ID, found[0].ID)

		none, err := f.uc.FindContainingPoint(ctx, domain.Point{Lat: 40.0, Lon: -74.0})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("malformed box", func(t *testing.T) {
		_, err := f.uc.FindWithinBounds(ctx, domain.BoundingBox{
			MinLat: 10, MinLon: 10, MaxLat: 5, MaxLon: 20,
		})
		assert.Equal(t, "INVALID_REQUEST", errCode(t, err))
	})
}

func TestDeleteCacheRefusedWhileDownloading(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	cache, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-1, -1, 1, 1), []int{0}))
	require.NoError(t, err)

	session := domain.NewDownloadSession(cache.ID, cache.TotalTiles, domain.SessionConfig{MaxRetries: 3})
	session.Status = domain.SessionStatusRunning
	require.NoError(t, f.sessions.Create(ctx, session))

	err = f.uc.DeleteCache(ctx, cache.ID)
	assert.Equal(t, "CACHE_BUSY", errCode(t, err))

	// Settle the session and the delete cascades.
	session.Status = domain.SessionStatusCancelled
	require.NoError(t, f.sessions.Update(ctx, session))
	require.NoError(t, f.uc.DeleteCache(ctx, cache.ID))

	_, err = f.uc.GetCache(ctx, cache.ID)
	assert.Equal(t, "CACHE_NOT_FOUND", errCode(t, err))

	_, total, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "tile rows removed with the cache")
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	req := createRequest(squareBounds(-1, -1, 1, 1), []int{0, 1})
	req.ExpiresAt = &past

	cache, err := f.uc.CreateCache(ctx, req)
	require.NoError(t, err)

	cleaned, err := f.uc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusExpired, got.Status)

	counts, err := f.tiles.CountByStatus(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[domain.TileStatusExpired])

	cleaned, err = f.uc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleaned, "second sweep finds nothing")
}

func TestGetTileDataServesCompletedTile(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	cache, err := f.uc.CreateCache(ctx, createRequest(squareBounds(-1, -1, 1, 1), []int{0}))
	require.NoError(t, err)

	tile, err := f.tiles.GetByKey(ctx, cache.ID, 0, 0, 0)
	require.NoError(t, err)

	t.Run("pending tile is not served", func(t *testing.T) {
		_, _, err := f.uc.GetTileData(ctx, cache.ID, 0, 0, 0)
		assert.Equal(t, "TILE_NOT_FOUND", errCode(t, err))
	})

	payload := []byte("not really a png")
	path := f.store.PathFor(cache.ID, 0, 0, 0, cache.TileFormat)
	require.NoError(t, f.store.Write(ctx, path, payload))
	require.NoError(t, f.tiles.Complete(ctx, tile.ID, path, int64(len(payload)), "sum"))

	data, format, err := f.uc.GetTileData(ctx, cache.ID, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "png", format)

	got, err := f.tiles.GetByID(ctx, tile.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastAccessedAt, "read recorded on the tile")
}
