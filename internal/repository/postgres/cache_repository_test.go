package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	apperrors "github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/repository/postgres"
	"github.com/tilecache-microservice/internal/repository/postgres/testhelpers"
)

func setupCacheRepo(t *testing.T) (repository.CacheRepository, func()) {
	t.Helper()
	tdb := testhelpers.SetupTestDB(t)
	db := postgres.NewDBForTest(tdb.DB, tdb.Logger)
	repo := postgres.NewCacheRepository(db, tdb.Logger)
	cleanup := func() {
		tdb.Cleanup(context.Background())
		tdb.Close()
	}
	return repo, cleanup
}

func TestCacheCreateAndGet(t *testing.T) {
	repo, cleanup := setupCacheRepo(t)
	defer cleanup()
	ctx := context.Background()

	cache := testCache()
	require.NoError(t, repo.Create(ctx, cache))

	got, err := repo.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, cache.Name, got.Name)
	assert.Equal(t, cache.RegionID, got.RegionID)
	assert.Equal(t, domain.CacheStatusPending, got.Status)
	assert.Equal(t, cache.ZoomLevels, got.ZoomLevels)
	require.Len(t, got.Bounds.Vertices, len(cache.Bounds.Vertices))
	assert.InDelta(t, cache.Bounds.Vertices[0].Lon, got.Bounds.Vertices[0].Lon, 1e-9)

	_, err = repo.GetByID(ctx, "no-such-id")
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "CACHE_NOT_FOUND", appErr.Code)
}

func TestCacheListFilters(t *testing.T) {
	repo, cleanup := setupCacheRepo(t)
	defer cleanup()
	ctx := context.Background()

	a := testCache()
	b := testCache()
	b.RegionID = "r2"
	b.MapType = domain.MapTypeSatellite
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	all, err := repo.List(ctx, repository.CacheFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	region := "r2"
	byRegion, err := repo.List(ctx, repository.CacheFilter{RegionID: &region})
	require.NoError(t, err)
	require.Len(t, byRegion, 1)
	assert.Equal(t, b.ID, byRegion[0].ID)

	mt := domain.MapTypeSatellite
	byType, err := repo.List(ctx, repository.CacheFilter{MapType: &mt})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, b.ID, byType[0].ID)

	// DELETED rows disappear from List but stay readable by ID.
	require.NoError(t, repo.Delete(ctx, a.ID))
	all, err = repo.List(ctx, repository.CacheFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	tombstone, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusDeleted, tombstone.Status)
}

func TestCacheStatusTransitionEnforced(t *testing.T) {
	repo, cleanup := setupCacheRepo(t)
	defer cleanup()
	ctx := context.Background()

	cache := testCache()
	require.NoError(t, repo.Create(ctx, cache))

	require.NoError(t, repo.UpdateStatus(ctx, cache.ID, domain.CacheStatusDownloading))
	require.NoError(t, repo.UpdateStatus(ctx, cache.ID, domain.CacheStatusCompleted))

	err := repo.UpdateStatus(ctx, cache.ID, domain.CacheStatusPending)
	require.Error(t, err, "COMPLETED cannot return to PENDING")

	got, err := repo.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusCompleted, got.Status)
}

func TestCacheAddProgressAccumulates(t *testing.T) {
	repo, cleanup := setupCacheRepo(t)
	defer cleanup()
	ctx := context.Background()

	cache := testCache()
	require.NoError(t, repo.Create(ctx, cache))

	require.NoError(t, repo.AddProgress(ctx, cache.ID, 3, 0, 4096))
	require.NoError(t, repo.AddProgress(ctx, cache.ID, 1, 2, 1024))

	got, err := repo.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.DownloadedTiles)
	assert.Equal(t, int64(2), got.FailedTiles)
	assert.Equal(t, int64(5120), got.CacheSizeBytes)
}

func TestCacheListExpired(t *testing.T) {
	repo, cleanup := setupCacheRepo(t)
	defer cleanup()
	ctx := context.Background()

	fresh := testCache()
	future := time.Now().UTC().Add(time.Hour)
	fresh.ExpiresAt = &future
	require.NoError(t, repo.Create(ctx, fresh))

	stale := testCache()
	past := time.Now().UTC().Add(-time.Hour)
	stale.ExpiresAt = &past
	require.NoError(t, repo.Create(ctx, stale))

	expired, err := repo.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	require.NoError(t, repo.UpdateStatus(ctx, stale.ID, domain.CacheStatusExpired))
	expired, err = repo.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, expired, "already-expired rows are not reported again")
}
