package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tilecache-microservice/internal/domain"
)

func TestCacheStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.CacheStatus
		ok       bool
	}{
		{domain.CacheStatusPending, domain.CacheStatusDownloading, true},
		{domain.CacheStatusDownloading, domain.CacheStatusPaused, true},
		{domain.CacheStatusPaused, domain.CacheStatusDownloading, true},
		{domain.CacheStatusDownloading, domain.CacheStatusCompleted, true},
		{domain.CacheStatusDownloading, domain.CacheStatusFailed, true},
		{domain.CacheStatusFailed, domain.CacheStatusDownloading, true},
		{domain.CacheStatusCorrupted, domain.CacheStatusDownloading, true},
		{domain.CacheStatusCompleted, domain.CacheStatusUpdating, true},

		{domain.CacheStatusPending, domain.CacheStatusCompleted, false},
		{domain.CacheStatusCompleted, domain.CacheStatusDownloading, false},
		{domain.CacheStatusPaused, domain.CacheStatusCompleted, false},
		{domain.CacheStatusExpired, domain.CacheStatusDownloading, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	// DELETED is reachable from everywhere; EXPIRED from everything alive.
	for _, s := range []domain.CacheStatus{
		domain.CacheStatusPending, domain.CacheStatusDownloading, domain.CacheStatusCompleted,
		domain.CacheStatusFailed, domain.CacheStatusExpired,
	} {
		assert.True(t, s.CanTransitionTo(domain.CacheStatusDeleted), "%s -> DELETED", s)
	}
	assert.True(t, domain.CacheStatusCompleted.CanTransitionTo(domain.CacheStatusExpired))
	assert.False(t, domain.CacheStatusDeleted.CanTransitionTo(domain.CacheStatusExpired))
}

func TestSessionStatusTransitions(t *testing.T) {
	assert.True(t, domain.SessionStatusPending.CanTransitionTo(domain.SessionStatusRunning))
	assert.True(t, domain.SessionStatusRunning.CanTransitionTo(domain.SessionStatusRetrying))
	assert.True(t, domain.SessionStatusRetrying.CanTransitionTo(domain.SessionStatusRunning))
	assert.True(t, domain.SessionStatusRunning.CanTransitionTo(domain.SessionStatusPaused))
	assert.True(t, domain.SessionStatusPaused.CanTransitionTo(domain.SessionStatusRunning))
	assert.True(t, domain.SessionStatusPaused.CanTransitionTo(domain.SessionStatusCancelled))

	assert.False(t, domain.SessionStatusCompleted.CanTransitionTo(domain.SessionStatusRunning))
	assert.False(t, domain.SessionStatusCancelled.CanTransitionTo(domain.SessionStatusRunning))
	assert.False(t, domain.SessionStatusPaused.CanTransitionTo(domain.SessionStatusCompleted))

	assert.True(t, domain.SessionStatusPaused.Active())
	assert.False(t, domain.SessionStatusFailed.Active())
}

func TestTileStatusClaimable(t *testing.T) {
	assert.True(t, domain.TileStatusPending.Claimable(0, 3))
	assert.True(t, domain.TileStatusPending.Claimable(99, 3), "PENDING is always claimable")
	assert.True(t, domain.TileStatusFailed.Claimable(2, 3))
	assert.False(t, domain.TileStatusFailed.Claimable(3, 3), "retry budget spent")
	assert.True(t, domain.TileStatusCorrupted.Claimable(1, 3))
	assert.False(t, domain.TileStatusCompleted.Claimable(0, 3))
	assert.False(t, domain.TileStatusDownloading.Claimable(0, 3))
}

func TestCacheProgressAndExpiry(t *testing.T) {
	c := domain.NewCache("berlin", "r1", "Berlin", domain.Polygon{}, []int{1}, domain.MapTypeStreet, "https://t/{z}/{x}/{y}.png", "png", 0)
	assert.Equal(t, domain.CacheStatusPending, c.Status)
	assert.Zero(t, c.DownloadProgress(), "empty pyramid reads as zero progress")

	c.TotalTiles = 10
	c.DownloadedTiles = 4
	assert.InDelta(t, 0.4, c.DownloadProgress(), 1e-9)

	now := time.Now().UTC()
	assert.False(t, c.IsExpired(now), "no expiry set")

	past := now.Add(-time.Hour)
	c.ExpiresAt = &past
	assert.True(t, c.IsExpired(now))

	c.Status = domain.CacheStatusExpired
	assert.False(t, c.IsExpired(now), "already expired caches are not re-reported")
}

func TestAverageTileSizeFor(t *testing.T) {
	street := domain.AverageTileSizeFor(domain.MapTypeStreet, "jpg")
	satellite := domain.AverageTileSizeFor(domain.MapTypeSatellite, "jpg")
	assert.Greater(t, satellite, street)

	jpg := domain.AverageTileSizeFor(domain.MapTypeStreet, "jpg")
	png := domain.AverageTileSizeFor(domain.MapTypeStreet, "png")
	assert.Greater(t, png, jpg, "png estimates run larger")

	assert.Positive(t, domain.AverageTileSizeFor(domain.MapType("unknown"), "png"))
}

func TestTileKey(t *testing.T) {
	tile := domain.NewTile("c1", 12, 2200, 1343, "https://t/12/2200/1343.png")
	assert.Equal(t, "12/2200/1343", tile.Key())
	assert.Equal(t, domain.TileStatusPending, tile.Status)
	assert.Equal(t, "12/2200/1343", domain.TileKey(12, 2200, 1343))
}

func TestStatsRangeContains(t *testing.T) {
	now := time.Now()
	var open domain.StatsRange
	assert.True(t, open.Contains(now))

	r := domain.StatsRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
	assert.True(t, r.Contains(now))
	assert.False(t, r.Contains(now.Add(-2*time.Hour)))
	assert.False(t, r.Contains(now.Add(2*time.Hour)))
}
