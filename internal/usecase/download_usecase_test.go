package usecase_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/repository/filestore"
	"github.com/tilecache-microservice/internal/repository/memory"
	"github.com/tilecache-microservice/internal/usecase"
	"go.uber.org/zap"
)

// fakeTileSource serves canned tile bytes. URLs can be set to fail
// permanently, fail a number of times before succeeding, or block until the
// gate opens.
type fakeTileSource struct {
	mu             sync.Mutex
	permanent      map[string]bool
	transientLeft  map[string]int
	gated          bool
	gate           chan struct{}
	fetchesStarted chan string
	calls          map[string]int
}

func newFakeTileSource() *fakeTileSource {
	return &fakeTileSource{
		permanent:      make(map[string]bool),
		transientLeft:  make(map[string]int),
		gate:           make(chan struct{}),
		fetchesStarted: make(chan string, 256),
		calls:          make(map[string]int),
	}
}

func (s *fakeTileSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.calls[url]++
	gated := s.gated
	s.mu.Unlock()

	select {
	case s.fetchesStarted <- url:
	default:
	}

	if gated {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.gate:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permanent[url] {
		return nil, fmt.Errorf("tile source returned HTTP 404: %w", repository.ErrPermanentFetch)
	}
	if s.transientLeft[url] > 0 {
		s.transientLeft[url]--
		return nil, fmt.Errorf("tile source returned HTTP 503")
	}
	return []byte("tile:" + url), nil
}

func (s *fakeTileSource) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// corruptingStore flips a byte on the first write of selected paths, so the
// post-write verification sees a checksum mismatch once.
type corruptingStore struct {
	*filestore.Store
	mu        sync.Mutex
	corrupted map[string]bool
	targets   map[string]bool
}

func newCorruptingStore(inner *filestore.Store) *corruptingStore {
	return &corruptingStore{
		Store:     inner,
		corrupted: make(map[string]bool),
		targets:   make(map[string]bool),
	}
}

func (s *corruptingStore) corruptOnce(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[path] = true
}

func (s *corruptingStore) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	mangle := s.targets[path] && !s.corrupted[path]
	if mangle {
		s.corrupted[path] = true
	}
	s.mu.Unlock()

	if mangle {
		bad := bytes.Clone(data)
		bad[0] ^= 0xFF
		return s.Store.Write(ctx, path, bad)
	}
	return s.Store.Write(ctx, path, data)
}

type downloadFixture struct {
	caches     *memory.CacheRepository
	tiles      *memory.TileRepository
	sessions   *memory.SessionRepository
	source     *fakeTileSource
	store      *corruptingStore
	registryUC *usecase.RegistryUseCase
	downloadUC *usecase.DownloadUseCase
}

func newDownloadFixture(t *testing.T) *downloadFixture {
	t.Helper()
	inner, err := filestore.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	f := &downloadFixture{
		caches:   memory.NewCacheRepository(),
		tiles:    memory.NewTileRepository(),
		sessions: memory.NewSessionRepository(),
		source:   newFakeTileSource(),
		store:    newCorruptingStore(inner),
	}
	f.registryUC = usecase.NewRegistryUseCase(f.caches, f.tiles, f.sessions, f.store, nil, zap.NewNop(), time.Minute)
	f.downloadUC = usecase.NewDownloadUseCase(
		f.caches, f.tiles, f.sessions, f.source, f.store, nil, zap.NewNop(),
		domain.SessionConfig{
			Concurrency: 3,
			MaxRetries:  3,
			TileTimeout: 2 * time.Second,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
	)
	return f
}

// createCache builds a 9-tile pyramid: 1 tile at zoom 0, 4 at zoom 1, 4 at
// zoom 2.
func (f *downloadFixture) createCache(t *testing.T) *domain.Cache {
	t.Helper()
	cache, err := f.registryUC.CreateCache(context.Background(),
		createRequest(squareBounds(-1, -1, 1, 1), []int{0, 1, 2}))
	require.NoError(t, err)
	require.Equal(t, int64(9), cache.TotalTiles)
	return cache
}

func (f *downloadFixture) waitForSession(t *testing.T, sessionID string, want ...domain.SessionStatus) *domain.DownloadSession {
	t.Helper()
	var got *domain.DownloadSession
	require.Eventually(t, func() bool {
		s, err := f.sessions.GetByID(context.Background(), sessionID)
		if err != nil {
			return false
		}
		for _, w := range want {
			if s.Status == w {
				got = s
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "session never reached %v", want)
	return got
}

func TestDownloadCompletesCleanRun(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusCompleted, final.Status)
	assert.Equal(t, int64(9), final.DownloadedTiles)
	assert.Zero(t, final.FailedTiles)
	assert.InDelta(t, 100.0, final.ProgressPercent, 1e-9)
	assert.NotNil(t, final.CompletedAt)

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusCompleted, got.Status)
	assert.Equal(t, int64(9), got.DownloadedTiles)
	assert.NotNil(t, got.DownloadFinished)

	sum, err := f.tiles.SumCompletedBytes(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, got.CacheSizeBytes)
	assert.Positive(t, sum)

	// Every tile is on disk and verified.
	counts, err := f.tiles.CountByStatus(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), counts[domain.TileStatusCompleted])
}

func TestDownloadPartialCoverageIsFailure(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	// Two tiles the source will never have.
	tiles, _, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	f.source.mu.Lock()
	f.source.permanent[tiles[1].SourceURL] = true
	f.source.permanent[tiles[2].SourceURL] = true
	f.source.mu.Unlock()

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusFailed, final.Status)
	assert.Equal(t, int64(7), final.DownloadedTiles)
	assert.Equal(t, int64(2), final.FailedTiles)
	require.NotNil(t, final.ErrorMessage)
	assert.NotEmpty(t, *final.ErrorMessage)

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusFailed, got.Status)
	assert.Equal(t, int64(2), got.FailedTiles)

	// Permanent failures are not retried.
	assert.Equal(t, 1, f.source.callCount(tiles[1].SourceURL))
	assert.Equal(t, 1, f.source.callCount(tiles[2].SourceURL))
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	tiles, _, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	flaky := tiles[0].SourceURL
	f.source.mu.Lock()
	f.source.transientLeft[flaky] = 2 // fails twice, succeeds on the third try
	f.source.mu.Unlock()

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusCompleted, final.Status)
	assert.Equal(t, int64(9), final.DownloadedTiles)
	assert.Zero(t, final.FailedTiles)
	assert.GreaterOrEqual(t, final.RetryCount, 2)
	assert.Equal(t, 3, f.source.callCount(flaky))
}

func TestDownloadRecoversFromCorruptedWrite(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	tile, err := f.tiles.GetByKey(ctx, cache.ID, 0, 0, 0)
	require.NoError(t, err)
	path := f.store.PathFor(cache.ID, 0, 0, 0, cache.TileFormat)
	f.store.corruptOnce(path)

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusCompleted, final.Status)

	got, err := f.tiles.GetByID(ctx, tile.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TileStatusCompleted, got.Status)
	assert.GreaterOrEqual(t, got.DownloadAttempts, 1, "corrupted write counted an attempt")

	// The stored bytes now match the recorded checksum.
	data, err := f.store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile:"+tile.SourceURL), data)
}

func TestDownloadPauseAndResume(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	f.source.mu.Lock()
	f.source.gated = true
	f.source.mu.Unlock()

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	// Wait until workers are actually fetching.
	select {
	case <-f.source.fetchesStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch started")
	}

	paused, err := f.downloadUC.Pause(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaused, paused.Status)
	assert.Zero(t, paused.FailedTiles, "an interrupted fetch is not a failure")

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusPaused, got.Status)

	// No tile left stuck in DOWNLOADING.
	counts, err := f.tiles.CountByStatus(ctx, cache.ID)
	require.NoError(t, err)
	assert.Zero(t, counts[domain.TileStatusDownloading])

	// Resuming anything but a paused session is refused.
	_, err = f.downloadUC.Start(ctx, cache.ID)
	assert.Equal(t, "DOWNLOAD_CONFLICT", errCode(t, err))

	// Open the gate and resume under the same session.
	f.source.mu.Lock()
	f.source.gated = false
	f.source.mu.Unlock()

	resumed, err := f.downloadUC.Resume(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, resumed.ID, "resume keeps the session identity")

	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusCompleted, final.Status)
	assert.Equal(t, int64(9), final.DownloadedTiles)

	got, err = f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusCompleted, got.Status)
}

func TestDownloadCancelKeepsCompletedTiles(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	f.source.mu.Lock()
	f.source.gated = true
	f.source.mu.Unlock()

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)

	select {
	case <-f.source.fetchesStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch started")
	}

	cancelled, err := f.downloadUC.Cancel(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, cancelled.Status)

	f.source.mu.Lock()
	f.source.gated = false
	f.source.mu.Unlock()

	// A fresh start picks up the remaining tiles under a new session.
	restarted, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, restarted.ID)

	final := f.waitForSession(t, restarted.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusCompleted, final.Status)

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.DownloadedTiles, "cache counters span sessions")
}

func TestRestartAfterPermanentFailureDoesNotDoubleCount(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	tiles, _, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	missing := tiles[0]
	f.source.mu.Lock()
	f.source.permanent[missing.SourceURL] = true
	f.source.mu.Unlock()

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	require.Equal(t, domain.SessionStatusFailed, final.Status)

	dead, err := f.tiles.GetByID(ctx, missing.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dead.DownloadAttempts, 3, "a permanent failure burns the whole attempt budget")

	// Restarting the failed cache must skip the dead tile rather than fetch
	// and count it again.
	restarted, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	refinal := f.waitForSession(t, restarted.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusFailed, refinal.Status)

	assert.Equal(t, 1, f.source.callCount(missing.SourceURL), "dead tile is not refetched")

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.DownloadedTiles)
	assert.Equal(t, int64(1), got.FailedTiles)
	assert.LessOrEqual(t, got.DownloadedTiles+got.FailedTiles, got.TotalTiles)
}

func TestDownloadDoesNotCompleteWithTileStillClaimed(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	// A claim held by a worker that died without releasing it.
	tiles, _, err := f.tiles.ListByCache(ctx, cache.ID, repository.TileFilter{})
	require.NoError(t, err)
	orphan := tiles[4]
	_, _, err = f.tiles.Claim(ctx, orphan.ID, 3)
	require.NoError(t, err)

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	final := f.waitForSession(t, session.ID, domain.SessionStatusCompleted, domain.SessionStatusFailed)
	assert.Equal(t, domain.SessionStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)

	got, err := f.caches.GetByID(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStatusFailed, got.Status)
	assert.Equal(t, int64(8), got.DownloadedTiles)

	counts, err := f.tiles.CountByStatus(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.TileStatusDownloading])
	assert.Equal(t, int64(8), counts[domain.TileStatusCompleted])
}

func TestStartOnCompletedCacheIsConflict(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	f.waitForSession(t, session.ID, domain.SessionStatusCompleted)

	_, err = f.downloadUC.Start(ctx, cache.ID)
	assert.Equal(t, "DOWNLOAD_CONFLICT", errCode(t, err))
}

func TestDownloadStatusExposesProgress(t *testing.T) {
	f := newDownloadFixture(t)
	ctx := context.Background()
	cache := f.createCache(t)

	_, err := f.downloadUC.GetDownloadStatus(ctx, cache.ID)
	assert.Error(t, err, "no session yet")

	session, err := f.downloadUC.Start(ctx, cache.ID)
	require.NoError(t, err)
	f.waitForSession(t, session.ID, domain.SessionStatusCompleted)

	status, err := f.downloadUC.GetDownloadStatus(ctx, cache.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, status.ID)
	assert.InDelta(t, 100.0, status.ProgressPercent, 1e-9)
	assert.NotNil(t, status.CompletedAt)
}
