package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/geo"
	"github.com/tilecache-microservice/internal/pkg/errors"
	"go.uber.org/zap"
)

// ewmaAlpha weights the newest throughput sample when smoothing download
// speed and tile rate.
const ewmaAlpha = 0.3

// DownloadUseCase orchestrates tile downloads: one session runner per cache,
// a fixed worker pool claiming tiles from a priority-ordered queue, per-tile
// retries with exponential backoff, and checksum verification of every
// stored tile.
type DownloadUseCase struct {
	caches   repository.CacheRepository
	tiles    repository.TileRepository
	sessions repository.SessionRepository
	source   repository.TileSourceRepository
	storage  repository.TileStorageRepository
	hot      repository.HotCacheRepository
	logger   *zap.Logger
	defaults domain.SessionConfig

	mu      sync.Mutex
	runners map[string]*sessionRunner // keyed by cache ID
}

func NewDownloadUseCase(
	caches repository.CacheRepository,
	tiles repository.TileRepository,
	sessions repository.SessionRepository,
	source repository.TileSourceRepository,
	storage repository.TileStorageRepository,
	hot repository.HotCacheRepository,
	logger *zap.Logger,
	defaults domain.SessionConfig,
) *DownloadUseCase {
	if defaults.Concurrency < 1 {
		defaults.Concurrency = 4
	}
	if defaults.MaxRetries < 1 {
		defaults.MaxRetries = 3
	}
	if defaults.TileTimeout <= 0 {
		defaults.TileTimeout = 15 * time.Second
	}
	if defaults.BackoffBase <= 0 {
		defaults.BackoffBase = 500 * time.Millisecond
	}
	if defaults.BackoffCap <= 0 {
		defaults.BackoffCap = 30 * time.Second
	}
	return &DownloadUseCase{
		caches:   caches,
		tiles:    tiles,
		sessions: sessions,
		source:   source,
		storage:  storage,
		hot:      hot,
		logger:   logger,
		defaults: defaults,
		runners:  make(map[string]*sessionRunner),
	}
}

// Start creates a new session for the cache and begins downloading. Starting
// is refused while another session is active and on caches that are already
// fully downloaded; a cache left partial by a failure or cancellation picks
// up from its completed tiles.
func (uc *DownloadUseCase) Start(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	cache, err := uc.caches.GetByID(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if cache.Status == domain.CacheStatusDeleted {
		return nil, errors.ErrCacheNotFound
	}

	active, err := uc.sessions.GetActiveByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.ErrDownloadConflict.WithDetails(map[string]interface{}{
			"session_id": active.ID,
			"status":     string(active.Status),
		})
	}
	if cache.Status == domain.CacheStatusCompleted {
		return nil, errors.ErrDownloadConflict.WithDetails(map[string]interface{}{
			"reason": "cache is already fully downloaded",
		})
	}
	if !cache.Status.CanTransitionTo(domain.CacheStatusDownloading) {
		return nil, errors.ErrInvalidStatusTransition.WithDetails(map[string]interface{}{
			"from": string(cache.Status),
			"to":   string(domain.CacheStatusDownloading),
		})
	}

	queue, err := uc.buildQueue(ctx, cache, uc.defaults.MaxRetries)
	if err != nil {
		return nil, err
	}

	session := domain.NewDownloadSession(cache.ID, cache.TotalTiles, uc.defaults)
	if err := uc.seedSessionCounters(ctx, session, queue); err != nil {
		return nil, err
	}
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session.Status = domain.SessionStatusRunning
	session.StartedAt = &now
	if err := uc.sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	if err := uc.caches.UpdateStatus(ctx, cache.ID, domain.CacheStatusDownloading); err != nil {
		return nil, err
	}
	if cache.DownloadStarted == nil {
		if fresh, err := uc.caches.GetByID(ctx, cache.ID); err == nil {
			fresh.DownloadStarted = &now
			if err := uc.caches.Update(ctx, fresh); err != nil {
				uc.logger.Warn("Failed to record download start time",
					zap.String("cache_id", cache.ID), zap.Error(err))
			}
		}
	}

	uc.launch(cache, session, queue)

	uc.logger.Info("Download session started",
		zap.String("cache_id", cache.ID),
		zap.String("session_id", session.ID),
		zap.Int("queued_tiles", len(queue)),
		zap.Int("concurrency", session.Config.Concurrency),
	)
	return session, nil
}

// Pause stops the cache's workers cooperatively: in-flight fetches are
// aborted and their tiles put back unchanged, so a pause never manufactures
// failures. Pausing an already paused session is a no-op.
func (uc *DownloadUseCase) Pause(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	if runner := uc.runner(cacheID); runner != nil {
		runner.pause()
		return runner.snapshot(), nil
	}

	// No in-process runner: reconcile stored state (e.g. after a restart).
	session, err := uc.sessions.GetActiveByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.ErrSessionNotFound
	}
	if session.Status == domain.SessionStatusPaused {
		return session, nil
	}
	if !session.Status.CanTransitionTo(domain.SessionStatusPaused) {
		return nil, errors.ErrInvalidStatusTransition.WithDetails(map[string]interface{}{
			"from": string(session.Status),
			"to":   string(domain.SessionStatusPaused),
		})
	}
	session.Status = domain.SessionStatusPaused
	if err := uc.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	if cache, err := uc.caches.GetByID(ctx, cacheID); err == nil &&
		cache.Status == domain.CacheStatusDownloading {
		if err := uc.caches.UpdateStatus(ctx, cacheID, domain.CacheStatusPaused); err != nil {
			uc.logger.Warn("Failed to pause cache status", zap.String("cache_id", cacheID), zap.Error(err))
		}
	}
	return session, nil
}

// Resume continues the paused session with the same identity and counters.
// Only a PAUSED session can be resumed.
func (uc *DownloadUseCase) Resume(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	cache, err := uc.caches.GetByID(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if cache.Status == domain.CacheStatusDeleted {
		return nil, errors.ErrCacheNotFound
	}

	session, err := uc.sessions.GetLatestByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.ErrSessionNotFound
	}
	if session.Status != domain.SessionStatusPaused {
		return nil, errors.ErrSessionNotPaused.WithDetails(map[string]interface{}{
			"session_id": session.ID,
			"status":     string(session.Status),
		})
	}

	queue, err := uc.buildQueue(ctx, cache, session.Config.MaxRetries)
	if err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatusRunning
	if err := uc.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	if err := uc.caches.UpdateStatus(ctx, cacheID, domain.CacheStatusDownloading); err != nil {
		return nil, err
	}

	uc.launch(cache, session, queue)

	uc.logger.Info("Download session resumed",
		zap.String("cache_id", cacheID),
		zap.String("session_id", session.ID),
		zap.Int("queued_tiles", len(queue)),
	)
	return session, nil
}

// Cancel stops the session for good. Tiles already downloaded stay on disk
// and in the index; a later Start resumes from that point under a new
// session.
func (uc *DownloadUseCase) Cancel(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	if runner := uc.runner(cacheID); runner != nil {
		runner.abort()
		return runner.snapshot(), nil
	}

	session, err := uc.sessions.GetActiveByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.ErrSessionNotFound
	}
	now := time.Now().UTC()
	session.Status = domain.SessionStatusCancelled
	session.CompletedAt = &now
	if err := uc.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	if cache, err := uc.caches.GetByID(ctx, cacheID); err == nil &&
		cache.Status == domain.CacheStatusDownloading {
		if err := uc.caches.UpdateStatus(ctx, cacheID, domain.CacheStatusPaused); err != nil {
			uc.logger.Warn("Failed to park cancelled cache", zap.String("cache_id", cacheID), zap.Error(err))
		}
	}
	return session, nil
}

func (uc *DownloadUseCase) GetSession(ctx context.Context, sessionID string) (*domain.DownloadSession, error) {
	return uc.sessions.GetByID(ctx, sessionID)
}

// GetDownloadStatus returns the most recent session for the cache, which is
// the live one while a download is in flight.
func (uc *DownloadUseCase) GetDownloadStatus(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	if runner := uc.runner(cacheID); runner != nil {
		return runner.snapshot(), nil
	}
	session, err := uc.sessions.GetLatestByCache(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.ErrSessionNotFound
	}
	return session, nil
}

func (uc *DownloadUseCase) ListSessions(ctx context.Context, cacheID string) ([]*domain.DownloadSession, error) {
	return uc.sessions.ListByCache(ctx, cacheID)
}

// Shutdown pauses every in-flight session so the process can exit without
// losing claimed tiles.
func (uc *DownloadUseCase) Shutdown(ctx context.Context) {
	uc.mu.Lock()
	active := make([]*sessionRunner, 0, len(uc.runners))
	for _, r := range uc.runners {
		active = append(active, r)
	}
	uc.mu.Unlock()

	for _, r := range active {
		r.pause()
	}
}

func (uc *DownloadUseCase) runner(cacheID string) *sessionRunner {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.runners[cacheID]
}

func (uc *DownloadUseCase) launch(cache *domain.Cache, session *domain.DownloadSession, queue []*domain.Tile) {
	runner := newSessionRunner(uc, cache, session, queue)
	uc.mu.Lock()
	uc.runners[cache.ID] = runner
	uc.mu.Unlock()
	go runner.run()
}

func (uc *DownloadUseCase) release(cacheID string) {
	uc.mu.Lock()
	delete(uc.runners, cacheID)
	uc.mu.Unlock()
}

// buildQueue lists every still-claimable tile and orders it zoom ascending,
// then by distance from the region centroid, so coarse coverage lands first
// and detail fills in from the middle of the region outwards.
func (uc *DownloadUseCase) buildQueue(ctx context.Context, cache *domain.Cache, maxRetries int) ([]*domain.Tile, error) {
	queue, err := uc.tiles.ListClaimable(ctx, cache.ID, maxRetries)
	if err != nil {
		return nil, err
	}

	centroid := geo.Centroid(cache.Bounds)
	dist := func(t *domain.Tile) float64 {
		c := geo.TileCenter(t.Zoom, t.X, t.Y)
		dLat := c.Lat - centroid.Lat
		dLon := c.Lon - centroid.Lon
		return dLat*dLat + dLon*dLon
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Zoom != queue[j].Zoom {
			return queue[i].Zoom < queue[j].Zoom
		}
		return dist(queue[i]) < dist(queue[j])
	})
	return queue, nil
}

// seedSessionCounters initialises a fresh session's counters from tiles
// already settled by earlier sessions, so its progress reflects the cache
// rather than starting from zero after a cancel.
func (uc *DownloadUseCase) seedSessionCounters(ctx context.Context, session *domain.DownloadSession, queue []*domain.Tile) error {
	counts, err := uc.tiles.CountByStatus(ctx, session.CacheID)
	if err != nil {
		return err
	}

	var retryable int64
	for _, t := range queue {
		if t.Status != domain.TileStatusPending {
			retryable++
		}
	}
	session.DownloadedTiles = counts[domain.TileStatusCompleted]
	session.FailedTiles = counts[domain.TileStatusFailed] + counts[domain.TileStatusCorrupted] - retryable
	if session.FailedTiles < 0 {
		session.FailedTiles = 0
	}
	if session.TotalTiles > 0 {
		session.ProgressPercent = float64(session.DownloadedTiles) / float64(session.TotalTiles) * 100
	}
	return nil
}

// sessionRunner drives one session: a pool of workers pulling tiles off the
// ordered queue by cursor, with cooperative cancellation for pause/cancel.
type sessionRunner struct {
	uc    *DownloadUseCase
	cache *domain.Cache
	cfg   domain.SessionConfig
	queue []*domain.Tile

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	next      atomic.Int64
	paused    atomic.Bool
	cancelled atomic.Bool
	retrying  atomic.Int64

	mu           sync.Mutex
	session      *domain.DownloadSession
	fatal        error
	speedEWMA    float64
	tileRateEWMA float64
	lastSample   time.Time
}

func newSessionRunner(uc *DownloadUseCase, cache *domain.Cache, session *domain.DownloadSession, queue []*domain.Tile) *sessionRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionRunner{
		uc:      uc,
		cache:   cache,
		cfg:     session.Config,
		queue:   queue,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		session: session,
	}
}

func (r *sessionRunner) run() {
	defer close(r.done)
	defer r.uc.release(r.cache.ID)

	r.mu.Lock()
	r.lastSample = time.Now()
	r.mu.Unlock()

	workers := r.cfg.Concurrency
	if workers > len(r.queue) {
		workers = len(r.queue)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker()
		}()
	}
	wg.Wait()

	r.finalize()
}

func (r *sessionRunner) worker() {
	for {
		if r.ctx.Err() != nil {
			return
		}
		i := r.next.Add(1) - 1
		if i >= int64(len(r.queue)) {
			return
		}
		r.processTile(r.queue[i])
	}
}

// pause aborts in-flight fetches and waits for the workers to drain. The
// runner itself records the PAUSED state in finalize.
func (r *sessionRunner) pause() {
	r.paused.Store(true)
	r.cancel()
	<-r.done
}

func (r *sessionRunner) abort() {
	r.cancelled.Store(true)
	r.cancel()
	<-r.done
}

func (r *sessionRunner) snapshot() *domain.DownloadSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.session
	return &cp
}

// processTile claims the tile and drives it to a terminal outcome: COMPLETED
// after a verified write, permanently FAILED/CORRUPTED once the retry budget
// is spent, or released unchanged when the session is interrupted.
func (r *sessionRunner) processTile(tile *domain.Tile) {
	bg := context.Background()

	claimed, prev, err := r.uc.tiles.Claim(bg, tile.ID, r.cfg.MaxRetries)
	if err != nil {
		if appErr, ok := errors.AsAppError(err); !ok || appErr.Code != errors.ErrTileAlreadyClaimed.Code {
			r.uc.logger.Warn("Tile claim failed", zap.String("tile_id", tile.ID), zap.Error(err))
		}
		return
	}
	attempts := claimed.DownloadAttempts

	for {
		if r.ctx.Err() != nil {
			r.releaseTile(claimed.ID, prev)
			return
		}

		fetchCtx, cancelFetch := context.WithTimeout(r.ctx, r.cfg.TileTimeout)
		data, err := r.uc.source.Fetch(fetchCtx, claimed.SourceURL)
		cancelFetch()

		if err != nil {
			if r.ctx.Err() != nil {
				// The session was paused or cancelled mid-fetch; this is
				// not a tile failure.
				r.releaseTile(claimed.ID, prev)
				return
			}
			permanent := stderrors.Is(err, repository.ErrPermanentFetch)
			if permanent {
				// A 4xx will not succeed on retry; burn the whole attempt
				// budget so later sessions skip the tile.
				if failErr := r.uc.tiles.FailPermanently(bg, claimed.ID, r.cfg.MaxRetries); failErr != nil {
					r.fatalError(failErr)
					return
				}
				attempts = r.cfg.MaxRetries
			} else {
				if failErr := r.uc.tiles.Fail(bg, claimed.ID); failErr != nil {
					r.fatalError(failErr)
					return
				}
				attempts++
			}

			if attempts >= r.cfg.MaxRetries {
				r.recordFailed()
				r.uc.logger.Warn("Tile permanently failed",
					zap.String("cache_id", r.cache.ID),
					zap.String("tile", claimed.Key()),
					zap.Int("attempts", attempts),
					zap.Bool("permanent", permanent),
					zap.Error(err),
				)
				return
			}
			if !r.backoff(attempts) {
				return
			}
			claimed, prev, err = r.uc.tiles.Claim(bg, claimed.ID, r.cfg.MaxRetries)
			if err != nil {
				return
			}
			continue
		}

		checksum := sha256Hex(data)
		path := r.uc.storage.PathFor(r.cache.ID, claimed.Zoom, claimed.X, claimed.Y, r.cache.TileFormat)
		if err := r.uc.storage.Write(bg, path, data); err != nil {
			// Storage failure is fatal to the whole session: disk full or a
			// bad mount will not improve tile by tile.
			r.releaseTile(claimed.ID, prev)
			r.fatalError(fmt.Errorf("write tile %s: %w", claimed.Key(), err))
			return
		}

		stored, err := r.uc.storage.Read(bg, path)
		if err != nil {
			r.releaseTile(claimed.ID, prev)
			r.fatalError(fmt.Errorf("verify tile %s: %w", claimed.Key(), err))
			return
		}
		if sha256Hex(stored) != checksum {
			if markErr := r.uc.tiles.MarkCorrupted(bg, claimed.ID); markErr != nil {
				r.fatalError(markErr)
				return
			}
			attempts++
			r.uc.logger.Warn("Tile checksum mismatch after write",
				zap.String("cache_id", r.cache.ID),
				zap.String("tile", claimed.Key()),
				zap.Int("attempts", attempts),
			)
			if attempts >= r.cfg.MaxRetries {
				r.recordFailed()
				return
			}
			if !r.backoff(attempts) {
				return
			}
			claimed, prev, err = r.uc.tiles.Claim(bg, claimed.ID, r.cfg.MaxRetries)
			if err != nil {
				return
			}
			continue
		}

		if err := r.uc.tiles.Complete(bg, claimed.ID, path, int64(len(data)), checksum); err != nil {
			r.fatalError(err)
			return
		}
		r.recordCompleted(int64(len(data)))
		return
	}
}

// backoff sleeps the exponential delay for the attempt, doubling from the
// base up to the cap. Returns false when the session was interrupted while
// waiting; the tile is already FAILED/CORRUPTED and stays claimable.
func (r *sessionRunner) backoff(attempt int) bool {
	delay := r.cfg.BackoffBase << (attempt - 1)
	if delay > r.cfg.BackoffCap || delay <= 0 {
		delay = r.cfg.BackoffCap
	}

	r.retrying.Add(1)
	r.noteRetry(attempt)
	defer r.retrying.Add(-1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *sessionRunner) releaseTile(id string, prev domain.TileStatus) {
	if err := r.uc.tiles.Release(context.Background(), id, prev); err != nil {
		r.uc.logger.Warn("Failed to release claimed tile", zap.String("tile_id", id), zap.Error(err))
	}
}

func (r *sessionRunner) fatalError(err error) {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *sessionRunner) recordCompleted(bytes int64) {
	if err := r.uc.caches.AddProgress(context.Background(), r.cache.ID, 1, 0, bytes); err != nil {
		r.uc.logger.Warn("Failed to advance cache progress", zap.String("cache_id", r.cache.ID), zap.Error(err))
	}

	r.mu.Lock()
	now := time.Now()
	dt := now.Sub(r.lastSample).Seconds()
	if dt <= 0 {
		dt = 0.001
	}
	instSpeed := float64(bytes) / dt
	instRate := 1 / dt
	if r.speedEWMA == 0 {
		r.speedEWMA = instSpeed
		r.tileRateEWMA = instRate
	} else {
		r.speedEWMA = ewmaAlpha*instSpeed + (1-ewmaAlpha)*r.speedEWMA
		r.tileRateEWMA = ewmaAlpha*instRate + (1-ewmaAlpha)*r.tileRateEWMA
	}
	r.lastSample = now

	r.session.DownloadedTiles++
	r.session.SpeedBytesPerSec = r.speedEWMA
	remaining := r.session.TotalTiles - r.session.DownloadedTiles - r.session.FailedTiles
	if remaining > 0 && r.tileRateEWMA > 0 {
		eta := now.Add(time.Duration(float64(remaining)/r.tileRateEWMA) * time.Second).UTC()
		r.session.EstimatedCompletion = &eta
	} else {
		r.session.EstimatedCompletion = nil
	}
	r.refreshProgressLocked()
	r.persistSessionLocked()
	r.mu.Unlock()
}

func (r *sessionRunner) recordFailed() {
	if err := r.uc.caches.AddProgress(context.Background(), r.cache.ID, 0, 1, 0); err != nil {
		r.uc.logger.Warn("Failed to advance cache progress", zap.String("cache_id", r.cache.ID), zap.Error(err))
	}

	r.mu.Lock()
	r.session.FailedTiles++
	r.refreshProgressLocked()
	r.persistSessionLocked()
	r.mu.Unlock()
}

// noteRetry records the deepest per-tile attempt the session has waited
// out, so RetryCount never exceeds the session's retry budget.
func (r *sessionRunner) noteRetry(attempt int) {
	r.mu.Lock()
	if attempt > r.session.RetryCount {
		r.session.RetryCount = attempt
	}
	if r.session.Status == domain.SessionStatusRunning {
		r.session.Status = domain.SessionStatusRetrying
	}
	r.persistSessionLocked()
	r.mu.Unlock()
}

// refreshProgressLocked recomputes the percentage and folds RETRYING back to
// RUNNING once no worker is waiting out a backoff. Progress only moves
// forward.
func (r *sessionRunner) refreshProgressLocked() {
	if r.session.TotalTiles > 0 {
		pct := float64(r.session.DownloadedTiles) / float64(r.session.TotalTiles) * 100
		if pct > r.session.ProgressPercent {
			r.session.ProgressPercent = pct
		}
	}
	if r.session.Status == domain.SessionStatusRetrying && r.retrying.Load() == 0 {
		r.session.Status = domain.SessionStatusRunning
	}
}

func (r *sessionRunner) persistSessionLocked() {
	cp := *r.session
	if err := r.uc.sessions.Update(context.Background(), &cp); err != nil {
		r.uc.logger.Warn("Failed to persist session progress",
			zap.String("session_id", r.session.ID), zap.Error(err))
	}
}

// finalize settles the session and cache once the workers have drained:
// PAUSED on pause, CANCELLED on cancel, FAILED on a fatal error, and
// otherwise COMPLETED or FAILED depending on whether every tile made it.
// Partial coverage is never reported as success.
func (r *sessionRunner) finalize() {
	bg := context.Background()
	now := time.Now().UTC()

	r.mu.Lock()
	fatal := r.fatal
	if r.session.Status == domain.SessionStatusRetrying && r.retrying.Load() == 0 {
		r.session.Status = domain.SessionStatusRunning
	}
	r.mu.Unlock()

	switch {
	case fatal != nil:
		msg := fatal.Error()
		r.settleSession(domain.SessionStatusFailed, &now, &msg)
		r.settleCache(domain.CacheStatusFailed)
		r.uc.logger.Error("Download session failed",
			zap.String("cache_id", r.cache.ID),
			zap.String("session_id", r.session.ID),
			zap.Error(fatal),
		)

	case r.paused.Load():
		r.settleSession(domain.SessionStatusPaused, nil, nil)
		r.settleCache(domain.CacheStatusPaused)
		r.uc.logger.Info("Download session paused",
			zap.String("cache_id", r.cache.ID),
			zap.String("session_id", r.session.ID),
		)

	case r.cancelled.Load():
		r.settleSession(domain.SessionStatusCancelled, &now, nil)
		r.settleCache(domain.CacheStatusPaused)
		r.uc.logger.Info("Download session cancelled",
			zap.String("cache_id", r.cache.ID),
			zap.String("session_id", r.session.ID),
		)

	default:
		counts, err := r.uc.tiles.CountByStatus(bg, r.cache.ID)
		if err != nil {
			msg := err.Error()
			r.settleSession(domain.SessionStatusFailed, &now, &msg)
			r.settleCache(domain.CacheStatusFailed)
			return
		}
		failed := counts[domain.TileStatusFailed] + counts[domain.TileStatusCorrupted]
		unsettled := counts[domain.TileStatusPending] + counts[domain.TileStatusDownloading]
		r.reconcileCacheCounters(bg, counts)
		if failed == 0 && unsettled == 0 {
			r.completeCache(bg, now)
		} else {
			msg := fmt.Sprintf("%d of %d tiles did not complete", failed+unsettled, r.cache.TotalTiles)
			r.settleSession(domain.SessionStatusFailed, &now, &msg)
			r.settleCache(domain.CacheStatusFailed)
			r.uc.logger.Warn("Download session finished with failures",
				zap.String("cache_id", r.cache.ID),
				zap.String("session_id", r.session.ID),
				zap.Int64("failed_tiles", failed),
				zap.Int64("unsettled_tiles", unsettled),
			)
		}
		r.invalidateStats(bg)
	}
}

// reconcileCacheCounters rewrites the cache's tile counters from the index,
// so repeated sessions over the same tiles can never drift them past the
// pyramid total.
func (r *sessionRunner) reconcileCacheCounters(ctx context.Context, counts map[domain.TileStatus]int64) {
	fresh, err := r.uc.caches.GetByID(ctx, r.cache.ID)
	if err != nil {
		r.uc.logger.Warn("Failed to reconcile cache counters", zap.String("cache_id", r.cache.ID), zap.Error(err))
		return
	}
	fresh.DownloadedTiles = counts[domain.TileStatusCompleted]
	fresh.FailedTiles = counts[domain.TileStatusFailed] + counts[domain.TileStatusCorrupted]
	if err := r.uc.caches.Update(ctx, fresh); err != nil {
		r.uc.logger.Warn("Failed to reconcile cache counters", zap.String("cache_id", r.cache.ID), zap.Error(err))
	}
}

func (r *sessionRunner) completeCache(ctx context.Context, now time.Time) {
	r.mu.Lock()
	r.session.ProgressPercent = 100
	r.session.EstimatedCompletion = nil
	r.mu.Unlock()
	r.settleSession(domain.SessionStatusCompleted, &now, nil)

	if err := r.uc.caches.UpdateStatus(ctx, r.cache.ID, domain.CacheStatusCompleted); err != nil {
		r.uc.logger.Error("Failed to complete cache", zap.String("cache_id", r.cache.ID), zap.Error(err))
		return
	}
	size, err := r.uc.tiles.SumCompletedBytes(ctx, r.cache.ID)
	if err == nil {
		if fresh, err := r.uc.caches.GetByID(ctx, r.cache.ID); err == nil {
			fresh.CacheSizeBytes = size
			fresh.DownloadFinished = &now
			if err := r.uc.caches.Update(ctx, fresh); err != nil {
				r.uc.logger.Warn("Failed to record final cache size",
					zap.String("cache_id", r.cache.ID), zap.Error(err))
			}
		}
	}

	r.uc.logger.Info("Download session completed",
		zap.String("cache_id", r.cache.ID),
		zap.String("session_id", r.session.ID),
		zap.Int64("cache_size_bytes", size),
	)
}

func (r *sessionRunner) settleSession(status domain.SessionStatus, completedAt *time.Time, errMsg *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.session.Status.CanTransitionTo(status) {
		return
	}
	r.session.Status = status
	r.session.CompletedAt = completedAt
	r.session.ErrorMessage = errMsg
	r.persistSessionLocked()
}

func (r *sessionRunner) settleCache(status domain.CacheStatus) {
	if err := r.uc.caches.UpdateStatus(context.Background(), r.cache.ID, status); err != nil {
		r.uc.logger.Warn("Failed to settle cache status",
			zap.String("cache_id", r.cache.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (r *sessionRunner) invalidateStats(ctx context.Context) {
	if r.uc.hot == nil {
		return
	}
	if err := r.uc.hot.InvalidateStats(ctx); err != nil {
		r.uc.logger.Warn("Failed to invalidate statistics cache", zap.Error(err))
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
