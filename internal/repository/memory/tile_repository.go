package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/pkg/errors"
)

type TileRepository struct {
	mu    sync.Mutex
	tiles map[string]*domain.Tile
	// byCache keeps insertion order per cache so listings are stable.
	byCache map[string][]string
}

func NewTileRepository() *TileRepository {
	return &TileRepository{
		tiles:   make(map[string]*domain.Tile),
		byCache: make(map[string][]string),
	}
}

func (r *TileRepository) CreateBatch(ctx context.Context, tiles []*domain.Tile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tiles {
		cp := *t
		r.tiles[t.ID] = &cp
		r.byCache[t.CacheID] = append(r.byCache[t.CacheID], t.ID)
	}
	return nil
}

func (r *TileRepository) GetByID(ctx context.Context, id string) (*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return nil, errors.ErrTileNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TileRepository) GetByKey(ctx context.Context, cacheID string, zoom, x, y int) (*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byCache[cacheID] {
		t := r.tiles[id]
		if t.Zoom == zoom && t.X == x && t.Y == y {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errors.ErrTileNotFound
}

func (r *TileRepository) ListByCache(ctx context.Context, cacheID string, filter repository.TileFilter) ([]*domain.Tile, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*domain.Tile, 0)
	for _, id := range r.byCache[cacheID] {
		t := r.tiles[id]
		if filter.Zoom != nil && t.Zoom != *filter.Zoom {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	total := len(matched)

	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.Limit
		if start >= total {
			return []*domain.Tile{}, total, nil
		}
		end := start + filter.Limit
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (r *TileRepository) ListClaimable(ctx context.Context, cacheID string, maxRetries int) ([]*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*domain.Tile, 0)
	for _, id := range r.byCache[cacheID] {
		t := r.tiles[id]
		if t.Status.Claimable(t.DownloadAttempts, maxRetries) {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Zoom < result[j].Zoom
	})
	return result, nil
}

func (r *TileRepository) Claim(ctx context.Context, id string, maxRetries int) (*domain.Tile, domain.TileStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return nil, "", errors.ErrTileNotFound
	}
	if !t.Status.Claimable(t.DownloadAttempts, maxRetries) {
		return nil, "", errors.ErrTileAlreadyClaimed
	}
	prev := t.Status
	t.Status = domain.TileStatusDownloading
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, prev, nil
}

func (r *TileRepository) Release(ctx context.Context, id string, prev domain.TileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return errors.ErrTileNotFound
	}
	if t.Status != domain.TileStatusDownloading {
		return nil
	}
	t.Status = prev
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TileRepository) Complete(ctx context.Context, id string, storagePath string, sizeBytes int64, checksum string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return errors.ErrTileNotFound
	}
	now := time.Now().UTC()
	t.Status = domain.TileStatusCompleted
	t.StoragePath = &storagePath
	t.FileSizeBytes = sizeBytes
	t.Checksum = &checksum
	t.LastAttemptAt = &now
	t.UpdatedAt = now
	return nil
}

func (r *TileRepository) MarkCorrupted(ctx context.Context, id string) error {
	return r.markAttempt(id, domain.TileStatusCorrupted)
}

func (r *TileRepository) Fail(ctx context.Context, id string) error {
	return r.markAttempt(id, domain.TileStatusFailed)
}

func (r *TileRepository) FailPermanently(ctx context.Context, id string, maxRetries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return errors.ErrTileNotFound
	}
	now := time.Now().UTC()
	t.Status = domain.TileStatusFailed
	t.DownloadAttempts++
	if t.DownloadAttempts < maxRetries {
		t.DownloadAttempts = maxRetries
	}
	t.LastAttemptAt = &now
	t.UpdatedAt = now
	return nil
}

func (r *TileRepository) markAttempt(id string, status domain.TileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return errors.ErrTileNotFound
	}
	now := time.Now().UTC()
	t.Status = status
	t.DownloadAttempts++
	t.LastAttemptAt = &now
	t.UpdatedAt = now
	return nil
}

func (r *TileRepository) TouchAccess(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[id]
	if !ok {
		return errors.ErrTileNotFound
	}
	now := time.Now().UTC()
	t.LastAccessedAt = &now
	return nil
}

func (r *TileRepository) CountByStatus(ctx context.Context, cacheID string) (map[domain.TileStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.TileStatus]int64)
	for _, id := range r.byCache[cacheID] {
		counts[r.tiles[id].Status]++
	}
	return counts, nil
}

func (r *TileRepository) SumCompletedBytes(ctx context.Context, cacheID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, id := range r.byCache[cacheID] {
		t := r.tiles[id]
		if t.Status == domain.TileStatusCompleted {
			total += t.FileSizeBytes
		}
	}
	return total, nil
}

func (r *TileRepository) UpdateStatusByCache(ctx context.Context, cacheID string, next domain.TileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range r.byCache[cacheID] {
		t := r.tiles[id]
		t.Status = next
		t.UpdatedAt = now
	}
	return nil
}

func (r *TileRepository) DeleteByCache(ctx context.Context, cacheID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byCache[cacheID] {
		delete(r.tiles, id)
	}
	delete(r.byCache, cacheID)
	return nil
}
