// Package memory implements the repository contracts with mutex-guarded
// maps. It backs the unit and property tests and serves as a reference for
// the conditional-update semantics the postgres implementations provide.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/pkg/errors"
)

type CacheRepository struct {
	mu     sync.RWMutex
	caches map[string]*domain.Cache
}

func NewCacheRepository() *CacheRepository {
	return &CacheRepository{caches: make(map[string]*domain.Cache)}
}

func (r *CacheRepository) Create(ctx context.Context, cache *domain.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *cache
	r.caches[cache.ID] = &cp
	return nil
}

func (r *CacheRepository) GetByID(ctx context.Context, id string) (*domain.Cache, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caches[id]
	if !ok {
		return nil, errors.ErrCacheNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CacheRepository) List(ctx context.Context, filter repository.CacheFilter) ([]*domain.Cache, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Cache, 0)
	for _, c := range r.caches {
		if c.Status == domain.CacheStatusDeleted {
			continue
		}
		if filter.RegionID != nil && c.RegionID != *filter.RegionID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.MapType != nil && c.MapType != *filter.MapType {
			continue
		}
		if filter.Priority != nil && c.Priority != *filter.Priority {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	return result, nil
}

func (r *CacheRepository) Update(ctx context.Context, cache *domain.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.caches[cache.ID]; !ok {
		return errors.ErrCacheNotFound
	}
	cp := *cache
	cp.UpdatedAt = time.Now().UTC()
	r.caches[cache.ID] = &cp
	return nil
}

func (r *CacheRepository) UpdateStatus(ctx context.Context, id string, next domain.CacheStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[id]
	if !ok {
		return errors.ErrCacheNotFound
	}
	if !c.Status.CanTransitionTo(next) {
		return errors.ErrInvalidStatusTransition.WithDetails(map[string]interface{}{
			"from": string(c.Status),
			"to":   string(next),
		})
	}
	c.Status = next
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CacheRepository) AddProgress(ctx context.Context, id string, downloadedDelta, failedDelta, bytesDelta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[id]
	if !ok {
		return errors.ErrCacheNotFound
	}
	c.DownloadedTiles += downloadedDelta
	c.FailedTiles += failedDelta
	c.CacheSizeBytes += bytesDelta
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CacheRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Cache, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Cache, 0)
	for _, c := range r.caches {
		if c.IsExpired(now) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *CacheRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[id]
	if !ok {
		return errors.ErrCacheNotFound
	}
	c.Status = domain.CacheStatusDeleted
	c.UpdatedAt = time.Now().UTC()
	return nil
}
