package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/pkg/errors"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.DownloadSession
	// order preserves creation order per cache for GetLatestByCache.
	order map[string][]string
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*domain.DownloadSession),
		order:    make(map[string][]string),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.DownloadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *session
	r.sessions[session.ID] = &cp
	r.order[session.CacheID] = append(r.order[session.CacheID], session.ID)
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.DownloadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepository) GetActiveByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order[cacheID] {
		s := r.sessions[id]
		if s.Status.Active() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *SessionRepository) GetLatestByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order[cacheID]
	if len(ids) == 0 {
		return nil, errors.ErrSessionNotFound
	}
	cp := *r.sessions[ids[len(ids)-1]]
	return &cp, nil
}

func (r *SessionRepository) ListByCache(ctx context.Context, cacheID string) ([]*domain.DownloadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.DownloadSession, 0, len(r.order[cacheID]))
	for _, id := range r.order[cacheID] {
		cp := *r.sessions[id]
		result = append(result, &cp)
	}
	return result, nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.DownloadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return errors.ErrSessionNotFound
	}
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	r.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepository) DeleteByCache(ctx context.Context, cacheID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order[cacheID] {
		delete(r.sessions, id)
	}
	delete(r.order, cacheID)
	return nil
}
