package repository

import (
	"context"

	"github.com/tilecache-microservice/internal/domain"
)

// SessionRepository persists download sessions. The invariant that a cache
// has at most one active session is enforced by the orchestrator through
// GetActiveByCache before Create.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.DownloadSession) error

	GetByID(ctx context.Context, id string) (*domain.DownloadSession, error)

	// GetActiveByCache returns the PENDING/RUNNING/RETRYING/PAUSED session
	// for the cache, or nil when there is none.
	GetActiveByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error)

	// GetLatestByCache returns the most recently created session.
	GetLatestByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error)

	ListByCache(ctx context.Context, cacheID string) ([]*domain.DownloadSession, error)

	Update(ctx context.Context, session *domain.DownloadSession) error

	DeleteByCache(ctx context.Context, cacheID string) error
}
