package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state of one download session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusRetrying  SessionStatus = "RETRYING"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusFailed    SessionStatus = "FAILED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:  {SessionStatusRunning, SessionStatusCancelled},
	SessionStatusRunning:  {SessionStatusRetrying, SessionStatusPaused, SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusRetrying: {SessionStatusRunning, SessionStatusPaused, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusPaused:   {SessionStatusRunning, SessionStatusCancelled},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusRetrying,
		SessionStatusPaused, SessionStatusCompleted, SessionStatusFailed,
		SessionStatusCancelled:
		return true
	}
	return false
}

func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the session still holds the cache's download slot.
// A cache has at most one active session at a time.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusRetrying, SessionStatusPaused:
		return true
	}
	return false
}

// SessionConfig carries per-session download tuning.
type SessionConfig struct {
	Concurrency int           `json:"concurrency"`
	MaxRetries  int           `json:"max_retries"`
	TileTimeout time.Duration `json:"tile_timeout"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"`
}

// DownloadSession is one attempt, possibly paused and resumed, to complete a
// cache's tile set.
type DownloadSession struct {
	ID                  string            `json:"id" db:"id"`
	CacheID             string            `json:"cache_id" db:"cache_id"`
	Status              SessionStatus     `json:"status" db:"status"`
	TotalTiles          int64             `json:"total_tiles" db:"total_tiles"`
	DownloadedTiles     int64             `json:"downloaded_tiles" db:"downloaded_tiles"`
	FailedTiles         int64             `json:"failed_tiles" db:"failed_tiles"`
	ProgressPercent     float64           `json:"progress_percent" db:"progress_percent"`
	SpeedBytesPerSec    float64           `json:"speed_bytes_per_sec" db:"speed_bytes_per_sec"`
	EstimatedCompletion *time.Time        `json:"estimated_completion,omitempty" db:"estimated_completion"`
	RetryCount          int               `json:"retry_count" db:"retry_count"`
	MaxRetries          int               `json:"max_retries" db:"max_retries"`
	ErrorMessage        *string           `json:"error_message,omitempty" db:"error_message"`
	Config              SessionConfig     `json:"config" db:"-"`
	Metadata            map[string]string `json:"metadata,omitempty" db:"-"`
	StartedAt           *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// NewDownloadSession builds a PENDING session for a cache.
func NewDownloadSession(cacheID string, totalTiles int64, cfg SessionConfig) *DownloadSession {
	now := time.Now().UTC()
	return &DownloadSession{
		ID:         uuid.NewString(),
		CacheID:    cacheID,
		Status:     SessionStatusPending,
		TotalTiles: totalTiles,
		MaxRetries: cfg.MaxRetries,
		Config:     cfg,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
