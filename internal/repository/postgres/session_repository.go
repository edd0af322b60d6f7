package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	apperrors "github.com/tilecache-microservice/internal/pkg/errors"
	"go.uber.org/zap"
)

type sessionRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewSessionRepository(db *DB, logger *zap.Logger) repository.SessionRepository {
	return &sessionRepository{db: db, logger: logger}
}

type sessionRow struct {
	domain.DownloadSession
	ConfigJSON   []byte `db:"config"`
	MetadataJSON []byte `db:"metadata"`
}

func (row *sessionRow) toDomain() (*domain.DownloadSession, error) {
	s := row.DownloadSession
	if len(row.ConfigJSON) > 0 {
		if err := json.Unmarshal(row.ConfigJSON, &s.Config); err != nil {
			return nil, fmt.Errorf("unmarshal session config: %w", err)
		}
	}
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return &s, nil
}

const sessionColumns = `
	id, cache_id, status, total_tiles, downloaded_tiles, failed_tiles,
	progress_percent, speed_bytes_per_sec, estimated_completion,
	retry_count, max_retries, error_message, config, metadata,
	started_at, completed_at, created_at, updated_at`

func (r *sessionRepository) Create(ctx context.Context, session *domain.DownloadSession) error {
	cfg, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	query := `
		INSERT INTO download_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.db.ExecContext(ctx, query,
		session.ID, session.CacheID, session.Status, session.TotalTiles,
		session.DownloadedTiles, session.FailedTiles, session.ProgressPercent,
		session.SpeedBytesPerSec, session.EstimatedCompletion,
		session.RetryCount, session.MaxRetries, session.ErrorMessage,
		cfg, metadata, session.StartedAt, session.CompletedAt,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.DownloadSession, error) {
	var row sessionRow
	query := `SELECT ` + sessionColumns + ` FROM download_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("select download session: %w", err)
	}
	return row.toDomain()
}

func (r *sessionRepository) GetActiveByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	var row sessionRow
	query := `
		SELECT ` + sessionColumns + `
		FROM download_sessions
		WHERE cache_id = $1 AND status IN ('PENDING', 'RUNNING', 'RETRYING', 'PAUSED')
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &row, query, cacheID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select active session: %w", err)
	}
	return row.toDomain()
}

func (r *sessionRepository) GetLatestByCache(ctx context.Context, cacheID string) (*domain.DownloadSession, error) {
	var row sessionRow
	query := `
		SELECT ` + sessionColumns + `
		FROM download_sessions
		WHERE cache_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &row, query, cacheID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("select latest session: %w", err)
	}
	return row.toDomain()
}

func (r *sessionRepository) ListByCache(ctx context.Context, cacheID string) ([]*domain.DownloadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM download_sessions
		WHERE cache_id = $1
		ORDER BY created_at
	`
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, cacheID); err != nil {
		return nil, fmt.Errorf("select sessions by cache: %w", err)
	}

	result := make([]*domain.DownloadSession, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

func (r *sessionRepository) Update(ctx context.Context, session *domain.DownloadSession) error {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	query := `
		UPDATE download_sessions SET
			status = $2, downloaded_tiles = $3, failed_tiles = $4,
			progress_percent = $5, speed_bytes_per_sec = $6,
			estimated_completion = $7, retry_count = $8, error_message = $9,
			metadata = $10, started_at = $11, completed_at = $12, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		session.ID, session.Status, session.DownloadedTiles, session.FailedTiles,
		session.ProgressPercent, session.SpeedBytesPerSec,
		session.EstimatedCompletion, session.RetryCount, session.ErrorMessage,
		metadata, session.StartedAt, session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update download session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) DeleteByCache(ctx context.Context, cacheID string) error {
	query := `DELETE FROM download_sessions WHERE cache_id = $1`
	if _, err := r.db.ExecContext(ctx, query, cacheID); err != nil {
		return fmt.Errorf("delete sessions by cache: %w", err)
	}
	return nil
}
