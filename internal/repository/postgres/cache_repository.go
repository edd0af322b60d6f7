package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	apperrors "github.com/tilecache-microservice/internal/pkg/errors"
	"go.uber.org/zap"
)

type cacheRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewCacheRepository(db *DB, logger *zap.Logger) repository.CacheRepository {
	return &cacheRepository{db: db, logger: logger}
}

// cacheRow maps the caches table; polygon, zoom levels and metadata live in
// JSONB columns.
type cacheRow struct {
	domain.Cache
	BoundsJSON   []byte `db:"bounds"`
	ZoomJSON     []byte `db:"zoom_levels"`
	MetadataJSON []byte `db:"metadata"`
}

func (row *cacheRow) toDomain() (*domain.Cache, error) {
	c := row.Cache
	if err := json.Unmarshal(row.BoundsJSON, &c.Bounds); err != nil {
		return nil, fmt.Errorf("unmarshal cache bounds: %w", err)
	}
	if err := json.Unmarshal(row.ZoomJSON, &c.ZoomLevels); err != nil {
		return nil, fmt.Errorf("unmarshal cache zoom levels: %w", err)
	}
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal cache metadata: %w", err)
		}
	}
	return &c, nil
}

const cacheColumns = `
	id, name, description, region_id, region_name, bounds, zoom_levels,
	map_type, tile_source_url, tile_format, status, priority,
	total_tiles, downloaded_tiles, failed_tiles, cache_size_bytes,
	estimated_bytes, compressed, compression_ratio, created_by, metadata,
	download_started_at, download_completed_at, last_accessed_at,
	expires_at, created_at, updated_at`

func (r *cacheRepository) Create(ctx context.Context, cache *domain.Cache) error {
	bounds, err := json.Marshal(cache.Bounds)
	if err != nil {
		return fmt.Errorf("marshal cache bounds: %w", err)
	}
	zoom, err := json.Marshal(cache.ZoomLevels)
	if err != nil {
		return fmt.Errorf("marshal cache zoom levels: %w", err)
	}
	metadata, err := json.Marshal(cache.Metadata)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}

	query := `
		INSERT INTO caches (` + cacheColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`
	_, err = r.db.ExecContext(ctx, query,
		cache.ID, cache.Name, cache.Description, cache.RegionID, cache.RegionName,
		bounds, zoom, cache.MapType, cache.TileSourceURL, cache.TileFormat,
		cache.Status, cache.Priority, cache.TotalTiles, cache.DownloadedTiles,
		cache.FailedTiles, cache.CacheSizeBytes, cache.EstimatedBytes,
		cache.Compressed, cache.CompressionRatio, cache.CreatedBy, metadata,
		cache.DownloadStarted, cache.DownloadFinished, cache.LastAccessedAt,
		cache.ExpiresAt, cache.CreatedAt, cache.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cache: %w", err)
	}
	return nil
}

func (r *cacheRepository) GetByID(ctx context.Context, id string) (*domain.Cache, error) {
	var row cacheRow
	query := `SELECT ` + cacheColumns + ` FROM caches WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrCacheNotFound
		}
		return nil, fmt.Errorf("select cache: %w", err)
	}
	return row.toDomain()
}

func (r *cacheRepository) List(ctx context.Context, filter repository.CacheFilter) ([]*domain.Cache, error) {
	query := `SELECT ` + cacheColumns + ` FROM caches WHERE status != 'DELETED'`
	args := make([]interface{}, 0, 4)

	if filter.RegionID != nil {
		args = append(args, *filter.RegionID)
		query += fmt.Sprintf(" AND region_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.MapType != nil {
		args = append(args, *filter.MapType)
		query += fmt.Sprintf(" AND map_type = $%d", len(args))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	var rows []cacheRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select caches: %w", err)
	}

	result := make([]*domain.Cache, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *cacheRepository) Update(ctx context.Context, cache *domain.Cache) error {
	metadata, err := json.Marshal(cache.Metadata)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}

	query := `
		UPDATE caches SET
			name = $2, description = $3, status = $4, priority = $5,
			total_tiles = $6, downloaded_tiles = $7, failed_tiles = $8,
			cache_size_bytes = $9, estimated_bytes = $10,
			compressed = $11, compression_ratio = $12, metadata = $13,
			download_started_at = $14, download_completed_at = $15,
			last_accessed_at = $16, expires_at = $17, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		cache.ID, cache.Name, cache.Description, cache.Status, cache.Priority,
		cache.TotalTiles, cache.DownloadedTiles, cache.FailedTiles,
		cache.CacheSizeBytes, cache.EstimatedBytes,
		cache.Compressed, cache.CompressionRatio, metadata,
		cache.DownloadStarted, cache.DownloadFinished,
		cache.LastAccessedAt, cache.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update cache: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrCacheNotFound
	}
	return nil
}

func (r *cacheRepository) UpdateStatus(ctx context.Context, id string, next domain.CacheStatus) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return apperrors.ErrInvalidStatusTransition.WithDetails(map[string]interface{}{
			"from": string(current.Status),
			"to":   string(next),
		})
	}

	// Conditional on the status read above so a concurrent transition
	// cannot be overwritten blindly.
	query := `UPDATE caches SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, current.Status, next)
	if err != nil {
		return fmt.Errorf("update cache status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrInvalidStatusTransition
	}
	return nil
}

func (r *cacheRepository) AddProgress(ctx context.Context, id string, downloadedDelta, failedDelta, bytesDelta int64) error {
	query := `
		UPDATE caches SET
			downloaded_tiles = downloaded_tiles + $2,
			failed_tiles = failed_tiles + $3,
			cache_size_bytes = cache_size_bytes + $4,
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, downloadedDelta, failedDelta, bytesDelta)
	if err != nil {
		return fmt.Errorf("update cache progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrCacheNotFound
	}
	return nil
}

func (r *cacheRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Cache, error) {
	query := `
		SELECT ` + cacheColumns + `
		FROM caches
		WHERE expires_at IS NOT NULL
		  AND expires_at < $1
		  AND status NOT IN ('EXPIRED', 'DELETED')
	`
	var rows []cacheRow
	if err := r.db.SelectContext(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("select expired caches: %w", err)
	}

	result := make([]*domain.Cache, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *cacheRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE caches SET status = 'DELETED', updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete cache: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrCacheNotFound
	}
	return nil
}
