package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	apperrors "github.com/tilecache-microservice/internal/pkg/errors"
	"go.uber.org/zap"
)

type tileRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewTileRepository(db *DB, logger *zap.Logger) repository.TileRepository {
	return &tileRepository{db: db, logger: logger}
}

const tileColumns = `
	id, cache_id, zoom, x, y, source_url, storage_path, file_size_bytes,
	status, download_attempts, checksum, compressed, compression_ratio,
	last_attempt_at, last_accessed_at, created_at, updated_at`

func (r *tileRepository) CreateBatch(ctx context.Context, tiles []*domain.Tile) error {
	if len(tiles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tile batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO tiles (`+tileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`)
	if err != nil {
		return fmt.Errorf("prepare tile insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tiles {
		_, err = stmt.ExecContext(ctx,
			t.ID, t.CacheID, t.Zoom, t.X, t.Y, t.SourceURL, t.StoragePath,
			t.FileSizeBytes, t.Status, t.DownloadAttempts, t.Checksum,
			t.Compressed, t.CompressionRatio, t.LastAttemptAt, t.LastAccessedAt,
			t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert tile %s: %w", t.Key(), err)
		}
	}
	return tx.Commit()
}

func (r *tileRepository) GetByID(ctx context.Context, id string) (*domain.Tile, error) {
	var tile domain.Tile
	query := `SELECT ` + tileColumns + ` FROM tiles WHERE id = $1`
	if err := r.db.GetContext(ctx, &tile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrTileNotFound
		}
		return nil, fmt.Errorf("select tile: %w", err)
	}
	return &tile, nil
}

func (r *tileRepository) GetByKey(ctx context.Context, cacheID string, zoom, x, y int) (*domain.Tile, error) {
	var tile domain.Tile
	query := `SELECT ` + tileColumns + ` FROM tiles WHERE cache_id = $1 AND zoom = $2 AND x = $3 AND y = $4`
	if err := r.db.GetContext(ctx, &tile, query, cacheID, zoom, x, y); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrTileNotFound
		}
		return nil, fmt.Errorf("select tile by key: %w", err)
	}
	return &tile, nil
}

func (r *tileRepository) ListByCache(ctx context.Context, cacheID string, filter repository.TileFilter) ([]*domain.Tile, int, error) {
	where := "WHERE cache_id = $1"
	args := []interface{}{cacheID}

	if filter.Zoom != nil {
		args = append(args, *filter.Zoom)
		where += fmt.Sprintf(" AND zoom = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tiles "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count tiles: %w", err)
	}

	query := `SELECT ` + tileColumns + ` FROM tiles ` + where + ` ORDER BY zoom, x, y`
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, (page-1)*filter.Limit)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var tiles []*domain.Tile
	if err := r.db.SelectContext(ctx, &tiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("select tiles: %w", err)
	}
	return tiles, total, nil
}

func (r *tileRepository) ListClaimable(ctx context.Context, cacheID string, maxRetries int) ([]*domain.Tile, error) {
	query := `
		SELECT ` + tileColumns + `
		FROM tiles
		WHERE cache_id = $1
		  AND (status = 'PENDING'
		       OR (status IN ('FAILED', 'CORRUPTED') AND download_attempts < $2))
		ORDER BY zoom, x, y
	`
	var tiles []*domain.Tile
	if err := r.db.SelectContext(ctx, &tiles, query, cacheID, maxRetries); err != nil {
		return nil, fmt.Errorf("select claimable tiles: %w", err)
	}
	return tiles, nil
}

// Claim is a single conditional UPDATE. The CTE takes the row lock before
// reading the prior status, so a claimer racing from another process blocks
// there and re-reads the committed DOWNLOADING status instead of its
// snapshot; exactly one worker wins.
func (r *tileRepository) Claim(ctx context.Context, id string, maxRetries int) (*domain.Tile, domain.TileStatus, error) {
	query := `
		WITH old AS (
			SELECT id, status AS prev_status FROM tiles WHERE id = $1 FOR UPDATE
		)
		UPDATE tiles AS t
		SET status = 'DOWNLOADING', updated_at = NOW()
		FROM old
		WHERE t.id = old.id
		  AND (old.prev_status = 'PENDING'
		       OR (old.prev_status IN ('FAILED', 'CORRUPTED') AND t.download_attempts < $2))
		RETURNING ` + prefixedTileColumns("t") + `, old.prev_status
	`
	row := r.db.QueryRowxContext(ctx, query, id, maxRetries)

	var tile domain.Tile
	var prev domain.TileStatus
	if err := row.Scan(
		&tile.ID, &tile.CacheID, &tile.Zoom, &tile.X, &tile.Y, &tile.SourceURL,
		&tile.StoragePath, &tile.FileSizeBytes, &tile.Status, &tile.DownloadAttempts,
		&tile.Checksum, &tile.Compressed, &tile.CompressionRatio,
		&tile.LastAttemptAt, &tile.LastAccessedAt, &tile.CreatedAt, &tile.UpdatedAt,
		&prev,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", apperrors.ErrTileAlreadyClaimed
		}
		return nil, "", fmt.Errorf("claim tile: %w", err)
	}
	return &tile, prev, nil
}

func (r *tileRepository) Release(ctx context.Context, id string, prev domain.TileStatus) error {
	query := `UPDATE tiles SET status = $2, updated_at = NOW() WHERE id = $1 AND status = 'DOWNLOADING'`
	if _, err := r.db.ExecContext(ctx, query, id, prev); err != nil {
		return fmt.Errorf("release tile: %w", err)
	}
	return nil
}

func (r *tileRepository) Complete(ctx context.Context, id string, storagePath string, sizeBytes int64, checksum string) error {
	query := `
		UPDATE tiles SET
			status = 'COMPLETED', storage_path = $2, file_size_bytes = $3,
			checksum = $4, last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, storagePath, sizeBytes, checksum)
	if err != nil {
		return fmt.Errorf("complete tile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrTileNotFound
	}
	return nil
}

func (r *tileRepository) MarkCorrupted(ctx context.Context, id string) error {
	return r.markAttempt(ctx, id, domain.TileStatusCorrupted)
}

func (r *tileRepository) Fail(ctx context.Context, id string) error {
	return r.markAttempt(ctx, id, domain.TileStatusFailed)
}

func (r *tileRepository) FailPermanently(ctx context.Context, id string, maxRetries int) error {
	query := `
		UPDATE tiles SET
			status = 'FAILED', download_attempts = GREATEST(download_attempts + 1, $2),
			last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, maxRetries)
	if err != nil {
		return fmt.Errorf("fail tile permanently: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrTileNotFound
	}
	return nil
}

func (r *tileRepository) markAttempt(ctx context.Context, id string, status domain.TileStatus) error {
	query := `
		UPDATE tiles SET
			status = $2, download_attempts = download_attempts + 1,
			last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("mark tile attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrTileNotFound
	}
	return nil
}

func (r *tileRepository) TouchAccess(ctx context.Context, id string) error {
	query := `UPDATE tiles SET last_accessed_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("touch tile access: %w", err)
	}
	return nil
}

func (r *tileRepository) CountByStatus(ctx context.Context, cacheID string) (map[domain.TileStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS count FROM tiles WHERE cache_id = $1 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, cacheID)
	if err != nil {
		return nil, fmt.Errorf("count tiles by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TileStatus]int64)
	for rows.Next() {
		var status domain.TileStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan tile status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tile status counts rows error: %w", err)
	}
	return counts, nil
}

func (r *tileRepository) SumCompletedBytes(ctx context.Context, cacheID string) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(file_size_bytes), 0) FROM tiles WHERE cache_id = $1 AND status = 'COMPLETED'`
	if err := r.db.GetContext(ctx, &total, query, cacheID); err != nil {
		return 0, fmt.Errorf("sum completed tile bytes: %w", err)
	}
	return total, nil
}

func (r *tileRepository) UpdateStatusByCache(ctx context.Context, cacheID string, next domain.TileStatus) error {
	query := `UPDATE tiles SET status = $2, updated_at = NOW() WHERE cache_id = $1`
	if _, err := r.db.ExecContext(ctx, query, cacheID, next); err != nil {
		return fmt.Errorf("update tiles status by cache: %w", err)
	}
	return nil
}

func (r *tileRepository) DeleteByCache(ctx context.Context, cacheID string) error {
	query := `DELETE FROM tiles WHERE cache_id = $1`
	if _, err := r.db.ExecContext(ctx, query, cacheID); err != nil {
		return fmt.Errorf("delete tiles by cache: %w", err)
	}
	return nil
}

func prefixedTileColumns(alias string) string {
	return alias + `.id, ` + alias + `.cache_id, ` + alias + `.zoom, ` + alias + `.x, ` + alias + `.y, ` +
		alias + `.source_url, ` + alias + `.storage_path, ` + alias + `.file_size_bytes, ` +
		alias + `.status, ` + alias + `.download_attempts, ` + alias + `.checksum, ` +
		alias + `.compressed, ` + alias + `.compression_ratio, ` +
		alias + `.last_attempt_at, ` + alias + `.last_accessed_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
