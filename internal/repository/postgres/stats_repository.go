package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"go.uber.org/zap"
)

type statsRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewStatsRepository(db *DB, logger *zap.Logger) repository.StatsRepository {
	return &statsRepository{db: db, logger: logger}
}

func (r *statsRepository) GlobalStats(ctx context.Context, rng domain.StatsRange) (*domain.CacheStatistics, error) {
	stats := &domain.CacheStatistics{
		ByStatus:    make(map[domain.CacheStatus]int),
		ByMapType:   make(map[domain.MapType]int),
		GeneratedAt: time.Now().UTC(),
	}

	where, args := rangeClause(rng)

	query := `
		SELECT status, COUNT(*) AS count
		FROM caches
		` + where + `
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cache status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.CacheStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan cache status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TotalCaches += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache status counts rows error: %w", err)
	}

	typeQuery := `
		SELECT map_type, COUNT(*) AS count
		FROM caches
		` + where + `
		GROUP BY map_type
	`
	typeRows, err := r.db.QueryContext(ctx, typeQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query cache map type counts: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var mapType domain.MapType
		var count int
		if err := typeRows.Scan(&mapType, &count); err != nil {
			return nil, fmt.Errorf("scan cache map type count: %w", err)
		}
		stats.ByMapType[mapType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("cache map type counts rows error: %w", err)
	}

	totalsQuery := `
		SELECT
			COALESCE(SUM(cache_size_bytes), 0),
			COALESCE(SUM(total_tiles), 0),
			COALESCE(SUM(downloaded_tiles), 0),
			COALESCE(AVG(CASE WHEN total_tiles > 0
				THEN downloaded_tiles::float / total_tiles
				ELSE 0 END), 0)
		FROM caches
		` + where + `
	`
	if err := r.db.QueryRowContext(ctx, totalsQuery, args...).Scan(
		&stats.TotalBytes, &stats.TotalTiles, &stats.DownloadedTiles, &stats.AverageProgress,
	); err != nil {
		return nil, fmt.Errorf("query cache totals: %w", err)
	}

	activeQuery := `
		SELECT COUNT(*)
		FROM download_sessions
		WHERE status IN ('PENDING', 'RUNNING', 'RETRYING', 'PAUSED')
	`
	if err := r.db.QueryRowContext(ctx, activeQuery).Scan(&stats.ActiveSessions); err != nil {
		return nil, fmt.Errorf("query active session count: %w", err)
	}

	return stats, nil
}

func (r *statsRepository) RegionStats(ctx context.Context, rng domain.StatsRange, regionID string) ([]*domain.RegionStatistics, error) {
	where, args := rangeClause(rng)
	if regionID != "" {
		args = append(args, regionID)
		where += fmt.Sprintf(" AND region_id = $%d", len(args))
	}

	query := `
		SELECT
			region_id, region_name, status, COUNT(*),
			COALESCE(SUM(cache_size_bytes), 0),
			COALESCE(SUM(CASE WHEN total_tiles > 0
				THEN downloaded_tiles::float / total_tiles
				ELSE 0 END), 0)
		FROM caches
		` + where + `
		GROUP BY region_id, region_name, status
		ORDER BY region_id
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query region stats: %w", err)
	}
	defer rows.Close()

	byRegion := make(map[string]*domain.RegionStatistics)
	progress := make(map[string]float64)
	order := make([]string, 0)

	for rows.Next() {
		var id, name string
		var status domain.CacheStatus
		var count int
		var bytes int64
		var progressSum float64
		if err := rows.Scan(&id, &name, &status, &count, &bytes, &progressSum); err != nil {
			return nil, fmt.Errorf("scan region stats: %w", err)
		}

		rs, ok := byRegion[id]
		if !ok {
			rs = &domain.RegionStatistics{
				RegionID:   id,
				RegionName: name,
				ByStatus:   make(map[domain.CacheStatus]int),
			}
			byRegion[id] = rs
			order = append(order, id)
		}
		rs.ByStatus[status] = count
		rs.TotalCaches += count
		rs.TotalBytes += bytes
		progress[id] += progressSum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("region stats rows error: %w", err)
	}

	result := make([]*domain.RegionStatistics, 0, len(order))
	for _, id := range order {
		rs := byRegion[id]
		if rs.TotalCaches > 0 {
			rs.AverageProgress = progress[id] / float64(rs.TotalCaches)
		}
		result = append(result, rs)
	}
	return result, nil
}

// rangeClause builds the shared WHERE prefix: non-deleted caches created
// within the range.
func rangeClause(rng domain.StatsRange) (string, []interface{}) {
	where := "WHERE status != 'DELETED'"
	args := make([]interface{}, 0, 2)
	if !rng.From.IsZero() {
		args = append(args, rng.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !rng.To.IsZero() {
		args = append(args, rng.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	return where, args
}
