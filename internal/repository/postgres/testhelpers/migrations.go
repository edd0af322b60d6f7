package testhelpers

import (
	"context"
	"fmt"
)

// Migrate creates the schema used by the repositories. Kept as plain DDL so
// tests do not depend on an external migration tool.
func (tdb *TestDB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			region_id TEXT NOT NULL,
			region_name TEXT NOT NULL,
			bounds JSONB NOT NULL,
			zoom_levels JSONB NOT NULL,
			map_type TEXT NOT NULL,
			tile_source_url TEXT NOT NULL,
			tile_format TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			total_tiles BIGINT NOT NULL DEFAULT 0,
			downloaded_tiles BIGINT NOT NULL DEFAULT 0,
			failed_tiles BIGINT NOT NULL DEFAULT 0,
			cache_size_bytes BIGINT NOT NULL DEFAULT 0,
			estimated_bytes BIGINT NOT NULL DEFAULT 0,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			compression_ratio DOUBLE PRECISION,
			created_by TEXT,
			metadata JSONB,
			download_started_at TIMESTAMPTZ,
			download_completed_at TIMESTAMPTZ,
			last_accessed_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tiles (
			id TEXT PRIMARY KEY,
			cache_id TEXT NOT NULL REFERENCES caches(id) ON DELETE CASCADE,
			zoom INT NOT NULL,
			x INT NOT NULL,
			y INT NOT NULL,
			source_url TEXT NOT NULL,
			storage_path TEXT,
			file_size_bytes BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			download_attempts INT NOT NULL DEFAULT 0,
			checksum TEXT,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			compression_ratio DOUBLE PRECISION,
			last_attempt_at TIMESTAMPTZ,
			last_accessed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (cache_id, zoom, x, y)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tiles_cache_status ON tiles (cache_id, status)`,
		`CREATE TABLE IF NOT EXISTS download_sessions (
			id TEXT PRIMARY KEY,
			cache_id TEXT NOT NULL REFERENCES caches(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			total_tiles BIGINT NOT NULL DEFAULT 0,
			downloaded_tiles BIGINT NOT NULL DEFAULT 0,
			failed_tiles BIGINT NOT NULL DEFAULT 0,
			progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed_bytes_per_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			estimated_completion TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			error_message TEXT,
			config JSONB,
			metadata JSONB,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_cache_status ON download_sessions (cache_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := tdb.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
