// Package filestore keeps tile bytes on local disk, laid out as
// <base>/<cacheID>/<z>/<x>/<y>.<format>. Writes go to a temporary file in
// the target directory and are renamed into place, so an aborted download
// never leaves a truncated tile at the final path.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tilecache-microservice/internal/domain/repository"
	"go.uber.org/zap"
)

type Store struct {
	basePath string
	logger   *zap.Logger
}

func New(basePath string, logger *zap.Logger) (*Store, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &Store{basePath: abs, logger: logger}, nil
}

var _ repository.TileStorageRepository = (*Store)(nil)

func (s *Store) PathFor(cacheID string, zoom, x, y int, format string) string {
	return filepath.Join(s.basePath, cacheID,
		fmt.Sprintf("%d", zoom), fmt.Sprintf("%d", x), fmt.Sprintf("%d.%s", y, format))
}

func (s *Store) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tile directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return fmt.Errorf("create temp tile file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tile bytes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp tile file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename tile into place: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tile file: %w", err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat tile file: %w", err)
}

func (s *Store) DeleteCache(ctx context.Context, cacheID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.basePath, cacheID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cache directory: %w", err)
	}
	s.logger.Debug("Removed cache tile directory", zap.String("cache_id", cacheID))
	return nil
}
