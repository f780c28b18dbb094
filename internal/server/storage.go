package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"senryu/internal/kv"
	"senryu/internal/kv/bbolt"
	"senryu/internal/kv/sqlite"
)

// openStore opens the backend named by cfg.StoreDriver.
func openStore(cfg Config, now func() time.Time) (kv.Store, error) {
	switch cfg.StoreDriver {
	case DriverMemory:
		return kv.NewMemory(now), nil
	case DriverSQLite, DriverBolt:
		if cfg.DBPath == "" {
			return nil, errors.New("database path is empty")
		}
		if err := ensureDir(filepath.Dir(cfg.DBPath)); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
		if cfg.StoreDriver == DriverBolt {
			return bbolt.Open(cfg.DBPath, now)
		}
		return sqlite.Open(cfg.DBPath, now)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func ensureDir(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	return os.MkdirAll(path, 0o755)
}

// sweep reclaims expired keys and idle rate-limit buckets until ctx ends.
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Server) sweepOnce(ctx context.Context) {
	if purger, ok := s.backend.(kv.Purger); ok {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			s.logger.Error("purge expired keys", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Info("purged expired keys", slog.Int("count", n))
		}
	}
	if n := s.limiter.prune(s.cfg.SweepInterval); n > 0 {
		s.logger.Debug("pruned rate limiters", slog.Int("count", n))
	}
}

// Close releases the store handle.
func (s *Server) Close() error {
	if closer, ok := s.backend.(kv.Closer); ok {
		return closer.Close()
	}
	return nil
}
