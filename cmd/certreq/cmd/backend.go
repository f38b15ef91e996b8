package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/internal/config"
	"github.com/jmcleod/certreq/storage"
	bboltstorage "github.com/jmcleod/certreq/storage/bbolt"
	"github.com/jmcleod/certreq/storage/memory"
	pgstorage "github.com/jmcleod/certreq/storage/postgres"
	redisstorage "github.com/jmcleod/certreq/storage/redis"
)

// openRepository opens the configured storage backend. The returned close
// function releases it.
func openRepository(ctx context.Context, sc config.StorageConfig) (storage.Repository, func(), error) {
	switch sc.Driver {
	case config.DriverMemory:
		return memory.NewRepository(), func() {}, nil
	case config.DriverBbolt:
		if dir := filepath.Dir(sc.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		repo, err := bboltstorage.NewRepositoryFromFile(sc.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.DriverPostgres:
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, sc.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	case config.DriverRedis:
		repo, err := redisstorage.NewRepositoryFromAddr(ctx, sc.RedisAddr, sc.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

// openProvider opens the configured backend and wraps it in a channel
// provider.
func openProvider(ctx context.Context) (*channel.Provider, func(), error) {
	repo, closeFn, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return channel.NewProvider(repo, channel.WithLogger(log)), closeFn, nil
}

func scannerConfig() certificates.ScannerConfig {
	return certificates.ScannerConfig{NotificationWindow: cfg.NotificationWindow()}
}

// newRequirer binds a Requirer to sessionID with the configured scanner.
func newRequirer(p *channel.Provider, sessionID string, opts ...certificates.Option) (*certificates.Requirer, error) {
	opts = append([]certificates.Option{certificates.WithLogger(log)}, opts...)
	return certificates.NewRequirer(p.Open(sessionID), scannerConfig(), opts...)
}
