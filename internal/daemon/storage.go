package daemon

import (
	"context"
	"fmt"

	"github.com/al-bashkir/implicit-session/internal/config"
	"github.com/al-bashkir/implicit-session/internal/kv"
	bboltkv "github.com/al-bashkir/implicit-session/internal/kv/bbolt"
	rediskv "github.com/al-bashkir/implicit-session/internal/kv/redis"
	sqlitekv "github.com/al-bashkir/implicit-session/internal/kv/sqlite"
)

// OpenBackend opens the key-value store selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg *config.StorageConfig) (kv.Store, error) {
	switch cfg.Driver {
	case config.DriverBBolt:
		bucket := cfg.Bucket
		if bucket == "" {
			bucket = bboltkv.DefaultBucket
		}
		s, err := bboltkv.Open(cfg.Path, bucket)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverSQLite:
		s, err := sqlitekv.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverRedis:
		s, err := rediskv.Open(ctx, rediskv.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverMemory:
		return kv.NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
