package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend    string
	SQLitePath string
	Redis      redis.Options
	RedisTTL   time.Duration
}

// Open creates the configured store. The returned close func releases it.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	switch opts.Backend {
	case BackendSQLite:
		db, err := NewSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case BackendRedis:
		r, err := NewRedis(ctx, &opts.Redis, opts.RedisTTL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case BackendMemory, "":
		return NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
