package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/miniapp-chat/app/storage"
	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/history"
	"nuclight.org/miniapp-chat/pkg/logger"
)

var opts struct {
	Storage       string        `long:"storage" env:"STORAGE" default:"sqlite" choice:"sqlite" choice:"redis" description:"session log storage backend"`
	DBPath        string        `long:"db-path" env:"DB_PATH" default:"./db/chat.sqlite" description:"path to the sqlite database file"`
	RedisAddr     string        `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"redis address"`
	RedisPassword string        `long:"redis-password" env:"REDIS_PASSWORD" description:"redis password"`
	RedisDB       int           `long:"redis-db" env:"REDIS_DB" default:"0" description:"redis database"`
	RedisTTL      time.Duration `long:"redis-ttl" env:"REDIS_TTL" default:"0" description:"expiration of rewritten session logs in redis"`
	DryRun        bool          `short:"n" long:"dry-run" description:"only report what would change"`
	LogLevel      string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "loading .env:", err)
	}

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)
	log.Info("starting compaction", "storage", opts.Storage, "dry_run", opts.DryRun)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := storage.Open(ctx, storage.Options{
		Backend:    opts.Storage,
		SQLitePath: opts.DBPath,
		Redis: redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		},
		RedisTTL: opts.RedisTTL,
	})
	if err != nil {
		log.Error("opening storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("closing storage", "error", err)
		}
	}()

	res, err := compact(ctx, log, storage.NewCache(log, store), opts.DryRun)
	if err != nil {
		log.Error("compacting session logs", "error", err)
		os.Exit(1)
	}

	log.Info("done",
		"logs", res.logs,
		"rewritten", res.rewritten,
		"dropped", res.dropped,
		"failed", res.failed,
	)
}

type result struct {
	logs      int
	rewritten int
	dropped   int
	failed    int
}

// compact rewrites every persisted session log in canonical form: duplicates
// dropped and entries ordered by creation time.
func compact(ctx context.Context, log logger.Logger, cache *storage.Cache, dryRun bool) (result, error) {
	var res result

	keys, err := cache.UserKeys(ctx)
	if err != nil {
		return res, err
	}

	log.Info("session logs found", "count", len(keys))

	for _, key := range keys {
		if err = ctx.Err(); err != nil {
			log.Info("context done, stopping")
			return res, err
		}

		list, ok := cache.Read(ctx, key)
		if !ok {
			continue
		}
		res.logs++

		canonical := history.Canonicalize(list)
		if sameOrder(list, canonical) {
			continue
		}

		dropped := len(list) - len(canonical)
		log.Debug("log needs compaction", "user_key", key, "messages", len(list), "dropped", dropped)

		if dryRun {
			res.rewritten++
			res.dropped += dropped
			continue
		}

		if err = cache.Save(ctx, key, canonical); err != nil {
			res.failed++
			continue
		}

		res.rewritten++
		res.dropped += dropped
	}

	return res, nil
}

func sameOrder(a, b []e.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
