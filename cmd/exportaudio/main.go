package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/miniapp-chat/app/storage"
	"nuclight.org/miniapp-chat/pkg/audio"
	"nuclight.org/miniapp-chat/pkg/logger"
)

var opts struct {
	Storage       string `long:"storage" env:"STORAGE" default:"sqlite" choice:"sqlite" choice:"redis" description:"session log storage backend"`
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./db/chat.sqlite" description:"path to the sqlite database file"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"redis address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"redis database"`
	OutputDir     string `long:"output" env:"OUTPUT_DIR" default:"./files" description:"output directory for exported audio"`
	Workers       int    `long:"workers" env:"EXPORT_WORKERS_NUM" default:"5" description:"number of concurrent export workers"`
	LogLevel      string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
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
	log.Info("starting audio export")

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

	tasks, err := collect(ctx, storage.NewCache(log, store))
	if err != nil {
		log.Error("collecting audio", "error", err)
		os.Exit(1)
	}

	log.Info("files to export", "count", len(tasks))

	st := export(ctx, log, &audio.FileSink{Dir: opts.OutputDir}, tasks, opts.Workers)

	log.Info("done",
		"exported", st.exported.Load(),
		"skipped", st.skipped.Load(),
		"failed", st.failed.Load(),
	)
}

type exportTask struct {
	name string
	b64  string
}

type stats struct {
	exported atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// collect gathers every inline audio payload of every persisted session log.
// The same message seen in several logs is exported once.
func collect(ctx context.Context, cache *storage.Cache) ([]exportTask, error) {
	keys, err := cache.UserKeys(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []exportTask
	seen := make(map[string]struct{})

	for _, key := range keys {
		list, ok := cache.Read(ctx, key)
		if !ok {
			continue
		}

		for _, m := range list {
			if !m.HasAudio() {
				continue
			}

			name := key + "-" + m.ID + audio.Extension(m.AudioMime)
			if _, exists := seen[name]; exists {
				continue
			}
			seen[name] = struct{}{}

			tasks = append(tasks, exportTask{name: name, b64: m.AudioBase64})
		}
	}

	return tasks, nil
}

func export(ctx context.Context, log logger.Logger, sink *audio.FileSink, tasks []exportTask, workers int) *stats {
	st := &stats{}
	if len(tasks) == 0 {
		return st
	}

	taskChan := make(chan exportTask, len(tasks))
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	var wg sync.WaitGroup
	for i := 0; i < max(workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				// skip if file already exists
				if _, err := os.Stat(filepath.Join(sink.Dir, task.name)); err == nil {
					st.skipped.Add(1)
					continue
				}

				data, err := audio.Decode(task.b64)
				if err != nil {
					log.Error("decoding audio", "error", err, "name", task.name)
					st.failed.Add(1)
					continue
				}

				if _, err = sink.Write(task.name, data); err != nil {
					log.Error("writing file", "error", err, "name", task.name)
					st.failed.Add(1)
					continue
				}

				if n := st.exported.Add(1); n%10 == 0 {
					log.Debug("progress", "exported", n)
				}
			}
		}()
	}

	wg.Wait()

	return st
}
