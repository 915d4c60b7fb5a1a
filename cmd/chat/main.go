package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/miniapp-chat/app/chat"
	"nuclight.org/miniapp-chat/app/identity"
	"nuclight.org/miniapp-chat/app/storage"
	"nuclight.org/miniapp-chat/pkg/assistant"
	"nuclight.org/miniapp-chat/pkg/audio"
	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/logger"
)

var opts struct {
	APIBase        string        `long:"api-base" env:"API_BASE" default:"http://localhost:8000" description:"assistant backend base url"`
	Timeout        time.Duration `long:"timeout" env:"REQUEST_TIMEOUT" default:"120s" description:"timeout of a single backend request"`
	IdentityWait   time.Duration `long:"identity-wait" env:"IDENTITY_WAIT" default:"5s" description:"how long to wait for the telegram identity"`
	InitData       string        `long:"init-data" env:"TG_INIT_DATA" description:"telegram web app init data"`
	BotToken       string        `long:"bot-token" env:"TELEGRAM_API_TOKEN" description:"bot token used to validate init data"`
	InitDataMaxAge time.Duration `long:"init-data-max-age" env:"INIT_DATA_MAX_AGE" default:"24h" description:"maximum age of validated init data, 0 disables the check"`

	Storage       string        `long:"storage" env:"STORAGE" default:"sqlite" choice:"sqlite" choice:"redis" choice:"memory" description:"session log storage backend"`
	DBPath        string        `long:"db-path" env:"DB_PATH" default:"./db/chat.sqlite" description:"path to the sqlite database file"`
	RedisAddr     string        `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"redis address"`
	RedisPassword string        `long:"redis-password" env:"REDIS_PASSWORD" description:"redis password"`
	RedisDB       int           `long:"redis-db" env:"REDIS_DB" default:"0" description:"redis database"`
	RedisTTL      time.Duration `long:"redis-ttl" env:"REDIS_TTL" default:"0" description:"expiration of session logs in redis, 0 keeps them forever"`

	AudioDir string `long:"audio-dir" env:"AUDIO_DIR" default:"./audio" description:"directory for reply audio"`
	Player   string `long:"player" env:"AUDIO_PLAYER" description:"command playing reply audio, e.g. 'aplay -q'"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
	SentryDSN string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, reporting is off when empty"`
}

var Revision = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "loading .env:", err)
	}

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)

	flush, err := logger.InitSentry(opts.SentryDSN, Revision)
	if err != nil {
		log.Error("initializing sentry", "error", err)
	}
	defer flush()
	log = logger.WithSentry(log, sentry.CurrentHub())

	log.Info("starting chat", "revision", Revision, "api_base", opts.APIBase, "storage", opts.Storage)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Storage == storage.BackendSQLite {
		if err = os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
			log.Error("creating database directory", "error", err)
			os.Exit(1)
		}
	}

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

	client := assistant.NewClient(opts.APIBase, &http.Client{}, opts.Timeout)
	sink := &audio.FileSink{Dir: opts.AudioDir, Command: opts.Player}
	session := chat.NewSession(log, client, storage.NewCache(log, store), sink)
	session.Open(ctx)

	src := &identity.InitDataSource{BotToken: opts.BotToken, MaxAge: opts.InitDataMaxAge}
	if opts.InitData != "" {
		if err = src.Set(opts.InitData); err != nil {
			log.Warn("init data rejected", "error", err)
		}
	}

	r := &repl{
		log:       log,
		session:   session,
		source:    src,
		client:    client,
		out:       os.Stdout,
		waitFor:   opts.IdentityWait,
		pollEvery: identity.DefaultPollInterval,
	}

	r.identify(ctx)
	r.refresh(ctx)
	r.printAll()

	r.run(ctx, os.Stdin)

	log.Info("stopping chat")
}

type repl struct {
	log       logger.Logger
	session   *chat.Session
	source    *identity.InitDataSource
	client    *assistant.Client
	out       io.Writer
	waitFor   time.Duration
	pollEvery time.Duration
}

func (r *repl) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !r.handle(ctx, strings.TrimSpace(line)) {
				return
			}
			r.prompt()
		}
	}
}

// handle runs one input line, it returns false when the user quits.
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(r.out, "/history  show the conversation\n"+
			"/refresh  merge the backend history\n"+
			"/login <init data>  identify with telegram init data\n"+
			"/transcribe <file>  send speech to recognition and the reply to the assistant\n"+
			"/quit")
	case "/history":
		r.printAll()
	case "/refresh":
		r.refresh(ctx)
		r.printAll()
	case "/login":
		if err := r.source.Set(arg); err != nil {
			fmt.Fprintln(r.out, "login failed:", err)
			return true
		}
		r.identify(ctx)
		r.refresh(ctx)
		r.printAll()
	case "/transcribe":
		text, err := r.transcribe(ctx, arg)
		if err != nil {
			fmt.Fprintln(r.out, "transcription failed:", err)
			return true
		}
		fmt.Fprintln(r.out, "recognized:", text)
		r.send(ctx, text)
	default:
		r.send(ctx, line)
	}

	return true
}

func (r *repl) identify(ctx context.Context) {
	id, ok := identity.Wait(ctx, r.source, r.waitFor, r.pollEvery)
	if !ok {
		r.log.Info("no telegram identity, continuing anonymously")
		return
	}
	r.session.Identify(ctx, id)
}

func (r *repl) refresh(ctx context.Context) {
	if err := r.session.Refresh(ctx); err != nil {
		r.log.Warn("refreshing history", "error", err)
	}
}

func (r *repl) send(ctx context.Context, text string) {
	reply, err := r.session.Send(ctx, text)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return
		}
		r.log.Error("sending message", "error", err)
		fmt.Fprintln(r.out, "not sent:", err)
		return
	}
	r.print(reply)
}

func (r *repl) transcribe(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", errors.New("file path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return r.client.Transcribe(ctx, filepath.Base(path), f)
}

func (r *repl) printAll() {
	for _, m := range r.session.Messages() {
		r.print(m)
	}
}

func (r *repl) print(m e.Message) {
	who := string(m.Role)
	if m.Role == e.RoleUser && m.Name != "" {
		who = m.Name
	}

	var note string
	if m.HasAudio() {
		note = " [audio]"
	}

	fmt.Fprintf(r.out, "%s: %s%s\n", who, m.Content, note)
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}
