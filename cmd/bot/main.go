package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/miniapp-chat/app/telegram"
	"nuclight.org/miniapp-chat/pkg/assistant"
	"nuclight.org/miniapp-chat/pkg/logger"
)

var opts struct {
	TelegramAPIToken   string        `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram api token"`
	TelegramWorkersNum int           `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`
	WebAppURL          string        `long:"web-app-url" env:"WEB_APP_URL" description:"url of the mini app opened by /start"`
	APIBase            string        `long:"api-base" env:"API_BASE" default:"http://localhost:8000" description:"assistant backend base url"`
	Timeout            time.Duration `long:"timeout" env:"REQUEST_TIMEOUT" default:"120s" description:"timeout of a single backend request"`
	LogLevel           string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
	SentryDSN          string        `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, reporting is off when empty"`
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

	log.Info("starting bot", "revision", Revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bot := &telegram.Client{
		Log:        log,
		APIToken:   opts.TelegramAPIToken,
		WorkersNum: opts.TelegramWorkersNum,
		WebAppURL:  opts.WebAppURL,
		Assistant:  assistant.NewClient(opts.APIBase, &http.Client{}, opts.Timeout),
	}

	err = bot.Start(ctx)
	if err != nil {
		log.Error("starting bot", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("stopping bot")

	bot.Wait()
}
