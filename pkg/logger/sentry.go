package logger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global sentry client. With an empty dsn nothing
// is reported and the returned flush is a no-op.
func InitSentry(dsn, release string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return func() {}, fmt.Errorf("initializing sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// WithSentry returns a logger that also reports error records to hub.
func WithSentry(log Logger, hub *sentry.Hub) Logger {
	if hub == nil || hub.Client() == nil {
		return log
	}
	return slog.New(&sentryHandler{Handler: log.Handler(), hub: hub})
}

type sentryHandler struct {
	slog.Handler
	hub   *sentry.Hub
	attrs []slog.Attr
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.report(r)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithAttrs(attrs),
		hub:     h.hub,
		attrs:   append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithGroup(name), hub: h.hub, attrs: h.attrs}
}

func (h *sentryHandler) report(r slog.Record) {
	fields := sentry.Context{}
	var cause error

	collect := func(a slog.Attr) bool {
		if err, ok := a.Value.Any().(error); ok && cause == nil {
			cause = err
		}
		fields[a.Key] = a.Value.String()
		return true
	}

	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetContext("log", fields)
		scope.SetLevel(sentry.LevelError)

		if cause == nil {
			h.hub.CaptureMessage(r.Message)
			return
		}

		scope.SetTag("log_message", r.Message)
		h.hub.CaptureException(cause)
	})
}
