package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	e "nuclight.org/miniapp-chat/pkg/entities"
)

const (
	// DefaultWait bounds how long a session waits for the host to hand over
	// the identity.
	DefaultWait = 5 * time.Second

	DefaultPollInterval = 100 * time.Millisecond
)

// Source reports the identity once it becomes available.
type Source interface {
	Identity() (e.Identity, bool)
}

// InitDataSource holds the identity parsed from init data set by the host,
// possibly some time after startup. With a BotToken the signature is verified.
type InitDataSource struct {
	BotToken string
	MaxAge   time.Duration

	mu       sync.RWMutex
	identity e.Identity
	ok       bool
}

// Set parses and, if configured, validates init data. On error the source
// stays as it was.
func (s *InitDataSource) Set(initData string) error {
	if s.BotToken != "" {
		if err := Validate(s.BotToken, initData, s.MaxAge, time.Now()); err != nil {
			return fmt.Errorf("validating init data: %w", err)
		}
	}

	id, err := ParseInitData(initData)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.identity, s.ok = id, true
	s.mu.Unlock()

	return nil
}

func (s *InitDataSource) Identity() (e.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.ok
}

// Wait polls src until it yields an identity, timeout passes or ctx ends.
func Wait(ctx context.Context, src Source, timeout, interval time.Duration) (e.Identity, bool) {
	if id, ok := src.Identity(); ok {
		return id, true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.Identity{}, false
		case <-ticker.C:
			if id, ok := src.Identity(); ok {
				return id, true
			}
		}
	}
}
