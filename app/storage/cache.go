package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/logger"
	"nuclight.org/miniapp-chat/pkg/mutex"
)

// KeyPrefix prefixes every persisted session log key.
const KeyPrefix = "chat:"

// Key returns the storage key of a user's session log.
func Key(userKey string) string {
	return KeyPrefix + userKey
}

// Cache persists session logs per user key on top of a Store.
//
// Storage failures never break the caller: reads degrade to "absent" and
// writes return a *PersistenceError that may be ignored, the in-memory log
// stays authoritative.
type Cache struct {
	// Log is a logger
	Log logger.Logger

	// Store is the underlying key/value storage
	Store Store

	locks mutex.KeyedMutex
}

func NewCache(log logger.Logger, store Store) *Cache {
	return &Cache{
		Log:   log,
		Store: store,
	}
}

// Save replaces the persisted log of userKey with list.
func (c *Cache) Save(ctx context.Context, userKey string, list []e.Message) error {
	c.locks.Lock(userKey)
	defer c.locks.Unlock(userKey)

	return c.save(ctx, userKey, list)
}

// Read returns the persisted log of userKey. The second return value is false
// when nothing was saved or the stored value cannot be decoded.
func (c *Cache) Read(ctx context.Context, userKey string) ([]e.Message, bool) {
	c.locks.Lock(userKey)
	defer c.locks.Unlock(userKey)

	return c.read(ctx, userKey)
}

// Delete drops the persisted log of userKey.
func (c *Cache) Delete(ctx context.Context, userKey string) error {
	c.locks.Lock(userKey)
	defer c.locks.Unlock(userKey)

	return c.delete(ctx, userKey)
}

// UserKeys lists the user keys that have a persisted log. The store must be
// a KeyLister.
func (c *Cache) UserKeys(ctx context.Context) ([]string, error) {
	lister, ok := c.Store.(KeyLister)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list keys", c.Store)
	}

	keys, err := lister.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing session logs: %w", err)
	}

	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, KeyPrefix)
	}

	return keys, nil
}

// MigrateAnonTo appends the anonymous log to the log of userKey and removes
// the anonymous log. It does nothing when the anonymous log is empty or
// absent, so calling it again after a successful run is harmless. If the
// merged log cannot be written the anonymous log is kept for a later attempt.
func (c *Cache) MigrateAnonTo(ctx context.Context, userKey string) error {
	if userKey == e.AnonKey {
		return nil
	}

	c.locks.Lock(e.AnonKey)
	defer c.locks.Unlock(e.AnonKey)
	c.locks.Lock(userKey)
	defer c.locks.Unlock(userKey)

	anon, ok := c.read(ctx, e.AnonKey)
	if !ok || len(anon) == 0 {
		return nil
	}

	prev, _ := c.read(ctx, userKey)
	merged := append(slices.Clip(prev), anon...)

	if err := c.save(ctx, userKey, merged); err != nil {
		return err
	}

	c.Log.Info("anonymous session log migrated", "user_key", userKey, "anon", len(anon), "total", len(merged))

	return c.delete(ctx, e.AnonKey)
}

func (c *Cache) save(ctx context.Context, userKey string, list []e.Message) error {
	if list == nil {
		list = []e.Message{}
	}

	data, err := json.Marshal(list)
	if err != nil {
		return c.soft("save", userKey, fmt.Errorf("encoding session log: %w", err))
	}

	if err = c.Store.Set(ctx, Key(userKey), string(data)); err != nil {
		return c.soft("save", userKey, err)
	}

	return nil
}

func (c *Cache) read(ctx context.Context, userKey string) ([]e.Message, bool) {
	raw, ok, err := c.Store.Get(ctx, Key(userKey))
	if err != nil {
		_ = c.soft("read", userKey, err)
		return nil, false
	}

	if !ok || raw == "" {
		return nil, false
	}

	var list []e.Message
	if err = json.Unmarshal([]byte(raw), &list); err != nil {
		_ = c.soft("read", userKey, fmt.Errorf("decoding session log: %w", err))
		return nil, false
	}

	if list == nil {
		return nil, false
	}

	return list, true
}

func (c *Cache) delete(ctx context.Context, userKey string) error {
	if err := c.Store.Delete(ctx, Key(userKey)); err != nil {
		return c.soft("delete", userKey, err)
	}
	return nil
}

func (c *Cache) soft(op, userKey string, err error) error {
	c.Log.Warn("session cache operation failed", "op", op, "user_key", userKey, "error", err)
	return &PersistenceError{Op: op, Key: Key(userKey), Err: err}
}
