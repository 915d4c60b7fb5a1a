package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/logger"
)

// flakyStore wraps a Memory store and fails selected operations.
type flakyStore struct {
	*Memory
	failGet    bool
	failSet    bool
	failDelete bool
}

var errBroken = errors.New("storage is broken")

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGet {
		return "", false, errBroken
	}
	return s.Memory.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.failSet {
		return errBroken
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.failDelete {
		return errBroken
	}
	return s.Memory.Delete(ctx, key)
}

func newTestCache() (*Cache, *flakyStore) {
	store := &flakyStore{Memory: NewMemory()}
	return NewCache(logger.Discard(), store), store
}

func msg(id string, role e.Role, content string) e.Message {
	return e.Message{ID: id, Role: role, Content: content}
}

func TestCacheRoundTrip(t *testing.T) {
	cache, store := newTestCache()
	ctx := context.Background()

	list := []e.Message{
		msg("1", e.RoleUser, "hi"),
		{
			ID:          "2",
			Role:        e.RoleAssistant,
			Content:     "hello",
			CreatedAt:   "2024-01-01T00:00:00Z",
			Name:        "Alice",
			Avatar:      "a.png",
			AudioBase64: "QUJD",
			AudioMime:   e.MimeWAV,
		},
	}

	require.NoError(t, cache.Save(ctx, "42", list))

	got, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	assert.Equal(t, list, got)

	_, stored, _ := store.Memory.Get(ctx, "chat:42")
	assert.True(t, stored)
}

func TestCacheEmptyListRoundTrip(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "42", nil))

	got, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestCachePendingIsNotPersisted(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	pending := msg("1", e.RoleUser, "hi")
	pending.Pending = true
	require.NoError(t, cache.Save(ctx, "42", []e.Message{pending}))

	got, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	assert.False(t, got[0].Pending)
}

func TestCacheReadNeverSaved(t *testing.T) {
	cache, _ := newTestCache()

	got, ok := cache.Read(context.Background(), "nobody")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCacheReadCorrupt(t *testing.T) {
	cache, store := newTestCache()
	ctx := context.Background()

	for _, raw := range []string{"{broken", "null", `{"id": "x"}`, ""} {
		require.NoError(t, store.Memory.Set(ctx, Key("42"), raw))
		_, ok := cache.Read(ctx, "42")
		assert.False(t, ok, "raw %q", raw)
	}
}

func TestCacheReadStoreFailureIsAbsent(t *testing.T) {
	cache, store := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "42", []e.Message{msg("1", e.RoleUser, "hi")}))
	store.failGet = true

	_, ok := cache.Read(ctx, "42")
	assert.False(t, ok)
}

func TestCacheSaveFailureIsSoft(t *testing.T) {
	cache, store := newTestCache()
	store.failSet = true

	err := cache.Save(context.Background(), "42", []e.Message{msg("1", e.RoleUser, "hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errBroken)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
	assert.Equal(t, "chat:42", perr.Key)
}

func TestMigrateAnonToEmptyTarget(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	a1 := msg("a1", e.RoleUser, "hello from anon")
	require.NoError(t, cache.Save(ctx, e.AnonKey, []e.Message{a1}))

	require.NoError(t, cache.MigrateAnonTo(ctx, "42"))

	got, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	assert.Equal(t, []e.Message{a1}, got)

	_, ok = cache.Read(ctx, e.AnonKey)
	assert.False(t, ok)

	require.NoError(t, cache.MigrateAnonTo(ctx, "42"))
	again, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	assert.Equal(t, got, again)
}

func TestMigrateAnonAppendsAfterTarget(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	prev := []e.Message{msg("p1", e.RoleUser, "old"), msg("p2", e.RoleAssistant, "old reply")}
	anon := []e.Message{msg("a1", e.RoleUser, "old"), msg("a2", e.RoleUser, "new")}
	require.NoError(t, cache.Save(ctx, "42", prev))
	require.NoError(t, cache.Save(ctx, e.AnonKey, anon))

	require.NoError(t, cache.MigrateAnonTo(ctx, "42"))

	got, ok := cache.Read(ctx, "42")
	require.True(t, ok)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"p1", "p2", "a1", "a2"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
}

func TestMigrateAnonNoop(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.MigrateAnonTo(ctx, "42"))
	_, ok := cache.Read(ctx, "42")
	assert.False(t, ok)

	require.NoError(t, cache.Save(ctx, e.AnonKey, []e.Message{}))
	require.NoError(t, cache.MigrateAnonTo(ctx, "42"))
	_, ok = cache.Read(ctx, "42")
	assert.False(t, ok)
}

func TestMigrateAnonToAnonIsNoop(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	anon := []e.Message{msg("a1", e.RoleUser, "hi")}
	require.NoError(t, cache.Save(ctx, e.AnonKey, anon))
	require.NoError(t, cache.MigrateAnonTo(ctx, e.AnonKey))

	got, ok := cache.Read(ctx, e.AnonKey)
	require.True(t, ok)
	assert.Equal(t, anon, got)
}

func TestMigrateAnonKeepsAnonWhenSaveFails(t *testing.T) {
	cache, store := newTestCache()
	ctx := context.Background()

	anon := []e.Message{msg("a1", e.RoleUser, "hi")}
	require.NoError(t, cache.Save(ctx, e.AnonKey, anon))

	store.failSet = true
	err := cache.MigrateAnonTo(ctx, "42")
	assert.ErrorIs(t, err, ErrPersistence)

	store.failSet = false
	got, ok := cache.Read(ctx, e.AnonKey)
	require.True(t, ok)
	assert.Equal(t, anon, got)
}

func TestCacheUserKeys(t *testing.T) {
	cache, store := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, "42", nil))
	require.NoError(t, cache.Save(ctx, e.AnonKey, nil))
	require.NoError(t, store.Set(ctx, "other:1", "x"))

	keys, err := cache.UserKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "anon"}, keys)

	_, err = NewCache(logger.Discard(), plainStore{}).UserKeys(ctx)
	assert.Error(t, err)
}

type plainStore struct{}

func (plainStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (plainStore) Set(context.Context, string, string) error         { return nil }
func (plainStore) Delete(context.Context, string) error              { return nil }
