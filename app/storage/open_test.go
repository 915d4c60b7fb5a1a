package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)
	require.NoError(t, closeFn())

	store, closeFn, err = Open(ctx, Options{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "chat.sqlite")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, store)
	require.NoError(t, closeFn())

	_, _, err = Open(ctx, Options{Backend: "etcd"})
	assert.ErrorContains(t, err, "unknown storage backend")
}
