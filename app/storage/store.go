package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store is device-local key/value string storage.
type Store interface {
	// Get returns the value under key. The second return value is false if
	// nothing was stored.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

var ErrPersistence = errors.New("persistence failure")

// PersistenceError describes a failed storage read or write. It is always
// soft: callers keep working with their in-memory state.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
