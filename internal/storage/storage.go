package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/config"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key/value slot store. It backs both the credential
// keys and the per-quiz answer slots. Values survive process restarts
// (except for the memory backend, which exists for tests).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Op identifies the kind of externally observed mutation.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
)

// KeyEvent describes a mutation made by another process sharing the store.
type KeyEvent struct {
	Key string
	Op  Op
}

// Watcher is implemented by stores that can observe writes from other
// processes. This is the cross-process counterpart of the browser storage
// event: a credential cleared elsewhere logs this process out too.
type Watcher interface {
	Watch(ctx context.Context) (<-chan KeyEvent, error)
}

// Open builds the store selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case "bbolt", "":
		return OpenBolt(filepath.Join(cfg.StateDir, "exstem.db"))
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
}
