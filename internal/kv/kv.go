// Package kv holds the durable local cache backing the cover list and the wall
// settings. Values are opaque byte blobs keyed by name.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Keys used by the wall.
const (
	DataKey     = "posterwall_data"
	SettingsKey = "posterwall_settings"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("kv: key not found")
	// ErrQuotaExceeded is returned when a write would exceed the configured quota.
	ErrQuotaExceeded = errors.New("kv: storage quota exceeded")
	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("kv: store closed")
)

// Store is a small durable key/value cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a Store backend.
type Options struct {
	Backend   string
	Path      string
	DataDir   string
	Quota     int64
	RedisAddr string
	RedisDB   int
	Logger    zerolog.Logger
}

// Open constructs the configured backend, wrapped with a quota when one is set.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "file":
		store, err = NewFileStore(opts.pathOr("cache"))
	case "badger":
		store, err = OpenBadgerStore(opts.pathOr("badger"))
	case "sqlite":
		store, err = OpenSQLiteStore(ctx, opts.pathOr("posterwall.db"))
	case "redis":
		store, err = NewRedisStore(ctx, RedisConfig{Addr: opts.RedisAddr, DB: opts.RedisDB}, opts.Logger)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	opts.Logger.Info().Str("backend", opts.Backend).Int64("quota", opts.Quota).Msg("local cache opened")

	if opts.Quota > 0 {
		return NewQuotaStore(store, opts.Quota), nil
	}
	return store, nil
}

func (o Options) pathOr(name string) string {
	if strings.TrimSpace(o.Path) != "" {
		return o.Path
	}
	dir := o.DataDir
	if dir == "" {
		dir = "data"
	}
	return filepath.Join(dir, name)
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("kv: empty key")
	}
	return nil
}
