package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)

	sqlite, err := OpenSQLiteStore(ctx, filepath.Join(dir, "kv.db"))
	require.NoError(t, err)

	bdg, err := OpenBadgerStore("")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rds, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": sqlite,
		"badger": bdg,
		"redis":  rds,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, DataKey)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, DataKey, []byte(`[{"id":"1"}]`)))
			require.NoError(t, store.Put(ctx, SettingsKey, []byte(`{"columns":4}`)))

			got, err := store.Get(ctx, DataKey)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"1"}]`, string(got))

			require.NoError(t, store.Put(ctx, DataKey, []byte(`[]`)))
			got, err = store.Get(ctx, DataKey)
			require.NoError(t, err)
			assert.Equal(t, "[]", string(got))

			settings, err := store.Get(ctx, SettingsKey)
			require.NoError(t, err)
			assert.JSONEq(t, `{"columns":4}`, string(settings))

			require.NoError(t, store.Delete(ctx, DataKey))
			_, err = store.Get(ctx, DataKey)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = store.Get(ctx, " ")
			require.Error(t, err)
		})
	}
}

func TestQuotaStoreRejectsOversizedWrites(t *testing.T) {
	ctx := context.Background()
	q := NewQuotaStore(NewMemoryStore(), 10)

	require.NoError(t, q.Put(ctx, SettingsKey, []byte("1234")))
	require.NoError(t, q.Put(ctx, DataKey, []byte("123456")))

	err := q.Put(ctx, DataKey, []byte("1234567"))
	require.True(t, errors.Is(err, ErrQuotaExceeded), "got %v", err)

	got, err := q.Get(ctx, DataKey)
	require.NoError(t, err)
	assert.Equal(t, "123456", string(got), "rejected write must leave the previous value")

	require.NoError(t, q.Put(ctx, DataKey, []byte("12")))
	assert.EqualValues(t, 6, q.Usage())
}

func TestQuotaStoreAccountsForExistingValues(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, SettingsKey, []byte("12345678")))

	q := NewQuotaStore(inner, 10)
	_, err := q.Get(ctx, SettingsKey)
	require.NoError(t, err)

	err = q.Put(ctx, DataKey, []byte("123"))
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Options{Backend: "memory", Quota: 100, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, ok := store.(*QuotaStore)
	assert.True(t, ok, "quota wrapper expected")

	store, err = Open(ctx, Options{Backend: "file", DataDir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, ok = store.(*FileStore)
	assert.True(t, ok)

	_, err = Open(ctx, Options{Backend: "tape"})
	require.Error(t, err)
}
