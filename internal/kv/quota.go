package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// QuotaStore caps the combined size of every value written through it, the
// way a browser caps localStorage per origin.
type QuotaStore struct {
	inner Store
	limit int64

	mu    sync.Mutex
	sizes map[string]int64
}

// NewQuotaStore wraps inner with a limit in bytes.
func NewQuotaStore(inner Store, limit int64) *QuotaStore {
	return &QuotaStore{inner: inner, limit: limit, sizes: make(map[string]int64)}
}

// Get reads through and records the value size.
func (q *QuotaStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := q.inner.Get(ctx, key)
	if err == nil {
		q.mu.Lock()
		q.sizes[key] = int64(len(v))
		q.mu.Unlock()
	}
	return v, err
}

// Put writes value unless the total would exceed the limit, in which case
// it returns ErrQuotaExceeded and leaves the stored value untouched.
func (q *QuotaStore) Put(ctx context.Context, key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, known := q.sizes[key]; !known {
		existing, err := q.inner.Get(ctx, key)
		switch {
		case err == nil:
			q.sizes[key] = int64(len(existing))
		case errors.Is(err, ErrNotFound):
			q.sizes[key] = 0
		default:
			return err
		}
	}

	var total int64
	for k, size := range q.sizes {
		if k != key {
			total += size
		}
	}
	if need := total + int64(len(value)); need > q.limit {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, need, q.limit)
	}

	if err := q.inner.Put(ctx, key, value); err != nil {
		return err
	}
	q.sizes[key] = int64(len(value))
	return nil
}

// Delete removes key and releases its bytes.
func (q *QuotaStore) Delete(ctx context.Context, key string) error {
	if err := q.inner.Delete(ctx, key); err != nil {
		return err
	}
	q.mu.Lock()
	q.sizes[key] = 0
	q.mu.Unlock()
	return nil
}

// Close closes the wrapped store.
func (q *QuotaStore) Close() error { return q.inner.Close() }

// Usage reports the bytes currently accounted against the quota.
func (q *QuotaStore) Usage() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total int64
	for _, size := range q.sizes {
		total += size
	}
	return total
}
