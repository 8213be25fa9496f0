package covers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/posterwall/backend/internal/kv"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
	"github.com/posterwall/backend/internal/models"
)

// ChangeKind describes how a mutation altered the list.
type ChangeKind int

const (
	// ChangeReset means the whole list was loaded or replaced.
	ChangeReset ChangeKind = iota
	ChangeInsert
	ChangeRemove
	// ChangeUpdate is the only in-place kind; positions are unchanged.
	ChangeUpdate
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeInsert:
		return "insert"
	case ChangeRemove:
		return "remove"
	case ChangeUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Structural reports whether positions of existing records may have shifted.
func (k ChangeKind) Structural() bool {
	return k != ChangeUpdate
}

// Change is delivered to listeners after a mutation has been persisted.
type Change struct {
	Kind   ChangeKind
	Index  int
	Record models.CoverRecord
	// ImageOnly marks an update that changed only the cover image.
	ImageOnly bool
}

// Listener observes committed mutations. It runs on the mutating goroutine
// after the store lock is released.
type Listener func(ctx context.Context, change Change)

// Store is the ordered cover list. Every accepted mutation is written in full
// to the local cache before it becomes visible, then pushed to the remote in
// the background.
type Store struct {
	cache  kv.Store
	remote Remote
	pusher *Pusher
	newID  func() string

	mu      sync.RWMutex
	records []models.CoverRecord
	index   map[models.RecordID]int

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Option customises a Store.
type Option func(*Store)

// WithPusher makes every committed mutation push the full list to the remote.
func WithPusher(p *Pusher) Option {
	return func(s *Store) { s.pusher = p }
}

// WithIDGenerator replaces uuid generation for records lacking an id.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore constructs an empty store. Call Load to populate it.
func NewStore(cache kv.Store, remote Remote, opts ...Option) *Store {
	s := &Store{
		cache:  cache,
		remote: remote,
		newID:  uuid.NewString,
		index:  make(map[models.RecordID]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for committed mutations.
func (s *Store) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Load populates the list from the local cache, falling back to the remote
// store when the cache is missing, unreadable or empty. On failure the store
// stays empty and usable.
func (s *Store) Load(ctx context.Context) error {
	logger := logging.WithComponent(ctx, "covers")

	records, source, err := s.loadRecords(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("cover list unavailable")
		return err
	}
	if n := assignIDs(records, s.newID); n > 0 {
		logger.Warn().Int("generated", n).Msg("assigned ids to records with missing or duplicate ids")
	}

	s.mu.Lock()
	s.records = records
	s.reindexLocked()
	s.mu.Unlock()

	logger.Info().Str("source", source).Int("count", len(records)).Msg("cover list loaded")
	s.notify(ctx, Change{Kind: ChangeReset})
	return nil
}

func (s *Store) loadRecords(ctx context.Context) ([]models.CoverRecord, string, error) {
	logger := logging.WithComponent(ctx, "covers")

	if s.cache != nil {
		data, err := s.cache.Get(ctx, kv.DataKey)
		switch {
		case err == nil:
			// An empty cached list is a real state: the operator removed everything.
			records, derr := DecodeList(data)
			if derr == nil {
				return records, "cache", nil
			}
			logger.Warn().Err(derr).Msg("cached cover list unreadable, falling back to remote")
		case !errors.Is(err, kv.ErrNotFound):
			logger.Warn().Err(err).Msg("read cached cover list")
		}
	}

	if s.remote == nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLoad, ErrRemoteUnavailable)
	}
	records, err := s.remote.Fetch(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return records, "remote", nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of the full list.
func (s *Store) Snapshot() []models.CoverRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.records)
}

// Slice returns a copy of records in [start, end), clipped to the list.
func (s *Store) Slice(start, end int) []models.CoverRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	if end > len(s.records) {
		end = len(s.records)
	}
	if start >= end {
		return nil
	}
	return cloneRecords(s.records[start:end])
}

// Get returns the record with the given id.
func (s *Store) Get(id models.RecordID) (models.CoverRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.CoverRecord{}, false
	}
	return s.records[i], true
}

// IndexOf returns the current position of id.
func (s *Store) IndexOf(id models.RecordID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	return i, ok
}

// InsertFront places rec at position 0, generating an id when it has none.
func (s *Store) InsertFront(ctx context.Context, rec models.CoverRecord) (models.CoverRecord, error) {
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		if rec.ID == "" {
			rec.ID = models.RecordID(s.newID())
		}
		if _, exists := s.index[rec.ID]; exists {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		next := make([]models.CoverRecord, 0, len(cur)+1)
		next = append(next, rec)
		next = append(next, cur...)
		return next, []Change{{Kind: ChangeInsert, Index: 0, Record: rec}}, nil
	})
	if err != nil {
		return models.CoverRecord{}, err
	}
	return changes[0].Record, nil
}

// RemoveAt deletes the record at position i.
func (s *Store) RemoveAt(ctx context.Context, i int) (models.CoverRecord, error) {
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		if i < 0 || i >= len(cur) {
			return nil, nil, fmt.Errorf("%w: index %d", ErrNotFound, i)
		}
		removed := cur[i]
		next := make([]models.CoverRecord, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		return next, []Change{{Kind: ChangeRemove, Index: i, Record: removed}}, nil
	})
	if err != nil {
		return models.CoverRecord{}, err
	}
	return changes[0].Record, nil
}

// RemoveByID deletes the record with the given id.
func (s *Store) RemoveByID(ctx context.Context, id models.RecordID) (models.CoverRecord, error) {
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		i, ok := s.index[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		removed := cur[i]
		next := make([]models.CoverRecord, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		return next, []Change{{Kind: ChangeRemove, Index: i, Record: removed}}, nil
	})
	if err != nil {
		return models.CoverRecord{}, err
	}
	return changes[0].Record, nil
}

// UpdateAt applies patch to the record at position i without moving it.
func (s *Store) UpdateAt(ctx context.Context, i int, patch models.CoverPatch) (models.CoverRecord, error) {
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		if i < 0 || i >= len(cur) {
			return nil, nil, fmt.Errorf("%w: index %d", ErrNotFound, i)
		}
		next := cloneRecords(cur)
		next[i] = patch.Apply(next[i])
		return next, []Change{{Kind: ChangeUpdate, Index: i, Record: next[i], ImageOnly: patch.ImageOnly()}}, nil
	})
	if err != nil {
		return models.CoverRecord{}, err
	}
	return changes[0].Record, nil
}

// UpdateByID applies patch to the record with the given id.
func (s *Store) UpdateByID(ctx context.Context, id models.RecordID, patch models.CoverPatch) (models.CoverRecord, error) {
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		i, ok := s.index[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		next := cloneRecords(cur)
		next[i] = patch.Apply(next[i])
		return next, []Change{{Kind: ChangeUpdate, Index: i, Record: next[i], ImageOnly: patch.ImageOnly()}}, nil
	})
	if err != nil {
		return models.CoverRecord{}, err
	}
	return changes[0].Record, nil
}

// ApplyPatches updates several records with a single persistence write.
// Unknown ids are skipped. It returns how many records changed.
func (s *Store) ApplyPatches(ctx context.Context, patches map[models.RecordID]models.CoverPatch) (int, error) {
	if len(patches) == 0 {
		return 0, nil
	}
	changes, err := s.apply(ctx, func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		next := cloneRecords(cur)
		var changes []Change
		for id, patch := range patches {
			i, ok := s.index[id]
			if !ok || patch.Empty() {
				continue
			}
			next[i] = patch.Apply(next[i])
			changes = append(changes, Change{Kind: ChangeUpdate, Index: i, Record: next[i], ImageOnly: patch.ImageOnly()})
		}
		if len(changes) == 0 {
			return nil, nil, errNoop
		}
		return next, changes, nil
	})
	if errors.Is(err, errNoop) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

// ReplaceAll swaps the entire list for the records encoded in raw. Anything
// other than a JSON array of objects fails with ErrImport and leaves the list
// untouched.
func (s *Store) ReplaceAll(ctx context.Context, raw []byte) (int, error) {
	records, err := DecodeList(raw)
	if err != nil {
		return 0, err
	}
	return s.Replace(ctx, records)
}

// Replace swaps the entire list for records.
func (s *Store) Replace(ctx context.Context, records []models.CoverRecord) (int, error) {
	next := cloneRecords(records)
	assignIDs(next, s.newID)
	_, err := s.apply(ctx, func([]models.CoverRecord) ([]models.CoverRecord, []Change, error) {
		return next, []Change{{Kind: ChangeReset}}, nil
	})
	if err != nil {
		return 0, err
	}
	return len(next), nil
}

// ExportSnapshot returns the pretty-printed list. The bytes are independent
// of the live records.
func (s *Store) ExportSnapshot() ([]byte, error) {
	return MarshalPretty(s.Snapshot())
}

var errNoop = errors.New("covers: no change")

type mutation func(cur []models.CoverRecord) ([]models.CoverRecord, []Change, error)

// apply runs fn under the write lock, persists its result and only then makes
// it visible. A failed write leaves the previous list in place.
func (s *Store) apply(ctx context.Context, fn mutation) ([]Change, error) {
	s.mu.Lock()
	next, changes, err := fn(s.records)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.persistLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.records = next
	if changes[0].Kind.Structural() {
		s.reindexLocked()
	}
	snapshot := cloneRecords(next)
	s.mu.Unlock()

	metrics.IncMutation(changes[0].Kind.String())
	if s.pusher != nil {
		s.pusher.Submit(snapshot)
	}
	for _, c := range changes {
		s.notify(ctx, c)
	}
	return changes, nil
}

func (s *Store) persistLocked(ctx context.Context, records []models.CoverRecord) error {
	if s.cache == nil {
		return nil
	}
	if records == nil {
		records = []models.CoverRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode cover list: %w", err)
	}
	if err := s.cache.Put(ctx, kv.DataKey, data); err != nil {
		reason := "io"
		if errors.Is(err, kv.ErrQuotaExceeded) {
			reason = "quota"
		}
		metrics.IncPersistenceFailure("cache", reason)
		logging.WithComponent(ctx, "covers").Error().Err(err).Int("bytes", len(data)).Msg("persist cover list")
		return fmt.Errorf("persist cover list: %w", err)
	}
	return nil
}

func (s *Store) reindexLocked() {
	index := make(map[models.RecordID]int, len(s.records))
	for i, rec := range s.records {
		index[rec.ID] = i
	}
	s.index = index
}

func (s *Store) notify(ctx context.Context, c Change) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ctx, c)
	}
}
