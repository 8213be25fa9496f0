package covers

import (
	"errors"

	"github.com/posterwall/backend/internal/kv"
)

var (
	// ErrLoad indicates neither the local cache nor the remote store produced a list.
	ErrLoad = errors.New("covers: unable to load cover list")
	// ErrImport indicates an import payload was not a JSON array of objects.
	ErrImport = errors.New("covers: import payload must be a JSON array of objects")
	// ErrNotFound indicates the addressed record does not exist.
	ErrNotFound = errors.New("covers: record not found")
	// ErrDuplicateID indicates an insert reused an id already on the wall.
	ErrDuplicateID = errors.New("covers: duplicate record id")
	// ErrPersistenceQuota indicates the local cache refused a write for size.
	ErrPersistenceQuota = kv.ErrQuotaExceeded
	// ErrRemoteUnavailable indicates no remote store is configured.
	ErrRemoteUnavailable = errors.New("covers: remote store unavailable")
)
