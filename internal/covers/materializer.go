package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/models"
)

// AssetStorage persists downloaded cover images and returns their location:
// a path relative to the site root, or an absolute URL.
type AssetStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// AssetLookup is implemented by storages that can tell whether an asset
// already exists, so finished downloads are not repeated.
type AssetLookup interface {
	Lookup(ctx context.Context, name string) (string, bool)
}

// MaterializerConfig controls download concurrency.
type MaterializerConfig struct {
	Workers int
	Timeout time.Duration
	Client  *http.Client
}

// MaterializeResult summarises one run.
type MaterializeResult struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Updated    int `json:"updated"`
}

// Materializer copies remote cover images into local storage and points each
// record's local_cover at the copy.
type Materializer struct {
	store   *Store
	storage AssetStorage
	client  *http.Client
	workers int
	timeout time.Duration
}

const coverUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var errNoStorage = errors.New("covers: asset storage unavailable")

// NewMaterializer constructs a Materializer.
func NewMaterializer(store *Store, storage AssetStorage, cfg MaterializerConfig) *Materializer {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Materializer{store: store, storage: storage, client: cfg.Client, workers: cfg.Workers, timeout: cfg.Timeout}
}

// Run downloads every remote cover that has no local copy yet.
func (m *Materializer) Run(ctx context.Context) (MaterializeResult, error) {
	if m.storage == nil {
		return MaterializeResult{}, errNoStorage
	}
	ctx, span := logging.StartSpan(ctx, "covers.materialize")
	defer span.End()
	logger := logging.FromContext(ctx)

	var (
		mu      sync.Mutex
		result  MaterializeResult
		patches = make(map[models.RecordID]models.CoverPatch)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, rec := range m.store.Snapshot() {
		if !needsMaterializing(rec) {
			continue
		}
		rec := rec
		g.Go(func() error {
			location, skipped, err := m.materialize(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				logger.Warn().Err(err).Str("id", string(rec.ID)).Msg("cover download failed")
			case skipped:
				result.Skipped++
				patches[rec.ID] = patchFor(location)
			default:
				result.Downloaded++
				patches[rec.ID] = patchFor(location)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	updated, err := m.store.ApplyPatches(ctx, patches)
	result.Updated = updated
	if err != nil {
		return result, fmt.Errorf("record local covers: %w", err)
	}

	logger.Info().
		Int("downloaded", result.Downloaded).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("cover materialization finished")
	return result, nil
}

func (m *Materializer) materialize(ctx context.Context, rec models.CoverRecord) (string, bool, error) {
	name := AssetName(rec.ID)

	if lookup, ok := m.storage.(AssetLookup); ok {
		if location, exists := lookup.Lookup(ctx, name); exists {
			return location, true, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.CoverURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("build cover request: %w", err)
	}
	req.Header.Set("User-Agent", coverUserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("download cover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("download cover: unexpected status %d", resp.StatusCode)
	}

	location, err := m.storage.Save(ctx, name, resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("store cover: %w", err)
	}
	return location, false, nil
}

func needsMaterializing(rec models.CoverRecord) bool {
	if rec.ID == "" || strings.TrimSpace(rec.LocalCover) != "" {
		return false
	}
	u := strings.ToLower(rec.CoverURL)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func patchFor(location string) models.CoverPatch {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return models.CoverPatch{CoverURL: models.StringPtr(location), LocalCover: models.StringPtr("")}
	}
	return models.CoverPatch{LocalCover: models.StringPtr(location)}
}

// AssetName is the file name a record's materialized cover is stored under.
func AssetName(id models.RecordID) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, string(id))
	return safe + ".jpg"
}
