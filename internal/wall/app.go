// Package wall holds the poster wall's application state: the cover list,
// the rendered grid and its layout, the feed cursor, layout settings and the
// frame capture session. HTTP handlers and the CLI drive it through the
// command methods on App.
package wall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/posterwall/backend/internal/capture"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/feed"
	"github.com/posterwall/backend/internal/kv"
	"github.com/posterwall/backend/internal/layout"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/videos"
)

// Options wires an App.
type Options struct {
	Store    *covers.Store
	Settings kv.Store
	Resolver videos.Provider
	Capture  *capture.Pipeline
	Images   feed.ImageWaiter
	Feed     feed.Config
	Now      func() time.Time
	NewID    func() string
}

// App is the single owner of wall state.
type App struct {
	store    *covers.Store
	cache    kv.Store
	resolver videos.Provider
	capture  *capture.Pipeline
	grid     *feed.Grid
	layout   *layout.Controller
	loader   *feed.Loader
	now      func() time.Time
	newID    func() string

	mu       sync.RWMutex
	settings models.Settings
	loadErr  error
}

// New builds the app and subscribes it to the store so list mutations reach
// the feed: structural ones reset it, in-place ones patch the live card.
func New(opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Feed.Now == nil {
		opts.Feed.Now = opts.Now
	}

	grid := feed.NewGrid()
	ctrl := layout.NewController(layout.NewColumnPacker)
	settings := models.DefaultSettings()
	ctrl.Configure(settings.Columns, settings.Gap)

	a := &App{
		store:    opts.Store,
		cache:    opts.Settings,
		resolver: opts.Resolver,
		capture:  opts.Capture,
		grid:     grid,
		layout:   ctrl,
		loader:   feed.NewLoader(opts.Store, ctrl, grid, feed.NewRenderer(), opts.Images, opts.Feed),
		now:      opts.Now,
		newID:    opts.NewID,
		settings: settings,
	}
	opts.Store.Subscribe(a.onChange)
	return a
}

func (a *App) onChange(ctx context.Context, c covers.Change) {
	logger := logging.WithComponent(ctx, "wall")
	if c.Kind.Structural() {
		a.loader.Reset()
		if _, err := a.loader.LoadNextBatch(ctx); err != nil {
			logger.Warn().Err(err).Str("change", c.Kind.String()).Msg("reload after change failed")
		}
		return
	}
	if c.ImageOnly {
		a.loader.UpdateImage(ctx, c.Record.ID, c.Record.ThumbnailSource())
		return
	}
	if err := a.loader.Refresh(ctx, c.Index, c.Record); err != nil {
		logger.Warn().Err(err).Str("id", string(c.Record.ID)).Msg("refresh card failed")
	}
}

// Start loads settings and the cover list and renders the first batch. A
// list that cannot be loaded leaves the wall empty but usable; the error is
// returned and also reported by State.
func (a *App) Start(ctx context.Context) error {
	ctx, span := logging.StartSpan(ctx, "wall.start")
	defer span.End()
	logger := logging.FromContext(ctx)

	if err := a.loadSettings(ctx); err != nil {
		logger.Warn().Err(err).Msg("settings unreadable, using defaults")
	}

	err := a.store.Load(ctx)
	a.mu.Lock()
	a.loadErr = err
	a.mu.Unlock()
	if err != nil {
		a.loader.Reset()
		return err
	}
	return nil
}

// Snapshot is everything a client needs to draw the wall.
type Snapshot struct {
	Feed        feed.State       `json:"feed"`
	Layout      layout.Snapshot  `json:"layout"`
	Settings    models.Settings  `json:"settings"`
	GridVersion uint64           `json:"grid_version"`
	Capture     *capture.Session `json:"capture,omitempty"`
	LoadError   string           `json:"load_error,omitempty"`
}

// State reports the current wall state.
func (a *App) State() Snapshot {
	a.mu.RLock()
	settings := a.settings
	loadErr := a.loadErr
	a.mu.RUnlock()

	snap := Snapshot{
		Feed:        a.loader.State(),
		Layout:      a.layout.Snapshot(),
		Settings:    settings,
		GridVersion: a.grid.Version(),
	}
	if loadErr != nil {
		snap.LoadError = loadErr.Error()
	}
	if a.capture != nil {
		if sess, ok := a.capture.Current(); ok {
			snap.Capture = &sess
		}
	}
	return snap
}

// Cards returns the rendered cards from position from onward.
func (a *App) Cards(from int) []feed.Card {
	cards := a.grid.Cards()
	if from <= 0 {
		return cards
	}
	if from >= len(cards) {
		return []feed.Card{}
	}
	return cards[from:]
}

// Records returns a copy of the list.
func (a *App) Records() []models.CoverRecord {
	return a.store.Snapshot()
}

// NextBatch loads the next page of cards.
func (a *App) NextBatch(ctx context.Context) (int, error) {
	return a.loader.LoadNextBatch(ctx)
}

// Scroll reports the client's scroll position.
func (a *App) Scroll(ctx context.Context, scrollY, viewportHeight float64) (int, error) {
	return a.loader.OnScroll(ctx, scrollY, viewportHeight)
}

// Resize reports the client's viewport size.
func (a *App) Resize(width, height float64) bool {
	return a.loader.OnResize(width, height)
}

// AddVideo resolves the first link in share text and puts the video at the
// front of the wall.
func (a *App) AddVideo(ctx context.Context, shareText string) (models.CoverRecord, error) {
	link, err := videos.ExtractShareURL(shareText)
	if err != nil {
		return models.CoverRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if a.resolver == nil {
		return models.CoverRecord{}, videos.ErrProviderUnavailable
	}

	ctx, span := logging.StartSpan(ctx, "wall.add_video")
	defer span.End()

	meta, err := a.resolver.Lookup(ctx, link)
	if err != nil {
		return models.CoverRecord{}, fmt.Errorf("resolve %s: %w", link, err)
	}
	if !meta.Resolved() {
		return models.CoverRecord{}, fmt.Errorf("resolve %s: %w", link, videos.ErrResolution)
	}

	rec := models.CoverRecord{
		ID:           models.RecordID(strings.TrimSpace(meta.ID)),
		Title:        firstNonEmpty(norm.NFC.String(meta.Title), models.DefaultTitle),
		Author:       firstNonEmpty(norm.NFC.String(meta.Author), models.DefaultAuthor),
		VideoURL:     firstNonEmpty(meta.VideoURL, link),
		RealVideoURL: meta.RealVideoURL,
		CoverURL:     meta.CoverURL,
		CreateTime:   a.now().Unix(),
	}
	if rec.ID == "" {
		rec.ID = models.RecordID(a.newID())
	}

	added, err := a.store.InsertFront(ctx, rec)
	if err != nil {
		return models.CoverRecord{}, err
	}
	logging.FromContext(ctx).Info().Str("id", string(added.ID)).Msg("video added to wall")
	return added, nil
}

// Delete removes the record with the given id.
func (a *App) Delete(ctx context.Context, id models.RecordID) (models.CoverRecord, error) {
	return a.store.RemoveByID(ctx, id)
}

// DeleteAt removes the record at a list position.
func (a *App) DeleteAt(ctx context.Context, index int) (models.CoverRecord, error) {
	return a.store.RemoveAt(ctx, index)
}

// Patch edits a record in place.
func (a *App) Patch(ctx context.Context, id models.RecordID, patch models.CoverPatch) (models.CoverRecord, error) {
	if patch.Empty() {
		return models.CoverRecord{}, fmt.Errorf("%w: empty patch", ErrInvalidInput)
	}
	if patch.Title != nil {
		t := norm.NFC.String(strings.TrimSpace(*patch.Title))
		patch.Title = &t
	}
	return a.store.UpdateByID(ctx, id, patch)
}

// Import replaces the list with a JSON array export.
func (a *App) Import(ctx context.Context, raw []byte) (int, error) {
	return a.store.ReplaceAll(ctx, raw)
}

// Export returns the pretty-printed list.
func (a *App) Export() ([]byte, error) {
	return a.store.ExportSnapshot()
}

// ExportFilename is the download name for Export.
const ExportFilename = "poster-wall-export.json"

// OpenCapture starts a frame selector for the record.
func (a *App) OpenCapture(ctx context.Context, id models.RecordID, manualURL string) (capture.Session, error) {
	if a.capture == nil {
		return capture.Session{}, capture.ErrNoPlayableSource
	}
	return a.capture.Open(ctx, id, manualURL)
}

// SeekCapture moves the frame selector.
func (a *App) SeekCapture(ctx context.Context, fraction float64) (capture.Session, error) {
	if a.capture == nil {
		return capture.Session{}, capture.ErrNoSession
	}
	return a.capture.Seek(ctx, fraction)
}

// CaptureFrame grabs the frame under the selector.
func (a *App) CaptureFrame(ctx context.Context) (capture.Session, error) {
	if a.capture == nil {
		return capture.Session{}, capture.ErrNoSession
	}
	return a.capture.Capture(ctx)
}

// CommitCapture makes the captured frame the record's cover. The store's
// image-only update swaps the live card's image in place.
func (a *App) CommitCapture(ctx context.Context) (models.CoverRecord, error) {
	if a.capture == nil {
		return models.CoverRecord{}, capture.ErrNoSession
	}
	return a.capture.Commit(ctx)
}

// DiscardCapture closes the frame selector.
func (a *App) DiscardCapture() bool {
	if a.capture == nil {
		return false
	}
	return a.capture.Discard()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// IsClientError reports whether err came from bad input rather than a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnsupportedImage)
}
