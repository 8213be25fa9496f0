package feed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/posterwall/backend/internal/layout"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
	"github.com/posterwall/backend/internal/models"
)

// Defaults taken from the wall's scrolling behaviour.
const (
	DefaultBatchSize   = 20
	ScrollThreshold    = 300
	AutoContinueMargin = 100
	ThrottleInterval   = 100 * time.Millisecond
)

// Source is the ordered list the loader pages through.
type Source interface {
	Len() int
	Slice(start, end int) []models.CoverRecord
}

// Viewport is the client's visible area.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// State is the feed cursor as reported to clients.
type State struct {
	LoadedCount int    `json:"loaded_count"`
	Total       int    `json:"total"`
	Loading     bool   `json:"loading"`
	Exhausted   bool   `json:"exhausted"`
	Generation  uint64 `json:"generation"`
}

// Config tunes the loader.
type Config struct {
	BatchSize int
	// ChromeHeight is the height of everything above the grid, such as the hero banner.
	ChromeHeight float64
	Viewport     Viewport
	Now          func() time.Time
}

// Loader pages records into the sink in fixed-size batches, waiting for each
// batch's images before laying it out. Only one batch is in flight at a time;
// a request made while loading is dropped, not queued.
type Loader struct {
	source   Source
	layout   *layout.Controller
	sink     Sink
	renderer *Renderer
	images   ImageWaiter

	batchSize    int
	chromeHeight float64
	now          func() time.Time

	mu          sync.Mutex
	loadedCount int
	loading     bool
	generation  uint64
	viewport    Viewport

	scrollLimiter *rate.Limiter
	resizeLimiter *rate.Limiter
}

// NewLoader wires a loader. The layout is reset so it is ready for appends.
func NewLoader(source Source, ctrl *layout.Controller, sink Sink, renderer *Renderer, images ImageWaiter, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Viewport.Height <= 0 {
		cfg.Viewport = Viewport{Width: layout.DefaultContainerWidth, Height: 900}
	}
	if renderer == nil {
		renderer = NewRenderer()
	}
	ctrl.SetContainerWidth(cfg.Viewport.Width)
	ctrl.Reset()

	return &Loader{
		source:        source,
		layout:        ctrl,
		sink:          sink,
		renderer:      renderer,
		images:        images,
		batchSize:     cfg.BatchSize,
		chromeHeight:  cfg.ChromeHeight,
		now:           cfg.Now,
		viewport:      cfg.Viewport,
		scrollLimiter: rate.NewLimiter(rate.Every(ThrottleInterval), 1),
		resizeLimiter: rate.NewLimiter(rate.Every(ThrottleInterval), 1),
	}
}

// State returns the cursor.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.source.Len()
	return State{
		LoadedCount: l.loadedCount,
		Total:       total,
		Loading:     l.loading,
		Exhausted:   l.loadedCount >= total,
		Generation:  l.generation,
	}
}

// Viewport returns the last reported viewport.
func (l *Loader) Viewport() Viewport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport
}

// DocumentHeight is the page height: the chrome plus the laid-out grid.
func (l *Loader) DocumentHeight() float64 {
	return l.chromeHeight + l.layout.Height()
}

// LoadNextBatch loads one batch, then keeps loading while the page is still
// too short to scroll and each batch makes it taller. It returns the number of
// cards appended.
func (l *Loader) LoadNextBatch(ctx context.Context) (int, error) {
	total := 0
	for {
		before := l.DocumentHeight()
		n, err := l.loadOne(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}

		after := l.DocumentHeight()
		st := l.State()
		vp := l.Viewport()
		if st.Exhausted || after > vp.Height+AutoContinueMargin {
			return total, nil
		}
		if after <= before {
			logging.FromContext(ctx).Debug().Float64("height", after).Msg("feed stopped auto-continuing, page height did not grow")
			return total, nil
		}
	}
}

func (l *Loader) loadOne(ctx context.Context) (int, error) {
	l.mu.Lock()
	total := l.source.Len()
	if l.loading || l.loadedCount >= total {
		l.mu.Unlock()
		return 0, nil
	}
	l.loading = true
	gen := l.generation
	start := l.loadedCount
	end := start + l.batchSize
	if end > total {
		end = total
	}
	l.mu.Unlock()

	ctx, span := logging.StartSpan(ctx, "feed.batch")
	defer span.End()
	began := l.now()

	records := l.source.Slice(start, end)
	cards, err := l.renderer.Cards(start, records)
	if err != nil {
		l.finish(gen, func() {})
		return 0, err
	}

	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return 0, nil
	}
	l.sink.Append(cards)
	l.mu.Unlock()

	sources := make([]string, len(cards))
	for i, c := range cards {
		sources[i] = c.Image
	}
	sizes := l.images.Wait(ctx, sources)

	items := make([]layout.Item, len(cards))
	for i, c := range cards {
		items[i] = layout.Item{ID: c.ID, Width: sizes[i].Width, Height: sizes[i].Height}
	}

	appended := false
	var layoutErr error
	l.finish(gen, func() {
		layoutErr = l.layout.Append(items)
		l.loadedCount = start + len(cards)
		appended = true
	})
	if !appended {
		logging.FromContext(ctx).Debug().Int("start", start).Msg("dropped batch invalidated by reset")
		return 0, nil
	}
	if layoutErr != nil {
		return 0, layoutErr
	}

	metrics.ObserveFeedBatch(l.now().Sub(began))
	logging.FromContext(ctx).Debug().Int("start", start).Int("count", len(cards)).Msg("feed batch appended")
	return len(cards), nil
}

// finish runs fn and clears the loading flag, unless a reset has started a new
// generation since the batch began.
func (l *Loader) finish(gen uint64, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return
	}
	fn()
	l.loading = false
}

// OnScroll loads the next batch when the bottom of the viewport is within the
// threshold of the page end. Calls closer together than the throttle interval
// are ignored.
func (l *Loader) OnScroll(ctx context.Context, scrollY, viewportHeight float64) (int, error) {
	if !l.scrollLimiter.AllowN(l.now(), 1) {
		return 0, nil
	}
	if viewportHeight > 0 {
		l.mu.Lock()
		l.viewport.Height = viewportHeight
		l.mu.Unlock()
	}
	if viewportHeight+scrollY < l.DocumentHeight()-ScrollThreshold {
		return 0, nil
	}
	return l.LoadNextBatch(ctx)
}

// OnResize records the new viewport and relays out. It reports whether the
// call passed the throttle.
func (l *Loader) OnResize(width, height float64) bool {
	if !l.resizeLimiter.AllowN(l.now(), 1) {
		return false
	}
	l.mu.Lock()
	if width > 0 {
		l.viewport.Width = width
	}
	if height > 0 {
		l.viewport.Height = height
	}
	l.mu.Unlock()

	l.layout.SetContainerWidth(width)
	l.layout.Relayout()
	return true
}

// Reset returns the cursor to the top, clears the sink and the layout. A batch
// still waiting on images is discarded when it settles.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.loadedCount = 0
	l.loading = false
	l.sink.Clear()
	l.layout.Reset()
}

// Refresh re-renders the live card of a record updated in place. When its
// image changed, the new image is settled and the layout adjusted.
func (l *Loader) Refresh(ctx context.Context, index int, rec models.CoverRecord) error {
	card, err := l.renderer.Card(index, rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	visible := index < l.loadedCount
	l.mu.Unlock()
	if !visible {
		return nil
	}

	if !l.sink.Update(card) {
		return nil
	}
	size := l.images.Wait(ctx, []string{card.Image})[0]
	l.layout.Resize(rec.ID, size.Width, size.Height)
	return nil
}

// UpdateImage swaps the image of a live card without re-rendering it.
func (l *Loader) UpdateImage(ctx context.Context, id models.RecordID, src string) bool {
	if !l.sink.UpdateImage(id, src) {
		return false
	}
	size := l.images.Wait(ctx, []string{src})[0]
	l.layout.Resize(id, size.Width, size.Height)
	return true
}
