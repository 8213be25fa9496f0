package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/videos"
)

// JPEGQuality matches the browser's canvas export quality of 0.85.
const JPEGQuality = 85

// Records is the slice of the cover store the pipeline reads and writes.
type Records interface {
	Get(id models.RecordID) (models.CoverRecord, bool)
	UpdateByID(ctx context.Context, id models.RecordID, patch models.CoverPatch) (models.CoverRecord, error)
}

// Grabber reads a video's duration and decodes single frames from it.
type Grabber interface {
	Duration(ctx context.Context, src string) (float64, error)
	Frame(ctx context.Context, src string, at float64) (image.Image, error)
}

// Config tunes a Pipeline.
type Config struct {
	// ProxyURL is the absolute /proxy_video endpoint playback goes through.
	ProxyURL string
	Timeout  time.Duration
}

// Pipeline runs at most one capture session at a time.
type Pipeline struct {
	records  Records
	resolver videos.Provider
	grabber  Grabber
	cfg      Config

	mu      sync.Mutex
	session *Session
}

// NewPipeline wires a pipeline. resolver may be nil when only records with a
// known playable URL, or manual URLs, should be captured.
func NewPipeline(records Records, resolver videos.Provider, grabber Grabber, cfg Config) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.ProxyURL == "" {
		cfg.ProxyURL = "/proxy_video"
	}
	return &Pipeline{records: records, resolver: resolver, grabber: grabber, cfg: cfg}
}

// PlaybackURL routes src through the streaming proxy.
func PlaybackURL(proxy, src string) string {
	return proxy + "?url=" + url.QueryEscape(src)
}

// Open starts a session for the record, replacing any open one. The stored
// real_video_url is used first; otherwise video_url is resolved and the result
// saved on the record; otherwise manualURL is used as given.
func (p *Pipeline) Open(ctx context.Context, id models.RecordID, manualURL string) (Session, error) {
	rec, ok := p.records.Get(id)
	if !ok {
		return Session{}, fmt.Errorf("open capture for %q: %w", id, covers.ErrNotFound)
	}

	ctx, span := logging.StartSpan(ctx, "capture.open")
	defer span.End()
	logger := logging.FromContext(ctx)

	p.mu.Lock()
	if p.session != nil {
		p.session.State = StateDiscarded
	}
	sess := &Session{ID: uuid.NewString(), RecordID: id, State: StateResolving}
	p.session = sess
	p.mu.Unlock()

	src := strings.TrimSpace(rec.RealVideoURL)
	resolved := false
	if src == "" && rec.VideoURL != "" && p.resolver != nil {
		src = p.resolve(ctx, rec)
		resolved = src != ""
	}
	if src == "" {
		src = strings.TrimSpace(manualURL)
	}
	if src == "" {
		p.end(sess, StateDiscarded)
		metrics.IncCapture("open", false)
		return Session{}, ErrNoPlayableSource
	}

	playback := PlaybackURL(p.cfg.ProxyURL, src)
	duration, err := p.probe(ctx, playback)
	if err != nil {
		logger.Warn().Err(err).Str("record_id", string(id)).Msg("duration probe failed")
		if f, ok := p.resolver.(forgetter); ok && resolved {
			f.Forget(rec.VideoURL)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != sess {
		return Session{}, fmt.Errorf("%w: superseded by a newer session", ErrNoSession)
	}
	sess.SourceURL = src
	sess.PlaybackURL = playback
	sess.Duration = duration
	sess.State = StateReady
	metrics.IncCapture("open", true)
	return sess.clone(), nil
}

// forgetter is implemented by resolvers that cache results. Resolved CDN links
// expire, so a link that cannot be probed is evicted.
type forgetter interface {
	Forget(url string)
}

func (p *Pipeline) resolve(ctx context.Context, rec models.CoverRecord) string {
	logger := logging.FromContext(ctx)
	meta, err := p.resolver.Lookup(ctx, rec.VideoURL)
	if err != nil {
		logger.Warn().Err(err).Str("record_id", string(rec.ID)).Msg("resolve for capture failed")
		return ""
	}
	src := strings.TrimSpace(meta.RealVideoURL)
	if src == "" {
		return ""
	}
	if _, err := p.records.UpdateByID(ctx, rec.ID, models.CoverPatch{RealVideoURL: models.StringPtr(src)}); err != nil {
		logger.Warn().Err(err).Str("record_id", string(rec.ID)).Msg("save resolved video url failed")
	}
	return src
}

func (p *Pipeline) probe(ctx context.Context, playback string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	d, err := p.grabber.Duration(ctx, playback)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}

// Seek moves the position to fraction of the duration, clamped to [0,1].
// While the duration is unknown it probes once more and otherwise leaves the
// position unchanged.
func (p *Pipeline) Seek(ctx context.Context, fraction float64) (Session, error) {
	p.mu.Lock()
	sess := p.session
	if sess == nil || sess.State.Terminal() || sess.State == StateResolving {
		p.mu.Unlock()
		return Session{}, ErrNoSession
	}
	needProbe := sess.Duration <= 0 && !sess.reprobed
	playback := sess.PlaybackURL
	p.mu.Unlock()

	var duration float64
	if needProbe {
		d, err := p.probe(ctx, playback)
		if err != nil {
			logging.FromContext(ctx).Debug().Err(err).Msg("duration still unknown")
		}
		duration = d
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != sess {
		return Session{}, ErrNoSession
	}
	if needProbe {
		sess.reprobed = true
		sess.Duration = duration
	}
	if sess.Duration <= 0 {
		return sess.clone(), nil
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	sess.Position = fraction * sess.Duration
	sess.State = StateScrubbing
	return sess.clone(), nil
}

// Capture grabs the frame at the current position. A failure leaves the
// session open so the operator can seek and retry.
func (p *Pipeline) Capture(ctx context.Context) (Session, error) {
	p.mu.Lock()
	sess := p.session
	if sess == nil || sess.State.Terminal() || sess.State == StateResolving {
		p.mu.Unlock()
		return Session{}, ErrNoSession
	}
	playback, at := sess.PlaybackURL, sess.Position
	p.mu.Unlock()

	ctx, span := logging.StartSpan(ctx, "capture.frame")
	defer span.End()

	frame, err := p.grab(ctx, playback, at)
	if err != nil {
		metrics.IncCapture("frame", false)
		logging.FromContext(ctx).Warn().Err(err).Float64("at", at).Msg("frame capture failed")
		return Session{}, err
	}
	metrics.IncCapture("frame", true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != sess {
		return Session{}, ErrNoSession
	}
	sess.Frame = frame
	sess.State = StateCaptured
	return sess.clone(), nil
}

func (p *Pipeline) grab(ctx context.Context, playback string, at float64) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	img, err := p.grabber.Frame(ctx, playback, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrCapture)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %w", ErrCapture, err)
	}
	return &Frame{
		JPEG:    buf.Bytes(),
		DataURL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		At:      at,
	}, nil
}

// Commit writes the captured frame as the record's cover, clearing any local
// cover, and ends the session. Without a frame the record is left untouched.
func (p *Pipeline) Commit(ctx context.Context) (models.CoverRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess := p.session
	if sess == nil || sess.State.Terminal() {
		return models.CoverRecord{}, ErrNoSession
	}
	if sess.Frame == nil {
		return models.CoverRecord{}, ErrNoFrame
	}

	rec, err := p.records.UpdateByID(ctx, sess.RecordID, models.CoverPatch{
		CoverURL:   models.StringPtr(sess.Frame.DataURL),
		LocalCover: models.StringPtr(""),
	})
	if err != nil {
		metrics.IncCapture("commit", false)
		return models.CoverRecord{}, fmt.Errorf("commit frame: %w", err)
	}
	metrics.IncCapture("commit", true)
	sess.State = StateCommitted
	p.session = nil
	logging.FromContext(ctx).Info().Str("record_id", string(rec.ID)).Int("bytes", len(sess.Frame.JPEG)).Msg("cover replaced from frame")
	return rec, nil
}

// Discard closes the session without side effects. It reports whether a
// session was open.
func (p *Pipeline) Discard() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return false
	}
	p.session.State = StateDiscarded
	p.session = nil
	return true
}

// Current returns the open session.
func (p *Pipeline) Current() (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return Session{}, false
	}
	return p.session.clone(), true
}

func (p *Pipeline) end(sess *Session, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess.State = state
	if p.session == sess {
		p.session = nil
	}
}
