package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/videos"
)

type memRecords struct {
	mu      sync.Mutex
	records map[models.RecordID]models.CoverRecord
	updates int
	failErr error
}

func newMemRecords(recs ...models.CoverRecord) *memRecords {
	m := &memRecords{records: make(map[models.RecordID]models.CoverRecord)}
	for _, r := range recs {
		m.records[r.ID] = r
	}
	return m
}

func (m *memRecords) Get(id models.RecordID) (models.CoverRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *memRecords) UpdateByID(_ context.Context, id models.RecordID, patch models.CoverPatch) (models.CoverRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return models.CoverRecord{}, m.failErr
	}
	r, ok := m.records[id]
	if !ok {
		return models.CoverRecord{}, covers.ErrNotFound
	}
	r = patch.Apply(r)
	m.records[id] = r
	m.updates++
	return r, nil
}

type stubGrabber struct {
	duration    float64
	durationErr error
	frameErr    error
	probes      int
	lastSrc     string
	lastAt      float64
}

func (g *stubGrabber) Duration(_ context.Context, src string) (float64, error) {
	g.probes++
	g.lastSrc = src
	return g.duration, g.durationErr
}

func (g *stubGrabber) Frame(_ context.Context, src string, at float64) (image.Image, error) {
	g.lastSrc, g.lastAt = src, at
	if g.frameErr != nil {
		return nil, g.frameErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 72, 128))
	for x := 0; x < 72; x++ {
		img.Set(x, 10, color.RGBA{R: 200, A: 255})
	}
	return img, nil
}

const proxy = "http://127.0.0.1:5000/proxy_video"

func TestOpenUsesStoredVideoURL(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4?x=1&y=2"})
	grabber := &stubGrabber{duration: 10}
	p := NewPipeline(recs, nil, grabber, Config{ProxyURL: proxy})

	sess, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)
	assert.Equal(t, StateReady, sess.State)
	assert.Equal(t, "https://cdn.example/a.mp4?x=1&y=2", sess.SourceURL)
	assert.Equal(t, proxy+"?url=https%3A%2F%2Fcdn.example%2Fa.mp4%3Fx%3D1%26y%3D2", sess.PlaybackURL)
	assert.Equal(t, sess.PlaybackURL, grabber.lastSrc)
	assert.Equal(t, 10.0, sess.Duration)
	assert.Zero(t, recs.updates)
}

func TestOpenResolvesAndSavesVideoURL(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", VideoURL: "https://www.douyin.com/video/1"})
	resolver := videos.ProviderFunc(func(ctx context.Context, url string) (videos.Metadata, error) {
		assert.Equal(t, "https://www.douyin.com/video/1", url)
		return videos.Metadata{ID: "1", RealVideoURL: "https://cdn.example/1.mp4"}, nil
	})
	p := NewPipeline(recs, resolver, &stubGrabber{duration: 4}, Config{ProxyURL: proxy})

	sess, err := p.Open(context.Background(), "a", "https://manual.example/ignored.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/1.mp4", sess.SourceURL)

	rec, _ := recs.Get("a")
	assert.Equal(t, "https://cdn.example/1.mp4", rec.RealVideoURL)
}

func TestOpenEvictsUnplayableResolution(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", VideoURL: "https://www.douyin.com/video/1"})
	calls := 0
	resolver := videos.NewCachingProvider(videos.ProviderFunc(func(context.Context, string) (videos.Metadata, error) {
		calls++
		return videos.Metadata{ID: "1", RealVideoURL: "https://cdn.example/expired.mp4"}, nil
	}), time.Hour)
	p := NewPipeline(recs, resolver, &stubGrabber{durationErr: errors.New("403")}, Config{ProxyURL: proxy})

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = resolver.Lookup(context.Background(), "https://www.douyin.com/video/1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestOpenFallsBackToManualURL(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", VideoURL: "https://www.douyin.com/video/1"})
	resolver := videos.ProviderFunc(func(context.Context, string) (videos.Metadata, error) {
		return videos.Metadata{}, videos.ErrResolution
	})
	p := NewPipeline(recs, resolver, &stubGrabber{duration: 4}, Config{ProxyURL: proxy})

	sess, err := p.Open(context.Background(), "a", " https://manual.example/v.mp4 ")
	require.NoError(t, err)
	assert.Equal(t, "https://manual.example/v.mp4", sess.SourceURL)
	rec, _ := recs.Get("a")
	assert.Empty(t, rec.RealVideoURL, "manual URLs are not saved")

	_, err = p.Open(context.Background(), "a", "")
	require.ErrorIs(t, err, ErrNoPlayableSource)
	_, open := p.Current()
	assert.False(t, open)

	_, err = p.Open(context.Background(), "missing", "")
	require.ErrorIs(t, err, covers.ErrNotFound)
}

func TestSeekMapsFractionToDuration(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"})
	p := NewPipeline(recs, nil, &stubGrabber{duration: 20}, Config{ProxyURL: proxy})

	_, err := p.Seek(context.Background(), 0.5)
	require.ErrorIs(t, err, ErrNoSession)

	_, err = p.Open(context.Background(), "a", "")
	require.NoError(t, err)

	sess, err := p.Seek(context.Background(), 0.25)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sess.Position)
	assert.Equal(t, StateScrubbing, sess.State)

	sess, err = p.Seek(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 20.0, sess.Position)

	sess, err = p.Seek(context.Background(), -1)
	require.NoError(t, err)
	assert.Zero(t, sess.Position)
}

func TestSeekWithUnknownDurationIsNoop(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"})
	grabber := &stubGrabber{durationErr: errors.New("N/A")}
	p := NewPipeline(recs, nil, grabber, Config{ProxyURL: proxy})

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sess, err := p.Seek(context.Background(), 0.5)
		require.NoError(t, err)
		assert.Zero(t, sess.Position)
		assert.Equal(t, StateReady, sess.State)
	}
	assert.Equal(t, 2, grabber.probes, "one probe on open and one retry")
}

func TestCaptureCommitReplacesCover(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{
		ID:           "a",
		RealVideoURL: "https://cdn.example/a.mp4",
		CoverURL:     "https://cdn.example/old.jpg",
		LocalCover:   "data/covers/a.jpg",
	})
	grabber := &stubGrabber{duration: 8}
	p := NewPipeline(recs, nil, grabber, Config{ProxyURL: proxy})

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)

	_, err = p.Commit(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
	rec, _ := recs.Get("a")
	assert.Equal(t, "https://cdn.example/old.jpg", rec.CoverURL, "record untouched without a frame")

	_, err = p.Seek(context.Background(), 0.5)
	require.NoError(t, err)
	sess, err := p.Capture(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess.Frame)
	assert.Equal(t, StateCaptured, sess.State)
	assert.Equal(t, 72, sess.Frame.Width)
	assert.Equal(t, 128, sess.Frame.Height)
	assert.Equal(t, 4.0, grabber.lastAt)
	assert.True(t, strings.HasPrefix(sess.Frame.DataURL, "data:image/jpeg;base64,"))

	rec, err = p.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sess.Frame.DataURL, rec.CoverURL)
	assert.Empty(t, rec.LocalCover)
	assert.Equal(t, sess.Frame.DataURL, rec.ThumbnailSource())

	_, open := p.Current()
	assert.False(t, open)
	_, err = p.Commit(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestCaptureFailureKeepsSessionOpen(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"})
	grabber := &stubGrabber{duration: 8, frameErr: errors.New("403 from upstream")}
	p := NewPipeline(recs, nil, grabber, Config{ProxyURL: proxy})

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)

	_, err = p.Capture(context.Background())
	require.ErrorIs(t, err, ErrCapture)

	sess, open := p.Current()
	require.True(t, open)
	assert.Nil(t, sess.Frame)

	grabber.frameErr = nil
	_, err = p.Capture(context.Background())
	require.NoError(t, err)
}

func TestCommitFailureLeavesSessionOpen(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"})
	p := NewPipeline(recs, nil, &stubGrabber{duration: 8}, Config{ProxyURL: proxy})

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = p.Capture(context.Background())
	require.NoError(t, err)

	recs.failErr = covers.ErrPersistenceQuota
	_, err = p.Commit(context.Background())
	require.ErrorIs(t, err, covers.ErrPersistenceQuota)

	sess, open := p.Current()
	require.True(t, open)
	assert.Equal(t, StateCaptured, sess.State)
}

func TestDiscardHasNoSideEffects(t *testing.T) {
	recs := newMemRecords(models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"})
	p := NewPipeline(recs, nil, &stubGrabber{duration: 8}, Config{ProxyURL: proxy})

	assert.False(t, p.Discard())

	_, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = p.Capture(context.Background())
	require.NoError(t, err)

	assert.True(t, p.Discard())
	assert.Zero(t, recs.updates)
	_, err = p.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestOpenReplacesPreviousSession(t *testing.T) {
	recs := newMemRecords(
		models.CoverRecord{ID: "a", RealVideoURL: "https://cdn.example/a.mp4"},
		models.CoverRecord{ID: "b", RealVideoURL: "https://cdn.example/b.mp4"},
	)
	p := NewPipeline(recs, nil, &stubGrabber{duration: 8}, Config{ProxyURL: proxy})

	first, err := p.Open(context.Background(), "a", "")
	require.NoError(t, err)
	second, err := p.Open(context.Background(), "b", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	cur, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, models.RecordID("b"), cur.RecordID)
}
