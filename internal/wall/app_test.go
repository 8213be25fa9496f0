package wall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterwall/backend/internal/capture"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/feed"
	"github.com/posterwall/backend/internal/kv"
	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/videos"
)

type fixedImages struct{}

func (fixedImages) Wait(_ context.Context, sources []string) []feed.Size {
	out := make([]feed.Size, len(sources))
	for i := range out {
		out[i] = feed.Size{Width: 300, Height: 400}
	}
	return out
}

type frameGrabber struct{}

func (frameGrabber) Duration(context.Context, string) (float64, error) { return 8, nil }

func (frameGrabber) Frame(context.Context, string, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 9, 16)), nil
}

func seedRecords(n int) []models.CoverRecord {
	out := make([]models.CoverRecord, n)
	for i := range out {
		out[i] = models.CoverRecord{
			ID:       models.RecordID(fmt.Sprintf("v%d", i+1)),
			Title:    fmt.Sprintf("video %d", i+1),
			Author:   "someone",
			VideoURL: fmt.Sprintf("https://www.douyin.com/video/%d", i+1),
			CoverURL: fmt.Sprintf("https://img.example/%d.jpg", i+1),
		}
	}
	return out
}

type harness struct {
	app   *App
	cache *kv.MemoryStore
	store *covers.Store
}

func newHarness(t *testing.T, records []models.CoverRecord, resolver videos.Provider) harness {
	t.Helper()
	ctx := context.Background()
	cache := kv.NewMemoryStore()
	if records != nil {
		data, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, kv.DataKey, data))
	}
	store := covers.NewStore(cache, nil)
	pipeline := capture.NewPipeline(store, resolver, frameGrabber{}, capture.Config{ProxyURL: "/proxy_video"})

	app := New(Options{
		Store:    store,
		Settings: cache,
		Resolver: resolver,
		Capture:  pipeline,
		Images:   fixedImages{},
		Feed:     feed.Config{BatchSize: 4, Viewport: feed.Viewport{Width: 1200, Height: 100}},
		Now:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		NewID:    func() string { return "generated-id" },
	})
	return harness{app: app, cache: cache, store: store}
}

func TestStartLoadsFirstBatch(t *testing.T) {
	h := newHarness(t, seedRecords(10), nil)
	require.NoError(t, h.app.Start(context.Background()))

	st := h.app.State()
	assert.Equal(t, 4, st.Feed.LoadedCount)
	assert.Equal(t, 10, st.Feed.Total)
	assert.Empty(t, st.LoadError)
	assert.Len(t, h.app.Cards(0), 4)
	assert.Len(t, h.app.Cards(3), 1)
	assert.Empty(t, h.app.Cards(9))

	n, err := h.app.NextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 8, h.app.State().Feed.LoadedCount)
}

func TestStartWithoutAnyListStaysUsable(t *testing.T) {
	h := newHarness(t, nil, nil)
	err := h.app.Start(context.Background())
	require.ErrorIs(t, err, covers.ErrLoad)

	st := h.app.State()
	assert.NotEmpty(t, st.LoadError)
	assert.Zero(t, st.Feed.Total)
	assert.Empty(t, h.app.Cards(0))
}

func TestStructuralMutationResetsFeed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(10), nil)
	require.NoError(t, h.app.Start(ctx))
	_, err := h.app.NextBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, h.app.State().Feed.LoadedCount)

	removed, err := h.app.Delete(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, models.RecordID("v2"), removed.ID)

	st := h.app.State()
	assert.Equal(t, 4, st.Feed.LoadedCount)
	assert.Equal(t, 9, st.Feed.Total)
	cards := h.app.Cards(0)
	require.Len(t, cards, 4)
	assert.Equal(t, models.RecordID("v3"), cards[1].ID)
	assert.Equal(t, 1, cards[1].Index)

	_, err = h.app.DeleteAt(ctx, 99)
	require.Error(t, err)
}

func TestPatchUpdatesCardInPlace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(6), nil)
	require.NoError(t, h.app.Start(ctx))
	before := h.app.State().Feed.Generation

	rec, err := h.app.Patch(ctx, "v2", models.CoverPatch{Title: models.StringPtr("  renamed ")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.Title)

	st := h.app.State()
	assert.Equal(t, before, st.Feed.Generation, "in-place edits keep the cursor")
	assert.Equal(t, "renamed", h.app.Cards(0)[1].Title)

	_, err = h.app.Patch(ctx, "v2", models.CoverPatch{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddVideoPutsRecordInFront(t *testing.T) {
	ctx := context.Background()
	var looked string
	resolver := videos.ProviderFunc(func(_ context.Context, url string) (videos.Metadata, error) {
		looked = url
		return videos.Metadata{RealVideoURL: "https://cdn.example/new.mp4", CoverURL: "https://img.example/new.jpg"}, nil
	})
	h := newHarness(t, seedRecords(3), resolver)
	require.NoError(t, h.app.Start(ctx))

	rec, err := h.app.AddVideo(ctx, "7.48 复制打开抖音，看看 https://v.douyin.com/abc123/ 【作品】")
	require.NoError(t, err)
	assert.Equal(t, "https://v.douyin.com/abc123/", looked)
	assert.Equal(t, models.RecordID("generated-id"), rec.ID)
	assert.Equal(t, models.DefaultTitle, rec.Title)
	assert.Equal(t, models.DefaultAuthor, rec.Author)
	assert.Equal(t, "https://v.douyin.com/abc123/", rec.VideoURL)
	assert.Equal(t, int64(1_700_000_000), rec.CreateTime)

	records := h.app.Records()
	require.Len(t, records, 4)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, rec.ID, h.app.Cards(0)[0].ID)

	_, err = h.app.AddVideo(ctx, "no link here")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, IsClientError(err))
}

func TestAddVideoRejectsUnresolvedMetadata(t *testing.T) {
	resolver := videos.ProviderFunc(func(context.Context, string) (videos.Metadata, error) {
		return videos.Metadata{Title: "only a title"}, nil
	})
	h := newHarness(t, seedRecords(1), resolver)
	require.NoError(t, h.app.Start(context.Background()))

	_, err := h.app.AddVideo(context.Background(), "https://v.douyin.com/x/")
	require.ErrorIs(t, err, videos.ErrResolution)
	assert.Len(t, h.app.Records(), 1)
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(2), nil)
	require.NoError(t, h.app.Start(ctx))

	n, err := h.app.Import(ctx, []byte(`[{"id":"x","title":"imported"},{"title":"no id"}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.app.State().Feed.LoadedCount)

	out, err := h.app.Export()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"imported"`)

	_, err = h.app.Import(ctx, []byte(`{"not":"a list"}`))
	require.ErrorIs(t, err, covers.ErrImport)
	assert.Len(t, h.app.Records(), 2)
}

func TestSettingsPersistAcrossRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(2), nil)
	require.NoError(t, h.app.Start(ctx))

	applied, err := h.app.ApplySettings(ctx, models.Settings{Columns: 40, Gap: -3, ShowTitle: true})
	require.NoError(t, err)
	assert.Equal(t, models.MaxColumns, applied.Columns)
	assert.Zero(t, applied.Gap)
	assert.Equal(t, models.MaxColumns, h.app.State().Layout.Columns)

	restarted := New(Options{Store: covers.NewStore(h.cache, nil), Settings: h.cache, Images: fixedImages{}})
	require.NoError(t, restarted.Start(ctx))
	assert.Equal(t, models.MaxColumns, restarted.Settings().Columns)

	reset, err := restarted.ResetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), reset)
}

func TestLegacySettingsMigrate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(1), nil)
	require.NoError(t, h.cache.Put(ctx, kv.SettingsKey, []byte(`{"cardWidth":240,"gap":8}`)))
	require.NoError(t, h.app.Start(ctx))

	s := h.app.Settings()
	assert.Equal(t, models.DefaultColumns, s.Columns)
	assert.Equal(t, 8, s.Gap)
}

func TestSetHeroImage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, seedRecords(1), nil)
	require.NoError(t, h.app.Start(ctx))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	s, err := h.app.SetHeroImage(ctx, HeroBackground, buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, s.Hero.Background, "data:image/png;base64,")

	stored, err := h.cache.Get(ctx, kv.SettingsKey)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "data:image/png;base64,")

	_, err = h.app.SetHeroImage(ctx, HeroAvatar, []byte("plain text, not an image"))
	require.ErrorIs(t, err, ErrUnsupportedImage)
	_, err = h.app.SetHeroImage(ctx, "banner", buf.Bytes())
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCaptureCommitUpdatesLiveCard(t *testing.T) {
	ctx := context.Background()
	records := seedRecords(3)
	records[1].RealVideoURL = "https://cdn.example/2.mp4"
	h := newHarness(t, records, nil)
	require.NoError(t, h.app.Start(ctx))

	sess, err := h.app.OpenCapture(ctx, "v2", "")
	require.NoError(t, err)
	assert.Equal(t, capture.StateReady, sess.State)
	require.NotNil(t, h.app.State().Capture)

	_, err = h.app.SeekCapture(ctx, 0.5)
	require.NoError(t, err)
	sess, err = h.app.CaptureFrame(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess.Frame)

	rec, err := h.app.CommitCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.Frame.DataURL, rec.CoverURL)

	card := h.app.Cards(0)[1]
	assert.Equal(t, sess.Frame.DataURL, card.Image)
	assert.Contains(t, string(card.HTML), sess.Frame.DataURL)
	assert.Equal(t, 1, card.Index)
	assert.Nil(t, h.app.State().Capture)
	assert.False(t, h.app.DiscardCapture())
}
