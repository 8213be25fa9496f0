package feed

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterwall/backend/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProbeSources(t *testing.T) {
	data := pngBytes(t, 30, 40)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write(data)
		case "/slow.png":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "covers"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "covers", "1.jpg"), pngBytes(t, 9, 16), 0o644))

	p := NewImageProber(srv.Client(), 50*time.Millisecond, root)

	sources := []string{
		srv.URL + "/ok.png",
		"data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		models.PlaceholderCover,
		"/data/covers/1.jpg",
		srv.URL + "/missing.png",
		srv.URL + "/slow.png",
		"/../../etc/passwd",
		"ftp://nope",
	}
	sizes := p.Wait(context.Background(), sources)

	assert.Equal(t, []Size{
		{30, 40},
		{30, 40},
		{280, 500},
		{9, 16},
		PlaceholderSize,
		PlaceholderSize,
		PlaceholderSize,
		PlaceholderSize,
	}, sizes)
}

func TestRendererEscapesAndPrioritisesThumbnail(t *testing.T) {
	r := NewRenderer()
	card, err := r.Card(4, models.CoverRecord{
		ID:         "v1",
		Title:      `<script>alert(1)</script>`,
		CoverURL:   "https://cdn.example.com/c.jpg",
		LocalCover: "data/covers/v1.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, "/data/covers/v1.jpg", card.Image)
	html := string(card.HTML)
	assert.Contains(t, html, `src="/data/covers/v1.jpg"`)
	assert.Contains(t, html, `data-index="4"`)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")

	card, err = r.Card(0, models.CoverRecord{ID: "v2"})
	require.NoError(t, err)
	assert.Equal(t, models.PlaceholderCover, card.Image)
}
