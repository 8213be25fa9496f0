package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterwall/backend/internal/config"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/models"
)

func TestLocalStorageSaveAndLookup(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStorage(dir, "/data/covers/")

	_, ok := store.Lookup(context.Background(), "1.jpg")
	assert.False(t, ok)

	loc, err := store.Save(context.Background(), "1.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "data/covers/1.jpg", loc)

	data, err := os.ReadFile(filepath.Join(dir, "1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	loc, ok = store.Lookup(context.Background(), "1.jpg")
	assert.True(t, ok)
	assert.Equal(t, "data/covers/1.jpg", loc)

	_, err = store.Save(context.Background(), "../escape.jpg", strings.NewReader("x"))
	require.Error(t, err)
}

// fakeS3 is a path-style bucket good enough for PutObject, GetObject and HeadObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Client(t *testing.T) (*s3.Client, config.ObjectStoreConfig, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.ObjectStoreConfig{Bucket: "wall", Region: "us-east-1", Endpoint: srv.URL, MetadataKey: "metadata.json"}
	client, err := NewS3Client(context.Background(), cfg, func(o *s3.Options) {
		o.Credentials = aws.AnonymousCredentials{}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		o.HTTPClient = srv.Client()
	})
	require.NoError(t, err)
	return client, cfg, fake
}

func TestS3StorageSaveAndLookup(t *testing.T) {
	client, cfg, fake := newFakeS3Client(t)
	store := NewS3Storage(client, cfg)

	_, ok := store.Lookup(context.Background(), "7.jpg")
	assert.False(t, ok)

	loc, err := store.Save(context.Background(), "7.jpg", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Endpoint+"/wall/covers/7.jpg", loc)
	assert.Equal(t, "jpeg bytes", string(fake.objects["wall/covers/7.jpg"]))

	loc2, ok := store.Lookup(context.Background(), "7.jpg")
	assert.True(t, ok)
	assert.Equal(t, loc, loc2)
}

func TestS3MetadataStoreRoundTrip(t *testing.T) {
	client, cfg, _ := newFakeS3Client(t)
	var remote covers.Remote = NewS3MetadataStore(client, cfg)

	_, err := remote.Fetch(context.Background())
	require.Error(t, err)

	records := []models.CoverRecord{
		{ID: "1", Title: "海边", CoverURL: "https://cdn.example/1.jpg"},
		{ID: "2", Title: "Two", LocalCover: "data/covers/2.jpg"},
	}
	require.NoError(t, remote.Save(context.Background(), records))

	got, err := remote.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "https://cdn.example", publicBase(config.ObjectStoreConfig{PublicBaseURL: "https://cdn.example/", Bucket: "b"}))
	assert.Equal(t, "http://minio:9000/b", publicBase(config.ObjectStoreConfig{Endpoint: "http://minio:9000", Bucket: "b"}))
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com", publicBase(config.ObjectStoreConfig{Bucket: "b", Region: "eu-west-1"}))
}
