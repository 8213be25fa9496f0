package videos

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestYTDLPProviderLookup(t *testing.T) {
	provider := NewYTDLPProvider("yt-dlp", time.Second)
	provider.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		wantArgs := []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download", "-f", "best[ext=mp4]/best", "https://v.douyin.com/abc/"}
		if len(args) != len(wantArgs) {
			t.Fatalf("unexpected args length: got %d want %d", len(args), len(wantArgs))
		}
		for i, arg := range wantArgs {
			if args[i] != arg {
				t.Fatalf("unexpected arg at %d: got %q want %q", i, args[i], arg)
			}
		}
		return []byte(`{"id":"7300","title":"Sunset","uploader":"mia","webpage_url":"https://www.douyin.com/video/7300","url":"https://cdn.example/v.mp4","thumbnail":"https://cdn.example/c.jpg"}`), nil
	}

	meta, err := provider.Lookup(context.Background(), "https://v.douyin.com/abc/")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := Metadata{
		ID:           "7300",
		Title:        "Sunset",
		Author:       "mia",
		VideoURL:     "https://www.douyin.com/video/7300",
		RealVideoURL: "https://cdn.example/v.mp4",
		CoverURL:     "https://cdn.example/c.jpg",
	}
	if meta != want {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestYTDLPProviderLookupEmptyPayload(t *testing.T) {
	provider := NewYTDLPProvider("yt-dlp", time.Second)
	provider.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return []byte(`{"title":"only a title"}`), nil
	}

	if _, err := provider.Lookup(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error for empty metadata")
	}
}

func TestYTDLPProviderLookupCommandFailure(t *testing.T) {
	provider := NewYTDLPProvider("", 0)
	if provider.Binary != "yt-dlp" || provider.Timeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", provider)
	}
	boom := errors.New("exit status 1")
	provider.Run = func(context.Context, string, ...string) ([]byte, error) { return nil, boom }

	if _, err := provider.Lookup(context.Background(), "https://example.com"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped command error, got %v", err)
	}
}

func TestYTDLPProviderNilReceiver(t *testing.T) {
	var provider *YTDLPProvider
	if _, err := provider.Lookup(context.Background(), "https://example.com"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestProviderFuncCachedOnce(t *testing.T) {
	calls := 0
	base := ProviderFunc(func(ctx context.Context, url string) (Metadata, error) {
		calls++
		return Metadata{ID: "1", Title: "Test"}, nil
	})

	cache := NewCachingProvider(base, time.Hour)

	if _, err := cache.Lookup(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if _, err := cache.Lookup(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected base provider called once, got %d", calls)
	}
}
