package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppPort != 5000 {
		t.Fatalf("unexpected port %d", cfg.AppPort)
	}
	if cfg.Cache.Backend != CacheFile || cfg.Cache.QuotaByte != DefaultQuota {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.PublicBaseURL != "http://127.0.0.1:5000" {
		t.Fatalf("unexpected public base url %q", cfg.PublicBaseURL)
	}
	if cfg.MetadataPath() != "data/metadata.json" || cfg.CoversDir() != "data/covers" {
		t.Fatalf("unexpected data paths %q %q", cfg.MetadataPath(), cfg.CoversDir())
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posterwall.yaml")
	contents := "port: 6000\ncache:\n  backend: sqlite\nffmpeg_path: /opt/ffmpeg\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("POSTERWALL_CONFIG", path)
	t.Setenv("POSTERWALL_PORT", "7000")
	t.Setenv("POSTERWALL_YTDLP_TIMEOUT", "5s")
	t.Setenv("POSTERWALL_IMAGE_TIMEOUT", "garbage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppPort != 7000 {
		t.Fatalf("env should override file, got port %d", cfg.AppPort)
	}
	if cfg.Cache.Backend != CacheSQLite || cfg.FFmpegPath != "/opt/ffmpeg" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.YTDLPTimeout != 5*time.Second {
		t.Fatalf("unexpected yt-dlp timeout %v", cfg.YTDLPTimeout)
	}
	if cfg.ImageTimeout != 8*time.Second {
		t.Fatalf("invalid duration should fall back, got %v", cfg.ImageTimeout)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Backend = "floppy" }, wantErr: true},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backend = CacheRedis }, wantErr: true},
		{name: "http remote without urls", mutate: func(c *Config) { c.Remote.Backend = RemoteHTTP }, wantErr: true},
		{name: "s3 remote without bucket", mutate: func(c *Config) { c.Remote.Backend = RemoteS3 }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.AppPort = 0 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
