package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/posterwall/backend/internal/capture"
	"github.com/posterwall/backend/internal/config"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/db"
	"github.com/posterwall/backend/internal/feed"
	"github.com/posterwall/backend/internal/handlers"
	"github.com/posterwall/backend/internal/kv"
	"github.com/posterwall/backend/internal/middleware"
	"github.com/posterwall/backend/internal/proxy"
	"github.com/posterwall/backend/internal/repositories"
	"github.com/posterwall/backend/internal/storage"
	"github.com/posterwall/backend/internal/videos"
	"github.com/posterwall/backend/internal/wall"
)

const coversURLPrefix = "data/covers"

// components holds everything a command needs, built once from config.
type components struct {
	cfg      config.Config
	logger   zerolog.Logger
	client   *http.Client
	cache    kv.Store
	remote   covers.Remote
	served   handlers.MetadataStore
	pusher   *covers.Pusher
	store    *covers.Store
	resolver videos.Provider
	capture  *capture.Pipeline
	assets   covers.AssetStorage
	wall     *wall.App
	pool     *pgxpool.Pool
	s3       *s3.Client
}

// buildComponents wires together concrete implementations used by the commands.
func buildComponents(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*components, error) {
	c := &components{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	cache, err := kv.Open(ctx, kv.Options{
		Backend:   cfg.Cache.Backend,
		Path:      cfg.Cache.Path,
		DataDir:   cfg.DataDir,
		Quota:     cfg.Cache.QuotaByte,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	c.cache = cache

	if err := c.buildRemote(ctx); err != nil {
		_ = c.close(ctx)
		return nil, err
	}
	if err := c.buildAssets(ctx); err != nil {
		_ = c.close(ctx)
		return nil, err
	}

	var opts []covers.Option
	if c.remote != nil {
		c.pusher = covers.NewPusher(c.remote, covers.PusherConfig{}, logger)
		opts = append(opts, covers.WithPusher(c.pusher))
	}
	c.store = covers.NewStore(cache, c.remote, opts...)

	c.resolver = buildResolver(cfg, c.client)
	c.capture = capture.NewPipeline(c.store, c.resolver, capture.NewFFmpegGrabber(cfg.FFmpegPath, cfg.FFprobePath), capture.Config{
		ProxyURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/proxy_video",
		Timeout:  cfg.CaptureTimeout,
	})

	images := feed.NewImageProber(c.client, cfg.ImageTimeout, cfg.DataDir)
	images.LocalPrefix = "/data"

	c.wall = wall.New(wall.Options{
		Store:    c.store,
		Settings: cache,
		Resolver: c.resolver,
		Capture:  c.capture,
		Images:   images,
		Feed: feed.Config{
			BatchSize:    cfg.FeedBatchSize,
			ChromeHeight: cfg.ChromeHeight,
		},
	})
	return c, nil
}

func (c *components) buildRemote(ctx context.Context) error {
	cfg := c.cfg
	file := covers.NewFileRemote(cfg.MetadataPath())
	c.served = file

	switch cfg.Remote.Backend {
	case config.RemoteFile:
		c.remote = file
	case config.RemoteHTTP:
		c.remote = covers.NewHTTPRemote(cfg.Remote.MetadataURL, cfg.Remote.SaveURL, c.client)
	case config.RemoteS3:
		client, err := c.s3Client(ctx)
		if err != nil {
			return err
		}
		s3Remote := storage.NewS3MetadataStore(client, cfg.ObjectStore)
		c.remote, c.served = s3Remote, s3Remote
	case config.RemotePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		c.pool = pool
		repo := repositories.NewPostgresCoverRepository(pool)
		c.remote, c.served = repo, repo
	case config.RemoteNone:
	default:
		return fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
	return nil
}

func (c *components) buildAssets(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.ObjectStore.Bucket) == "" {
		c.assets = storage.NewLocalStorage(c.cfg.CoversDir(), coversURLPrefix)
		return nil
	}
	client, err := c.s3Client(ctx)
	if err != nil {
		return err
	}
	c.assets = storage.NewS3Storage(client, c.cfg.ObjectStore)
	return nil
}

func (c *components) s3Client(ctx context.Context) (*s3.Client, error) {
	if c.s3 != nil {
		return c.s3, nil
	}
	client, err := storage.NewS3Client(ctx, c.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	c.s3 = client
	return client, nil
}

// buildResolver chains yt-dlp, an external resolver service and the built-in
// share-page scraper, caching successful lookups.
func buildResolver(cfg config.Config, client *http.Client) videos.Provider {
	var chain []videos.Named
	if cfg.YTDLPPath != "" {
		chain = append(chain, videos.Named{Name: "yt-dlp", Provider: videos.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout)})
	}
	if cfg.ResolverURL != "" {
		chain = append(chain, videos.Named{Name: "http", Provider: videos.NewHTTPResolver(cfg.ResolverURL, client)})
	}
	chain = append(chain, videos.Named{Name: "share-page", Provider: videos.NewSharePageProvider(client)})
	return videos.NewCachingProvider(videos.NewChain(chain...), cfg.ResolveCacheTTL)
}

// routerDependencies builds what the HTTP handlers need.
func (c *components) routerDependencies() handlers.Dependencies {
	return handlers.Dependencies{
		Logger:                 c.logger,
		Wall:                   c.wall,
		VideoMetadata:          c.resolver,
		Metadata:               c.served,
		Proxy:                  proxy.New(c.client, c.cfg.ProxyTimeout),
		CoversDir:              c.cfg.CoversDir(),
		ResolveLimiter:         middleware.NewClientLimiter(middleware.ClientLimits{PerMinute: c.cfg.ResolveRateLimit}),
		ProxyRequestsPerMinute: c.cfg.ProxyRateLimit,
	}
}

// close flushes pending remote pushes and releases backends.
func (c *components) close(ctx context.Context) error {
	var errs []error
	if c.pusher != nil {
		if err := c.pusher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush remote pushes: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local cache: %w", err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
	return errors.Join(errs...)
}
