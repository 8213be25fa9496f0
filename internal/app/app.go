package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/posterwall/backend/internal/config"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/handlers"
	"github.com/posterwall/backend/internal/httpserver"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/wall"
)

// Run bootstraps the poster wall backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, materialize, export or import")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "materialize":
		return runMaterialize(ctx)
	case "export":
		return runExport(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setup(ctx context.Context) (context.Context, *components, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	logging.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, c, nil
}

func teardown(c *components) {
	ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := c.close(ctx); err != nil {
		c.logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// loadStore loads the cover list. A wall with no list anywhere is still
// usable, so ErrLoad is only logged.
func loadStore(ctx context.Context, c *components) error {
	if err := c.store.Load(ctx); err != nil {
		if errors.Is(err, covers.ErrLoad) {
			c.logger.Warn().Err(err).Msg("starting with an empty wall")
			return nil
		}
		return err
	}
	return nil
}

func serve(ctx context.Context) error {
	ctx, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown(c)
	logger := c.logger

	if err := c.wall.Start(ctx); err != nil && !errors.Is(err, covers.ErrLoad) {
		return err
	}

	handler := handlers.NewRouter(c.routerDependencies())
	srv := httpserver.New(c.cfg.AppPort, handler, c.cfg.WriteTimeout)

	logger.Info().Int("port", c.cfg.AppPort).Str("public_base_url", c.cfg.PublicBaseURL).Msg("starting http server")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func runMaterialize(ctx context.Context) error {
	ctx, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown(c)

	if err := c.store.Load(ctx); err != nil {
		return err
	}
	m := covers.NewMaterializer(c.store, c.assets, covers.MaterializerConfig{
		Workers: c.cfg.MaterializeWorkers,
		Client:  c.client,
	})
	result, err := m.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("downloaded %d, skipped %d, failed %d, updated %d\n", result.Downloaded, result.Skipped, result.Failed, result.Updated)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	target := wall.ExportFilename
	if len(args) > 0 {
		target = args[0]
	}

	ctx, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown(c)

	if err := loadStore(ctx, c); err != nil {
		return err
	}
	data, err := c.store.ExportSnapshot()
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := renameio.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("exported %d covers to %s\n", c.store.Len(), target)
	return nil
}

func runImport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected import file path")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	ctx, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown(c)

	if err := loadStore(ctx, c); err != nil {
		return err
	}
	n, err := c.store.ReplaceAll(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d covers from %s\n", n, args[0])
	return nil
}
