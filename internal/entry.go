// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/kiln/internal/apperr"
	"github.com/starford/kiln/internal/assets"
	"github.com/starford/kiln/internal/images"
	"github.com/starford/kiln/internal/logging"
	"github.com/starford/kiln/internal/manifest"
	"github.com/starford/kiln/internal/markdown"
	"github.com/starford/kiln/internal/mcpserver"
	"github.com/starford/kiln/internal/preview"
	"github.com/starford/kiln/internal/site"
	"github.com/starford/kiln/internal/sse"
	"github.com/starford/kiln/internal/storage"
	"github.com/starford/kiln/internal/watch"
)

// runtime holds the wired components of one command invocation.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	input    *storage.FS
	output   *storage.FS
	manifest *manifest.DB
	builder  *site.Builder
	// images is nil when the image library is disabled.
	images *images.Library
	// ignore lists directories the watcher skips.
	ignore []string
}

func (rt *runtime) Close() error {
	return rt.manifest.Close()
}

func setup(opts []Option) (*runtime, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = logging.New(cfg.App.LogFormat, cfg.App.LogLevel, app.logOutput)
		slog.SetDefault(logger)
	}

	workDir := app.workDir
	if workDir == "" {
		workDir = "."
	}
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workDir, p)
	}

	logger.Debug("Configuration loaded",
		slog.String("input", cfg.Site.Input),
		slog.String("output", cfg.Site.Output),
		slog.String("manifest", cfg.Manifest.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	input, err := storage.NewFS(resolve(cfg.Site.Input))
	if err != nil {
		return nil, fmt.Errorf("init input: %w", err)
	}
	output, err := storage.EnsureFS(resolve(cfg.Site.Output))
	if err != nil {
		return nil, fmt.Errorf("init output: %w", err)
	}
	project, err := storage.NewFS(workDir)
	if err != nil {
		return nil, fmt.Errorf("init project: %w", err)
	}

	db, err := manifest.Open(resolve(cfg.Manifest.Path))
	if err != nil {
		return nil, fmt.Errorf("init manifest: %w", err)
	}

	specs := make([]assets.Spec, 0, len(cfg.Assets)+1)
	for _, a := range cfg.Assets {
		specs = append(specs, a.Spec())
	}
	var library *images.Library
	if cfg.Images.Dir != "" {
		if _, err := storage.EnsureFS(resolve(cfg.Images.Dir)); err != nil {
			db.Close()
			return nil, fmt.Errorf("init images: %w", err)
		}
		library = images.New(project, cfg.Images.Dir, cfg.Images.Destination, db)
		specs = append(specs, cfg.Images.Spec())
	}

	builder := site.New(input, output, project, markdown.New(cfg.Markdown.Options()), db, site.Options{
		Bases:         cfg.Site.Bases,
		Pages:         cfg.Site.Pages,
		Workers:       cfg.Site.Workers,
		Clean:         cfg.Site.Clean,
		SafeClean:     cfg.Site.SafeClean,
		TrashDir:      resolve(cfg.Site.TrashDir),
		Gzip:          cfg.Site.Gzip,
		ArticlesDir:   cfg.Articles.Dir,
		ArticlesIndex: cfg.Articles.Index,
		Article:       cfg.Articles.Options(),
		Assets:        specs,
	}, logger)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		input:    input,
		output:   output,
		manifest: db,
		builder:  builder,
		images:   library,
		ignore: []string{
			output.Root(),
			filepath.Dir(resolve(cfg.Manifest.Path)),
			resolve(cfg.Site.TrashDir),
		},
	}, nil
}

// Build builds the site once.
func Build(ctx context.Context, opts ...Option) (*site.Result, error) {
	rt, err := setup(opts)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	res, err := rt.builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrBuildFailed, err)
	}
	return res, nil
}

// Audit reports how the sources differ from the last build.
func Audit(ctx context.Context, opts ...Option) (*site.Report, error) {
	rt, err := setup(opts)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.builder.Audit(ctx)
}

// Watch builds the site and rebuilds it whenever the input changes, until a
// shutdown signal arrives or ctx is cancelled.
func Watch(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, _ = rt.rebuild(ctx, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watch(gCtx, nil)
	})
	g.Go(func() error {
		waitForSignal(gCtx, rt.logger, cancel)
		return nil
	})
	return g.Wait()
}

// Serve builds the site, watches the input and serves the output with live
// reload until a shutdown signal arrives or ctx is cancelled.
func Serve(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	broker := sse.NewBroker(500 * time.Millisecond)
	defer broker.Close()

	publish := func(_ context.Context, res *site.Result, err error) {
		if err != nil {
			broker.PublishBuild(sse.BuildEvent{Error: err.Error()})
			return
		}
		broker.PublishBuild(sse.BuildEvent{Written: res.Written, Pages: len(res.Pages), Duration: res.Duration})
	}
	res, err := rt.rebuild(ctx, nil)
	publish(ctx, res, err)

	router := preview.NewRouter(rt.builder, preview.Options{
		OutputRoot: rt.output.Root(),
		LiveReload: rt.cfg.Serve.LiveReload,
		Events:     broker,
	})
	httpServer := &http.Server{
		Addr:              rt.cfg.Serve.Address(),
		Handler:           middleware.Logger(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.watch(gCtx, publish)
	})

	g.Go(func() error {
		rt.logger.Info("Starting preview server", slog.String("address", rt.cfg.Serve.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForSignal(gCtx, rt.logger, func() {
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				rt.logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		rt.logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	rt.logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP runs the MCP stdio server. Logs go to stderr since stdout
// carries the protocol.
func ServeMCP(_ context.Context, opts ...Option) error {
	rt, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.Close()

	return mcpserver.New(rt.builder, rt.images).ServeStdio()
}

func (rt *runtime) rebuild(ctx context.Context, paths []string) (*site.Result, error) {
	if len(paths) > 0 {
		rt.logger.Debug("rebuilding", slog.Any("changed", paths))
	}
	res, err := rt.builder.Build(ctx)
	if err != nil {
		rt.logger.Error("build failed", slog.String("error", err.Error()))
		return nil, err
	}
	return res, nil
}

func (rt *runtime) watch(ctx context.Context, after func(context.Context, *site.Result, error)) error {
	return watch.Watch(ctx, rt.input.Root(), watch.Options{Ignore: rt.ignore}, rt.logger,
		func(ctx context.Context, paths []string) {
			res, err := rt.rebuild(ctx, paths)
			if after != nil {
				after(ctx, res, err)
			}
		})
}

// waitForSignal blocks until SIGINT/SIGTERM or ctx cancellation, then runs
// shutdown.
func waitForSignal(ctx context.Context, logger *slog.Logger, shutdown func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	logger.Info("Shutting down...")
	shutdown()
}
