// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/refresh"
	"github.com/starford/raido/internal/source"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/tags"
)

// diffCacheTTL bounds how long an in-process diff result is reused before
// the hasher runs again. Polling status views hit this cache.
const diffCacheTTL = 2 * time.Second

// stack holds every constructed service. All consumers (HTTP, MCP, CLI
// subcommands) are thin layers over the same instances.
type stack struct {
	colStores []*collection.Store
	cols      *collection.Registry
	projs     *project.Registry
	sources   *source.Registry
	db        *cache.DB
	refresher *refresh.Service
	engine    *diff.Engine
	syncer    *syncer.Service
	tags      *tags.Service
}

func (s *stack) Close() error {
	return s.db.Close()
}

// buildStack constructs registries and services from the configuration.
func buildStack(cfg *Config, logger *slog.Logger) (*stack, error) {
	st := &stack{}

	var stores []*collection.Store
	for _, cc := range cfg.Collections {
		if err := os.MkdirAll(cc.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create collection dir %s: %w", cc.Path, err)
		}
		fsys, err := storage.NewFS(cc.Path)
		if err != nil {
			return nil, fmt.Errorf("init collection %s: %w", cc.ID, err)
		}
		stores = append(stores, collection.NewStore(cc.ID, fsys))
	}
	st.colStores = stores
	st.cols = collection.NewRegistry(stores...)

	var projStores []*project.Store
	for _, pc := range cfg.Projects {
		if err := os.MkdirAll(pc.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create project dir %s: %w", pc.Path, err)
		}
		fsys, err := storage.NewFS(pc.Path)
		if err != nil {
			return nil, fmt.Errorf("init project %s: %w", pc.Name, err)
		}
		projStores = append(projStores, project.NewStore(pc.Name, fsys))
	}
	st.projs = project.NewRegistry(projStores...)

	db, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	st.db = db

	st.sources = source.NewRegistry()
	st.sources.Register("dir", source.NewDirClient(cfg.Source.Timeout.Std()))

	st.refresher = refresh.NewService(st.cols, db, logger)
	st.engine = diff.NewEngine(st.cols, st.projs, st.sources, diffCacheTTL, logger)
	st.syncer = syncer.NewService(st.cols, st.projs, st.sources, st.refresher, st.engine, logger)
	st.tags = tags.NewService(st.cols, st.refresher, logger)

	return st, nil
}

// newLogger builds the JSON logger, multi-writing to a rotating file when
// one is configured.
func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	w := out
	if cfg.App.LogFile != "" {
		w = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func configured(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the full server: HTTP API, SSE broker, collection watchers,
// and the staleness sweeper, until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := configured(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, app.out(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Int("collections", len(cfg.Collections)),
		slog.Int("projects", len(cfg.Projects)),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// SSE broker; refresh and sync operations publish through it.
	broker := sse.NewBroker(2 * time.Second)
	st.refresher.SetEventFunc(broker.PublishArtifactEvent)
	st.syncer.SetEventFunc(broker.PublishArtifactEvent)

	// Warm the cache. A partial failure is not fatal: records repair on
	// read and on the next sweep.
	if _, err := st.refresher.RefreshAll(""); err != nil {
		logger.Warn("initial refresh failed", slog.String("error", err.Error()))
	}

	h := api.NewHandler(api.Deps{
		Collections: st.cols,
		Refresher:   st.refresher,
		Syncer:      st.syncer,
		Tags:        st.tags,
		Engine:      st.engine,
		Cache:       st.db,
		CacheTTL:    cfg.Cache.TTL.Std(),
	})
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// One watcher per collection keeps the cache tracking on-disk edits.
	for _, col := range st.colStores {
		g.Go(func() error {
			return refresh.Watch(gCtx, st.refresher, col, logger)
		})
	}

	if cfg.Cache.Sweep.Enabled {
		sweeper := refresh.NewSweeper(st.refresher, st.db,
			cfg.Cache.TTL.Std(), cfg.Cache.Sweep.Interval.Std(), logger)
		g.Go(func() error {
			return sweeper.Run(gCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// SyncOnce rebuilds the metadata cache for every configured collection and
// exits. Headless counterpart of POST /api/cache/refresh.
func SyncOnce(ctx context.Context, opts ...Option) error {
	app, err := configured(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, app.out(os.Stdout))
	slog.SetDefault(logger)

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.refresher.RefreshAll("")
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	logger.Info("Cache refreshed",
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Int("errors", stats.Errors))
	return nil
}

// ShowStatus prints per-scope sync states for one artifact key to stdout.
// Headless counterpart of GET /api/artifacts/{type}/{name}/status.
func ShowStatus(ctx context.Context, key, projectID string, opts ...Option) error {
	app, err := configured(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	id, err := models.ParseIdentity(key)
	if err != nil {
		return err
	}

	// Status is an interactive read; keep logs out of the way.
	logger := newLogger(cfg, app.out(io.Discard))

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ids := st.cols.IDs()
	if len(ids) == 0 {
		return fmt.Errorf("no collections configured")
	}

	states, err := st.engine.Status(ctx, ids[0], id, projectID)
	if err != nil {
		return err
	}

	for _, scope := range []diff.Scope{diff.ScopeSourceCollection, diff.ScopeProjectCollection, diff.ScopeSourceProject} {
		stat, ok := states[scope]
		if !ok {
			continue
		}
		if stat.Error != "" {
			fmt.Printf("%-20s %s (%s)\n", scope, stat.State, stat.Error)
			continue
		}
		fmt.Printf("%-20s %s\n", scope, stat.State)
	}
	return nil
}

// ServeMCP runs the MCP server over stdio. Logs go to stderr because
// stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := configured(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, app.out(os.Stderr))
	slog.SetDefault(logger)

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.refresher.RefreshAll(""); err != nil {
		logger.Warn("initial refresh failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(st.cols, st.syncer, st.tags, st.engine, st.db)
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}
