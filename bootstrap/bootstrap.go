// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from customize-rest.yaml, or from CUSTOMIZE_*
// environment variables when no file exists.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/clock"
	apihttp "github.com/xwp/wp-customize-rest-resources/adapters/http"
	"github.com/xwp/wp-customize-rest-resources/adapters/idgen"
	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/adapters/restapi"
	"github.com/xwp/wp-customize-rest-resources/adapters/sqlite"
	"github.com/xwp/wp-customize-rest-resources/adapters/websocket"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/config"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB // nil with the memory driver
	Store      ports.ResourceStore
	API        *restapi.Server
	Saves      *app.SaveService
	Hub        *websocket.Hub
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	watch bool
}

// Options controls application initialization.
type Options struct {
	// ConfigPath is the YAML file to load. When it does not exist the
	// configuration is read from the environment.
	ConfigPath string

	Version apihttp.VersionInfo

	// Registry receives the metrics. Nil means the default registry.
	Registry *prometheus.Registry

	// Watch reloads the configuration when its file changes or on SIGHUP.
	Watch bool
}

// New creates and initializes the application.
func New(ctx context.Context, opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg.Logging)
	holder, err := newHolder(path, cfg, logger)
	if err != nil {
		return nil, err
	}
	cfg = holder.Get()
	logger.Info().Str("config", holder.Path()).Msg("initializing customize-rest")

	a := &App{Logger: logger, Config: holder, watch: opts.Watch}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
			metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		} else {
			a.Metrics = metrics.New()
		}
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if err := a.initStore(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	a.API, err = NewAPI(cfg, a.Store, a.Metrics, logger)
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	if err := a.seedIfEmpty(ctx); err != nil {
		a.Shutdown()
		return nil, err
	}

	if err := a.initEditor(cfg); err != nil {
		a.Shutdown()
		return nil, err
	}

	editor, err := apihttp.NewEditorHandler(apihttp.EditorDeps{
		Saves:   a.Saves,
		Hub:     a.Hub,
		Metrics: a.Metrics,
		Logger:  logger,
	}, cfg.API.Root)
	if err != nil {
		a.Shutdown()
		return nil, err
	}

	router := apihttp.NewRouter(apihttp.RouterConfig{
		API:            a.API,
		Mount:          cfg.API.Mount,
		APIRoot:        cfg.API.Root,
		Editor:         editor,
		Metrics:        a.Metrics,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
		Version:        opts.Version,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, logger)

	// No server WriteTimeout: it would cut off hijacked sync sockets. Requests
	// are bounded by the router's timeout middleware instead.
	a.HTTPServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	holder.OnChange(a.applyConfig)
	holder.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})
	return a, nil
}

// newHolder watches path when the configuration came from a file. The
// logger depends on the configuration, so the file is read again here.
func newHolder(path string, cfg *config.Config, logger zerolog.Logger) (*config.Holder, error) {
	if _, err := os.Stat(path); err != nil {
		return config.NewStaticHolder(cfg, logger), nil
	}
	return config.NewHolder(path, logger)
}

// OpenStore opens the resource store selected by cfg. The returned DB is nil
// for the memory driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (ports.ResourceStore, *sqlite.DB, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewResourceStore(), nil, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlite.NewResourceStore(db, clock.Real{}), db, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func (a *App) initStore(ctx context.Context, cfg config.DatabaseConfig) error {
	store, db, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.Store, a.DB = store, db
	a.Logger.Info().Str("driver", cfg.Driver).Str("dsn", cfg.DSN).Msg("resource store initialized")
	return nil
}

// NewAPI loads the route table and creates the REST server over store.
func NewAPI(cfg *config.Config, store ports.ResourceStore, m *metrics.Collector, logger zerolog.Logger) (*restapi.Server, error) {
	table, err := restapi.LoadTable(cfg.API.RoutesFile)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	loc, err := cfg.Editor.Location()
	if err != nil {
		return nil, err
	}
	return restapi.New(restapi.Deps{
		Store:   store,
		Clock:   clock.Real{},
		Metrics: m,
		Logger:  logger,
	}, restapi.Config{
		APIRoot:  cfg.API.Root,
		Table:    table,
		Location: loc,
	})
}

// seedIfEmpty seeds the route table into a store holding no resources.
func (a *App) seedIfEmpty(ctx context.Context) error {
	for _, typ := range a.API.Table().Types {
		n, err := a.Store.Count(ctx, typ.Base)
		if err != nil {
			return fmt.Errorf("count %s: %w", typ.Base, err)
		}
		if n > 0 {
			return nil
		}
	}
	if _, err := a.API.Seed(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

func (a *App) initEditor(cfg *config.Config) error {
	var err error
	a.Saves, err = app.NewSaveService(app.SaveDeps{
		Dispatcher: a.API,
		Clock:      clock.Real{},
		Logger:     a.Logger,
	}, app.SaveConfig{Strict: cfg.Editor.Strict()})
	if err != nil {
		return err
	}

	codec, err := syncchan.CodecByName(cfg.Editor.SyncCodec)
	if err != nil {
		return err
	}
	a.Hub, err = websocket.NewHub(websocket.HubDeps{
		IDs:     idgen.UUID{},
		Clock:   clock.Real{},
		Metrics: a.Metrics,
		Logger:  a.Logger,
	}, websocket.HubConfig{
		Settings:       websocket.DefaultSettings(),
		Codec:          codec,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IdleTimeout:    cfg.Editor.SyncIdleTimeout,
	})
	return err
}

// applyConfig applies the hot-reloadable fields of a reloaded config.
func (a *App) applyConfig(cfg *config.Config) {
	setLevel(cfg.Logging.Level)
	a.Saves.UpdateConfig(app.SaveConfig{Strict: cfg.Editor.Strict()})
	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
}

// Run starts the HTTP server and blocks until ctx ends, SIGINT or SIGTERM
// arrives, or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.watch {
		if err := a.Config.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.Config.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Hijacked sync connections are not closed by Shutdown.
	if a.Hub != nil {
		a.Hub.Close()
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}
