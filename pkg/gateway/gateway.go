// Package gateway provides the public API for embedding the edge gateway.
// This is the stable surface for external consumers; everything under
// internal/ may change without notice.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efremov-platform/llm-edge-gateway/internal/config"
	igateway "github.com/efremov-platform/llm-edge-gateway/internal/gateway"
	"github.com/efremov-platform/llm-edge-gateway/internal/ratelimit"
	"github.com/efremov-platform/llm-edge-gateway/internal/server"
	"github.com/efremov-platform/llm-edge-gateway/internal/store/sqlite"
)

// App is a fully assembled gateway: config, credential store, rate
// counter, backends and HTTP server. Build one with New and drive it
// with Run, or embed its Handler in an existing mux.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *sqlite.Store
	redis  *redis.Client
	gw     *igateway.Gateway
	srv    *server.Server
}

type options struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
	memory     bool
}

// Option configures an App before assembly.
type Option func(*options)

// WithConfigFile loads configuration from the given YAML file instead of
// the default config.yaml lookup.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithConfig supplies a pre-built configuration, skipping file and
// environment loading entirely.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the structured logger. Defaults to a JSON logger on
// stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMemoryLimiter forces the in-process rate counter regardless of the
// configured store. Single-node only.
func WithMemoryLimiter() Option {
	return func(o *options) { o.memory = true }
}

// New assembles an App. Example:
//
//	app, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	)
func New(opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if o.configFile != "" {
			cfg, err = config.LoadFile(o.configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	app := &App{cfg: cfg, logger: logger, store: store}

	var counter ratelimit.Counter
	if o.memory || cfg.RateLimit.Store == "memory" {
		counter = ratelimit.NewMemoryCounter()
	} else {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counter = ratelimit.NewRedisCounter(app.redis)
	}

	gw, err := igateway.New(cfg, store, counter, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	app.gw = gw

	app.srv = server.New(cfg.Server.Port, logger)
	gw.Mount(app.srv)
	return app, nil
}

// Handler returns the server's root handler, CORS and middleware
// included, for use with httptest or an external listener.
func (a *App) Handler() http.Handler {
	return a.srv.Router
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Start()
	}()

	select {
	case err := <-errCh:
		a.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.Close(shutdownCtx)
		return err
	}
	return a.Close(shutdownCtx)
}

const shutdownTimeout = 10 * time.Second

// Close releases the App's resources: flushes the audit recorder, closes
// the store and the Redis client if one was opened.
func (a *App) Close(ctx context.Context) error {
	err := a.gw.Close(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	if a.redis != nil {
		if cerr := a.redis.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
