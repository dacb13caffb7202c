// Package app wires the tutor's subsystems into a running application.
//
// The App owns the full lifecycle: New opens the transcript archive and
// builds the session manager, Run serves the HTTP control surface until the
// context is cancelled, and Shutdown stops the active session and releases
// everything in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lugha/internal/config"
	"github.com/MrWong99/lugha/internal/health"
	"github.com/MrWong99/lugha/internal/observe"
	"github.com/MrWong99/lugha/internal/session"
	"github.com/MrWong99/lugha/pkg/archive"
	"github.com/MrWong99/lugha/pkg/archive/postgres"
	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/provider/live"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 5 * time.Second

// Providers holds the backends a session is built from. Populated by
// main.go via the config registry.
type Providers struct {
	Live    live.Provider
	Devices audio.Devices
}

// App owns all subsystem lifetimes.
type App struct {
	mu        sync.Mutex
	cfg       *config.Config
	providers *Providers

	archive  archive.Store
	metrics  *observe.Metrics
	manager  *session.Manager
	onChange func(session.Snapshot)
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithArchive injects a transcript archive instead of creating one from
// config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithMetrics injects the metric instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSnapshotHandler registers fn to receive every session state and
// transcript change. fn runs on the session's dispatcher and must not block.
func WithSnapshotHandler(fn func(session.Snapshot)) Option {
	return func(a *App) { a.onChange = fn }
}

// New creates an App. providers must carry both a live provider and audio
// devices.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil || providers.Devices == nil {
		return nil, errors.New("app: live provider and audio devices are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	a.manager = session.NewManager(a.sessionConfig())
	a.handler = a.buildHandler()
	return a, nil
}

// initArchive opens the PostgreSQL archive when a DSN is configured and
// falls back to an in-memory store otherwise.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}

	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		slog.Info("no archive dsn configured, keeping transcripts in memory")
		a.archive = archive.NewMemoryStore()
		return nil
	}

	var opts []postgres.Option
	if !a.cfg.Archive.MigrateEnabled() {
		opts = append(opts, postgres.WithoutMigrations())
	}
	store, err := postgres.Open(ctx, dsn, opts...)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("transcript archive connected", "backend", "postgres")
	return nil
}

// sessionConfig builds the session configuration from the current config
// and providers. Callers must hold a.mu or be in New.
func (a *App) sessionConfig() session.Config {
	return session.Config{
		Provider: a.providers.Live,
		Devices:  a.providers.Devices,
		Live:     a.cfg.LiveConfig(),
		Input:    a.cfg.InputConfig(),
		Output:   a.cfg.OutputConfig(),
		LeadTime: a.cfg.Session.LeadTime,
		Archive:  a.archive,
		Metrics:  a.metrics,
		OnChange: a.onChange,
	}
}

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Archive returns the transcript archive.
func (a *App) Archive() archive.Store { return a.archive }

// Handler returns the HTTP handler serving health, metrics and the session
// control API.
func (a *App) Handler() http.Handler { return a.handler }

// Reconfigure applies a reloaded config. A nil providers keeps the current
// ones. The change takes effect with the next session; the active session is
// not interrupted.
func (a *App) Reconfigure(cfg *config.Config, providers *Providers) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = cfg
	if providers != nil {
		a.providers = providers
	}
	a.manager.SetConfig(a.sessionConfig())
	slog.Info("session configuration updated", "provider", a.providers.Live.Name(), "language", cfg.Session.Language)
}

// Run serves the HTTP control surface on server.listen_addr until ctx is
// cancelled. With no listen address it simply blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	addr := a.cfg.Server.ListenAddr
	a.mu.Unlock()

	if addr == "" {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops the active session and runs the closers in order. It
// respects the context deadline: remaining closers are skipped once ctx
// expires and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.manager.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{
		health.FuncChecker("session", func() error {
			if a.manager.State() == session.StateError {
				return a.manager.Err()
			}
			return nil
		}),
	}
	if p, ok := a.archive.(archive.Pinger); ok {
		checkers = append(checkers, health.PingChecker("archive", p))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.registerSessionRoutes(mux)

	return observe.Middleware(a.metrics)(mux)
}
