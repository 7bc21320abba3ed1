// Package app wires the gatekeeper server runtime: config, logging, storage, metrics, and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/account"
	authapi "gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
)

// App is the gatekeeper server runtime: it owns the HTTP server and the storage handle.
type App struct {
	cfg Config
	log Logger

	db      *backend
	reg     *prometheus.Registry
	httpMet *httpMetrics

	auth *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	db, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, log, db)
	if err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return a, nil
}

// assemble builds every component on top of an open backend.
func assemble(cfg Config, log Logger, db *backend) (*App, error) {
	var (
		reg     *prometheus.Registry
		sessMet *session.Metrics
		httpMet *httpMetrics
		err     error
	)
	if cfg.MetricsEnabled {
		reg = newRegistry()
		if sessMet, err = session.NewMetrics(reg); err != nil {
			return nil, fmt.Errorf("register session metrics: %w", err)
		}
		if httpMet, err = newHTTPMetrics(reg); err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
	}

	codec, err := token.NewCodec(token.Config{
		Issuer:        cfg.Token.Issuer,
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Session.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	users, err := identity.NewRegistrar(db.users, cfg.Password, nil, cfg.Session.StoreTimeout)
	if err != nil {
		return nil, err
	}

	engine, err := session.NewEngine(cfg.Session, db.sessions, codec, token.NewDigester(cfg.Token.DigestKey), session.Options{
		Logger:  log,
		Metrics: sessMet,
	})
	if err != nil {
		return nil, err
	}

	accounts, err := account.NewService(users, engine, codec, log)
	if err != nil {
		return nil, err
	}

	handler, err := authapi.NewHandler(log, cfg.API, accounts)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		reg:     reg,
		httpMet: httpMet,
		auth:    handler,
	}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.db, a.reg, a.auth)

	var h http.Handler = mux
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, a.cfg, a.log)
	}
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.httpMet)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Environment,
		"store", a.db.name,
		"metrics", a.reg != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.db.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.db.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
