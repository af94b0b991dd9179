// Package app is the main orchestrator that ties all gateway components
// together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/passage-ai/passage/api"
	"github.com/passage-ai/passage/auth"
	"github.com/passage-ai/passage/config"
	"github.com/passage-ai/passage/gateway"
	"github.com/passage-ai/passage/registry"
	"github.com/passage-ai/passage/store"
	"github.com/passage-ai/passage/upstream"
)

// App is the main gateway process.
type App struct {
	cfg       *config.Config
	store     store.Store
	gw        *gateway.Gateway
	heartbeat *gateway.HeartbeatMonitor
	lifecycle *gateway.LifecycleMonitor
	api       *api.Server
	logger    *slog.Logger
}

// New creates a new gateway process from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Primary identity provider (JWKS discovery against the issuer).
	idp, err := auth.NewJWKSProvider(cfg.Auth.Issuer)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init identity provider: %w", err)
	}

	verifier := auth.NewVerifier(idp, db, cfg.Auth.SessionTokenTTL.Duration)
	issuer := auth.NewIssuer(db, cfg.Auth.SessionTokenTTL.Duration, cfg.Auth.SessionTokenBytes)

	dialer := upstream.NewRealtimeDialer(cfg.Upstream, logger)
	reg := registry.New()
	clk := clock.New()

	gw := gateway.New(reg, verifier, dialer, db, logger, gateway.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Session.MaxMessageBytes,
		MaxPerPrincipal: cfg.Session.MaxPerPrincipal,
		ConnectTimeout:  cfg.Upstream.ConnectTimeout.Duration,
		Clock:           clk,
	})

	heartbeat := gateway.NewHeartbeatMonitor(reg, cfg.Session.HeartbeatInterval.Duration, clk, gw.Teardown, logger)
	lifecycle := gateway.NewLifecycleMonitor(reg, cfg.Session.LifecycleInterval.Duration, cfg.Session.MaxAge.Duration, clk, gw.Teardown, logger)

	apiSrv := api.NewServer(db, verifier, issuer, gw, cfg, logger)

	a := &App{
		cfg:       cfg,
		store:     db,
		gw:        gw,
		heartbeat: heartbeat,
		lifecycle: lifecycle,
		api:       apiSrv,
		logger:    logger.With("component", "app"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return a, nil
}

// Run starts the gateway HTTP server and blocks until the context is
// canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api.Handler(),
	}

	// Start liveness and max-age sweeps.
	go a.heartbeat.Run(ctx)
	go a.lifecycle.Run(ctx)

	// Start rate limiter cleanup tasks.
	a.api.StartBackgroundTasks(ctx)

	// Start retention purger.
	go a.runRetentionPurger(ctx, a.cfg.Storage.AuditRetention.Duration)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("gateway listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gateway gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Close active relay connections before stopping the listener so
		// clients get a close frame rather than a dropped TCP stream.
		for _, c := range a.gw.Registry().Snapshot() {
			a.gw.Teardown(c.ID, gateway.ReasonClientClosed)
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		a.logger.Info("closing store")
		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

func (a *App) runRetentionPurger(ctx context.Context, auditRetention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.store.PurgeExpiredSessionTokens(ctx, time.Now()); err != nil {
				a.logger.Warn("retention purge: session tokens failed", "error", err)
			} else if n > 0 {
				a.logger.Info("retention purge: deleted expired session tokens", "count", n)
			}
			auditCutoff := time.Now().Add(-auditRetention)
			if n, err := a.store.PurgeOldAuditEvents(ctx, auditCutoff); err != nil {
				a.logger.Warn("retention purge: audit events failed", "error", err)
			} else if n > 0 {
				a.logger.Info("retention purge: deleted old audit events", "count", n)
			}
		}
	}
}
