// Package api provides the HTTP surface of the gateway: the WebSocket
// endpoint, session-token management, stats, audit listing, and health.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passage-ai/passage/auth"
	"github.com/passage-ai/passage/config"
	"github.com/passage-ai/passage/gateway"
	"github.com/passage-ai/passage/store"
)

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	verifier     *auth.Verifier
	issuer       *auth.Issuer
	gw           *gateway.Gateway
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	tokenRL      *rateLimiter
	rl           *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, verifier *auth.Verifier, issuer *auth.Issuer, gw *gateway.Gateway, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		verifier:     verifier,
		issuer:       issuer,
		gw:           gw,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Prometheus scrape endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Realtime WebSocket endpoint (auth handled inside, via ?token=).
	mux.Get("/ws", gw.HandleWS)

	// Token issuance is rate-limited by IP on top of auth, since a stolen
	// IdP token could otherwise mint session tokens in bulk.
	srv.tokenRL = newRateLimiter(5, 10)

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(principalRateLimitMiddleware(srv.rl))

		r.With(ipRateLimitMiddleware(srv.tokenRL)).Post("/api/auth/token", srv.handleIssueToken)
		r.Delete("/api/auth/token", srv.handleRevokeToken)

		r.Get("/api/stats", srv.handleStats)
		r.Get("/api/audit", srv.handleListAuditEvents)
		r.Get("/api/me", srv.handleGetMe)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.tokenRL != nil {
		s.tokenRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Token handlers ---

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	principal := getPrincipalFromContext(r.Context())

	raw, tok, err := s.issuer.Issue(r.Context(), principal)
	if err != nil {
		s.logger.Error("token issuance failed", "principal", principal.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	if err := s.store.LogAuditEvent(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "token.issue",
		PrincipalID: principal.ID, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", "token.issue", "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      raw,
		"expires_at": tok.ExpiresAt,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	principal := getPrincipalFromContext(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.issuer.Revoke(r.Context(), req.Token); err != nil {
		s.logger.Error("token revocation failed", "principal", principal.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	if err := s.store.LogAuditEvent(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "token.revoke",
		PrincipalID: principal.ID, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", "token.revoke", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	principal := getPrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":   principal.ID,
		"name": principal.Name,
	})
}

// --- Stats handler ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.gw.Registry().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_connections": stats.TotalConnections,
		"per_principal":     stats.PerPrincipal,
		"uptime":            time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

// --- Audit handler ---

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.store.ListAuditEvents(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
