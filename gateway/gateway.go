// Package gateway accepts client WebSocket connections, authenticates them,
// opens one upstream realtime session per connection, and relays traffic in
// both directions until either side goes away.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/passage-ai/passage/auth"
	"github.com/passage-ai/passage/metrics"
	"github.com/passage-ai/passage/pkg/protocol"
	"github.com/passage-ai/passage/registry"
	"github.com/passage-ai/passage/store"
	"github.com/passage-ai/passage/upstream"
)

// Teardown reasons recorded in audit events and metrics.
const (
	ReasonClientClosed    = "client_closed"
	ReasonLivenessTimeout = "liveness_timeout"
	ReasonSessionExpired  = "session_expired"
	ReasonUpstreamFailed  = "upstream_connect_failed"
)

// Authenticator resolves handshake credentials to principals.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*auth.Principal, error)
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Options configures the Gateway.
type Options struct {
	AllowedOrigins  []string
	MaxMessageBytes int64         // max WebSocket message size from clients (default 64KB)
	MaxPerPrincipal int           // max concurrent connections per principal (0 = unlimited)
	ConnectTimeout  time.Duration // upstream dial budget (default 15s)
	Clock           clock.Clock   // nil means the real clock
}

// Gateway relays between client sockets and their upstream sessions.
type Gateway struct {
	registry *registry.Registry
	auth     Authenticator
	dialer   upstream.Dialer
	store    store.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
	clock    clock.Clock

	maxMessageBytes int64
	maxPerPrincipal int
	connectTimeout  time.Duration
}

// New creates a Gateway.
func New(reg *registry.Registry, authn Authenticator, dialer upstream.Dialer, s store.Store, logger *slog.Logger, opts Options) *Gateway {
	maxMsg := opts.MaxMessageBytes
	if maxMsg == 0 {
		maxMsg = 64 * 1024
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 15 * time.Second
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Gateway{
		registry:        reg,
		auth:            authn,
		dialer:          dialer,
		store:           s,
		logger:          logger.With("component", "gateway"),
		upgrader:        makeUpgrader(opts.AllowedOrigins),
		clock:           clk,
		maxMessageBytes: maxMsg,
		maxPerPrincipal: opts.MaxPerPrincipal,
		connectTimeout:  connectTimeout,
	}
}

// Registry returns the connection registry backing this gateway.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// HandleWS handles the upgrade handshake on the gateway's dedicated path.
// The credential travels as a query parameter because the handshake is issued
// before any authenticated request can carry a header. Ensure server access
// logs exclude query parameters to prevent token leakage.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = r.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
	}

	principal, err := g.auth.Verify(r.Context(), tokenStr)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			metrics.AuthFailures.WithLabelValues("unauthorized").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		} else {
			g.logger.Error("credential verification failed", "error", err)
			metrics.AuthFailures.WithLabelValues("infra").Inc()
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if g.maxPerPrincipal > 0 && g.registry.CountByPrincipal(principal.ID) >= g.maxPerPrincipal {
		g.logger.Warn("too many connections for principal", "principal_id", principal.ID, "limit", g.maxPerPrincipal)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		return
	}

	conn.SetReadLimit(g.maxMessageBytes)

	client := newWSClient(conn)
	session := g.dialer.NewSession(principal.ID)
	rec := registry.NewConn(principal.ID, client, session, g.clock.Now())

	// Register before issuing any traffic so a monitor sweep never observes
	// a half-initialized record.
	if err := g.registry.Add(rec); err != nil {
		g.logger.Warn("registry insert failed", "conn_id", rec.ID, "error", err)
		return
	}
	metrics.ActiveConnections.Inc()
	metrics.ConnectionsTotal.Inc()

	conn.SetPongHandler(func(string) error {
		rec.MarkAlive()
		return nil
	})

	connectCtx, cancel := context.WithTimeout(context.Background(), g.connectTimeout)
	err = session.Connect(connectCtx)
	cancel()
	if err != nil {
		g.logger.Warn("upstream connect failed", "conn_id", rec.ID, "error", err)
		metrics.UpstreamConnectFailures.Inc()
		_ = client.Send(protocol.MarshalError("upstream connection failed", err.Error()))
		g.Teardown(rec.ID, ReasonUpstreamFailed)
		return
	}

	_ = client.Send(protocol.MarshalStatus(true, ""))
	g.logger.Info("client connected", "principal_id", principal.ID, "conn_id", rec.ID)
	g.audit("gateway.connect", rec, "")

	go g.relayUpstream(rec)

	g.readLoop(rec, conn, client)
	g.Teardown(rec.ID, ReasonClientClosed)
}

// readLoop processes inbound client messages until the socket dies.
func (g *Gateway) readLoop(rec *registry.Conn, conn *websocket.Conn, client *wsClient) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			g.logger.Debug("client read error", "conn_id", rec.ID, "error", err)
			return
		}
		// Any message traffic counts as liveness.
		rec.MarkAlive()

		if !client.allowMessage() {
			g.logger.Debug("client message rate limited", "conn_id", rec.ID)
			continue
		}

		var in protocol.Inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			_ = client.Send(protocol.MarshalError("malformed message", err.Error()))
			continue
		}

		// The liveness probe is answered here and never forwarded upstream.
		if in.Type == protocol.TypePing {
			_ = client.Send(protocol.Marshal(protocol.TypePong, nil))
			continue
		}

		if err := rec.Upstream.Send(msg); err != nil {
			g.logger.Warn("upstream send failed", "conn_id", rec.ID, "error", err)
			_ = client.Send(protocol.MarshalError("upstream send failed", err.Error()))
			continue
		}
		metrics.MessagesForwarded.WithLabelValues("inbound").Inc()
	}
}

// relayUpstream forwards upstream session events to the client until the
// session disconnects or the record is torn down.
func (g *Gateway) relayUpstream(rec *registry.Conn) {
	for {
		select {
		case <-rec.Done():
			return
		case ev := <-rec.Upstream.Events():
			switch ev.Kind {
			case upstream.EventMessage:
				// Relayed verbatim; drops silently if the socket closed.
				_ = rec.Client.Send(ev.Data)
				metrics.MessagesForwarded.WithLabelValues("outbound").Inc()
			case upstream.EventError:
				_ = rec.Client.Send(protocol.MarshalError("upstream error", errDetail(ev.Err)))
			case upstream.EventDisconnected:
				// Loss of upstream connectivity is reported to the client but
				// does not force-close the socket; the client decides whether
				// to reconnect.
				_ = rec.Client.Send(protocol.MarshalStatus(false, "upstream_disconnected"))
				return
			}
		}
	}
}

// Teardown disconnects the upstream session, closes the client socket, and
// removes the record from the registry exactly once. Re-entrant calls for an
// already-claimed record are no-ops.
func (g *Gateway) Teardown(id, reason string) {
	rec, ok := g.registry.Get(id)
	if !ok {
		return
	}
	if !rec.BeginClose() {
		return
	}

	rec.Upstream.Disconnect()
	_ = rec.Client.Close()
	g.registry.Remove(id)

	metrics.ActiveConnections.Dec()
	metrics.Teardowns.WithLabelValues(reason).Inc()
	g.audit("gateway.disconnect", rec, reason)
	g.logger.Info("connection closed", "principal_id", rec.Principal, "conn_id", id, "reason", reason)
}

func (g *Gateway) audit(action string, rec *registry.Conn, reason string) {
	var detail json.RawMessage
	if reason != "" {
		detail = json.RawMessage(fmt.Sprintf(`{"reason":%q}`, reason))
	}
	if err := g.store.LogAuditEvent(context.Background(), &store.AuditEvent{
		ID:          uuid.New().String(),
		Action:      action,
		PrincipalID: rec.Principal,
		ConnID:      rec.ID,
		Detail:      detail,
		CreatedAt:   time.Now(),
	}); err != nil {
		g.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
