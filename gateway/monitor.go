package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/passage-ai/passage/pkg/protocol"
	"github.com/passage-ai/passage/registry"
)

// TerminateFunc is the gateway teardown path invoked by the monitors.
type TerminateFunc func(id, reason string)

// HeartbeatMonitor periodically probes client sockets and terminates
// connections whose probe from the previous sweep went unanswered. A
// connection therefore gets a two-sweep grace window before it is declared
// dead; a one-sweep window would false-positive under normal network jitter.
type HeartbeatMonitor struct {
	registry  *registry.Registry
	interval  time.Duration
	clock     clock.Clock
	terminate TerminateFunc
	logger    *slog.Logger
}

// NewHeartbeatMonitor creates a heartbeat monitor over the registry.
func NewHeartbeatMonitor(reg *registry.Registry, interval time.Duration, clk clock.Clock, terminate TerminateFunc, logger *slog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry:  reg,
		interval:  interval,
		clock:     clk,
		terminate: terminate,
		logger:    logger.With("component", "heartbeat"),
	}
}

// Run sweeps on a fixed interval until the context is canceled.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one pass over the registry: unanswered probes terminate the
// connection, everything else gets a fresh probe.
func (m *HeartbeatMonitor) Sweep() {
	for _, c := range m.registry.Snapshot() {
		if !c.Alive() {
			m.logger.Info("terminating unresponsive connection", "conn_id", c.ID, "principal_id", c.Principal)
			m.terminate(c.ID, ReasonLivenessTimeout)
			continue
		}
		c.ClearAlive()
		if err := c.Client.Ping(); err != nil {
			m.logger.Debug("liveness probe failed", "conn_id", c.ID, "error", err)
		}
	}
}

// LifecycleMonitor enforces the maximum session age. Max-age eviction always
// wins over liveness: an alive connection is still closed once it is too old.
type LifecycleMonitor struct {
	registry  *registry.Registry
	interval  time.Duration
	maxAge    time.Duration
	clock     clock.Clock
	terminate TerminateFunc
	logger    *slog.Logger
}

// NewLifecycleMonitor creates a max-age monitor over the registry.
func NewLifecycleMonitor(reg *registry.Registry, interval, maxAge time.Duration, clk clock.Clock, terminate TerminateFunc, logger *slog.Logger) *LifecycleMonitor {
	return &LifecycleMonitor{
		registry:  reg,
		interval:  interval,
		maxAge:    maxAge,
		clock:     clk,
		terminate: terminate,
		logger:    logger.With("component", "lifecycle"),
	}
}

// Run sweeps on a fixed interval until the context is canceled.
func (m *LifecycleMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep closes every connection older than the maximum session age, after
// sending an explicit expiry notice so clients can distinguish a graceful
// expiry from an abrupt failure.
func (m *LifecycleMonitor) Sweep() {
	now := m.clock.Now()
	for _, c := range m.registry.Snapshot() {
		if now.Sub(c.CreatedAt) <= m.maxAge {
			continue
		}
		m.logger.Info("closing expired connection", "conn_id", c.ID, "principal_id", c.Principal, "age", now.Sub(c.CreatedAt))
		_ = c.Client.Send(protocol.MarshalStatus(false, "session_expired"))
		m.terminate(c.ID, ReasonSessionExpired)
	}
}
