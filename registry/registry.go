// Package registry holds the process-wide table of live connection records.
// It is the only state shared between the relay gateway and the periodic
// monitors; all lookups and mutations go through it.
package registry

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/passage-ai/passage/upstream"
)

// ClientSocket is the gateway's handle to the client side of a connection.
// Implementations must drop sends silently once the socket is closed.
type ClientSocket interface {
	// Send writes one text message to the client.
	Send(data []byte) error
	// Ping sends a transport-level liveness probe.
	Ping() error
	// Close closes the socket. Idempotent.
	Close() error
}

// Conn is one live connection record: the client socket, its dedicated
// upstream session, and the liveness state the monitors act on.
type Conn struct {
	ID        string
	Principal string
	Client    ClientSocket
	Upstream  upstream.Session
	CreatedAt time.Time

	mu      sync.Mutex
	alive   bool
	closing bool
	done    chan struct{}
}

// NewConn creates a record in the alive state.
func NewConn(principal string, client ClientSocket, session upstream.Session, createdAt time.Time) *Conn {
	return &Conn{
		ID:        ConnID(principal, createdAt),
		Principal: principal,
		Client:    client,
		Upstream:  session,
		CreatedAt: createdAt,
		alive:     true,
		done:      make(chan struct{}),
	}
}

// ConnID derives a connection identifier from the principal and the creation
// time. Nanosecond resolution makes collisions for one principal impossible
// in practice.
func ConnID(principal string, createdAt time.Time) string {
	return principal + "-" + strconv.FormatInt(createdAt.UnixNano(), 10)
}

// MarkAlive records the arrival of a liveness ack.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// Alive reports whether a liveness ack arrived since the last probe.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// ClearAlive resets the flag; the next ack flips it back.
func (c *Conn) ClearAlive() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// BeginClose claims the record for teardown. Only the first caller gets true;
// later callers must treat teardown as already done.
func (c *Conn) BeginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	close(c.done)
	return true
}

// Done is closed when teardown has claimed the record. Per-connection
// goroutines use it as their cancellation signal.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Stats is the read-only aggregate view of the registry.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	PerPrincipal     map[string]int `json:"per_principal"`
}

// Registry is a concurrency-safe table of live connection records.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Add inserts a record. Duplicate ids are rejected; no two live records may
// share an id.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return fmt.Errorf("connection %q already registered", c.ID)
	}
	r.conns[c.ID] = c
	return nil
}

// Get returns the record with the given id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove deletes the record with the given id. Removing an absent id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Snapshot returns the current records. Monitor sweeps iterate the snapshot
// so they never race with concurrent inserts or removals.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByPrincipal returns how many live records the principal owns.
func (r *Registry) CountByPrincipal(principal string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.Principal == principal {
			n++
		}
	}
	return n
}

// Stats computes the aggregate view by a full scan. The registry is expected
// to stay small enough that an on-demand scan is cheap.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{
		TotalConnections: len(r.conns),
		PerPrincipal:     make(map[string]int, len(r.conns)),
	}
	for _, c := range r.conns {
		stats.PerPrincipal[c.Principal]++
	}
	return stats
}
