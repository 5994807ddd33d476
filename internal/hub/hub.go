// Package hub tracks live client connections and fans messages out to them.
package hub

import (
	"sync"

	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/logger"
)

// Conn is a registered client. Send must not block: it enqueues the message
// for the connection's writer and reports when the queue cannot take it.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// Registry is the set of live connections. Membership changes and
// broadcasts may interleave freely; a broadcast reaches the connections
// registered when it took its snapshot.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]Conn
	changed chan struct{}
	metrics *monitor.Metrics
	log     *logger.Entry
}

func NewRegistry(metrics *monitor.Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		changed: make(chan struct{}, 1),
		metrics: metrics,
		log:     logger.GetLogger().WithComponent("hub"),
	}
}

// Register adds conn. It reports false when conn was already registered.
func (r *Registry) Register(conn Conn) bool {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID()]; ok {
		r.mu.Unlock()
		return false
	}
	r.conns[conn.ID()] = conn
	n := len(r.conns)
	r.mu.Unlock()

	if n == 1 {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
	r.metrics.SetConnections(n)
	r.log.WithFields(logger.Fields{"conn_id": conn.ID(), "connections": n}).Debug("connection registered")
	return true
}

// Unregister removes conn. It reports false when conn was not registered.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.ID())
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetConnections(n)
	r.log.WithFields(logger.Fields{"conn_id": conn.ID(), "connections": n}).Debug("connection unregistered")
	return true
}

// Snapshot returns the current members. The slice is owned by the caller.
func (r *Registry) Snapshot() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Changed is signalled when the registry goes from empty to non-empty.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

// Broadcast sends msg to every connection in a snapshot taken under the
// lock; sends happen after the lock is released. A failed send is counted
// and logged but neither stops delivery to the rest nor removes the
// connection. It returns the number of successful sends.
func (r *Registry) Broadcast(msg []byte) int {
	sent := 0
	for _, c := range r.Snapshot() {
		if err := c.Send(msg); err != nil {
			r.metrics.IncSendFailure()
			r.log.WithFields(logger.Fields{"conn_id": c.ID()}).WithError(err).Debug("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}
