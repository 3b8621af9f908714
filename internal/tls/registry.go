package tls

import "sync"

// connRegistry is the process-wide association between live connections and
// their identifiers. The engine's session save path and diagnostics recover
// a connection from it; insertion happens at allocation, removal at
// teardown. Safe for concurrent use across independent connections.
type connRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]*Conn)}
}

func (r *connRegistry) insert(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

func (r *connRegistry) lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *connRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *connRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
