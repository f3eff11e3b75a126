package server

import "sync"

// Registry tracks the set of open connections per login token. A user
// may hold several simultaneous connections (multiple tabs); presence
// only drops to offline when the set empties.
type Registry struct {
	mu    sync.RWMutex
	conns map[string][]*Client // login token -> open connections
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string][]*Client)}
}

// Attach records an open connection for a login token.
func (r *Registry) Attach(token string, c *Client) {
	r.mu.Lock()
	r.conns[token] = append(r.conns[token], c)
	r.mu.Unlock()
}

// Detach removes a connection and returns how many remain for the
// token. Detaching a connection that was never attached (or already
// detached) is a no-op.
func (r *Registry) Detach(token string, c *Client) (remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.conns[token]
	for i, other := range conns {
		if other == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.conns, token)
		return 0
	}
	r.conns[token] = conns
	return len(conns)
}

// Count returns the number of open connections for a login token.
func (r *Registry) Count(token string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[token])
}

// First returns the earliest-attached connection for a login token, if
// any. Used to reuse an already-loaded user snapshot for a second tab.
func (r *Registry) First(token string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.conns[token]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[0], true
}

// Conns returns a snapshot of the open connections for a login token.
func (r *Registry) Conns(token string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, len(r.conns[token]))
	copy(out, r.conns[token])
	return out
}
