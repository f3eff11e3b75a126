// Package server implements the Parlor hub: session rotation, the live
// presence directory, chat broadcast, and voice call signaling over a
// single WebSocket endpoint.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jklatt/parlor/pkg/protocol"
	"github.com/jklatt/parlor/pkg/render"
	"github.com/jklatt/parlor/pkg/store"
)

// Dependencies holds external dependencies for the server. The server
// does not assume ownership of Store; the caller closes it.
type Dependencies struct {
	Store store.Store
}

// Server is the Parlor hub.
type Server struct {
	cfg      Config
	store    store.Store
	renderer *render.Renderer
	sessions *SessionManager
	registry *Registry
	bus      *Bus
	presence *Presence
	relay    *VoiceRelay
	metrics  *Metrics

	// Username-grouping state for chat: headers are suppressed while
	// the same user keeps posting within the group window. Independent
	// of presence state.
	groupMu      sync.Mutex
	lastUsername string
	lastMessage  time.Time

	mu      sync.Mutex
	clients map[*Client]struct{} // all open connections, for shutdown

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server from config and dependencies.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	bus := NewBus(metrics)
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		renderer: render.New(),
		sessions: NewSessionManager(deps.Store, cfg.DefaultUsernamePrefix),
		registry: NewRegistry(),
		bus:      bus,
		presence: NewPresence(bus, cfg.InactivityTimeout),
		relay:    NewVoiceRelay(),
		metrics:  metrics,
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// track registers a connection for shutdown bookkeeping.
func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
}

// disconnect tears down a closed connection. Every step is best-effort:
// a failure in one must not leave the registry or relay referencing the
// dead connection.
func (s *Server) disconnect(c *Client) {
	s.leaveVoice(c)
	s.bus.Unsubscribe(c)
	if c.bound {
		s.sessions.Revoke(c.stoken)
		if s.registry.Detach(c.token, c) == 0 {
			s.presence.MarkOffline(c.userID)
		}
		slog.Info("client disconnected", "token", tokenPrefix(c.token), "remote", c.remote)
	}
	s.mu.Lock()
	if _, open := s.clients[c]; open {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
}

// leaveVoice releases a connection's call peer registration, tells the
// remaining peers, and clears the user's in_call flag once none of
// their connections remains in the call. No-op for connections outside
// the call.
func (s *Server) leaveVoice(c *Client) {
	peerID, ok := s.relay.Leave(c)
	if !ok {
		return
	}
	s.metrics.VoiceLeaves.Add(1)
	s.bus.Publish(&protocol.Event{PeerDisconnect: peerID})
	if !s.relay.AnyInCall(s.registry.Conns(c.token)) {
		s.presence.SetInCall(c.userID, false)
	}
}

// tokenPrefix truncates a login token for log lines.
func tokenPrefix(token string) string {
	if len(token) > 10 {
		return token[:10]
	}
	return token
}
