package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jklatt/parlor/pkg/store"
)

// Handler builds the HTTP routing table: the login/register exchange,
// the hub WebSocket, operational endpoints, and optionally the static
// client assets.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	Username     string `json:"username"`
	History      string `json:"history"`
}

// handleLogin exchanges a login token for the first session token of a
// connection, plus the username and the chat transcript so the client
// can paint the room before the WebSocket is up.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	stoken, err := s.sessions.Login(req.Token)
	if err != nil {
		if errors.Is(err, ErrUnknownLoginToken) {
			s.metrics.AuthFailures.Add(1)
			writeJSONError(w, http.StatusUnauthorized, "unknown token")
			return
		}
		slog.Error("login failed", "token", tokenPrefix(req.Token), "err", err)
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}

	username, _, err := s.store.Read(store.TableUsername, req.Token)
	if err != nil {
		slog.Error("username read failed", "token", tokenPrefix(req.Token), "err", err)
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}
	history, err := s.store.ReadChat()
	if err != nil {
		slog.Error("transcript read failed", "err", err)
		history = ""
	}

	s.metrics.Logins.Add(1)
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: stoken,
		Username:     username,
		History:      history,
	})
}

// handleRegister mints a fresh login token. The account itself is
// provisioned lazily on the token's first login.
func (s *Server) handleRegister(w http.ResponseWriter, _ *http.Request) {
	token, err := s.sessions.Register()
	if err != nil {
		slog.Error("register failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "register failed")
		return
	}
	s.metrics.Registrations.Add(1)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleWS upgrades to the hub WebSocket. The connection carries no
// credential yet; it is bound to a user by the first frame's session
// token.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(s, conn, r.RemoteAddr)
	s.track(c)
	slog.Debug("websocket connected", "remote", c.remote)

	go c.writePump()
	go c.readPump()
}

// checkOrigin enforces the configured Origin allow-list. An empty list
// accepts any origin, matching a same-host deployment behind a proxy.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.metrics.ActiveConnections.Load(),
		"sessions":    s.sessions.Count(),
		"goroutines":  runtime.NumGoroutine(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.metrics.JSON()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
