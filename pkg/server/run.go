package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Run serves the hub until SIGINT/SIGTERM, then drains connections and
// shuts the listener down. It blocks for the lifetime of the server.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.metrics.StartPeriodicLog(time.Minute, s.ctx.Done())

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.cfg.ListenAddr, "static", s.cfg.StaticDir != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	s.cancel()
	s.closeClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.metrics.LogSummary()
	return nil
}

// closeClients closes every open connection; each close unwinds through
// the connection's read goroutine into the usual disconnect teardown.
func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}
