package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks hub runtime statistics. All counters use atomic
// operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime WebSocket connections accepted
	ActiveConnections atomic.Int64 // currently open connections
	TotalDisconnects  atomic.Int64 // clean and unclean disconnects

	// Session counters
	Logins        atomic.Int64 // successful login exchanges
	Registrations atomic.Int64 // login tokens minted
	AuthFailures  atomic.Int64 // frames dropped for unknown/stale session tokens

	// Frame counters
	FramesIn          atomic.Int64 // authenticated frames processed
	FramesDropped     atomic.Int64 // unparseable or rate-limited frames
	ChatMessages      atomic.Int64 // accepted chat messages
	PresenceEdits     atomic.Int64 // username/status/settings edits applied
	EventsPublished   atomic.Int64 // broadcast bus publishes
	EventsUndelivered atomic.Int64 // per-destination drops (full or closed queue)

	// Voice counters
	VoiceJoins     atomic.Int64 // call peers registered
	VoiceLeaves    atomic.Int64 // call peers removed
	SignalsRelayed atomic.Int64 // point-to-point signaling payloads forwarded
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time serializable view of all counters.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	Logins        int64 `json:"logins"`
	Registrations int64 `json:"registrations"`
	AuthFailures  int64 `json:"auth_failures"`

	FramesIn          int64 `json:"frames_in"`
	FramesDropped     int64 `json:"frames_dropped"`
	ChatMessages      int64 `json:"chat_messages"`
	PresenceEdits     int64 `json:"presence_edits"`
	EventsPublished   int64 `json:"events_published"`
	EventsUndelivered int64 `json:"events_undelivered"`

	VoiceJoins     int64 `json:"voice_joins"`
	VoiceLeaves    int64 `json:"voice_leaves"`
	SignalsRelayed int64 `json:"signals_relayed"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Logins:            m.Logins.Load(),
		Registrations:     m.Registrations.Load(),
		AuthFailures:      m.AuthFailures.Load(),
		FramesIn:          m.FramesIn.Load(),
		FramesDropped:     m.FramesDropped.Load(),
		ChatMessages:      m.ChatMessages.Load(),
		PresenceEdits:     m.PresenceEdits.Load(),
		EventsPublished:   m.EventsPublished.Load(),
		EventsUndelivered: m.EventsUndelivered.Load(),
		VoiceJoins:        m.VoiceJoins.Load(),
		VoiceLeaves:       m.VoiceLeaves.Load(),
		SignalsRelayed:    m.SignalsRelayed.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"auth_failures", s.AuthFailures,
		"chat_messages", s.ChatMessages,
		"signals_relayed", s.SignalsRelayed,
		"events_published", s.EventsPublished,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval
// until done is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
