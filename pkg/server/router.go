package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jklatt/parlor/pkg/model"
	"github.com/jklatt/parlor/pkg/protocol"
	"github.com/jklatt/parlor/pkg/render"
	"github.com/jklatt/parlor/pkg/store"
)

// handleFrame processes one inbound frame. Every frame, whatever its
// action, is first authenticated by rotating its session token; the
// fresh token is the first thing on the reply. Invalid frames are
// dropped without a reply so a probing client learns nothing.
func (s *Server) handleFrame(c *Client, raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		s.metrics.FramesDropped.Add(1)
		slog.Debug("frame rejected", "remote", c.remote, "err", err)
		return
	}

	next, token, ok := s.sessions.Rotate(frame.SessionToken)
	if !ok {
		s.metrics.AuthFailures.Add(1)
		slog.Debug("frame with stale or unknown session token", "remote", c.remote)
		return
	}
	s.metrics.FramesIn.Add(1)
	c.sendEvent(&protocol.Event{SessionToken: next})

	if !c.bound {
		if err := s.bindClient(c, token, next); err != nil {
			slog.Error("client bind failed", "token", tokenPrefix(token), "err", err)
			return
		}
	} else {
		c.stoken = next
	}

	if frame.Action == "" {
		return
	}
	user, ok := s.presence.Get(c.userID)
	if !ok {
		slog.Warn("bound client with no presence entry", "token", tokenPrefix(c.token))
		return
	}

	switch frame.Action {
	case protocol.ActionNewMessage:
		s.handleNewMessage(c, frame, user)
	case protocol.ActionEditUsername:
		s.handleEditUsername(c, frame, user)
	case protocol.ActionEditStatus:
		s.handleEditStatus(c, frame, user)
	case protocol.ActionEditSettings:
		s.handleEditSettings(c, frame)
	case protocol.ActionJoinVoice:
		s.handleJoinVoice(c)
	case protocol.ActionLeaveVoice:
		s.leaveVoice(c)
	case protocol.ActionRTCSignal:
		s.handleRTCSignal(c, frame)
	default:
		slog.Debug("unknown action", "action", frame.Action, "token", tokenPrefix(c.token))
	}
}

// bindClient attaches a freshly authenticated connection to its user.
// The user record is loaded from the store on the token's first
// connection and reused for further tabs. The reply sequence delivers
// the user's ID, the roster, and the call configuration, then the
// connection starts receiving broadcasts.
func (s *Server) bindClient(c *Client, token, stoken string) error {
	var user model.User
	if first, ok := s.registry.First(token); ok {
		if u, found := s.presence.Get(first.userID); found {
			user = u
		}
	}
	if user.ID == "" {
		var err error
		user, err = s.loadUser(token)
		if err != nil {
			return err
		}
	}

	c.token = token
	c.stoken = stoken
	c.userID = user.ID
	c.bound = true

	c.sendEvent(&protocol.Event{UserID: user.ID})
	s.registry.Attach(token, c)
	s.presence.Connect(user)
	c.sendEvent(&protocol.Event{Users: s.presence.Snapshot()})
	s.bus.Subscribe(c)
	c.sendEvent(&protocol.Event{ICEServers: s.cfg.ICEServers})
	c.sendEvent(&protocol.Event{MediaTrackConstraints: &s.cfg.MediaTrackConstraints})

	slog.Info("client authenticated",
		"user", user.Username,
		"token", tokenPrefix(token),
		"remote", c.remote,
		"connections", s.registry.Count(token))
	return nil
}

// loadUser assembles a user record from the store for a login token's
// first connection. Status and banner records are created on first read
// so later writes never race a missing key.
func (s *Server) loadUser(token string) (model.User, error) {
	username, found, err := s.store.Read(store.TableUsername, token)
	if err != nil {
		return model.User{}, err
	}
	if !found {
		return model.User{}, ErrUnknownLoginToken
	}
	id, err := s.store.ReadOrWriteNew(store.TableID, token, uuid.NewString())
	if err != nil {
		return model.User{}, err
	}
	status, err := s.store.ReadOrWriteNew(store.TableStatus, token, "")
	if err != nil {
		return model.User{}, err
	}
	banner, err := s.store.ReadOrWriteNew(store.TableBanner, token, "")
	if err != nil {
		return model.User{}, err
	}
	return model.User{ID: id, Username: username, Status: status, Banner: banner}, nil
}

func (s *Server) handleNewMessage(c *Client, frame *protocol.Frame, user model.User) {
	p, err := frame.MessageData()
	if err != nil {
		s.metrics.FramesDropped.Add(1)
		return
	}
	if strings.TrimSpace(p.Content) == "" {
		return
	}
	rendered, err := s.renderer.Markdown(p.Content)
	if err != nil {
		slog.Error("message render failed", "token", tokenPrefix(c.token), "err", err)
		return
	}
	if rendered == "" {
		return
	}

	now := time.Now()
	s.groupMu.Lock()
	showInfo := user.Username != s.lastUsername || now.Sub(s.lastMessage) > s.cfg.GroupWindow
	if showInfo {
		s.lastUsername = user.Username
		s.lastMessage = now
	}
	s.groupMu.Unlock()

	msg := render.Message(rendered, user.Username, now, showInfo)
	s.bus.Publish(&protocol.Event{NewMessage: &protocol.NewMessage{UserID: user.ID, Message: msg}})
	s.presence.MarkActive(c.userID)
	if err := s.store.AppendChat(msg); err != nil {
		slog.Error("transcript append failed", "err", err)
	}
	s.metrics.ChatMessages.Add(1)
	slog.Debug("new message", "user", user.Username, "token", tokenPrefix(c.token))
}

// handleEditUsername validates and persists a username change. A
// rejected name (policy violation or already claimed) is answered with
// the user's current name so the client's input snaps back.
func (s *Server) handleEditUsername(c *Client, frame *protocol.Frame, user model.User) {
	p, err := frame.UsernameData()
	if err != nil {
		s.metrics.FramesDropped.Add(1)
		return
	}
	name := p.Username
	if name == user.Username {
		c.sendEvent(&protocol.Event{NewUsername: &name})
		return
	}
	if err := s.cfg.UsernamePolicy().Validate(name); err != nil {
		slog.Debug("username rejected", "token", tokenPrefix(c.token), "err", err)
		current := user.Username
		c.sendEvent(&protocol.Event{NewUsername: &current})
		return
	}
	if err := s.store.ClaimUsername(c.token, user.Username, name); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			current := user.Username
			c.sendEvent(&protocol.Event{NewUsername: &current})
			return
		}
		slog.Error("username claim failed", "token", tokenPrefix(c.token), "err", err)
		return
	}

	c.sendEvent(&protocol.Event{NewUsername: &name})
	s.presence.ApplyUsername(c.userID, name)
	s.metrics.PresenceEdits.Add(1)
	slog.Info("username changed", "from", user.Username, "to", name, "token", tokenPrefix(c.token))
}

func (s *Server) handleEditStatus(c *Client, frame *protocol.Frame, user model.User) {
	p, err := frame.StatusData()
	if err != nil {
		s.metrics.FramesDropped.Add(1)
		return
	}
	if len(p.Status) > s.cfg.MaxStatusLength {
		current := user.Status
		c.sendEvent(&protocol.Event{NewStatus: &current})
		return
	}
	status := s.renderer.PlainText(p.Status)

	c.sendEvent(&protocol.Event{NewStatus: &status})
	s.presence.ApplyStatus(c.userID, status)
	if err := s.store.Write(store.TableStatus, c.token, status); err != nil {
		slog.Error("status persist failed", "token", tokenPrefix(c.token), "err", err)
	}
	s.metrics.PresenceEdits.Add(1)
}

func (s *Server) handleEditSettings(c *Client, frame *protocol.Frame) {
	p, err := frame.SettingsData()
	if err != nil || p.Settings == nil {
		s.metrics.FramesDropped.Add(1)
		return
	}
	settings := *p.Settings
	settings.Banner = s.renderer.PlainText(settings.Banner)

	s.presence.ApplyBanner(c.userID, settings.Banner)
	if err := s.store.Write(store.TableBanner, c.token, settings.Banner); err != nil {
		slog.Error("banner persist failed", "token", tokenPrefix(c.token), "err", err)
	}
	c.sendEvent(&protocol.Event{Settings: &settings})
	s.metrics.PresenceEdits.Add(1)
}

// handleJoinVoice mints a call peer identity for the connection. The
// joiner gets the current peer list (empty but present for the first
// joiner); everyone else learns of the new peer.
func (s *Server) handleJoinVoice(c *Client) {
	peerID, others, ok := s.relay.Join(c)
	if !ok {
		return
	}
	c.sendEvent(&protocol.Event{Peers: &others})
	s.bus.Publish(&protocol.Event{Peer: &protocol.PeerInfo{PeerID: peerID, UserID: c.userID}})
	s.presence.SetInCall(c.userID, true)
	s.metrics.VoiceJoins.Add(1)
	slog.Info("voice join", "peer", peerID, "token", tokenPrefix(c.token), "peers", s.relay.PeerCount())
}

// handleRTCSignal forwards a call-setup payload to one peer. The sender
// must itself be in the call, and the payload is stamped with the
// sender's identity so the target can route the answer back.
func (s *Server) handleRTCSignal(c *Client, frame *protocol.Frame) {
	fromPeer, ok := s.relay.PeerID(c)
	if !ok {
		return
	}
	if frame.Peer == "" || len(frame.Data) == 0 {
		return
	}
	target, ok := s.relay.Lookup(frame.Peer)
	if !ok {
		slog.Debug("signal for unknown peer", "peer", frame.Peer)
		return
	}
	target.sendEvent(&protocol.Event{RTCSignal: &protocol.RTCSignal{
		Peer:   fromPeer,
		UserID: c.userID,
		Data:   frame.Data,
	}})
	s.metrics.SignalsRelayed.Add(1)
}
