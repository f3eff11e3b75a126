package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jklatt/parlor/pkg/protocol"
	"github.com/jklatt/parlor/pkg/store"
)

// findEvent returns the first event for which pick reports true.
func findEvent(evs []protocol.Event, pick func(protocol.Event) bool) (protocol.Event, bool) {
	for _, ev := range evs {
		if pick(ev) {
			return ev, true
		}
	}
	return protocol.Event{}, false
}

func TestNewMessageBroadcast(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, _ := connect(t, srv)
	recvEvents(t, c1) // drop c2's connect diff

	_, _ = exchange(t, srv, c1, st1, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "hello **world**"})

	evs := recvEvents(t, c2)
	msg, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok, "other clients receive the message")
	require.Equal(t, c1.userID, msg.NewMessage.UserID)
	require.Contains(t, msg.NewMessage.Message, "<strong>world</strong>")
	require.Contains(t, msg.NewMessage.Message, "message_info", "first message carries the header")

	// The sender gets it too, via the bus.
	evs = recvEvents(t, c1)
	_, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok)

	history, err := srv.store.ReadChat()
	require.NoError(t, err)
	require.Contains(t, history, "<strong>world</strong>")
}

func TestMessageGrouping(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, st2 := connect(t, srv)
	recvEvents(t, c1)

	_, st1 = exchange(t, srv, c1, st1, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "first"})
	evs, _ := exchange(t, srv, c1, st1, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "second"})

	msg, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok)
	require.NotContains(t, msg.NewMessage.Message, "message_info",
		"consecutive messages by one user inside the window are grouped")

	// A different user always breaks the group.
	recvEvents(t, c2)
	evs, _ = exchange(t, srv, c2, st2, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "third"})
	msg, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok)
	require.Contains(t, msg.NewMessage.Message, "message_info")
}

func TestMessageGroupingWindowExpires(t *testing.T) {
	srv := newTestServer(t)
	srv.cfg.GroupWindow = 10 * time.Millisecond
	c, st := connect(t, srv)

	_, st = exchange(t, srv, c, st, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "first"})
	time.Sleep(25 * time.Millisecond)
	evs, _ := exchange(t, srv, c, st, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "late"})

	msg, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok)
	require.Contains(t, msg.NewMessage.Message, "message_info",
		"the header returns once the window lapses")
}

func TestEmptyMessageDropped(t *testing.T) {
	srv := newTestServer(t)
	c, st := connect(t, srv)

	evs, _ := exchange(t, srv, c, st, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: "   \n\t "})
	_, got := findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.False(t, got, "whitespace-only content produces nothing")
	require.Equal(t, int64(0), srv.metrics.ChatMessages.Load())
}

func TestMessageMarkupStripped(t *testing.T) {
	srv := newTestServer(t)
	c, st := connect(t, srv)

	evs, _ := exchange(t, srv, c, st, protocol.ActionNewMessage,
		protocol.MessagePayload{Content: `hi <script>alert(1)</script>`})
	msg, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewMessage != nil })
	require.True(t, ok)
	require.NotContains(t, msg.NewMessage.Message, "<script")
	require.Contains(t, msg.NewMessage.Message, "hi")
}

func TestEditUsername(t *testing.T) {
	srv := newTestServer(t)
	c, st := connect(t, srv)

	evs, st := exchange(t, srv, c, st, protocol.ActionEditUsername,
		protocol.UsernamePayload{Username: "Cool Cat"})
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewUsername != nil })
	require.True(t, ok)
	require.Equal(t, "Cool Cat", *ev.NewUsername)

	u, _ := srv.presence.Get(c.userID)
	require.Equal(t, "Cool Cat", u.Username)
	stored, _, err := srv.store.Read(store.TableUsername, c.token)
	require.NoError(t, err)
	require.Equal(t, "Cool Cat", stored)

	// A rejected name echoes the current one back.
	evs, _ = exchange(t, srv, c, st, protocol.ActionEditUsername,
		protocol.UsernamePayload{Username: "x"})
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.NewUsername != nil })
	require.True(t, ok)
	require.Equal(t, "Cool Cat", *ev.NewUsername, "too-short name snaps back")
}

func TestEditUsernameTaken(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, st2 := connect(t, srv)

	_, _ = exchange(t, srv, c1, st1, protocol.ActionEditUsername,
		protocol.UsernamePayload{Username: "Cool Cat"})

	recvEvents(t, c2)
	evs, _ := exchange(t, srv, c2, st2, protocol.ActionEditUsername,
		protocol.UsernamePayload{Username: "Cool Cat"})
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewUsername != nil })
	require.True(t, ok)
	require.NotEqual(t, "Cool Cat", *ev.NewUsername, "a claimed name echoes the caller's current one")

	u, _ := srv.presence.Get(c2.userID)
	require.True(t, strings.HasPrefix(u.Username, "user"))
}

func TestEditStatus(t *testing.T) {
	srv := newTestServer(t)
	c, st := connect(t, srv)

	evs, st := exchange(t, srv, c, st, protocol.ActionEditStatus,
		protocol.StatusPayload{Status: `away <script>x</script>`})
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.NewStatus != nil })
	require.True(t, ok)
	require.NotContains(t, *ev.NewStatus, "<script")
	require.Contains(t, *ev.NewStatus, "away")

	u, _ := srv.presence.Get(c.userID)
	require.Equal(t, *ev.NewStatus, u.Status)
	stored, _, err := srv.store.Read(store.TableStatus, c.token)
	require.NoError(t, err)
	require.Equal(t, *ev.NewStatus, stored)

	// Over-length status snaps back to the current one.
	long := strings.Repeat("a", srv.cfg.MaxStatusLength+1)
	evs, _ = exchange(t, srv, c, st, protocol.ActionEditStatus,
		protocol.StatusPayload{Status: long})
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.NewStatus != nil })
	require.True(t, ok)
	require.Equal(t, u.Status, *ev.NewStatus)
}

func TestEditSettings(t *testing.T) {
	srv := newTestServer(t)
	c, st := connect(t, srv)

	payload := map[string]any{"settings": map[string]any{
		"banner": "do not disturb",
		"chimes": true,
	}}
	evs, _ := exchange(t, srv, c, st, protocol.ActionEditSettings, payload)
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.Settings != nil })
	require.True(t, ok)
	require.Equal(t, "do not disturb", ev.Settings.Banner)
	require.True(t, ev.Settings.Chimes)

	u, _ := srv.presence.Get(c.userID)
	require.Equal(t, "do not disturb", u.Banner)
	stored, _, err := srv.store.Read(store.TableBanner, c.token)
	require.NoError(t, err)
	require.Equal(t, "do not disturb", stored)
}

func TestVoiceCallFlow(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, st2 := connect(t, srv)
	recvEvents(t, c1)

	// First joiner gets an explicit empty peer list.
	evs, st1 := exchange(t, srv, c1, st1, protocol.ActionJoinVoice, nil)
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.Peers != nil })
	require.True(t, ok)
	require.Empty(t, *ev.Peers)
	peer1, ok := srv.relay.PeerID(c1)
	require.True(t, ok)

	u, _ := srv.presence.Get(c1.userID)
	require.True(t, u.Stats.InCall)

	// Second joiner sees the first; the first learns of the second.
	recvEvents(t, c2)
	evs, _ = exchange(t, srv, c2, st2, protocol.ActionJoinVoice, nil)
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.Peers != nil })
	require.True(t, ok)
	require.Len(t, *ev.Peers, 1)
	require.Equal(t, peer1, (*ev.Peers)[0].PeerID)
	peer2, _ := srv.relay.PeerID(c2)

	evs = recvEvents(t, c1)
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.Peer != nil })
	require.True(t, ok)
	require.Equal(t, peer2, ev.Peer.PeerID)
	require.Equal(t, c2.userID, ev.Peer.UserID)

	// Signaling payloads are forwarded verbatim, stamped with the
	// sender's peer identity.
	signal := map[string]any{
		"sessionToken": st1,
		"action":       protocol.ActionRTCSignal,
		"peer":         peer2,
		"data":         map[string]string{"sdp": "offer"},
	}
	raw, err := json.Marshal(signal)
	require.NoError(t, err)
	srv.handleFrame(c1, raw)
	recvEvents(t, c1)

	evs = recvEvents(t, c2)
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.RTCSignal != nil })
	require.True(t, ok)
	require.Equal(t, peer1, ev.RTCSignal.Peer)
	require.Equal(t, c1.userID, ev.RTCSignal.UserID)
	require.JSONEq(t, `{"sdp":"offer"}`, string(ev.RTCSignal.Data))

	// Leaving announces the departed peer and clears the call flag.
	_, _ = exchange(t, srv, c2, st2, protocol.ActionLeaveVoice, nil)
	evs = recvEvents(t, c1)
	ev, ok = findEvent(evs, func(ev protocol.Event) bool { return ev.PeerDisconnect != "" })
	require.True(t, ok)
	require.Equal(t, peer2, ev.PeerDisconnect)
	u, _ = srv.presence.Get(c2.userID)
	require.False(t, u.Stats.InCall)
}

func TestDisconnectLeavesCall(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, st2 := connect(t, srv)
	recvEvents(t, c1)

	_, _ = exchange(t, srv, c1, st1, protocol.ActionJoinVoice, nil)
	_, _ = exchange(t, srv, c2, st2, protocol.ActionJoinVoice, nil)
	peer1, _ := srv.relay.PeerID(c1)
	recvEvents(t, c2)

	srv.disconnect(c1)
	require.Equal(t, 1, srv.relay.PeerCount())
	evs := recvEvents(t, c2)
	ev, ok := findEvent(evs, func(ev protocol.Event) bool { return ev.PeerDisconnect != "" })
	require.True(t, ok)
	require.Equal(t, peer1, ev.PeerDisconnect)
}

func TestSignalFromOutsideCallDropped(t *testing.T) {
	srv := newTestServer(t)
	c1, st1 := connect(t, srv)
	c2, st2 := connect(t, srv)
	recvEvents(t, c1)

	_, _ = exchange(t, srv, c2, st2, protocol.ActionJoinVoice, nil)
	peer2, _ := srv.relay.PeerID(c2)
	recvEvents(t, c1)
	recvEvents(t, c2)

	// c1 never joined; its signal must not reach anyone.
	signal := map[string]any{
		"sessionToken": st1,
		"action":       protocol.ActionRTCSignal,
		"peer":         peer2,
		"data":         map[string]string{"sdp": "offer"},
	}
	raw, err := json.Marshal(signal)
	require.NoError(t, err)
	srv.handleFrame(c1, raw)

	evs := recvEvents(t, c2)
	_, got := findEvent(evs, func(ev protocol.Event) bool { return ev.RTCSignal != nil })
	require.False(t, got)
	require.Equal(t, int64(0), srv.metrics.SignalsRelayed.Load())
}
