package server

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"sync"

	"github.com/jklatt/parlor/pkg/protocol"
)

// VoiceRelay maps ephemeral call peer IDs to connections and forwards
// call-setup payloads point-to-point. The hub never interprets the
// payloads; media itself is negotiated peer-to-peer.
type VoiceRelay struct {
	mu     sync.RWMutex
	peers  map[string]*Client // peer ID -> connection
	byConn map[*Client]string // connection -> peer ID
}

// NewVoiceRelay creates an empty relay.
func NewVoiceRelay() *VoiceRelay {
	return &VoiceRelay{
		peers:  make(map[string]*Client),
		byConn: make(map[*Client]string),
	}
}

// Join registers a connection as a call peer. It returns the minted
// peer ID and the set of already-registered peers (excluding the
// joiner). Joining twice is a no-op reported via ok=false.
func (v *VoiceRelay) Join(c *Client) (peerID string, others []protocol.PeerInfo, ok bool) {
	id, err := randomPeerID()
	if err != nil {
		return "", nil, false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, inCall := v.byConn[c]; inCall {
		return "", nil, false
	}
	others = make([]protocol.PeerInfo, 0, len(v.peers))
	for pid, peer := range v.peers {
		others = append(others, protocol.PeerInfo{PeerID: pid, UserID: peer.userID})
	}
	v.peers[id] = c
	v.byConn[c] = id
	return id, others, true
}

// Leave removes a connection's peer registration. Returns the released
// peer ID, or ok=false if the connection held none.
func (v *VoiceRelay) Leave(c *Client) (peerID string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	peerID, ok = v.byConn[c]
	if !ok {
		return "", false
	}
	delete(v.byConn, c)
	delete(v.peers, peerID)
	return peerID, true
}

// Lookup resolves a peer ID to its connection.
func (v *VoiceRelay) Lookup(peerID string) (*Client, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.peers[peerID]
	return c, ok
}

// PeerID returns the peer ID held by a connection, if any.
func (v *VoiceRelay) PeerID(c *Client) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.byConn[c]
	return id, ok
}

// AnyInCall reports whether any of the given connections holds a peer
// registration. Used to decide when a user's in_call flag clears: only
// once none of their tabs remains in the call.
func (v *VoiceRelay) AnyInCall(conns []*Client) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, c := range conns {
		if _, ok := v.byConn[c]; ok {
			return true
		}
	}
	return false
}

// PeerCount returns the number of registered call peers.
func (v *VoiceRelay) PeerCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.peers)
}

// randomPeerID mints an 8-byte hex call peer identifier.
func randomPeerID() (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
