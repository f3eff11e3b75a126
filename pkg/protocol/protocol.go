// Package protocol defines the JSON frames exchanged over the hub WebSocket.
//
// Inbound frames carry a session token, an action tag, and an
// action-specific payload. Outbound events are a single struct of
// optional fields; only one of these fields is usually set, but a reply
// may combine several (e.g. the first-frame reply carries the rotated
// token, the user ID, the roster, and the call configuration at once).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jklatt/parlor/pkg/model"
)

// MaxFrameSize is the largest inbound frame the hub will read (64KB).
const MaxFrameSize = 65536

// Inbound action tags. A frame with no action is either the initial
// frame of a new connection or a bare token-rotation round trip.
const (
	ActionNewMessage   = "new_message"
	ActionEditUsername = "edit_username"
	ActionEditStatus   = "edit_status"
	ActionEditSettings = "edit_settings"
	ActionJoinVoice    = "join_voice"
	ActionLeaveVoice   = "leave_voice"
	ActionRTCSignal    = "rtc_signal"
)

var ErrMissingSessionToken = errors.New("protocol: frame has no session token")

// Frame is one inbound client message. Data is decoded per action via
// the typed accessors below.
type Frame struct {
	SessionToken string          `json:"sessionToken"`
	Action       string          `json:"action,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Peer         string          `json:"peer,omitempty"` // rtc_signal target peer ID
}

// ParseFrame decodes a raw inbound frame. A frame without a session
// token is rejected here so handlers never see one.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("protocol: parse frame: %w", err)
	}
	if f.SessionToken == "" {
		return nil, ErrMissingSessionToken
	}
	return &f, nil
}

// MessagePayload is the data of a new_message frame.
type MessagePayload struct {
	Content string `json:"content"`
}

// UsernamePayload is the data of an edit_username frame.
type UsernamePayload struct {
	Username string `json:"username"`
}

// StatusPayload is the data of an edit_status frame.
type StatusPayload struct {
	Status string `json:"status"`
}

// SettingsPayload is the data of an edit_settings frame.
type SettingsPayload struct {
	Settings *model.Settings `json:"settings"`
}

// MessageData decodes the payload of a new_message frame.
func (f *Frame) MessageData() (MessagePayload, error) {
	var p MessagePayload
	err := decodeData(f.Data, &p)
	return p, err
}

// UsernameData decodes the payload of an edit_username frame.
func (f *Frame) UsernameData() (UsernamePayload, error) {
	var p UsernamePayload
	err := decodeData(f.Data, &p)
	return p, err
}

// StatusData decodes the payload of an edit_status frame.
func (f *Frame) StatusData() (StatusPayload, error) {
	var p StatusPayload
	err := decodeData(f.Data, &p)
	return p, err
}

// SettingsData decodes the payload of an edit_settings frame.
func (f *Frame) SettingsData() (SettingsPayload, error) {
	var p SettingsPayload
	err := decodeData(f.Data, &p)
	return p, err
}

func decodeData(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return errors.New("protocol: frame has no data payload")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}

// PeerInfo identifies one voice call participant.
type PeerInfo struct {
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

// NewMessage is a broadcast chat message: the poster's stable ID and the
// pre-rendered message HTML.
type NewMessage struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// RTCSignal is a relayed call-setup payload. Data is forwarded verbatim;
// the hub never inspects offers, answers, or ICE candidates.
type RTCSignal struct {
	Peer   string          `json:"peer"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// ICEServer describes one STUN/TURN server handed to joining clients.
type ICEServer struct {
	URLs       string `json:"urls" yaml:"urls"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// AudioConstraints mirrors the browser-side getUserMedia audio options.
type AudioConstraints struct {
	NoiseSuppression bool `json:"noiseSuppression" yaml:"noise_suppression"`
	AutoGainControl  bool `json:"autoGainControl" yaml:"auto_gain_control"`
}

// MediaTrackConstraints is the track configuration for voice calls.
type MediaTrackConstraints struct {
	Audio AudioConstraints `json:"audio" yaml:"audio"`
	Video bool             `json:"video" yaml:"video"`
}

// Event is one outbound hub message. Unset fields are omitted from the
// encoded JSON. Peers is a pointer so a joiner with no other call
// members still receives an explicit empty list.
type Event struct {
	SessionToken          string                 `json:"sessionToken,omitempty"`
	UserID                string                 `json:"userId,omitempty"`
	Users                 []model.User           `json:"users,omitempty"`
	User                  *model.User            `json:"user,omitempty"`
	NewMessage            *NewMessage            `json:"newMessage,omitempty"`
	NewUsername           *string                `json:"newUsername,omitempty"`
	NewStatus             *string                `json:"newStatus,omitempty"`
	Settings              *model.Settings        `json:"settings,omitempty"`
	Peers                 *[]PeerInfo            `json:"peers,omitempty"`
	Peer                  *PeerInfo              `json:"peer,omitempty"`
	RTCSignal             *RTCSignal             `json:"rtc_signal,omitempty"`
	PeerDisconnect        string                 `json:"peerDisconnect,omitempty"`
	ICEServers            []ICEServer            `json:"iceServers,omitempty"`
	MediaTrackConstraints *MediaTrackConstraints `json:"mediaTrackConstraints,omitempty"`
}

// Marshal serializes the event for the wire.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal event: %w", err)
	}
	return data, nil
}
