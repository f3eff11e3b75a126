// Package model defines the core domain types for Parlor.
package model

import "time"

// Stats is the set of presence flags describing a user's reachability.
// At most one of Active/Inactive/Offline is set at a time; InCall is
// orthogonal and tracks voice call membership.
type Stats struct {
	Active   bool `json:"active,omitempty"`
	Inactive bool `json:"inactive,omitempty"`
	InCall   bool `json:"in_call,omitempty"`
	Offline  bool `json:"offline,omitempty"`
}

// User is the live presence entry for one person. Exactly one User entry
// exists per stable user ID while any of their connections is open; the
// entry is replaced with an offline snapshot when the last one closes.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Stats      Stats     `json:"stats"`
	Status     string    `json:"status"`
	Banner     string    `json:"banner"`
	LastActive time.Time `json:"lastActive"`
}

// OfflineSnapshot returns a copy of the user with presence flags reduced
// to offline and the status text and banner cleared.
func (u User) OfflineSnapshot() User {
	u.Stats = Stats{Offline: true}
	u.Status = "offline"
	u.Banner = ""
	return u
}

// Settings carries client-editable preferences submitted via edit_settings.
// Only Banner is server-side state; the remaining fields are client-local
// and the hub echoes them back untouched.
type Settings struct {
	Banner    string `json:"banner"`
	Chimes    bool   `json:"chimes"`
	Notifs    bool   `json:"notifs"`
	CustomCSS string `json:"customCss,omitempty"`
}
