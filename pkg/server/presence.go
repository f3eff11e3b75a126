package server

import (
	"sync"
	"time"

	"github.com/jklatt/parlor/pkg/model"
	"github.com/jklatt/parlor/pkg/protocol"
)

// Presence is the authoritative in-memory directory of users and their
// status. Every mutation goes through its methods; changed entries are
// broadcast as single-user roster diffs on the bus.
//
// Inactivity demotion is a one-shot deferred check rearmed on every
// MarkActive. The timer never cancels: a stale timer fires, fails the
// level check, and does nothing.
type Presence struct {
	mu    sync.RWMutex
	users map[string]*model.User
	order []string // roster display order (arrival order)

	bus     *Bus
	timeout time.Duration
}

// NewPresence creates an empty presence directory.
func NewPresence(bus *Bus, inactivityTimeout time.Duration) *Presence {
	return &Presence{
		users:   make(map[string]*model.User),
		bus:     bus,
		timeout: inactivityTimeout,
	}
}

// Get returns a snapshot of one user.
func (p *Presence) Get(id string) (model.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// Snapshot returns the full roster in display order.
func (p *Presence) Snapshot() []model.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.User, 0, len(p.order))
	for _, id := range p.order {
		if u, ok := p.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}

// Connect upserts a user entry as a connection comes online: flags are
// set to active, the inactivity timer armed, and the updated entry
// broadcast. Returns the stored snapshot.
func (p *Presence) Connect(u model.User) model.User {
	now := time.Now()
	u.Stats.Offline = false
	u.Stats.Inactive = false
	u.Stats.Active = true
	u.LastActive = now

	p.mu.Lock()
	if _, exists := p.users[u.ID]; !exists {
		p.order = append(p.order, u.ID)
	}
	stored := u
	p.users[u.ID] = &stored
	p.mu.Unlock()

	p.armTimer(u.ID)
	p.bus.Publish(&protocol.Event{User: &u})
	return u
}

// MarkActive stamps the user's last-active time, promotes them to
// active, and rearms the inactivity timer. The roster diff is broadcast
// only when the flags actually changed (a user re-activating from
// inactive); repeated calls within the window are cheap no-ops.
func (p *Presence) MarkActive(id string) {
	p.mu.Lock()
	u, ok := p.users[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	changed := u.Stats.Inactive || u.Stats.Offline || !u.Stats.Active
	u.Stats.Offline = false
	u.Stats.Inactive = false
	u.Stats.Active = true
	u.LastActive = time.Now()
	snapshot := *u
	p.mu.Unlock()

	p.armTimer(id)
	if changed {
		p.bus.Publish(&protocol.Event{User: &snapshot})
	}
}

// armTimer schedules the deferred inactivity check for one user.
func (p *Presence) armTimer(id string) {
	time.AfterFunc(p.timeout, func() { p.checkInactive(id) })
}

// checkInactive demotes a user to inactive if they are genuinely idle.
// This is a level check: a user re-activated (or gone offline, or in a
// call) since the timer was armed is left alone.
func (p *Presence) checkInactive(id string) {
	p.mu.Lock()
	u, ok := p.users[id]
	if !ok || u.Stats.Offline || u.Stats.InCall {
		p.mu.Unlock()
		return
	}
	if time.Since(u.LastActive) < p.timeout {
		p.mu.Unlock()
		return
	}
	u.Stats.Active = false
	u.Stats.Inactive = true
	snapshot := *u
	p.mu.Unlock()

	p.bus.Publish(&protocol.Event{User: &snapshot})
}

// MarkOffline replaces the user's entry with an offline snapshot. Called
// only when the owning login token's connection count reaches zero.
func (p *Presence) MarkOffline(id string) {
	p.mu.Lock()
	u, ok := p.users[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	snapshot := u.OfflineSnapshot()
	p.users[id] = &snapshot
	broadcast := snapshot
	p.mu.Unlock()

	p.bus.Publish(&protocol.Event{User: &broadcast})
}

// ApplyUsername records an already-validated and persisted username
// change, reactivates the user, and broadcasts the diff.
func (p *Presence) ApplyUsername(id, username string) {
	p.apply(id, func(u *model.User) { u.Username = username })
}

// ApplyStatus records a sanitized status text change.
func (p *Presence) ApplyStatus(id, status string) {
	p.apply(id, func(u *model.User) { u.Status = status })
}

// ApplyBanner records a banner change.
func (p *Presence) ApplyBanner(id, banner string) {
	p.apply(id, func(u *model.User) { u.Banner = banner })
}

func (p *Presence) apply(id string, mutate func(*model.User)) {
	p.mu.Lock()
	u, ok := p.users[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	mutate(u)
	u.Stats.Offline = false
	u.Stats.Inactive = false
	u.Stats.Active = true
	u.LastActive = time.Now()
	snapshot := *u
	p.mu.Unlock()

	p.armTimer(id)
	p.bus.Publish(&protocol.Event{User: &snapshot})
}

// SetInCall flips the user's call-membership flag and broadcasts the
// diff when it changed.
func (p *Presence) SetInCall(id string, inCall bool) {
	p.mu.Lock()
	u, ok := p.users[id]
	if !ok || u.Stats.InCall == inCall {
		p.mu.Unlock()
		return
	}
	u.Stats.InCall = inCall
	snapshot := *u
	p.mu.Unlock()

	p.bus.Publish(&protocol.Event{User: &snapshot})
}
