package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/jklatt/parlor/pkg/store"
)

var ErrUnknownLoginToken = errors.New("server: unknown login token")

// SessionManager issues login tokens, exchanges them for rotating
// session tokens, and validates every inbound frame's credential.
//
// A session token is single-use: Rotate atomically invalidates the
// presented token and binds a fresh one to the same login token, so a
// captured token is usable exactly once.
type SessionManager struct {
	mu       sync.Mutex
	pending  map[string]struct{} // login tokens minted but not yet bound to a user
	sessions map[string]string   // session token -> login token

	store  store.Store
	prefix string // auto-provisioned username prefix
}

// NewSessionManager creates a session manager backed by the given store.
func NewSessionManager(st store.Store, usernamePrefix string) *SessionManager {
	return &SessionManager{
		pending:  make(map[string]struct{}),
		sessions: make(map[string]string),
		store:    st,
		prefix:   usernamePrefix,
	}
}

// Register mints a new login token and marks it pending registration.
// Nothing is persisted until the token's first login.
func (sm *SessionManager) Register() (string, error) {
	token, err := randomToken(48)
	if err != nil {
		return "", err
	}
	sm.mu.Lock()
	sm.pending[token] = struct{}{}
	sm.mu.Unlock()
	return token, nil
}

// Login validates a login token and returns a fresh session token. A
// pending token is provisioned on first use: a random username is
// claimed and a stable user ID minted and persisted.
func (sm *SessionManager) Login(token string) (string, error) {
	_, known, err := sm.store.Read(store.TableUsername, token)
	if err != nil {
		return "", err
	}
	if !known {
		sm.mu.Lock()
		_, isPending := sm.pending[token]
		delete(sm.pending, token)
		sm.mu.Unlock()
		if !isPending {
			return "", ErrUnknownLoginToken
		}
		if err := sm.provision(token); err != nil {
			return "", err
		}
	}

	stoken, err := randomToken(32)
	if err != nil {
		return "", err
	}
	sm.mu.Lock()
	sm.sessions[stoken] = token
	sm.mu.Unlock()
	return stoken, nil
}

// provision claims a random username and persists the identity records
// for a first-time login.
func (sm *SessionManager) provision(token string) error {
	for {
		suffix, err := randomToken(10)
		if err != nil {
			return err
		}
		err = sm.store.ClaimUsername(token, "", sm.prefix+suffix)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrUsernameTaken) {
			return err
		}
		// 10 random bytes collided with a claimed name; roll again.
	}
	if _, err := sm.store.ReadOrWriteNew(store.TableID, token, uuid.NewString()); err != nil {
		return err
	}
	return nil
}

// Rotate atomically exchanges a valid session token for a new one bound
// to the same login token. The old token never resolves again. Returns
// the new session token, the login token, and whether the presented
// token was valid.
func (sm *SessionManager) Rotate(stoken string) (next, token string, ok bool) {
	nextToken, err := randomToken(32)
	if err != nil {
		return "", "", false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	token, ok = sm.sessions[stoken]
	if !ok {
		return "", "", false
	}
	delete(sm.sessions, stoken)
	sm.sessions[nextToken] = token
	return nextToken, token, true
}

// Resolve looks up the login token bound to a session token without
// rotating it.
func (sm *SessionManager) Resolve(stoken string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	token, ok := sm.sessions[stoken]
	return token, ok
}

// Revoke unconditionally invalidates a session token. Revoking an
// unknown token is a no-op.
func (sm *SessionManager) Revoke(stoken string) {
	sm.mu.Lock()
	delete(sm.sessions, stoken)
	sm.mu.Unlock()
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// randomToken returns n random bytes hex-encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("server: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
