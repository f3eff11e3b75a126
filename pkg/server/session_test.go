package server

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jklatt/parlor/pkg/store"
)

func newTestSessions(t *testing.T) (*SessionManager, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return NewSessionManager(st, "user"), st
}

func TestLoginUnknownToken(t *testing.T) {
	sm, _ := newTestSessions(t)
	_, err := sm.Login("nope")
	require.ErrorIs(t, err, ErrUnknownLoginToken)
}

func TestLoginProvisionsPendingToken(t *testing.T) {
	sm, st := newTestSessions(t)
	token, err := sm.Register()
	require.NoError(t, err)
	require.Len(t, token, 96) // 48 random bytes, hex

	stoken, err := sm.Login(token)
	require.NoError(t, err)
	require.NotEmpty(t, stoken)

	username, found, err := st.Read(store.TableUsername, token)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, strings.HasPrefix(username, "user"))
	require.Len(t, username, 4+20) // prefix + 10 random bytes, hex

	id, found, err := st.Read(store.TableID, token)
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, id)

	// A second login must not re-provision: same username, same ID.
	_, err = sm.Login(token)
	require.NoError(t, err)
	again, _, err := st.Read(store.TableUsername, token)
	require.NoError(t, err)
	require.Equal(t, username, again)
	idAgain, _, err := st.Read(store.TableID, token)
	require.NoError(t, err)
	require.Equal(t, id, idAgain)
}

func TestLoginPendingTokenIsSingleUse(t *testing.T) {
	sm, _ := newTestSessions(t)
	token, err := sm.Register()
	require.NoError(t, err)
	_, err = sm.Login(token)
	require.NoError(t, err)

	// Provisioned now, so further logins succeed via the store, not
	// the pending set. A different unprovisioned token still fails.
	other, err := sm.Register()
	require.NoError(t, err)
	_, err = sm.Login(other)
	require.NoError(t, err)
	_, err = sm.Login("ffffffff")
	require.ErrorIs(t, err, ErrUnknownLoginToken)
}

func TestRotateChain(t *testing.T) {
	sm, _ := newTestSessions(t)
	token, err := sm.Register()
	require.NoError(t, err)
	stoken, err := sm.Login(token)
	require.NoError(t, err)

	seen := map[string]bool{stoken: true}
	current := stoken
	for i := 0; i < 5; i++ {
		next, login, ok := sm.Rotate(current)
		require.True(t, ok)
		require.Equal(t, token, login)
		require.False(t, seen[next], "rotation must mint unseen tokens")
		seen[next] = true

		_, _, replay := sm.Rotate(current)
		require.False(t, replay, "spent token must not rotate twice")
		current = next
	}
	require.Equal(t, 1, sm.Count(), "rotation keeps exactly one live session")
}

func TestRevoke(t *testing.T) {
	sm, _ := newTestSessions(t)
	token, err := sm.Register()
	require.NoError(t, err)
	stoken, err := sm.Login(token)
	require.NoError(t, err)

	sm.Revoke(stoken)
	_, _, ok := sm.Rotate(stoken)
	require.False(t, ok)
	sm.Revoke(stoken) // revoking again is a no-op
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	sm, _ := newTestSessions(t)
	token, err := sm.Register()
	require.NoError(t, err)
	stoken, err := sm.Login(token)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if next, _, ok := sm.Rotate(stoken); ok {
				wins <- next
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for next := range wins {
		winners = append(winners, next)
	}
	require.Len(t, winners, 1, "exactly one racer may spend the token")
	_, ok := sm.Resolve(winners[0])
	require.True(t, ok)
}
