package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	res := r.Register("user-1", "conn-1")
	assert.Empty(t, res.Evicted)
	assert.True(t, res.Changed)
	assert.True(t, res.Registered)
	assert.False(t, res.WasOnline)

	conns, ok := r.Lookup("user-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"conn-1"}, conns)

	// Unknown user
	_, ok = r.Lookup("user-2")
	assert.False(t, ok)
}

func TestRegistry_Register_SamePairIsNoOp(t *testing.T) {
	for _, policy := range []Policy{PolicyFirstWins, PolicyLastWins, PolicyMultiDevice} {
		t.Run(policy.String(), func(t *testing.T) {
			r := NewRegistry(policy)

			assert.True(t, r.Register("user-1", "conn-1").Changed)

			res := r.Register("user-1", "conn-1")
			assert.Empty(t, res.Evicted)
			assert.False(t, res.Changed)
			assert.False(t, res.Registered)
			assert.True(t, res.WasOnline)
			assert.Equal(t, 1, r.Count())
		})
	}
}

func TestRegistry_FirstWins_KeepsOriginalConnection(t *testing.T) {
	r := NewRegistry(PolicyFirstWins)

	r.Register("user-1", "conn-1")
	res := r.Register("user-1", "conn-2")

	assert.Empty(t, res.Evicted)
	assert.False(t, res.Changed)
	assert.False(t, res.Registered)
	assert.True(t, res.WasOnline)

	conns, ok := r.Lookup("user-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"conn-1"}, conns)
}

func TestRegistry_LastWins_ReplacesConnection(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-1", "conn-1")
	res := r.Register("user-1", "conn-2")

	assert.Equal(t, []string{"conn-1"}, res.Evicted)
	assert.True(t, res.Changed)
	assert.True(t, res.Registered)
	assert.True(t, res.WasOnline)

	conns, ok := r.Lookup("user-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"conn-2"}, conns)

	// The evicted connection id no longer resolves
	userID, changed := r.Remove("conn-1")
	assert.Equal(t, "", userID)
	assert.False(t, changed)
}

func TestRegistry_MultiDevice_TracksAllConnections(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)

	r.Register("user-1", "conn-1")
	res := r.Register("user-1", "conn-2")

	assert.Empty(t, res.Evicted)
	assert.True(t, res.Changed)
	assert.True(t, res.Registered)

	conns, ok := r.Lookup("user-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"conn-1", "conn-2"}, conns)
	assert.Equal(t, []string{"user-1"}, r.Snapshot())

	// Dropping one device keeps the user online
	userID, changed := r.Remove("conn-1")
	assert.Equal(t, "user-1", userID)
	assert.True(t, changed)
	assert.True(t, r.Online("user-1"))

	// Dropping the last device takes the user offline
	_, changed = r.Remove("conn-2")
	assert.True(t, changed)
	assert.False(t, r.Online("user-1"))
}

func TestRegistry_IdentitySwitch_DetachesPreviousUser(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-a", "conn-1")

	res := r.Register("user-b", "conn-1")
	assert.True(t, res.Changed)
	assert.True(t, res.Registered)
	assert.Equal(t, "user-a", res.PrevUser)
	assert.True(t, res.PrevUserOffline)
	assert.Equal(t, []string{"user-b"}, r.Snapshot())
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_IdentitySwitch_FirstWinsStillReportsChange(t *testing.T) {
	r := NewRegistry(PolicyFirstWins)

	r.Register("user-a", "conn-1")
	r.Register("user-b", "conn-2")

	// conn-1 re-announces as user-b, which conn-2 already holds. The
	// policy refuses the registration, but user-a still vanished from
	// the presence set and that must surface as a change.
	res := r.Register("user-b", "conn-1")
	assert.True(t, res.Changed)
	assert.False(t, res.Registered)
	assert.Equal(t, "user-a", res.PrevUser)
	assert.True(t, res.PrevUserOffline)
	assert.Equal(t, []string{"user-b"}, r.Snapshot())

	// conn-1 is gone from the mapping entirely
	_, changed := r.Remove("conn-1")
	assert.False(t, changed)
}

func TestRegistry_IdentitySwitch_PrevUserKeepsOtherDevices(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)

	r.Register("user-a", "conn-1")
	r.Register("user-a", "conn-2")

	res := r.Register("user-b", "conn-1")
	assert.True(t, res.Changed)
	assert.Equal(t, "user-a", res.PrevUser)
	assert.False(t, res.PrevUserOffline)
	assert.Equal(t, []string{"user-a", "user-b"}, r.Snapshot())
}

func TestRegistry_Remove_SoleEntry(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-1", "conn-1")
	userID, changed := r.Remove("conn-1")

	assert.Equal(t, "user-1", userID)
	assert.True(t, changed)
	assert.NotContains(t, r.Snapshot(), "user-1")

	_, ok := r.Lookup("user-1")
	assert.False(t, ok)
}

func TestRegistry_Remove_Idempotent(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-1", "conn-1")

	_, changed := r.Remove("conn-1")
	assert.True(t, changed)

	// Second remove of the same id has no observable effect
	userID, changed := r.Remove("conn-1")
	assert.Equal(t, "", userID)
	assert.False(t, changed)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Remove_UnknownConnection(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	userID, changed := r.Remove("never-seen")
	assert.Equal(t, "", userID)
	assert.False(t, changed)
}

func TestRegistry_Snapshot_DistinctSorted(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)

	r.Register("user-b", "conn-1")
	r.Register("user-a", "conn-2")
	r.Register("user-b", "conn-3")

	assert.Equal(t, []string{"user-a", "user-b"}, r.Snapshot())
}

func TestRegistry_Entries(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-b", "conn-2")
	r.Register("user-a", "conn-1")

	entries := r.Entries()
	assert.Equal(t, []PresenceEntry{
		{UserID: "user-a", ConnectionID: "conn-1"},
		{UserID: "user-b", ConnectionID: "conn-2"},
	}, entries)
}

func TestRegistry_ReconnectNeverShowsUserTwice(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	r.Register("user-a", "conn-1")
	assert.Equal(t, []string{"user-a"}, r.Snapshot())

	// Disconnect
	r.Remove("conn-1")
	assert.Empty(t, r.Snapshot())

	// Reconnect with a fresh connection id
	r.Register("user-a", "conn-2")
	assert.Equal(t, []string{"user-a"}, r.Snapshot())
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(PolicyLastWins)

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			userID := "user-" + string(rune('0'+id%10))
			connID := "conn-" + string(rune('0'+id%100))
			r.Register(userID, connID)
			r.Lookup(userID)
			r.Snapshot()
		}(i)
	}

	wg.Wait()

	// Last-wins keeps at most one entry per user
	assert.LessOrEqual(t, len(r.Snapshot()), 10)
	assert.Equal(t, len(r.Snapshot()), r.Count())
}
