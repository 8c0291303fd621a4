package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

// drain collects everything c has received so far.
func drain(c transport.Conn) []string {
	var out []string
	for {
		text, ok := c.Receive()
		if !ok {
			return out
		}
		out = append(out, text)
	}
}

// newSession is a two player match whose start deadline has already passed.
func newSession() *engine.InstanceState {
	rules := engine.DefaultRules()
	rules.JoinTimeout = 0
	fixed := time.Unix(1_700_000_000, 0)
	return engine.NewInstance([]string{"a", "b"}, rules, 1, func() time.Time { return fixed })
}

// connect joins n pipe clients and runs one tick so they get their snapshots.
func connect(t *testing.T, srv interface{ Update() }, incoming chan transport.Conn, n int) []transport.Conn {
	t.Helper()
	clients := make([]transport.Conn, n)
	for i := range clients {
		local, remote := transport.Pipe()
		incoming <- remote
		clients[i] = local
	}
	srv.Update()
	return clients
}

func TestShared_NewConnectionGetsSnapshotFirst(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	state := newSession()
	srv := NewShared(state, incoming, zap.NewNop())

	clients := connect(t, srv, incoming, 1)
	got := drain(clients[0])
	require.Len(t, got, 1)

	want, err := mirror.Snapshot(state)
	require.NoError(t, err)
	assert.Equal(t, want, got[0])
	assert.Equal(t, 1, srv.Connections())
}

func TestShared_BroadcastRules(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	srv := NewShared(newSession(), incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 3)
	for _, c := range clients {
		drain(c)
	}

	require.NoError(t, clients[1].Send("call:server_update:"))
	srv.Update()

	sender := drain(clients[1])
	others := drain(clients[0])
	assert.Equal(t, others, drain(clients[2]))

	require.NotEmpty(t, others)
	assert.Equal(t, "call:server_update:", others[0], "others see the client's text first")
	assert.Equal(t, others[1:], sender, "the sender only gets what the call emitted")
	assert.Contains(t, sender, "started/set:true")
	assert.True(t, srv.Value().Started)
}

func TestShared_ServerCommandReachesEveryone(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	srv := NewShared(newSession(), incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)
	for _, c := range clients {
		drain(c)
	}

	require.NoError(t, srv.Command("speed/set:500"))
	for _, c := range clients {
		assert.Equal(t, []string{"speed/set:500"}, drain(c))
	}

	err := srv.Command("speed/push:1")
	assert.ErrorIs(t, err, mirror.ErrKind)
	for _, c := range clients {
		assert.Empty(t, drain(c), "failed commands are not broadcast")
	}
}

func TestShared_UnparseableCommandClosesOnlySender(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	state := newSession()
	srv := NewShared(state, incoming, zap.NewNop())

	// each client sits on its own pipe; closing one does not touch the others
	clients := connect(t, srv, incoming, 3)
	for _, c := range clients {
		drain(c)
	}
	before, err := mirror.Snapshot(state)
	require.NoError(t, err)

	require.NoError(t, clients[0].Send("games/0/ko/%%%"))
	srv.Update()

	assert.False(t, clients[0].Alive())
	assert.True(t, clients[1].Alive())
	assert.True(t, clients[2].Alive())
	assert.Equal(t, 2, srv.Connections())
	assert.Empty(t, drain(clients[1]))
	assert.Empty(t, drain(clients[2]))

	after, err := mirror.Snapshot(state)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// the survivors keep working
	require.NoError(t, clients[2].Send("speed/set:900"))
	srv.Update()
	assert.Equal(t, []string{"speed/set:900"}, drain(clients[1]))
}

func TestShared_MirrorsStayEqual(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	state := newSession()
	srv := NewShared(state, incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)

	replicas := make([]*engine.InstanceState, len(clients))
	for i, c := range clients {
		msgs := drain(c)
		replicas[i] = &engine.InstanceState{}
		require.NoError(t, mirror.Restore(msgs[0], replicas[i]))
	}

	require.NoError(t, clients[0].Send(`call:login:"a"`))
	require.NoError(t, clients[1].Send(`call:login:"b"`))
	srv.Update()
	require.NoError(t, srv.Command("call:server_update:"))
	g := &state.Games[1]
	at := engine.HardDrop(g.Field, g.Current, engine.Spawn)
	require.NoError(t, clients[1].Send(mirror.At().Call("drop", 1, at.X, at.Y, at.Rotation)))
	srv.Update()
	require.Equal(t, 1, state.Games[1].Moves)

	want, err := mirror.Snapshot(state)
	require.NoError(t, err)
	for i, c := range clients {
		for _, text := range drain(c) {
			_, err := mirror.Execute(replicas[i], text)
			require.NoError(t, err, text)
		}
		got, err := mirror.Snapshot(replicas[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestShared_PrunesDeadConnections(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	srv := NewShared(newSession(), incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)

	clients[0].Close()
	srv.Update()
	assert.Equal(t, 1, srv.Connections())

	srv.Close()
	assert.False(t, clients[1].Alive())
	assert.Equal(t, 0, srv.Connections())
}

func TestPrivate_UsersAreIsolated(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	srv := NewPrivate(func() *engine.MatchmakingState { return engine.NewMatchmaking(91) }, incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)

	for _, c := range clients {
		got := drain(c)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], `"wait_time":91`)
	}

	users := srv.Users()
	require.Len(t, users, 2)
	require.NoError(t, users[0].Command(`player_key/set:"k0"`))

	assert.Equal(t, []string{`player_key/set:"k0"`}, drain(clients[0]))
	assert.Empty(t, drain(clients[1]))
	assert.Equal(t, "k0", users[0].Value().PlayerKey)
	assert.Empty(t, users[1].Value().PlayerKey)

	// a client's own command changes only its own tree and is not echoed
	require.NoError(t, clients[1].Send("wait_time/set:5"))
	srv.Update()
	assert.Equal(t, 5, users[1].Value().WaitTime)
	assert.Equal(t, 91, users[0].Value().WaitTime)
	assert.Empty(t, drain(clients[0]))
	assert.Empty(t, drain(clients[1]))
}

func TestPrivate_KickDeliversPendingThenDrops(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	srv := NewPrivate(func() *engine.MatchmakingState { return engine.NewMatchmaking(10) }, incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)
	drain(clients[0])

	u := srv.Users()[0]
	require.NoError(t, u.Command("done/set:true"))
	u.Kick()
	srv.Update()

	assert.Equal(t, []string{"done/set:true"}, drain(clients[0]))
	assert.False(t, clients[0].Alive())
	assert.Len(t, srv.Users(), 1)

	require.NoError(t, clients[1].Send("nope/set:1"))
	srv.Update()
	assert.Empty(t, srv.Users())
}

func TestShared_ReshapedTreeDoesNotTakeSessionDown(t *testing.T) {
	incoming := make(chan transport.Conn, 8)
	state := newSession()
	srv := NewShared(state, incoming, zap.NewNop())
	clients := connect(t, srv, incoming, 2)

	replica := &engine.InstanceState{}
	require.NoError(t, mirror.Restore(drain(clients[1])[0], replica))
	drain(clients[0])

	require.NoError(t, clients[0].Send(`call:login:"a"`))
	require.NoError(t, clients[1].Send(`call:login:"b"`))
	srv.Update()
	require.NoError(t, srv.Command("call:server_update:"))
	require.True(t, state.Started)

	require.NoError(t, clients[0].Send("games/0/field/remove:0"))
	require.NoError(t, clients[0].Send(mirror.At().Call("drop", 0, 7, 19, 0)))
	require.NotPanics(t, srv.Update)
	require.NotPanics(t, func() { require.NoError(t, srv.Command("call:server_update:")) })

	assert.True(t, clients[0].Alive())
	assert.True(t, clients[1].Alive())
	assert.Equal(t, 0, state.Games[0].Moves)
	assert.True(t, state.Games[0].KO, "a broken board knocks its owner out")
	assert.True(t, state.Done)

	for _, text := range drain(clients[1]) {
		_, err := mirror.Execute(replica, text)
		require.NoError(t, err, text)
	}
	want, _ := mirror.Snapshot(state)
	got, _ := mirror.Snapshot(replica)
	assert.Equal(t, want, got)
}
