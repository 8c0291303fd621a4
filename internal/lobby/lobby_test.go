package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/client"
	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/hub"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

type fakeHub struct {
	names   []string
	rosters [][]string
}

func (f *fakeHub) Create(name string, _ hub.SessionFunc) int {
	f.names = append(f.names, name)
	return len(f.names) + 4
}

func (f *fakeHub) game(roster []string) hub.SessionFunc {
	f.rosters = append(f.rosters, roster)
	return nil
}

type harness struct {
	t     *testing.T
	lobby *Lobby
	hub   *fakeHub
	in    chan transport.Conn
	now   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{t: t, hub: &fakeHub{}, in: make(chan transport.Conn, 16), now: time.Unix(1_700_000_000, 0)}
	h.lobby = New(cfg, h.hub, h.hub.game, h.in, zap.NewNop())
	h.lobby.Step(h.now)
	return h
}

// join connects a mirror client and waits for its snapshot.
func (h *harness) join() *client.Client[*engine.MatchmakingState] {
	h.t.Helper()
	local, remote := transport.Pipe()
	h.in <- remote
	h.lobby.Step(h.now)
	c, ok, err := client.Dial(local, &engine.MatchmakingState{}).Poll()
	require.NoError(h.t, err)
	require.True(h.t, ok)
	return c
}

// second advances one match tick.
func (h *harness) second() {
	h.now = h.now.Add(time.Second)
	h.lobby.Step(h.now)
}

func update(t *testing.T, cs ...*client.Client[*engine.MatchmakingState]) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, c.Update())
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FillWait = 3
	cfg.IdleWait = 20
	return cfg
}

func TestLobby_NewUserSeesCurrentWait(t *testing.T) {
	h := newHarness(t, testConfig())
	c := h.join()
	assert.Equal(t, 20, c.Value().WaitTime)
	assert.False(t, c.Value().Matched)
}

func TestLobby_MatchesAfterFillWait(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b := h.join(), h.join()

	h.second()
	update(t, a, b)
	assert.True(t, a.Value().Matched)
	assert.True(t, b.Value().Matched)
	assert.NotEqual(t, a.Value().PlayerKey, b.Value().PlayerKey)
	assert.Equal(t, 3, a.Value().WaitTime)
	assert.Equal(t, 2, b.Value().PlayersFound)

	h.second()
	h.second()
	assert.Empty(t, h.hub.names, "the wait has not run out yet")

	h.second()
	require.Len(t, h.hub.rosters, 1)
	assert.Equal(t, []string{a.Value().PlayerKey, b.Value().PlayerKey}, h.hub.rosters[0])

	update(t, a, b)
	for i, c := range []*client.Client[*engine.MatchmakingState]{a, b} {
		assert.True(t, c.Value().Done)
		assert.Equal(t, "5", c.Value().InstanceAddress)
		assert.Equal(t, i, c.Value().PlayerID)
		assert.False(t, c.Alive(), "matched users are sent on their way")
	}
}

func TestLobby_FullRosterStartsAtOnce(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 2
	h := newHarness(t, cfg)
	a, b, late := h.join(), h.join(), h.join()

	h.second()
	require.Len(t, h.hub.rosters, 1)
	assert.Len(t, h.hub.rosters[0], 2)

	update(t, a, b, late)
	assert.True(t, a.Value().Done)
	assert.True(t, b.Value().Done)
	assert.False(t, late.Value().Matched)
	assert.Equal(t, 20, late.Value().WaitTime)
	assert.Equal(t, 0, late.Value().PlayersFound)

	h.second()
	update(t, late)
	assert.True(t, late.Value().Matched)
	assert.Equal(t, 1, late.Value().PlayersFound)
}

func TestLobby_TooFewPlayersResetsWait(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.join()

	for range 4 {
		h.second()
	}
	update(t, a)
	assert.Empty(t, h.hub.names)
	assert.Equal(t, 20, a.Value().WaitTime)
	assert.True(t, a.Value().Matched, "the player stays queued")
	assert.True(t, a.Alive())
}

func TestLobby_DisconnectedPlayersLeaveTheRoster(t *testing.T) {
	h := newHarness(t, testConfig())
	a, b, c := h.join(), h.join(), h.join()

	h.second()
	update(t, a, b, c)
	gone := b.Value().PlayerKey
	b.Close()

	for range 3 {
		h.second()
	}
	require.Len(t, h.hub.rosters, 1)
	assert.NotContains(t, h.hub.rosters[0], gone)
	assert.Len(t, h.hub.rosters[0], 2)

	update(t, c)
	assert.Equal(t, 1, c.Value().PlayerID)
}
