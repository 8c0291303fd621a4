package client

import (
	"errors"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

var ErrLobbyClosed = errors.New("matchmaking closed before a match was found")

type Phase uint8

const (
	Connecting Phase = iota // waiting for the matchmaking snapshot
	Waiting                 // queued, or connecting to the match
	Ready                   // logged in to the match
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	default:
		return "failed"
	}
}

// DialFunc opens a connection to the session at address, as handed out by
// matchmaking.
type DialFunc func(address string) (transport.Conn, error)

// Join takes a player from matchmaking into a match. Call Step once per tick.
type Join struct {
	phase Phase
	err   error
	dial  DialFunc

	lobbyPending *Pending[*engine.MatchmakingState]
	lobby        *Client[*engine.MatchmakingState]
	gamePending  *Pending[*engine.InstanceState]
	game         *Client[*engine.InstanceState]

	player int
	key    string
}

func NewJoin(lobby transport.Conn, dial DialFunc) *Join {
	return &Join{
		phase:        Connecting,
		dial:         dial,
		lobbyPending: Dial(lobby, &engine.MatchmakingState{}),
	}
}

func (j *Join) Step() Phase {
	switch j.phase {
	case Connecting:
		c, ok, err := j.lobbyPending.Poll()
		if err != nil {
			j.fail(err)
		} else if ok {
			j.lobby = c
			j.phase = Waiting
		}

	case Waiting:
		if j.gamePending == nil {
			j.waitForMatch()
			return j.phase
		}
		c, ok, err := j.gamePending.Poll()
		if err != nil {
			j.fail(err)
			return j.phase
		}
		if !ok {
			return j.phase
		}
		j.game = c
		if err := c.Command(mirror.At().Call("login", j.key)); err != nil {
			j.fail(err)
			return j.phase
		}
		j.phase = Ready
	}
	return j.phase
}

func (j *Join) waitForMatch() {
	if err := j.lobby.Update(); err != nil {
		j.fail(err)
		return
	}
	st := j.lobby.Value()
	if st.Done && st.InstanceAddress != "" {
		conn, err := j.dial(st.InstanceAddress)
		if err != nil {
			j.fail(err)
			return
		}
		j.player, j.key = st.PlayerID, st.PlayerKey
		j.gamePending = Dial(conn, &engine.InstanceState{})
		j.lobby.Close()
		return
	}
	if !j.lobby.Alive() {
		j.fail(ErrLobbyClosed)
	}
}

func (j *Join) fail(err error) {
	j.err = err
	j.phase = Failed
	if j.lobby != nil {
		j.lobby.Close()
	}
	if j.game != nil {
		j.game.Close()
	}
}

func (j *Join) Phase() Phase { return j.phase }

func (j *Join) Err() error { return j.err }

// Lobby is the matchmaking view while Waiting; nil before that.
func (j *Join) Lobby() *engine.MatchmakingState {
	if j.lobby == nil {
		return nil
	}
	return j.lobby.Value()
}

// Game is the match mirror once Ready.
func (j *Join) Game() *Client[*engine.InstanceState] { return j.game }

// Player is this client's index into games.
func (j *Join) Player() int { return j.player }
