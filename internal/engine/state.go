package engine

import (
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
)

type Rules struct {
	NextLength   int
	JoinTimeout  time.Duration // start deadline when the session is created
	ArrivalGrace time.Duration // deadline cap while players are still arriving
	Countdown    time.Duration // deadline cap once everyone has logged in
	GarbageTick  time.Duration
	GarbageDelay int // ticks before a garbage line lands
	InitialSpeed uint64
	MinSpeed     uint64
	SpeedUpEvery time.Duration
	SpeedFactor  float64
}

func DefaultRules() Rules {
	return Rules{
		NextLength:   5,
		JoinTimeout:  30 * time.Second,
		ArrivalGrace: 10 * time.Second,
		Countdown:    3 * time.Second,
		GarbageTick:  time.Second,
		GarbageDelay: 3,
		InitialSpeed: 1000,
		MinSpeed:     100,
		SpeedUpEvery: 30 * time.Second,
		SpeedFactor:  0.85,
	}
}

// ServerState only exists on the authoritative side. Mirrors decode the tree
// without it, which is what turns the authoritative methods into no-ops there.
type ServerState struct {
	Rules    Rules
	Awaiting map[string]int // player key -> index into games
	Deadline time.Time
	Now      func() time.Time
	Random   *rand.Rand

	startedAt   time.Time
	lastGarbage time.Time
	lastSpeedUp time.Time
}

// StartedAt is zero until the match has started.
func (s *ServerState) StartedAt() time.Time { return s.startedAt }

type GarbageLine struct {
	Column int `json:"column"`
	Delay  int `json:"delay"`
}

func (*GarbageLine) Kind() mirror.Kind { return mirror.KindStruct }

func (g *GarbageLine) Child(name string) (any, bool) {
	switch name {
	case "column":
		return &g.Column, true
	case "delay":
		return &g.Delay, true
	}
	return nil, false
}

func (*GarbageLine) Method(string) (mirror.Method, bool) { return mirror.Method{}, false }

type PlayerState struct {
	Field    mirror.Seq[uint8]         `json:"field"`
	Current  uint8                     `json:"current"`
	Hold     uint8                     `json:"hold"`
	Next     mirror.Seq[uint8]         `json:"next"`
	Held     bool                      `json:"held"`
	KO       bool                      `json:"ko"`
	Target   int                       `json:"target"`
	Moves    int                       `json:"moves"`
	Combo    int                       `json:"combo"`
	Lines    int                       `json:"lines"`
	Sent     int                       `json:"sent"`
	Received int                       `json:"received"`
	Garbage  mirror.Seq[GarbageLine]   `json:"garbage"`
	Random   mirror.Hidden[*rand.Rand] `json:"-"`
}

func (*PlayerState) Kind() mirror.Kind { return mirror.KindStruct }

func (p *PlayerState) Child(name string) (any, bool) {
	switch name {
	case "field":
		return &p.Field, true
	case "current":
		return &p.Current, true
	case "hold":
		return &p.Hold, true
	case "next":
		return &p.Next, true
	case "held":
		return &p.Held, true
	case "ko":
		return &p.KO, true
	case "target":
		return &p.Target, true
	case "moves":
		return &p.Moves, true
	case "combo":
		return &p.Combo, true
	case "lines":
		return &p.Lines, true
	case "sent":
		return &p.Sent, true
	case "received":
		return &p.Received, true
	case "garbage":
		return &p.Garbage, true
	case "random":
		return &p.Random, true
	}
	return nil, false
}

func (p *PlayerState) Method(name string) (mirror.Method, bool) {
	switch name {
	case "clear":
		return mirror.Method{Arity: 1, Fn: p.clearRow}, true
	case "compact":
		return mirror.Method{Arity: 1, Fn: p.compactRow}, true
	case "raise":
		return mirror.Method{Arity: 1, Fn: p.raise}, true
	}
	return mirror.Method{}, false
}

// Active reports whether the player is still in the match.
func (p *PlayerState) Active() bool { return !p.KO }

// wellFormed reports whether the player's subtree still has the shape the
// rules index into. Plain set/push/remove commands can change that shape.
func (p *PlayerState) wellFormed() bool {
	if len(p.Field) != Cells {
		return false
	}
	for _, g := range p.Garbage {
		if g.Column < 0 || g.Column >= Width {
			return false
		}
	}
	return true
}

type InstanceState struct {
	Context mirror.Hidden[*ServerState] `json:"-"`
	Games   mirror.Seq[PlayerState]     `json:"games"`
	GamesKO mirror.Seq[int]             `json:"games_ko"`
	Started bool                        `json:"started"`
	Done    bool                        `json:"done"`
	Speed   uint64                      `json:"speed"`
}

func (*InstanceState) Kind() mirror.Kind { return mirror.KindStruct }

func (s *InstanceState) Child(name string) (any, bool) {
	switch name {
	case "context":
		return &s.Context, true
	case "games":
		return &s.Games, true
	case "games_ko":
		return &s.GamesKO, true
	case "started":
		return &s.Started, true
	case "done":
		return &s.Done, true
	case "speed":
		return &s.Speed, true
	}
	return nil, false
}

func (s *InstanceState) Method(name string) (mirror.Method, bool) {
	switch name {
	case "login":
		return mirror.Method{Arity: 1, Fn: s.login}, true
	case "drop":
		return mirror.Method{Arity: 4, Fn: s.drop}, true
	case "hold":
		return mirror.Method{Arity: 1, Fn: s.hold}, true
	case "target":
		return mirror.Method{Arity: 2, Fn: s.target}, true
	case "server_update":
		return mirror.Method{Arity: 0, Fn: s.serverUpdate}, true
	}
	return mirror.Method{}, false
}

// Active counts players not yet knocked out.
func (s *InstanceState) Active() int {
	n := 0
	for i := range s.Games {
		if s.Games[i].Active() {
			n++
		}
	}
	return n
}

// Placement returns player indices from winner to first knocked out.
func (s *InstanceState) Placement() []int {
	out := make([]int, 0, len(s.Games))
	for i := range s.Games {
		if s.Games[i].Active() {
			out = append(out, i)
		}
	}
	for i := len(s.GamesKO) - 1; i >= 0; i-- {
		out = append(out, s.GamesKO[i])
	}
	return out
}

// MatchmakingState is the private tree every waiting client gets.
type MatchmakingState struct {
	InstanceAddress string `json:"instance_address"`
	PlayerID        int    `json:"player_id"`
	PlayerKey       string `json:"player_key"`
	PlayersFound    int    `json:"players_found"`
	WaitTime        int    `json:"wait_time"`
	Matched         bool   `json:"matched"`
	Done            bool   `json:"done"`
}

func (*MatchmakingState) Kind() mirror.Kind { return mirror.KindStruct }

func (m *MatchmakingState) Child(name string) (any, bool) {
	switch name {
	case "instance_address":
		return &m.InstanceAddress, true
	case "player_id":
		return &m.PlayerID, true
	case "player_key":
		return &m.PlayerKey, true
	case "players_found":
		return &m.PlayersFound, true
	case "wait_time":
		return &m.WaitTime, true
	case "matched":
		return &m.Matched, true
	case "done":
		return &m.Done, true
	}
	return nil, false
}

func (*MatchmakingState) Method(string) (mirror.Method, bool) { return mirror.Method{}, false }
