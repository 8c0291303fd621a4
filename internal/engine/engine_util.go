package engine

import (
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
)

// NewInstance builds the authoritative state for a match between the players
// in roster; index i in games belongs to roster[i]. Every player draws from
// an identically seeded generator, so all of them get the same pieces.
func NewInstance(roster []string, rules Rules, seed uint64, now func() time.Time) *InstanceState {
	if now == nil {
		now = time.Now
	}
	srv := &ServerState{
		Rules:    rules,
		Awaiting: make(map[string]int, len(roster)),
		Now:      now,
		Random:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	srv.Deadline = now().Add(rules.JoinTimeout)

	s := &InstanceState{
		Context: mirror.Hidden[*ServerState]{V: srv},
		Games:   make(mirror.Seq[PlayerState], 0, len(roster)),
		GamesKO: mirror.Seq[int]{},
		Speed:   rules.InitialSpeed,
	}
	for i, key := range roster {
		srv.Awaiting[key] = i
		s.Games = append(s.Games, newPlayer(i, len(roster), rules, rand.New(rand.NewPCG(seed, 1))))
	}
	return s
}

func newPlayer(i, n int, rules Rules, r *rand.Rand) PlayerState {
	g := PlayerState{
		Field:   make(mirror.Seq[uint8], Cells),
		Next:    make(mirror.Seq[uint8], 0, rules.NextLength),
		Garbage: mirror.Seq[GarbageLine]{},
		Target:  (i + 1) % n,
		Random:  mirror.Hidden[*rand.Rand]{V: r},
	}
	g.Current = draw(r)
	for range rules.NextLength {
		g.Next = append(g.Next, draw(r))
	}
	return g
}

// NewMatchmaking is the starting value of every waiting client's tree.
func NewMatchmaking(wait int) *MatchmakingState {
	return &MatchmakingState{WaitTime: wait}
}
