package client

import (
	"slices"
	"time"

	"github.com/DoyleJ11/tetris-backend/internal/engine"
	"github.com/DoyleJ11/tetris-backend/internal/mirror"
)

type Action uint8

const (
	MoveLeft Action = iota
	MoveRight
	SoftDrop
	RotateLeft
	RotateRight
	HardDrop
	Hold
)

// A drop or hold the server ignores gets no answer, so input resumes after
// answerTimeout, or after resyncDelay once the field has changed under a
// placement that was sent.
const (
	answerTimeout = 2 * time.Second
	resyncDelay   = 250 * time.Millisecond
)

// Player moves the local piece with the same rules the server checks and
// commits placements as drop calls. Between sending a drop or hold and the
// server's answer arriving it ignores input.
type Player struct {
	game   *Client[*engine.InstanceState]
	index  int
	active engine.ActiveState

	pending    bool
	pendingAt  time.Time
	pendingFor time.Duration
	seenMove   int
	seenHeld   bool
	seenCur    uint8
	seenField  []uint8
	lastFall   time.Time
}

func NewPlayer(game *Client[*engine.InstanceState], index int) *Player {
	p := &Player{game: game, index: index, active: engine.Spawn}
	if g := p.state(); g != nil {
		p.seenMove, p.seenHeld, p.seenCur = g.Moves, g.Held, g.Current
		p.seenField = slices.Clone([]uint8(g.Field))
	}
	return p
}

func (p *Player) state() *engine.PlayerState {
	s := p.game.Value()
	if p.index < 0 || p.index >= len(s.Games) {
		return nil
	}
	return &s.Games[p.index]
}

// Active is the falling piece as currently predicted.
func (p *Player) Active() engine.ActiveState { return p.active }

// Playing reports whether input does anything right now.
func (p *Player) Playing() bool {
	s := p.game.Value()
	g := p.state()
	return g != nil && s.Started && !s.Done && !g.KO
}

// sync notices that the server has moved on to a new piece.
func (p *Player) sync() {
	g := p.state()
	if g == nil {
		return
	}
	if g.Moves != p.seenMove || g.Held != p.seenHeld || g.Current != p.seenCur {
		p.seenMove, p.seenHeld, p.seenCur = g.Moves, g.Held, g.Current
		p.seenField = slices.Clone([]uint8(g.Field))
		p.active = engine.Spawn
		p.pending = false
		return
	}
	if !slices.Equal(p.seenField, g.Field) {
		// garbage moved the stack under the piece
		p.seenField = slices.Clone([]uint8(g.Field))
		p.active = lift(g.Field, g.Current, p.active)
		if p.pending {
			p.pendingAt = time.Time{}
			p.pendingFor = resyncDelay
		}
	}
}

// lift moves a piece that now overlaps the stack up until it fits, or back
// to the spawn point.
func lift(field []uint8, piece uint8, a engine.ActiveState) engine.ActiveState {
	for up := a; up.Y >= engine.Spawn.Y; up.Y-- {
		if !engine.Collision(field, piece, up) {
			return up
		}
	}
	return engine.Spawn
}

func (p *Player) Act(a Action) error {
	p.sync()
	if p.pending || !p.Playing() {
		return nil
	}
	g := p.state()
	field, piece := []uint8(g.Field), g.Current

	switch a {
	case MoveLeft:
		p.active = engine.SlideLeft(field, piece, p.active)
	case MoveRight:
		p.active = engine.SlideRight(field, piece, p.active)
	case RotateLeft:
		p.active = engine.RotateLeft(field, piece, p.active)
	case RotateRight:
		p.active = engine.RotateRight(field, piece, p.active)
	case SoftDrop:
		return p.fall(field, piece)
	case HardDrop:
		p.active = engine.HardDrop(field, piece, p.active)
		return p.commit()
	case Hold:
		if g.Held {
			return nil
		}
		p.wait()
		return p.game.Command(mirror.At().Call("hold", p.index))
	}
	return nil
}

// Tick applies gravity at the speed the server sets.
func (p *Player) Tick(now time.Time) error {
	p.sync()
	if p.pending {
		if p.pendingAt.IsZero() {
			p.pendingAt = now
		} else if now.Sub(p.pendingAt) >= p.pendingFor {
			p.pending = false
		}
		p.lastFall = now
		return nil
	}
	if !p.Playing() {
		p.lastFall = now
		return nil
	}
	interval := time.Duration(p.game.Value().Speed) * time.Millisecond
	if now.Sub(p.lastFall) < interval {
		return nil
	}
	p.lastFall = now
	g := p.state()
	return p.fall(g.Field, g.Current)
}

func (p *Player) fall(field []uint8, piece uint8) error {
	next := engine.SlideDown(field, piece, p.active)
	if next == p.active {
		return p.commit()
	}
	p.active = next
	return nil
}

func (p *Player) wait() {
	p.pending = true
	p.pendingAt = time.Time{}
	p.pendingFor = answerTimeout
}

func (p *Player) commit() error {
	p.wait()
	a := p.active
	return p.game.Command(mirror.At().Call("drop", p.index, a.X, a.Y, a.Rotation))
}
