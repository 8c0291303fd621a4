package engine

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
)

// Garbage lines sent for clearing n rows at once.
var attackTable = [5]int{0, 0, 1, 2, 4}

// emitter applies commands through the method context and keeps the first
// error, so a method body can emit a run of commands and check once.
type emitter struct {
	ctx *mirror.Context
	err error
}

func (e *emitter) do(text string) {
	if e.err == nil {
		e.err = e.ctx.Command(text)
	}
}

func (s *ServerState) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func draw(r *rand.Rand) uint8 {
	return uint8(r.IntN(NumPieces)) + PieceI
}

// playing is true for players the rules may act on: still in and with a
// well formed subtree.
func (s *InstanceState) playing(p int) bool {
	return p >= 0 && p < len(s.Games) && !s.Games[p].KO && s.Games[p].wellFormed()
}

func (s *InstanceState) validTarget(p, t int) bool {
	return t != p && s.playing(t)
}

// login marks a player as arrived. The start deadline only ever moves closer.
func (s *InstanceState) login(_ *mirror.Context, args []json.RawMessage) error {
	var key string
	if err := mirror.DecodeArgs(args, &key); err != nil {
		return err
	}
	srv := s.Context.V
	if srv == nil || s.Started {
		return nil
	}
	if _, ok := srv.Awaiting[key]; !ok {
		return nil
	}
	delete(srv.Awaiting, key)

	limit := srv.Rules.ArrivalGrace
	if len(srv.Awaiting) == 0 {
		limit = srv.Rules.Countdown
	}
	if d := srv.now().Add(limit); d.Before(srv.Deadline) {
		srv.Deadline = d
	}
	return nil
}

func (s *InstanceState) drop(ctx *mirror.Context, args []json.RawMessage) error {
	var p, x, y, rot int
	if err := mirror.DecodeArgs(args, &p, &x, &y, &rot); err != nil {
		return err
	}
	srv := s.Context.V
	if srv == nil || !s.Started || s.Done || !s.playing(p) || rot < 0 || rot > 3 {
		return nil
	}

	g := &s.Games[p]
	piece := g.Current
	at := ActiveState{X: x, Y: y, Rotation: uint8(rot)}
	if Collision(g.Field, piece, at) {
		return nil
	}

	e := &emitter{ctx: ctx}
	path := mirror.At("games", p)

	for _, b := range Blocks(piece, at) {
		if b.Y >= 0 {
			e.do(path.At("field", b.Y*Width+b.X).Set(piece))
		}
	}

	// top-down, so rows still to be checked are not moved by a compact
	cleared := 0
	for row := max(at.Y, 0); row < min(at.Y+4, Height); row++ {
		if e.err != nil || !rowFull(g.Field, row) {
			continue
		}
		cleared++
		e.do(path.Call("clear", row))
		e.do(path.Call("compact", row))
	}

	if cleared > 0 {
		e.do(path.At("lines").Set(g.Lines + cleared))
		e.do(path.At("combo").Set(g.Combo + 1))
	} else if g.Combo != 0 {
		e.do(path.At("combo").Set(0))
	}
	e.do(path.At("moves").Set(g.Moves + 1))

	s.attack(e, srv, p, attackTable[cleared])
	s.advance(e, srv, p)
	if g.Held {
		e.do(path.At("held").Set(false))
	}
	if !rowEmpty(g.Field, 0) {
		s.knockOut(e, p)
	}
	return e.err
}

// attack first cancels the player's own pending garbage, then forwards what
// is left to their target as lines with one shared hole.
func (s *InstanceState) attack(e *emitter, srv *ServerState, p, lines int) {
	g := &s.Games[p]
	for lines > 0 && len(g.Garbage) > 0 && e.err == nil {
		e.do(mirror.At("games", p, "garbage").Remove(0))
		lines--
	}
	if lines == 0 || !s.validTarget(p, g.Target) {
		return
	}

	t := g.Target
	line := GarbageLine{Column: srv.Random.IntN(Width), Delay: srv.Rules.GarbageDelay}
	to := mirror.At("games", t)
	for range lines {
		e.do(to.At("garbage").Push(line))
	}
	e.do(mirror.At("games", p, "sent").Set(g.Sent + lines))
	e.do(to.At("received").Set(s.Games[t].Received + lines))
}

// advance moves the first upcoming piece into play and draws a replacement,
// so the length of next never changes.
func (s *InstanceState) advance(e *emitter, srv *ServerState, p int) {
	g := &s.Games[p]
	path := mirror.At("games", p)
	r := g.Random.V
	if r == nil {
		r = srv.Random
	}

	if len(g.Next) == 0 {
		e.do(path.At("current").Set(draw(r)))
		return
	}
	e.do(path.At("current").Set(g.Next[0]))
	e.do(path.At("next").Remove(0))
	e.do(path.At("next").Push(draw(r)))
}

func (s *InstanceState) knockOut(e *emitter, p int) {
	if s.Games[p].KO {
		return
	}
	e.do(mirror.At("games", p, "ko").Set(true))
	e.do(mirror.At("games_ko").Push(p))
}

func (s *InstanceState) hold(ctx *mirror.Context, args []json.RawMessage) error {
	var p int
	if err := mirror.DecodeArgs(args, &p); err != nil {
		return err
	}
	srv := s.Context.V
	if srv == nil || !s.Started || s.Done || !s.playing(p) || s.Games[p].Held {
		return nil
	}

	e := &emitter{ctx: ctx}
	g := &s.Games[p]
	path := mirror.At("games", p)
	if g.Hold == Empty {
		e.do(path.At("hold").Set(g.Current))
		s.advance(e, srv, p)
	} else {
		current := g.Current
		e.do(path.At("current").Set(g.Hold))
		e.do(path.At("hold").Set(current))
	}
	e.do(path.At("held").Set(true))
	return e.err
}

func (s *InstanceState) target(ctx *mirror.Context, args []json.RawMessage) error {
	var p, t int
	if err := mirror.DecodeArgs(args, &p, &t); err != nil {
		return err
	}
	if s.Context.V == nil || s.Done || !s.playing(p) || !s.validTarget(p, t) || s.Games[p].Target == t {
		return nil
	}
	return ctx.Command(mirror.At("games", p, "target").Set(t))
}

func (s *InstanceState) serverUpdate(ctx *mirror.Context, args []json.RawMessage) error {
	if err := mirror.DecodeArgs(args); err != nil {
		return err
	}
	srv := s.Context.V
	if srv == nil || s.Done {
		return nil
	}

	e := &emitter{ctx: ctx}
	now := srv.now()

	if !s.Started {
		if now.Before(srv.Deadline) {
			return nil
		}
		s.start(e, srv, now)
	}

	for p := range s.Games {
		if !s.Games[p].KO && !s.Games[p].wellFormed() {
			s.knockOut(e, p)
		}
	}
	s.retarget(e, srv)
	if now.Sub(srv.lastGarbage) >= srv.Rules.GarbageTick {
		srv.lastGarbage = now
		s.tickGarbage(e)
	}
	if srv.Rules.SpeedUpEvery > 0 && now.Sub(srv.lastSpeedUp) >= srv.Rules.SpeedUpEvery {
		srv.lastSpeedUp = now
		s.speedUp(e, srv)
	}
	if s.Active() < 2 {
		e.do(mirror.At("done").Set(true))
	}
	return e.err
}

// start knocks out everyone who never logged in, lowest index first.
func (s *InstanceState) start(e *emitter, srv *ServerState, now time.Time) {
	missing := make([]int, 0, len(srv.Awaiting))
	for _, p := range srv.Awaiting {
		missing = append(missing, p)
	}
	sort.Ints(missing)
	for _, p := range missing {
		if p >= 0 && p < len(s.Games) {
			s.knockOut(e, p)
		}
	}
	clear(srv.Awaiting)

	srv.startedAt = now
	srv.lastGarbage = now
	srv.lastSpeedUp = now
	e.do(mirror.At("started").Set(true))
}

func (s *InstanceState) retarget(e *emitter, srv *ServerState) {
	for p := range s.Games {
		if !s.playing(p) || s.validTarget(p, s.Games[p].Target) {
			continue
		}
		var options []int
		for t := range s.Games {
			if s.validTarget(p, t) {
				options = append(options, t)
			}
		}
		if len(options) == 0 {
			continue
		}
		e.do(mirror.At("games", p, "target").Set(options[srv.Random.IntN(len(options))]))
	}
}

func (s *InstanceState) tickGarbage(e *emitter) {
	for p := range s.Games {
		if !s.playing(p) {
			continue
		}
		g := &s.Games[p]
		path := mirror.At("games", p)
		for i := 0; i < len(g.Garbage); {
			line := g.Garbage[i]
			if line.Delay <= 1 {
				e.do(path.Call("raise", line.Column))
				e.do(path.At("garbage").Remove(i))
			} else {
				e.do(path.At("garbage", i, "delay").Set(line.Delay - 1))
				i++
			}
			if e.err != nil {
				return
			}
		}
		if !rowEmpty(g.Field, 0) {
			s.knockOut(e, p)
		}
	}
}

func (s *InstanceState) speedUp(e *emitter, srv *ServerState) {
	next := uint64(float64(s.Speed) * srv.Rules.SpeedFactor)
	next = max(next, srv.Rules.MinSpeed)
	if next < s.Speed {
		e.do(mirror.At("speed").Set(next))
	}
}

func rowArg(args []json.RawMessage, limit int) (int, error) {
	var n int
	if err := mirror.DecodeArgs(args, &n); err != nil {
		return 0, err
	}
	if n < 0 || n >= limit {
		return 0, fmt.Errorf("%w: %d out of range", mirror.ErrValue, n)
	}
	return n, nil
}

func (p *PlayerState) checkField() error {
	if len(p.Field) != Cells {
		return fmt.Errorf("%w: field has %d cells", mirror.ErrValue, len(p.Field))
	}
	return nil
}

// clearRow empties one row.
func (p *PlayerState) clearRow(_ *mirror.Context, args []json.RawMessage) error {
	row, err := rowArg(args, Height)
	if err != nil {
		return err
	}
	if err := p.checkField(); err != nil {
		return err
	}
	clear(p.Field[row*Width : (row+1)*Width])
	return nil
}

// compactRow moves every row above row down by one, overwriting row.
func (p *PlayerState) compactRow(_ *mirror.Context, args []json.RawMessage) error {
	row, err := rowArg(args, Height)
	if err != nil {
		return err
	}
	if err := p.checkField(); err != nil {
		return err
	}
	copy(p.Field[Width:(row+1)*Width], p.Field[:row*Width])
	clear(p.Field[:Width])
	return nil
}

// raise pushes the stack up one row and fills the new bottom row with
// garbage, leaving a hole at column.
func (p *PlayerState) raise(_ *mirror.Context, args []json.RawMessage) error {
	column, err := rowArg(args, Width)
	if err != nil {
		return err
	}
	if err := p.checkField(); err != nil {
		return err
	}
	copy(p.Field, p.Field[Width:])
	bottom := p.Field[(Height-1)*Width:]
	for x := range bottom {
		bottom[x] = Garbage
	}
	bottom[column] = Empty
	return nil
}
