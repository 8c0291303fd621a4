package server

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

// Private gives every connection its own tree built by the same factory.
// Nothing one user does is visible to another.
type Private[T mirror.Struct] struct {
	factory  func() T
	incoming <-chan transport.Conn
	users    []*User[T]
	log      *zap.Logger
}

// User is one connection of a Private server together with its tree.
type User[T mirror.Struct] struct {
	conn  transport.Conn
	state T
}

func NewPrivate[T mirror.Struct](factory func() T, incoming <-chan transport.Conn, log *zap.Logger) *Private[T] {
	return &Private[T]{factory: factory, incoming: incoming, log: log}
}

func (p *Private[T]) Update() {
	p.accept()

	for _, u := range p.users {
		for range maxPerTick {
			if !u.conn.Alive() {
				break
			}
			text, ok := u.conn.Receive()
			if !ok {
				break
			}
			emitted, err := mirror.Execute(u.state, text)
			if err != nil {
				p.log.Warn("rejecting connection after bad command", zap.String("command", text), zap.Error(err))
				u.Kick()
				break
			}
			for _, e := range emitted {
				_ = u.conn.Send(e)
			}
		}
	}

	live := p.users[:0]
	for _, u := range p.users {
		if u.conn.Alive() {
			live = append(live, u)
		}
	}
	clear(p.users[len(live):])
	p.users = live
}

// Users returns the users that are still connected, in arrival order.
func (p *Private[T]) Users() []*User[T] {
	out := make([]*User[T], 0, len(p.users))
	for _, u := range p.users {
		if u.conn.Alive() {
			out = append(out, u)
		}
	}
	return out
}

func (p *Private[T]) Close() {
	for _, u := range p.users {
		u.Kick()
	}
	p.users = nil
}

func (p *Private[T]) accept() {
	for {
		select {
		case c, ok := <-p.incoming:
			if !ok {
				p.incoming = nil
				return
			}
			u := &User[T]{conn: c, state: p.factory()}
			snap, err := mirror.Snapshot(u.state)
			if err != nil {
				p.log.Error("snapshot failed", zap.Error(err))
				c.Close()
				continue
			}
			if err := c.Send(snap); err != nil {
				c.Close()
				continue
			}
			p.users = append(p.users, u)
		default:
			return
		}
	}
}

// Command applies text to this user's tree and sends it, followed by what it
// emitted, to this user only.
func (u *User[T]) Command(text string) error {
	emitted, err := mirror.Execute(u.state, text)
	if err != nil {
		return err
	}
	_ = u.conn.Send(text)
	for _, e := range emitted {
		_ = u.conn.Send(e)
	}
	return nil
}

func (u *User[T]) Value() T { return u.state }

func (u *User[T]) Alive() bool { return u.conn.Alive() }

// Kick disconnects the user. Anything already sent is still delivered.
func (u *User[T]) Kick() { u.conn.Close() }
