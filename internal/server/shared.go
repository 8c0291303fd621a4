package server

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

// maxPerTick bounds how many commands one connection gets applied per tick.
const maxPerTick = 64

// Shared owns one tree that every connection sees and may change. It is not
// safe for concurrent use; the session goroutine calls Update on every tick.
type Shared[T mirror.Struct] struct {
	state    T
	incoming <-chan transport.Conn
	conns    []transport.Conn
	log      *zap.Logger
}

func NewShared[T mirror.Struct](state T, incoming <-chan transport.Conn, log *zap.Logger) *Shared[T] {
	return &Shared[T]{state: state, incoming: incoming, log: log}
}

func (s *Shared[T]) Update() {
	s.accept()

	for _, c := range s.conns {
		for range maxPerTick {
			if !c.Alive() {
				break
			}
			text, ok := c.Receive()
			if !ok {
				break
			}
			emitted, err := mirror.Execute(s.state, text)
			if err != nil {
				s.log.Warn("rejecting connection after bad command", zap.String("command", text), zap.Error(err))
				c.Close()
				break
			}
			s.broadcast(text, c)
			for _, e := range emitted {
				s.broadcast(e, nil)
			}
		}
	}

	s.prune()
}

// Command applies text as if the server itself had sent it: every connection
// gets the text and then whatever it emitted.
func (s *Shared[T]) Command(text string) error {
	emitted, err := mirror.Execute(s.state, text)
	if err != nil {
		return err
	}
	s.broadcast(text, nil)
	for _, e := range emitted {
		s.broadcast(e, nil)
	}
	return nil
}

func (s *Shared[T]) Value() T { return s.state }

// Connections counts the connections still alive.
func (s *Shared[T]) Connections() int {
	n := 0
	for _, c := range s.conns {
		if c.Alive() {
			n++
		}
	}
	return n
}

// Close disconnects everyone.
func (s *Shared[T]) Close() {
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *Shared[T]) accept() {
	for {
		select {
		case c, ok := <-s.incoming:
			if !ok {
				s.incoming = nil
				return
			}
			snap, err := mirror.Snapshot(s.state)
			if err != nil {
				s.log.Error("snapshot failed", zap.Error(err))
				c.Close()
				continue
			}
			if err := c.Send(snap); err != nil {
				c.Close()
				continue
			}
			s.conns = append(s.conns, c)
			s.log.Debug("connection joined", zap.Int("connections", len(s.conns)))
		default:
			return
		}
	}
}

// broadcast sends text to every live connection except skip. A failed send
// only marks the connection dead; it is dropped at the end of the tick.
func (s *Shared[T]) broadcast(text string, skip transport.Conn) {
	for _, c := range s.conns {
		if c == skip || !c.Alive() {
			continue
		}
		_ = c.Send(text)
	}
}

func (s *Shared[T]) prune() {
	live := s.conns[:0]
	for _, c := range s.conns {
		if c.Alive() {
			live = append(live, c)
		}
	}
	clear(s.conns[len(live):])
	s.conns = live
}
