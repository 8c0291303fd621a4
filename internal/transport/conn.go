package transport

import (
	"errors"
	"sync"
)

var (
	ErrClosed   = errors.New("connection closed")
	ErrSlowPeer = errors.New("peer not keeping up")
)

// Conn is one peer as a session sees it. Receive never blocks; messages that
// arrived before the peer went away can still be received after Alive turns
// false.
type Conn interface {
	Send(text string) error
	Receive() (string, bool)
	Close()
	Alive() bool
}

const queueSize = 256

// stream adapts a blocking read/write pair into a Conn with one reader and one
// writer goroutine.
type stream struct {
	in       chan string
	out      chan string
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newStream(read func() (string, error), write func(string) error, shutdown func()) *stream {
	s := &stream{
		in:       make(chan string, queueSize),
		out:      make(chan string, queueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.readLoop(read)
	go s.writeLoop(write, shutdown)
	return s
}

func (s *stream) readLoop(read func() (string, error)) {
	for {
		text, err := read()
		if err != nil {
			s.Close()
			return
		}
		select {
		case s.in <- text:
		case <-s.done:
			return
		}
	}
}

func (s *stream) writeLoop(write func(string) error, shutdown func()) {
	defer close(s.finished)
	defer shutdown()

	for {
		select {
		case text := <-s.out:
			if err := write(text); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			// flush what was queued before the close, e.g. a final state change
			// sent right before a kick
			for {
				select {
				case text := <-s.out:
					if write(text) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *stream) Send(text string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.out <- text:
		return nil
	default:
		// Peer is slow/full - drop them.
		s.Close()
		return ErrSlowPeer
	}
}

func (s *stream) Receive() (string, bool) {
	select {
	case text := <-s.in:
		return text, true
	default:
		return "", false
	}
}

func (s *stream) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *stream) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed once the underlying transport has been shut down.
func (s *stream) Done() <-chan struct{} { return s.finished }
