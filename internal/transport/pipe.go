package transport

import "sync"

// Pipe returns two connected in-memory ends. Closing either end closes both.
func Pipe() (Conn, Conn) {
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeEnd{recv: make(chan string, queueSize), state: shared}
	b := &pipeEnd{recv: make(chan string, queueSize), state: shared}
	a.peer, b.peer = b, a
	return a, b
}

type pipeState struct {
	done chan struct{}
	once sync.Once
}

type pipeEnd struct {
	recv  chan string
	peer  *pipeEnd
	state *pipeState
}

func (p *pipeEnd) Send(text string) error {
	if !p.Alive() {
		return ErrClosed
	}
	select {
	case p.peer.recv <- text:
		return nil
	default:
		p.Close()
		return ErrSlowPeer
	}
}

func (p *pipeEnd) Receive() (string, bool) {
	select {
	case text := <-p.recv:
		return text, true
	default:
		return "", false
	}
}

func (p *pipeEnd) Close() {
	p.state.once.Do(func() { close(p.state.done) })
}

func (p *pipeEnd) Alive() bool {
	select {
	case <-p.state.done:
		return false
	default:
		return true
	}
}
