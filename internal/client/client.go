package client

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/tetris-backend/internal/mirror"
	"github.com/DoyleJ11/tetris-backend/internal/transport"
)

var ErrDesync = errors.New("mirror out of sync with server")

// Pending is a connection whose snapshot has not arrived yet.
type Pending[T mirror.Struct] struct {
	conn  transport.Conn
	state T
}

// Dial starts mirroring the tree served over conn into empty, which must be
// a zero value of the server's root type.
func Dial[T mirror.Struct](conn transport.Conn, empty T) *Pending[T] {
	return &Pending[T]{conn: conn, state: empty}
}

// Poll never blocks. It reports ok once the snapshot has been decoded.
func (p *Pending[T]) Poll() (c *Client[T], ok bool, err error) {
	text, received := p.conn.Receive()
	if !received {
		if !p.conn.Alive() {
			return nil, false, transport.ErrClosed
		}
		return nil, false, nil
	}
	if err := mirror.Restore(text, p.state); err != nil {
		p.conn.Close()
		return nil, false, fmt.Errorf("%w: %v", ErrDesync, err)
	}
	return &Client[T]{conn: p.conn, state: p.state}, true, nil
}

// Client is a live mirror of a server tree.
type Client[T mirror.Struct] struct {
	conn  transport.Conn
	state T
}

// Update applies everything the server sent since the last call. A command
// that does not apply means the mirror has diverged; the connection is
// closed and ErrDesync returned.
func (c *Client[T]) Update() error {
	for {
		text, ok := c.conn.Receive()
		if !ok {
			return nil
		}
		if _, err := mirror.Execute(c.state, text); err != nil {
			c.conn.Close()
			return fmt.Errorf("%w: %v", ErrDesync, err)
		}
	}
}

// Command applies text locally and then sends it to the server.
func (c *Client[T]) Command(text string) error {
	if _, err := mirror.Execute(c.state, text); err != nil {
		return err
	}
	return c.conn.Send(text)
}

func (c *Client[T]) Value() T { return c.state }

func (c *Client[T]) Alive() bool { return c.conn.Alive() }

func (c *Client[T]) Close() { c.conn.Close() }
