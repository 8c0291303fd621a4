package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

const wsReadLimit = 1 << 16

// WS is a Conn over a websocket; each text message is one command.
type WS struct {
	*stream
}

// NewWS takes ownership of c. ctx bounds the whole life of the connection.
func NewWS(ctx context.Context, c *websocket.Conn) *WS {
	c.SetReadLimit(wsReadLimit)

	read := func() (string, error) {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return "", err
		}
		if typ != websocket.MessageText {
			return "", fmt.Errorf("%w: binary message", ErrBadFrame)
		}
		return string(data), nil
	}
	write := func(text string) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return c.Write(wctx, websocket.MessageText, []byte(text))
	}
	shutdown := func() { _ = c.Close(websocket.StatusNormalClosure, "bye") }

	return &WS{stream: newStream(read, write, shutdown)}
}

// DialWS opens a websocket to url, e.g. ws://host:8080/instance/0.
func DialWS(ctx context.Context, url string) (*WS, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWS(context.Background(), c), nil
}
