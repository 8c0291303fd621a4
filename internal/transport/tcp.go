package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeTimeout     = 3 * time.Second
	handshakeTimeout = 10 * time.Second
)

// TCP is a Conn over a raw stream socket using length-prefixed frames.
type TCP struct {
	*stream
}

func NewTCP(c net.Conn) *TCP {
	return newTCP(c, bufio.NewReader(c))
}

func newTCP(c net.Conn, r *bufio.Reader) *TCP {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	read := func() (string, error) { return ReadFrame(r) }
	write := func(text string) error {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		return WriteFrame(c, text)
	}
	return &TCP{stream: newStream(read, write, func() { _ = c.Close() })}
}

// DialTCP connects to a TCP session server and asks to join slot.
func DialTCP(ctx context.Context, addr string, slot int) (*TCP, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(c, strconv.Itoa(slot)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewTCP(c), nil
}

// RouteFunc hands a freshly accepted connection to the session in slot.
type RouteFunc func(slot int, c Conn) error

// ServeTCP accepts connections until ctx is cancelled. TCP has no URL, so the
// first frame a client sends is the decimal slot it wants to join. Accepts are
// throttled by lim; a nil limiter means no limit.
func ServeTCP(ctx context.Context, ln net.Listener, lim *rate.Limiter, route RouteFunc, log *zap.Logger) error {
	if lim == nil {
		lim = rate.NewLimiter(rate.Inf, 0)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		if err := lim.Wait(ctx); err != nil {
			return nil
		}
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("tcp accept failed", zap.Error(err))
			continue
		}
		go handshake(c, route, log)
	}
}

func handshake(c net.Conn, route RouteFunc, log *zap.Logger) {
	remote := c.RemoteAddr().String()
	r := bufio.NewReader(c)

	_ = c.SetReadDeadline(time.Now().Add(handshakeTimeout))
	first, err := ReadFrame(r)
	if err != nil {
		log.Debug("tcp handshake failed", zap.String("remote", remote), zap.Error(err))
		_ = c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	slot, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || slot < 0 {
		log.Debug("tcp handshake: bad slot", zap.String("remote", remote), zap.String("slot", first))
		_ = c.Close()
		return
	}

	conn := newTCP(c, r)
	if err := route(slot, conn); err != nil {
		log.Info("tcp connection rejected", zap.String("remote", remote), zap.Int("slot", slot), zap.Error(err))
		conn.Close()
		return
	}
	log.Debug("tcp connection routed", zap.String("remote", remote), zap.Int("slot", slot))
}
