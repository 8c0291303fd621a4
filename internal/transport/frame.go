package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	headerSize = 2
	// MaxFrame is the largest payload a frame can carry; the length prefix
	// counts its own two bytes.
	MaxFrame = 1<<16 - 1 - headerSize
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrBadFrame      = errors.New("bad frame")
)

// WriteFrame writes text as [u16 big-endian length][utf-8 bytes].
func WriteFrame(w io.Writer, text string) error {
	if len(text) > MaxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(text))
	}
	buf := make([]byte, 0, headerSize+len(text))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(text)+headerSize))
	buf = append(buf, text...)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) (string, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n < headerSize {
		return "", fmt.Errorf("%w: length %d", ErrBadFrame, n)
	}
	body := make([]byte, n-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", err
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: payload is not utf-8", ErrBadFrame)
	}
	return string(body), nil
}
