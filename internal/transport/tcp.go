// internal/transport/tcp.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// TCP is a Transport over one persistent TCP connection.
type TCP struct {
	addr    string
	framing Framing

	conn net.Conn
}

// NewTCP creates an unopened TCP transport.
func NewTCP(addr string, framing Framing) (*TCP, error) {
	if addr == "" {
		return nil, errors.New("transport: tcp address required")
	}
	if len(framing.Terminator) == 0 {
		return nil, errors.New("transport: terminator required")
	}
	if framing.Timeout <= 0 {
		return nil, errors.New("transport: timeout must be > 0")
	}
	return &TCP{addr: addr, framing: framing}, nil
}

func (t *TCP) Open() error {
	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.addr, t.framing.Timeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrDisconnected, t.addr, err)
	}
	t.conn = conn
	return nil
}

func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCP) Send(p []byte) error {
	if t.conn == nil {
		return ErrDisconnected
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.framing.Timeout)); err != nil {
		return t.dropped(err)
	}
	if _, err := t.conn.Write(p); err != nil {
		return t.dropped(err)
	}
	return nil
}

func (t *TCP) Receive(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrDisconnected
	}

	deadline := time.Now().Add(t.framing.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, t.dropped(err)
	}

	// Abort the blocking read if the caller cancels.
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if i := bytes.Index(buf.Bytes(), t.framing.Terminator); i >= 0 {
				end := i + len(t.framing.Terminator)
				out := make([]byte, end)
				copy(out, buf.Bytes()[:end])
				return out, nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if buf.Len() > 0 {
					return nil, fmt.Errorf("%w: %d bytes without terminator", ErrFraming, buf.Len())
				}
				return nil, ErrTimeout
			}
			return nil, t.dropped(err)
		}
	}
}

// Drain reads and discards whatever is pending on the channel.
func (t *TCP) Drain() {
	if t.conn == nil {
		return
	}
	t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	chunk := make([]byte, 256)
	for {
		n, err := t.conn.Read(chunk)
		if n == 0 || err != nil {
			return
		}
	}
}

func (t *TCP) dropped(err error) error {
	if errors.Is(err, io.EOF) {
		err = errors.New("connection closed by peer")
	}
	t.conn.Close()
	t.conn = nil
	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}

var _ Transport = (*TCP)(nil)
