// internal/transport/serialport.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/serial"
)

// SerialConfig holds the line parameters of one serial instrument port.
type SerialConfig struct {
	Address  string // e.g. /dev/ttyS0, COM3
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E", "O"
}

// Serial is a Transport over one serial port.
type Serial struct {
	cfg     SerialConfig
	framing Framing

	port serial.Port
}

// NewSerial creates an unopened serial transport.
func NewSerial(cfg SerialConfig, framing Framing) (*Serial, error) {
	if cfg.Address == "" {
		return nil, errors.New("transport: serial address required")
	}
	if len(framing.Terminator) == 0 {
		return nil, errors.New("transport: terminator required")
	}
	if framing.Timeout <= 0 {
		return nil, errors.New("transport: timeout must be > 0")
	}
	return &Serial{cfg: cfg, framing: framing}, nil
}

func (s *Serial) Open() error {
	if s.port != nil {
		return nil
	}
	// Short per-read timeout so Receive can poll for its terminator and
	// honor cancellation between reads.
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Address,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
		Timeout:  200 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrDisconnected, s.cfg.Address, err)
	}
	s.port = port
	return nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) Send(p []byte) error {
	if s.port == nil {
		return ErrDisconnected
	}
	if _, err := s.port.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (s *Serial) Receive(ctx context.Context) ([]byte, error) {
	if s.port == nil {
		return nil, ErrDisconnected
	}

	deadline := time.Now().Add(s.framing.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.port.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if i := bytes.Index(buf.Bytes(), s.framing.Terminator); i >= 0 {
				end := i + len(s.framing.Terminator)
				out := make([]byte, end)
				copy(out, buf.Bytes()[:end])
				return out, nil
			}
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			s.port.Close()
			s.port = nil
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}

		if time.Now().After(deadline) {
			if buf.Len() > 0 {
				return nil, fmt.Errorf("%w: %d bytes without terminator", ErrFraming, buf.Len())
			}
			return nil, ErrTimeout
		}
	}
}

// Drain reads and discards whatever is pending on the line.
func (s *Serial) Drain() {
	if s.port == nil {
		return
	}
	chunk := make([]byte, 256)
	for {
		n, err := s.port.Read(chunk)
		if n == 0 || err != nil {
			return
		}
	}
}

var _ Transport = (*Serial)(nil)
