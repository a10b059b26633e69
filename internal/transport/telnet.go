package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Telnet protocol bytes.
const (
	telnetIAC  = 255
	telnetDont = 254
	telnetDo   = 253
	telnetWont = 252
	telnetWill = 251
	telnetSB   = 250
	telnetSE   = 240
)

// TelnetTransport connects to devices over plain telnet. Option
// negotiation is refused wholesale; network devices fall back to a
// line-based session, which is all the terminal layer needs.
type TelnetTransport struct {
	Options Options
}

func (t *TelnetTransport) Scheme() string { return "telnet" }

func (t *TelnetTransport) Connect(ctx context.Context, d *storage.Device) (Session, error) {
	addr := deviceAddr(d, 23)
	dialer := net.Dialer{Timeout: t.Options.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &telnetSession{
		device: d,
		conn:   conn,
		stream: newTelnetStream(conn),
	}, nil
}

type telnetSession struct {
	device *storage.Device
	conn   net.Conn

	mu     sync.Mutex
	stream *telnetStream
	closed bool
}

func (s *telnetSession) Device() *storage.Device { return s.device }

func (s *telnetSession) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotConnected
	}
	return s.stream, nil
}

func (s *telnetSession) Run(ctx context.Context, command string) (string, error) {
	return "", ErrUnsupported
}

func (s *telnetSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// telnetStream filters IAC sequences out of the read path and refuses
// every option the peer offers.
type telnetStream struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func newTelnetStream(conn net.Conn) *telnetStream {
	return &telnetStream{conn: conn, r: bufio.NewReader(conn)}
}

func (t *telnetStream) Read(p []byte) (int, error) {
	n := 0
	for n == 0 {
		b, err := t.r.ReadByte()
		if err != nil {
			return n, err
		}
		if b != telnetIAC {
			p[n] = b
			n++
			// Drain whatever is already buffered without blocking.
			for n < len(p) && t.r.Buffered() > 0 {
				b, err := t.r.ReadByte()
				if err != nil {
					return n, err
				}
				if b == telnetIAC {
					if err := t.handleIAC(); err != nil {
						return n, err
					}
					continue
				}
				p[n] = b
				n++
			}
			return n, nil
		}
		if err := t.handleIAC(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (t *telnetStream) handleIAC() error {
	cmd, err := t.r.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case telnetIAC:
		// Escaped 0xff data byte, drop it rather than corrupt CLI text.
		return nil
	case telnetDo, telnetDont:
		opt, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		return t.writeRaw([]byte{telnetIAC, telnetWont, opt})
	case telnetWill, telnetWont:
		opt, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		return t.writeRaw([]byte{telnetIAC, telnetDont, opt})
	case telnetSB:
		// Skip subnegotiation up to IAC SE.
		for {
			b, err := t.r.ReadByte()
			if err != nil {
				return err
			}
			if b == telnetIAC {
				next, err := t.r.ReadByte()
				if err != nil {
					return err
				}
				if next == telnetSE {
					return nil
				}
			}
		}
	default:
		return nil
	}
}

func (t *telnetStream) Write(p []byte) (int, error) {
	// Escape data bytes that collide with IAC.
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == telnetIAC {
			out = append(out, telnetIAC)
		}
		out = append(out, b)
	}
	if err := t.writeRaw(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *telnetStream) writeRaw(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, err := t.conn.Write(p)
	return err
}

func (t *telnetStream) Close() error { return t.conn.Close() }
