package proxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// SOCKS5 protocol constants, RFC 1928 and RFC 1929.
const (
	socksVersion = 0x05

	authNone         = 0x00
	authUserPass     = 0x02
	authNoAcceptable = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSuccess          = 0x00
	repGeneralFailure   = 0x01
	repNotAllowed       = 0x02
	repHostUnreachable  = 0x04
	repCmdNotSupported  = 0x07
	repAtypNotSupported = 0x08
)

// Credentials guard a proxy listener. Empty credentials disable auth.
type Credentials struct {
	Username string
	// Verify checks a cleartext password against the stored secret.
	Verify func(password string) bool

	// chainSecret lets the HTTP frontend authenticate to the SOCKS
	// frontend without knowing the user's cleartext password.
	chainSecret string
}

func (c Credentials) required() bool { return c.Username != "" }

// SOCKSServer accepts SOCKS5 CONNECT requests and tunnels them to
// resolved device addresses.
type SOCKSServer struct {
	resolver *Resolver
	creds    Credentials
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

func NewSOCKSServer(resolver *Resolver, creds Credentials, logger *slog.Logger) *SOCKSServer {
	return &SOCKSServer{
		resolver: resolver,
		creds:    creds,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on l until Close.
func (s *SOCKSServer) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		s.track(conn, true)
		go func() {
			defer s.track(conn, false)
			defer conn.Close()
			if err := s.handle(conn); err != nil {
				s.logger.Debug("socks session ended", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

func (s *SOCKSServer) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close stops the listener and tears down open tunnels.
func (s *SOCKSServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	return err
}

func (s *SOCKSServer) handle(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if err := s.negotiate(conn); err != nil {
		return err
	}

	host, port, err := s.readRequest(conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	addr, err := s.resolver.Resolve(ctx, host, port)
	if err != nil {
		writeReply(conn, repNotAllowed)
		return err
	}

	target, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		writeReply(conn, repHostUnreachable)
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer target.Close()

	if err := writeReply(conn, repSuccess); err != nil {
		return err
	}

	// Tunnel established, drop the handshake deadline.
	conn.SetDeadline(time.Time{})
	s.logger.Debug("socks tunnel open", "destination", host, "port", port)
	pipe(conn, target)
	return nil
}

func (s *SOCKSServer) negotiate(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}
	if header[0] != socksVersion {
		return fmt.Errorf("unsupported socks version %d", header[0])
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}

	want := byte(authNone)
	if s.creds.required() {
		want = authUserPass
	}
	offered := false
	for _, m := range methods {
		if m == want {
			offered = true
			break
		}
	}
	if !offered {
		conn.Write([]byte{socksVersion, authNoAcceptable})
		return fmt.Errorf("client offered no acceptable auth method")
	}
	if _, err := conn.Write([]byte{socksVersion, want}); err != nil {
		return err
	}
	if want == authUserPass {
		return s.verifyUserPass(conn)
	}
	return nil
}

func (s *SOCKSServer) verifyUserPass(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}
	if header[0] != 0x01 {
		return fmt.Errorf("unsupported auth subnegotiation version %d", header[0])
	}
	user := make([]byte, header[1])
	if _, err := io.ReadFull(conn, user); err != nil {
		return err
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(conn, plen); err != nil {
		return err
	}
	pass := make([]byte, plen[0])
	if _, err := io.ReadFull(conn, pass); err != nil {
		return err
	}

	if string(user) != s.creds.Username || !s.creds.Verify(string(pass)) {
		conn.Write([]byte{0x01, 0x01})
		return fmt.Errorf("authentication failed for user %q", user)
	}
	_, err := conn.Write([]byte{0x01, 0x00})
	return err
}

func (s *SOCKSServer) readRequest(conn net.Conn) (string, int, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", 0, err
	}
	if header[0] != socksVersion {
		return "", 0, fmt.Errorf("unsupported socks version %d", header[0])
	}
	if header[1] != cmdConnect {
		writeReply(conn, repCmdNotSupported)
		return "", 0, fmt.Errorf("unsupported command %d", header[1])
	}

	var host string
	switch header[3] {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", 0, err
		}
		host = net.IP(buf).String()
	case atypDomain:
		dlen := make([]byte, 1)
		if _, err := io.ReadFull(conn, dlen); err != nil {
			return "", 0, err
		}
		buf := make([]byte, dlen[0])
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", 0, err
		}
		host = string(buf)
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", 0, err
		}
		host = net.IP(buf).String()
	default:
		writeReply(conn, repAtypNotSupported)
		return "", 0, fmt.Errorf("unsupported address type %d", header[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", 0, err
	}
	return host, int(binary.BigEndian.Uint16(portBuf)), nil
}

func writeReply(conn net.Conn, rep byte) error {
	// Bind address is not meaningful for CONNECT tunnels, zero it.
	_, err := conn.Write([]byte{socksVersion, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0})
	return err
}

// pipe copies both directions until either side closes.
func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
	a.Close()
	b.Close()
	<-done
}
