package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Options carries connection settings shared by all transports.
type Options struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KnownHostsPath    string
	InsecureHostKeys  bool
}

// SSHTransport connects to devices over SSH with password or
// keyboard-interactive authentication.
type SSHTransport struct {
	Options Options
}

func (t *SSHTransport) Scheme() string { return "ssh" }

func (t *SSHTransport) Connect(ctx context.Context, d *storage.Device) (Session, error) {
	client, err := DialSSHClient(ctx, d, t.Options)
	if err != nil {
		return nil, err
	}
	s := &sshSession{
		device: d,
		client: client,
		done:   make(chan struct{}),
	}
	if t.Options.KeepaliveInterval > 0 {
		go s.keepalive(t.Options.KeepaliveInterval)
	}
	return s, nil
}

// DialSSHClient opens an authenticated SSH client connection to the
// device. Callers that need raw channels (file transfer, subsystems)
// use this directly instead of going through a Session.
func DialSSHClient(ctx context.Context, d *storage.Device, opts Options) (*ssh.Client, error) {
	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User: d.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.Password),
			ssh.KeyboardInteractive(passwordChallenge(d.Password)),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}

	addr := deviceAddr(d, 22)

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureHostKeys {
		//nolint:gosec
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving known_hosts path: %w", err)
		}
		path = home + "/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// passwordChallenge answers every keyboard-interactive prompt with the
// device password. Many network devices advertise only this auth method.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

type sshSession struct {
	device *storage.Device
	client *ssh.Client

	mu    sync.Mutex
	shell *sshShell
	done  chan struct{}
}

func (s *sshSession) Device() *storage.Device { return s.device }

func (s *sshSession) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell != nil {
		return s.shell, nil
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := sess.RequestPty("vt100", 200, 500, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	s.shell = &sshShell{sess: sess, in: stdin, out: stdout}
	return s.shell, nil
}

func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh channel: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return string(r.out), fmt.Errorf("running command: %w", r.err)
		}
		return string(r.out), nil
	}
}

func (s *sshSession) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@drawbridge", true, nil); err != nil {
				return
			}
		}
	}
}

func (s *sshSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.shell != nil {
		s.shell.Close()
		s.shell = nil
	}
	return s.client.Close()
}

// sshShell bundles a shell channel into one read/write stream.
type sshShell struct {
	sess *ssh.Session
	in   io.WriteCloser
	out  io.Reader
}

func (sh *sshShell) Read(p []byte) (int, error)  { return sh.out.Read(p) }
func (sh *sshShell) Write(p []byte) (int, error) { return sh.in.Write(p) }

func (sh *sshShell) Close() error {
	sh.in.Close()
	return sh.sess.Close()
}
