package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// MockTransport is a scripted in-memory transport used by tests. Its
// sessions emulate a device CLI: the shell echoes each command line,
// prints the scripted response and then the prompt again.
type MockTransport struct {
	// SchemeName lets tests register the mock under a real scheme,
	// defaults to "ssh".
	SchemeName string
	// Prompt printed by emulated shells, defaults to "router#".
	Prompt string
	// Responses maps device name to command to output.
	Responses map[string]map[string]string
	// ConnectErr fails Connect for the named devices.
	ConnectErr map[string]error

	mu       sync.Mutex
	connects int
}

func (t *MockTransport) Scheme() string {
	if t.SchemeName == "" {
		return "ssh"
	}
	return t.SchemeName
}

func (t *MockTransport) ConnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *MockTransport) Connect(ctx context.Context, d *storage.Device) (Session, error) {
	if err, ok := t.ConnectErr[d.Name]; ok {
		return nil, err
	}
	t.mu.Lock()
	t.connects++
	t.mu.Unlock()

	prompt := t.Prompt
	if prompt == "" {
		prompt = "router#"
	}
	return &mockSession{
		device:    d,
		prompt:    prompt,
		responses: t.Responses[d.Name],
	}, nil
}

type mockSession struct {
	device    *storage.Device
	prompt    string
	responses map[string]string

	mu    sync.Mutex
	shell *mockShell
}

func (s *mockSession) Device() *storage.Device { return s.device }

func (s *mockSession) Run(ctx context.Context, command string) (string, error) {
	out, ok := s.responses[command]
	if !ok {
		return "", ErrUnsupported
	}
	return out, nil
}

func (s *mockSession) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell != nil {
		return s.shell, nil
	}

	clientReader, deviceWriter := io.Pipe()
	deviceReader, clientWriter := io.Pipe()
	sh := &mockShell{r: clientReader, w: clientWriter}
	s.shell = sh

	go s.emulate(deviceReader, deviceWriter)
	return sh, nil
}

// emulate is the device side of the shell: echo, respond, prompt.
func (s *mockSession) emulate(in *io.PipeReader, out *io.PipeWriter) {
	defer out.Close()
	io.WriteString(out, s.prompt)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		io.WriteString(out, line+"\r\n")
		if resp, ok := s.responses[line]; ok {
			io.WriteString(out, resp)
			if !strings.HasSuffix(resp, "\n") {
				io.WriteString(out, "\r\n")
			}
		}
		io.WriteString(out, s.prompt)
	}
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell != nil {
		s.shell.Close()
		s.shell = nil
	}
	return nil
}

type mockShell struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (sh *mockShell) Read(p []byte) (int, error)  { return sh.r.Read(p) }
func (sh *mockShell) Write(p []byte) (int, error) { return sh.w.Write(p) }

func (sh *mockShell) Close() error {
	sh.w.Close()
	return sh.r.Close()
}
