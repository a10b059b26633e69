// Package terminal drives interactive CLI shells: it detects prompts,
// feeds pagers, and cleans captured output.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrPromptTimeout is returned when the device prompt never shows up.
var ErrPromptTimeout = errors.New("timed out waiting for device prompt")

// promptRE matches the trailing prompt of common network operating
// systems on the last line of output.
var promptRE = regexp.MustCompile(`(?m)^[\w.@()\[\]/:~-]*[#>$%]\s?$`)

// pagerRE matches mid-output pager stops.
var pagerRE = regexp.MustCompile(`--\s?[Mm]ore\s?--|---\(more(?: \d+%)?\)---`)

// Engine drives one shell stream. A stream has a single reader, so an
// Engine is created once per shell and lives as long as the shell does;
// callers are serialized and pass their own timeout per wait.
type Engine struct {
	shell io.ReadWriter

	mu      sync.Mutex
	readCh  chan readResult
	started bool
	synced  bool
}

type readResult struct {
	data []byte
	err  error
}

// NewEngine wraps a shell stream.
func NewEngine(shell io.ReadWriter) *Engine {
	return &Engine{
		shell:  shell,
		readCh: make(chan readResult, 1),
	}
}

func (e *Engine) startReader() {
	if e.started {
		return
	}
	e.started = true
	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := e.shell.Read(buf)
			e.readCh <- readResult{data: buf[:n], err: err}
			if err != nil {
				return
			}
		}
	}()
}

// Sync drains the login banner up to the first prompt. Only the first
// call reads anything; a reused shell has no pending banner, so later
// calls return immediately instead of stalling until the timeout.
func (e *Engine) Sync(ctx context.Context, timeout time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synced {
		return "", nil
	}
	e.synced = true
	return e.waitPrompt(ctx, timeout)
}

// WaitPrompt reads until a prompt appears and returns everything read,
// prompt line included.
func (e *Engine) WaitPrompt(ctx context.Context, timeout time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waitPrompt(ctx, timeout)
}

func (e *Engine) waitPrompt(ctx context.Context, timeout time.Duration) (string, error) {
	return e.readUntil(ctx, timeout, func(s string) bool {
		return promptRE.MatchString(lastLine(s))
	})
}

// Run sends one command and captures output up to the next prompt.
// Pager stops are answered with a space and removed from the capture.
func (e *Engine) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send(command + "\n"); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}
	return e.waitPrompt(ctx, timeout)
}

// Expect reads until the wanted text appears anywhere in the stream.
func (e *Engine) Expect(ctx context.Context, want string, timeout time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expect(ctx, want, timeout)
}

func (e *Engine) expect(ctx context.Context, want string, timeout time.Duration) (string, error) {
	return e.readUntil(ctx, timeout, func(s string) bool {
		return strings.Contains(s, want)
	})
}

// Send writes raw input without waiting for anything.
func (e *Engine) Send(input string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send(input)
}

func (e *Engine) send(input string) error {
	_, err := io.WriteString(e.shell, input)
	return err
}

func (e *Engine) readUntil(ctx context.Context, timeout time.Duration, done func(string) bool) (string, error) {
	e.startReader()

	var out strings.Builder

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if m := pagerRE.FindStringIndex(out.String()); m != nil {
			// Feed the pager and drop its marker from the capture.
			if err := e.send(" "); err != nil {
				return out.String(), fmt.Errorf("answering pager: %w", err)
			}
			cleaned := out.String()[:m[0]] + out.String()[m[1]:]
			out.Reset()
			out.WriteString(cleaned)
		}
		if done(out.String()) {
			return out.String(), nil
		}

		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		case <-timer.C:
			return out.String(), ErrPromptTimeout
		case r := <-e.readCh:
			out.Write(r.data)
			if r.err != nil {
				if done(out.String()) {
					return out.String(), nil
				}
				return out.String(), fmt.Errorf("reading from shell: %w", r.err)
			}
		}
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, " ")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// StripPrompts removes the echoed command line and the trailing prompt
// from captured output. Captures of two lines or fewer are returned
// unchanged since there is no payload to isolate.
func StripPrompts(output string) string {
	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(strings.TrimRight(normalized, "\n"), "\n")
	if len(lines) <= 2 {
		return strings.TrimRight(normalized, "\n")
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// Normalize collapses carriage returns so callers compare plain text.
func Normalize(output string) string {
	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\r", "\n")
}
