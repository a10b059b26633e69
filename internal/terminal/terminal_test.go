package terminal

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptShell is an in-memory shell fed by the test.
type scriptShell struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu    sync.Mutex
	wrote strings.Builder
}

func newScriptShell() (*scriptShell, *io.PipeWriter) {
	r, deviceW := io.Pipe()
	sh := &scriptShell{r: r}
	return sh, deviceW
}

func (s *scriptShell) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *scriptShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrote.Write(p)
	return len(p), nil
}

func (s *scriptShell) written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote.String()
}

func TestRunCapturesUntilPrompt(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go func() {
		io.WriteString(device, "show clock\r\n10:00:00.000 UTC Mon Jan 5 2026\r\nrouter#")
	}()

	out, err := e.Run(context.Background(), "show clock", 2*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out, "10:00:00.000 UTC") {
		t.Errorf("output missing payload: %q", out)
	}
	if sh.written() != "show clock\n" {
		t.Errorf("sent = %q, want command plus newline", sh.written())
	}
}

func TestRunFeedsPager(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go func() {
		io.WriteString(device, "show run\r\nline one\r\n --More-- ")
		// Wait for the pager answer before sending the rest.
		for !strings.HasSuffix(sh.written(), " ") {
			time.Sleep(5 * time.Millisecond)
		}
		io.WriteString(device, "\r\nline two\r\nrouter#")
	}()

	out, err := e.Run(context.Background(), "show run", 2*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Contains(out, "More") {
		t.Errorf("pager marker left in output: %q", out)
	}
	if !strings.Contains(out, "line one") || !strings.Contains(out, "line two") {
		t.Errorf("output missing paged content: %q", out)
	}
}

func TestRunPromptTimeout(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go io.WriteString(device, "no prompt here\r\n")

	_, err := e.Run(context.Background(), "show clock", 50*time.Millisecond)
	if !errors.Is(err, ErrPromptTimeout) {
		t.Fatalf("error = %v, want ErrPromptTimeout", err)
	}
}

func TestSyncDrainsBannerOnce(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go io.WriteString(device, "Welcome to router\r\nrouter#")

	out, err := e.Sync(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if !strings.Contains(out, "Welcome to router") {
		t.Errorf("banner = %q", out)
	}

	// A reused shell has nothing pending; the second call must return
	// right away instead of waiting out the timeout.
	start := time.Now()
	out, err = e.Sync(context.Background(), 2*time.Second)
	if err != nil || out != "" {
		t.Fatalf("second Sync = %q, %v", out, err)
	}
	if time.Since(start) > time.Second {
		t.Error("second Sync blocked on an idle shell")
	}
}

func TestRunSequenceAnswersPrompts(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go func() {
		io.WriteString(device, "reload\r\nSave? [yes/no]: ")
		for !strings.Contains(sh.written(), "no\n") {
			time.Sleep(5 * time.Millisecond)
		}
		io.WriteString(device, "\r\nProceed with reload? [confirm]")
		for !strings.Contains(sh.written(), "y\n") {
			time.Sleep(5 * time.Millisecond)
		}
		io.WriteString(device, "\r\nrouter#")
	}()

	steps := []Step{
		{Expect: "Save? [yes/no]:", Answer: "no"},
		{Expect: "[confirm]", Answer: "y"},
	}
	transcript, err := e.RunSequence(context.Background(), "reload", steps, time.Second)
	if err != nil {
		t.Fatalf("RunSequence returned error: %v", err)
	}
	if !strings.Contains(transcript, "Proceed with reload?") {
		t.Errorf("transcript missing dialogue: %q", transcript)
	}
}

func TestRunSequenceStepTimeout(t *testing.T) {
	sh, device := newScriptShell()
	e := NewEngine(sh)

	go io.WriteString(device, "reload\r\nsomething else entirely\r\n")

	steps := []Step{{Expect: "Save? [yes/no]:", Answer: "no"}}
	_, err := e.RunSequence(context.Background(), "reload", steps, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected step timeout error")
	}
	if !strings.Contains(err.Error(), "step 1") {
		t.Errorf("error = %v, want step number in message", err)
	}
}

func TestStripPrompts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "echo and prompt removed",
			input: "show clock\r\n10:00:00.000 UTC Mon Jan 5 2026\r\nrouter#",
			want:  "10:00:00.000 UTC Mon Jan 5 2026",
		},
		{
			name:  "two lines kept as is",
			input: "show clock\nrouter#",
			want:  "show clock\nrouter#",
		},
		{
			name:  "single line kept",
			input: "router#",
			want:  "router#",
		},
		{
			name:  "multiline payload",
			input: "show ver\nline a\nline b\nrouter#",
			want:  "line a\nline b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripPrompts(tt.input); got != tt.want {
				t.Errorf("StripPrompts() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("a\r\nb\r\nrouter# "); got != "router#" {
		t.Errorf("lastLine = %q, want router#", got)
	}
	if got := lastLine("router>"); got != "router>" {
		t.Errorf("lastLine = %q, want router>", got)
	}
}
