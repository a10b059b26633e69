package terminal

import (
	"context"
	"fmt"
	"time"
)

// Step pairs an expected prompt fragment with the answer to send once
// it appears. An empty Answer waits without replying.
type Step struct {
	Expect string
	Answer string
}

// RunSequence sends a command and then walks the expect steps in order.
// The whole dialogue runs as one serialized exchange on the stream. The
// transcript of everything read is returned even on failure so callers
// can log what the device last said.
func (e *Engine) RunSequence(ctx context.Context, command string, steps []Step, stepTimeout time.Duration) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var transcript string

	if command != "" {
		if err := e.send(command + "\n"); err != nil {
			return transcript, fmt.Errorf("sending command: %w", err)
		}
	}

	for i, step := range steps {
		out, err := e.expect(ctx, step.Expect, stepTimeout)
		transcript += out
		if err != nil {
			return transcript, fmt.Errorf("step %d: waiting for %q: %w", i+1, step.Expect, err)
		}
		if step.Answer != "" {
			if err := e.send(step.Answer + "\n"); err != nil {
				return transcript, fmt.Errorf("step %d: sending answer: %w", i+1, err)
			}
		}
	}

	out, err := e.waitPrompt(ctx, stepTimeout)
	transcript += out
	if err != nil {
		return transcript, err
	}
	return transcript, nil
}
