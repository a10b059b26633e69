package exec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/terminal"
)

// WaitRequest drives disruptive commands such as reloads: run the
// command, answer its interactive prompts, then poll until the device
// comes back.
type WaitRequest struct {
	DeviceName    string   `json:"device_name,omitempty"`
	FilterPattern string   `json:"filter_pattern,omitempty"`
	FilterAttr    string   `json:"filter_attr,omitempty"`
	Commands      []string `json:"commands"`

	Prompts []string `json:"prompts,omitempty"`
	Answers []string `json:"answers,omitempty"`

	// Retries re-runs a command whose prompt dialogue failed. Only
	// meaningful when prompts are present.
	Retries int `json:"retries,omitempty"`

	// SecondsToWait bounds the recovery poll after the commands ran.
	SecondsToWait time.Duration `json:"-"`
	// DelayBeforeCheck holds off the first recovery probe, giving the
	// device time to actually go down.
	DelayBeforeCheck time.Duration `json:"-"`
	// RecoveryTestCommand is sent on each probe, default a bare return.
	RecoveryTestCommand string `json:"recovery_test_command,omitempty"`

	ContinueOnDeviceFailure bool `json:"continue_on_device_failure,omitempty"`

	CommandTimeout time.Duration `json:"-"`
}

// DeviceWaitResult is the per-device outcome of an exec-and-wait run.
type DeviceWaitResult struct {
	DeviceName       string        `json:"device_name"`
	ExecStatus       string        `json:"exec_status"`
	Message          string        `json:"exec_status_message,omitempty"`
	Transcript       string        `json:"transcript"`
	Recovered        bool          `json:"recovered"`
	RecoveryDuration time.Duration `json:"recovery_duration,omitempty"`
	Attempts         int           `json:"attempts"`
}

// WaitSummary aggregates an exec-and-wait run.
type WaitSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// WaitResult is the full outcome: one entry per device plus a summary.
type WaitResult struct {
	Results []DeviceWaitResult `json:"results"`
	Summary WaitSummary        `json:"summary"`
}

func (s *Service) validateWait(req *WaitRequest) error {
	if len(req.Commands) == 0 {
		return errs.Validationf("at least one command is required")
	}
	if len(req.Prompts) != len(req.Answers) {
		return errs.Validationf("prompts and answers must have the same length, got %d and %d",
			len(req.Prompts), len(req.Answers))
	}
	if req.Retries > 0 && len(req.Prompts) == 0 {
		return errs.Validationf("retries require prompts to be set")
	}
	if req.RecoveryTestCommand == "" {
		req.RecoveryTestCommand = "\r"
	}
	if req.SecondsToWait <= 0 {
		req.SecondsToWait = s.cfg.WaitTimeout
	}
	if req.CommandTimeout <= 0 {
		req.CommandTimeout = s.cfg.CommandTimeout
	}
	return nil
}

// ExecAndWait runs the request serially across the selected devices so
// that one bricked device halts the rollout unless the request says to
// continue.
func (s *Service) ExecAndWait(ctx context.Context, req WaitRequest) (*WaitResult, error) {
	if err := s.validateWait(&req); err != nil {
		return nil, err
	}

	devices, err := s.inv.Select(ctx, req.DeviceName, req.FilterPattern, req.FilterAttr)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err)
	}

	requestID := uuid.NewString()
	result := &WaitResult{Summary: WaitSummary{Total: len(devices)}}

	for _, d := range devices {
		r := s.execAndWaitDevice(ctx, requestID, d, req)
		result.Results = append(result.Results, r)
		if r.ExecStatus == StatusSuccess {
			result.Summary.Succeeded++
			continue
		}
		result.Summary.Failed++
		if !req.ContinueOnDeviceFailure {
			s.logger.Warn("stopping rollout after device failure", "device", d.Name)
			break
		}
	}

	if result.Summary.Succeeded == 0 && result.Summary.Failed > 0 {
		return result, errs.Connectionf("exec and wait failed on all attempted devices")
	}
	return result, nil
}

func (s *Service) execAndWaitDevice(ctx context.Context, requestID string, d *storage.Device, req WaitRequest) DeviceWaitResult {
	r := DeviceWaitResult{DeviceName: d.Name, ExecStatus: StatusFailure}
	started := time.Now()
	defer func() {
		s.record(ctx, requestID, CommandResult{
			DeviceName: d.Name,
			Command:    strings.Join(req.Commands, "; "),
			ExecStatus: r.ExecStatus,
			Message:    r.Message,
		}, time.Since(started).Milliseconds())
	}()

	_, _, err := s.sessions.Acquire(ctx, d)
	if err != nil {
		r.Message = err.Error()
		return r
	}

	engine, err := s.sessions.Engine(ctx, d.Name)
	if err != nil {
		r.Message = err.Error()
		s.sessions.Release(d.Name)
		s.sessions.Evict(d.Name)
		return r
	}

	if _, err := engine.Sync(ctx, req.CommandTimeout); err != nil {
		s.logger.Warn("device prompt not found", "device", d.Name, "error", err)
	}

	steps := make([]terminal.Step, len(req.Prompts))
	for i := range req.Prompts {
		steps[i] = terminal.Step{Expect: req.Prompts[i], Answer: req.Answers[i]}
	}

	ok := true
	for _, cmd := range req.Commands {
		transcript, err := s.runWithRetries(ctx, engine, cmd, steps, req)
		r.Transcript += transcript
		if err != nil {
			r.Message = fmt.Sprintf("command %q: %s", cmd, err)
			ok = false
			break
		}
	}

	// The commands may have taken the device down, so the cached
	// session is useless either way.
	s.sessions.Release(d.Name)
	s.sessions.Evict(d.Name)

	if !ok {
		return r
	}

	recoveryStart := time.Now()
	if err := s.waitForRecovery(ctx, d, &req, &r); err != nil {
		r.Message = err.Error()
		return r
	}
	r.Recovered = true
	r.RecoveryDuration = time.Since(recoveryStart)
	r.ExecStatus = StatusSuccess
	return r
}

func (s *Service) runWithRetries(ctx context.Context, engine *terminal.Engine, cmd string, steps []terminal.Step, req WaitRequest) (string, error) {
	attempts := req.Retries + 1
	var transcript string
	var lastErr error
	for i := 0; i < attempts; i++ {
		out, err := engine.RunSequence(ctx, cmd, steps, req.CommandTimeout)
		transcript += out
		if err == nil {
			return transcript, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.logger.Warn("prompt dialogue failed, retrying", "command", cmd, "attempt", i+1, "error", err)
	}
	return transcript, lastErr
}

// waitForRecovery polls the device until it answers with a prompt again
// or the wait window closes.
func (s *Service) waitForRecovery(ctx context.Context, d *storage.Device, req *WaitRequest, r *DeviceWaitResult) error {
	if req.DelayBeforeCheck > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(req.DelayBeforeCheck):
		}
	}

	deadline := time.Now().Add(req.SecondsToWait)
	interval := 5 * time.Second
	if req.SecondsToWait < interval {
		interval = req.SecondsToWait
	}

	for {
		r.Attempts++
		if ok := s.probe(ctx, d, req.RecoveryTestCommand, req.CommandTimeout); ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.Connectionf("device %s did not recover within %s", d.Name, req.SecondsToWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Service) probe(ctx context.Context, d *storage.Device, testCommand string, timeout time.Duration) bool {
	_, _, err := s.sessions.Acquire(ctx, d)
	if err != nil {
		return false
	}
	defer func() {
		s.sessions.Release(d.Name)
		s.sessions.Evict(d.Name)
	}()

	engine, err := s.sessions.Engine(ctx, d.Name)
	if err != nil {
		return false
	}
	if err := engine.Send(testCommand); err != nil {
		return false
	}
	_, err = engine.WaitPrompt(ctx, timeout)
	return err == nil
}
