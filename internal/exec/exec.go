// Package exec runs CLI commands on devices through cached transport
// sessions, fanning multi-device requests out over a worker pool.
package exec

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/inventory"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/terminal"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

// Exec statuses reported per command.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// cliErrorRE matches CLI rejections that devices print instead of
// failing the transport.
var cliErrorRE = regexp.MustCompile(`(?m)^%\s?(Invalid input detected|Incomplete command|Ambiguous command|Unknown command|Bad secrets?)`)

// Request selects devices and names the commands to run on them.
// Either DeviceName or the Filter pair must be set, never both.
type Request struct {
	DeviceName    string   `json:"device_name,omitempty"`
	FilterPattern string   `json:"filter_pattern,omitempty"`
	FilterAttr    string   `json:"filter_attr,omitempty"`
	Commands      []string `json:"commands"`

	// RemovePrompts overrides the configured default when set.
	RemovePrompts *bool `json:"remove_prompts,omitempty"`

	// Populated by the API layer, which decodes second counts off the
	// wire. Zero falls back to the configured defaults.
	CommandTimeout time.Duration `json:"-"`
	ExecTimeout    time.Duration `json:"-"`
}

// CommandResult is the outcome of one command on one device.
type CommandResult struct {
	DeviceName string `json:"device_name"`
	Command    string `json:"command"`
	ExecStatus string `json:"exec_status"`
	Message    string `json:"exec_status_message,omitempty"`
	Output     string `json:"stdout"`
}

// Service executes commands against inventory devices.
type Service struct {
	store     storage.Store
	inv       *inventory.Service
	sessions  *transport.Manager
	logger    *slog.Logger
	cfg       config.ExecConfig
	rmDefault bool
}

func NewService(store storage.Store, inv *inventory.Service, sessions *transport.Manager, cfg config.ExecConfig, rmPromptsDefault bool, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		inv:       inv,
		sessions:  sessions,
		logger:    logger,
		cfg:       cfg,
		rmDefault: rmPromptsDefault,
	}
}

// Run executes every command on every selected device. Per-device
// failures are reported inside the results; the returned error is
// non-nil only when the request is invalid or no device succeeded.
func (s *Service) Run(ctx context.Context, req Request) ([]CommandResult, error) {
	if len(req.Commands) == 0 {
		return nil, errs.Validationf("at least one command is required")
	}
	for _, c := range req.Commands {
		if strings.TrimSpace(c) == "" {
			return nil, errs.Validationf("commands must not be empty")
		}
	}

	devices, err := s.inv.Select(ctx, req.DeviceName, req.FilterPattern, req.FilterAttr)
	if err != nil {
		if strings.Contains(err.Error(), "no device matched") {
			return nil, errs.Wrap(errs.KindNotFound, err)
		}
		return nil, errs.Wrap(errs.KindValidation, err)
	}

	execTimeout := req.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = s.cfg.ExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	requestID := uuid.NewString()
	results := s.fanOut(ctx, devices, func(ctx context.Context, d *storage.Device) []CommandResult {
		return s.runOnDevice(ctx, requestID, d, req)
	})

	if allFailed(results) {
		return results, errs.Connectionf("command execution failed on all %d devices", len(devices))
	}
	return results, nil
}

// fanOut runs fn for every device on a bounded worker pool and returns
// the merged results in device order.
func (s *Service) fanOut(ctx context.Context, devices []*storage.Device, fn func(context.Context, *storage.Device) []CommandResult) []CommandResult {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(devices) {
		workers = len(devices)
	}

	jobs := make(chan int)
	perDevice := make([][]CommandResult, len(devices))
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				perDevice[i] = fn(ctx, devices[i])
				done <- struct{}{}
			}
		}()
	}
	go func() {
		for i := range devices {
			jobs <- i
		}
		close(jobs)
	}()
	for range devices {
		<-done
	}

	var out []CommandResult
	for _, rs := range perDevice {
		out = append(out, rs...)
	}
	return out
}

func (s *Service) runOnDevice(ctx context.Context, requestID string, d *storage.Device, req Request) []CommandResult {
	_, _, err := s.sessions.Acquire(ctx, d)
	if err != nil {
		s.logger.Warn("device connection failed", "device", d.Name, "error", err)
		out := make([]CommandResult, 0, len(req.Commands))
		for _, cmd := range req.Commands {
			r := CommandResult{
				DeviceName: d.Name,
				Command:    cmd,
				ExecStatus: StatusFailure,
				Message:    err.Error(),
			}
			s.record(ctx, requestID, r, 0)
			out = append(out, r)
		}
		return out
	}
	defer s.sessions.Release(d.Name)

	cmdTimeout := req.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = s.cfg.CommandTimeout
	}

	// One engine per cached session; a second reader on the same
	// shell stream would steal the first one's output.
	engine, err := s.sessions.Engine(ctx, d.Name)
	if err != nil {
		s.sessions.Evict(d.Name)
		out := make([]CommandResult, 0, len(req.Commands))
		for _, cmd := range req.Commands {
			r := CommandResult{
				DeviceName: d.Name,
				Command:    cmd,
				ExecStatus: StatusFailure,
				Message:    err.Error(),
			}
			s.record(ctx, requestID, r, 0)
			out = append(out, r)
		}
		return out
	}

	if _, err := engine.Sync(ctx, cmdTimeout); err != nil {
		s.logger.Warn("device prompt not found", "device", d.Name, "error", err)
	}

	removePrompts := s.rmDefault
	if req.RemovePrompts != nil {
		removePrompts = *req.RemovePrompts
	}

	out := make([]CommandResult, 0, len(req.Commands))
	for _, cmd := range req.Commands {
		started := time.Now()
		r := s.runCommand(ctx, engine, d, cmd, cmdTimeout, removePrompts)
		s.record(ctx, requestID, r, time.Since(started).Milliseconds())
		out = append(out, r)
		if r.ExecStatus == StatusFailure && strings.Contains(r.Message, "timed out") {
			// The shell is in an unknown state, drop the session.
			s.sessions.Evict(d.Name)
			break
		}
	}
	return out
}

func (s *Service) runCommand(ctx context.Context, engine *terminal.Engine, d *storage.Device, cmd string, timeout time.Duration, removePrompts bool) CommandResult {
	r := CommandResult{DeviceName: d.Name, Command: cmd}

	raw, err := engine.Run(ctx, cmd, timeout)
	output := terminal.Normalize(raw)
	if removePrompts {
		output = terminal.StripPrompts(output)
	}
	r.Output = output

	switch {
	case err != nil:
		r.ExecStatus = StatusFailure
		r.Message = err.Error()
	case cliErrorRE.MatchString(output):
		r.ExecStatus = StatusFailure
		r.Message = "command rejected by device CLI"
	default:
		r.ExecStatus = StatusSuccess
	}
	return r
}

func (s *Service) record(ctx context.Context, requestID string, r CommandResult, durationMs int64) {
	rec := &storage.CommandRecord{
		RequestID:  requestID,
		DeviceName: r.DeviceName,
		Command:    r.Command,
		ExecStatus: r.ExecStatus,
		Message:    r.Message,
		DurationMs: durationMs,
	}
	if err := s.store.InsertCommandRecord(ctx, rec); err != nil {
		s.logger.Error("recording command", "device", r.DeviceName, "error", err)
	}
}

func allFailed(results []CommandResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.ExecStatus != StatusFailure {
			return false
		}
	}
	return true
}

// Collapse reduces a single-device, single-command result set to its
// only element. Multi-result sets are returned unchanged.
func Collapse(results []CommandResult) (any, bool) {
	if len(results) == 1 {
		return results[0], true
	}
	return results, false
}
