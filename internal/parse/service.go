package parse

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Service runs commands and feeds their output through the parser
// registry.
type Service struct {
	registry *Registry
	exec     *exec.Service
	store    storage.Store
	logger   *slog.Logger
}

func NewService(registry *Registry, execSvc *exec.Service, store storage.Store, logger *slog.Logger) *Service {
	return &Service{registry: registry, exec: execSvc, store: store, logger: logger}
}

// Request selects devices and commands to run and parse.
type Request struct {
	DeviceName    string   `json:"device_name,omitempty"`
	FilterPattern string   `json:"filter_pattern,omitempty"`
	FilterAttr    string   `json:"filter_attr,omitempty"`
	Commands      []string `json:"commands"`

	// OS overrides the OS derived from the device type. The special
	// value "fingerprint" detects the OS from each device's output.
	OS string `json:"os,omitempty"`
	// SkipUnknownOS drops devices without a parser instead of failing.
	SkipUnknownOS bool `json:"skip_unknown_os,omitempty"`
	// RemoveKeys strips the device and command nesting. Only valid for
	// a single-device, single-command request.
	RemoveKeys bool `json:"remove_cmd_and_device_keys,omitempty"`
	// SnapshotName stores the parsed document for later diffing.
	SnapshotName string `json:"snapshot_name,omitempty"`
}

// Result carries the parsed documents keyed by device then command.
// Flat is set instead when key removal was requested.
type Result struct {
	Parsed map[string]map[string]any `json:"genie_parsed_result,omitempty"`
	Flat   map[string]any            `json:"genie_parsed_result_flat,omitempty"`
}

func (s *Service) ParsedCommand(ctx context.Context, req Request) (*Result, error) {
	if req.RemoveKeys && len(req.Commands) != 1 {
		return nil, errs.Validationf("key removal requires exactly one command")
	}
	if req.RemoveKeys && req.DeviceName == "" {
		return nil, errs.Validationf("key removal requires a single named device")
	}
	if req.SnapshotName != "" && (req.DeviceName == "" || len(req.Commands) != 1) {
		return nil, errs.Validationf("snapshots require a single named device and one command")
	}

	results, err := s.exec.Run(ctx, exec.Request{
		DeviceName:    req.DeviceName,
		FilterPattern: req.FilterPattern,
		FilterAttr:    req.FilterAttr,
		Commands:      req.Commands,
	})
	if err != nil {
		return nil, err
	}

	parsed := make(map[string]map[string]any)
	var parseErr error
	for _, r := range results {
		if r.ExecStatus != exec.StatusSuccess {
			parseErr = errs.Operationf("device %s: %s", r.DeviceName, r.Message)
			continue
		}
		var os string
		if req.OS == "fingerprint" {
			if os = Fingerprint(r.Output); os == "" {
				if req.SkipUnknownOS {
					s.logger.Debug("skipping device with unrecognized output", "device", r.DeviceName)
					continue
				}
				return nil, errs.Operationf("could not fingerprint os for device %s", r.DeviceName)
			}
		} else {
			var err error
			os, err = s.osFor(ctx, r.DeviceName, req.OS)
			if err != nil {
				if req.SkipUnknownOS {
					s.logger.Debug("skipping device without parser os", "device", r.DeviceName)
					continue
				}
				return nil, err
			}
		}
		p, err := s.registry.Get(os, r.Command)
		if err != nil {
			if req.SkipUnknownOS {
				s.logger.Debug("skipping unparsable command", "device", r.DeviceName, "command", r.Command)
				continue
			}
			return nil, errs.Wrap(errs.KindValidation, err)
		}
		doc, err := p.Parse(r.Output)
		if err != nil {
			parseErr = errs.Operationf("parsing %q on %s: %s", r.Command, r.DeviceName, err)
			continue
		}
		if parsed[r.DeviceName] == nil {
			parsed[r.DeviceName] = make(map[string]any)
		}
		parsed[r.DeviceName][normalizeCommand(r.Command)] = doc
	}

	if len(parsed) == 0 {
		if parseErr != nil {
			return nil, parseErr
		}
		return nil, errs.Operationf("no device produced parsable output")
	}

	out := &Result{Parsed: parsed}
	if req.RemoveKeys {
		cmds := parsed[req.DeviceName]
		for _, doc := range cmds {
			out.Flat = doc.(map[string]any)
		}
		out.Parsed = nil
	}

	if req.SnapshotName != "" {
		if err := s.saveSnapshot(ctx, req, parsed); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Service) osFor(ctx context.Context, deviceName, override string) (string, error) {
	if override != "" {
		return normalizeCommand(override), nil
	}
	d, err := s.store.GetDeviceByName(ctx, deviceName)
	if err != nil {
		return "", errs.Wrap(errs.KindNotFound, err)
	}
	os := OSForDeviceType(d.DeviceType)
	if os == "" {
		return "", errs.Validationf("device type %q has no parser os", d.DeviceType)
	}
	return os, nil
}

func (s *Service) saveSnapshot(ctx context.Context, req Request, parsed map[string]map[string]any) error {
	doc, ok := parsed[req.DeviceName][normalizeCommand(req.Commands[0])]
	if !ok {
		return errs.Operationf("nothing parsed to snapshot")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	override := req.OS
	if override == "fingerprint" {
		override = ""
	}
	os, _ := s.osFor(ctx, req.DeviceName, override)
	snap := &storage.Snapshot{
		Name:       req.SnapshotName,
		DeviceName: req.DeviceName,
		Command:    normalizeCommand(req.Commands[0]),
		OS:         os,
		Data:       data,
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	return nil
}
