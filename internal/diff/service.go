package diff

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/parse"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Service diffs stored snapshots against each other or against live
// device state.
type Service struct {
	parse *parse.Service
	store storage.Store
}

func NewService(parseSvc *parse.Service, store storage.Store) *Service {
	return &Service{parse: parseSvc, store: store}
}

// Request names what to compare. Two snapshot names diff two stored
// captures; one snapshot name plus a device diffs the capture against
// the device as it is now.
type Request struct {
	BeforeSnapshot string `json:"before_snapshot"`
	AfterSnapshot  string `json:"after_snapshot,omitempty"`

	DeviceName string `json:"device_name,omitempty"`
	Command    string `json:"command,omitempty"`
	OS         string `json:"os,omitempty"`
}

// Result reports the differences in every rendering clients consume.
type Result struct {
	Changed     bool     `json:"changed"`
	Changes     []Change `json:"changes"`
	Result      string   `json:"result"`
	ResultLines []string `json:"result_lines"`
}

func (s *Service) Diff(ctx context.Context, req Request) (*Result, error) {
	if req.BeforeSnapshot == "" {
		return nil, errs.Validationf("before_snapshot is required")
	}
	snapshotMode := req.AfterSnapshot != ""
	liveMode := req.DeviceName != ""
	if snapshotMode == liveMode {
		return nil, errs.Validationf("specify either after_snapshot or a device, not both")
	}

	before, err := s.loadSnapshot(ctx, req.BeforeSnapshot)
	if err != nil {
		return nil, err
	}

	var after map[string]any
	if snapshotMode {
		afterSnap, err := s.loadSnapshotDoc(ctx, req.AfterSnapshot)
		if err != nil {
			return nil, err
		}
		after = afterSnap
	} else {
		after, err = s.captureLive(ctx, req, before)
		if err != nil {
			return nil, err
		}
	}

	beforeDoc, err := decodeSnapshot(before.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %q: %w", before.Name, err)
	}

	changes := Structural(beforeDoc, after)
	rendered := RenderChanges(changes)
	return &Result{
		Changed:     len(changes) > 0,
		Changes:     changes,
		Result:      rendered,
		ResultLines: RenderLines(rendered),
	}, nil
}

func (s *Service) loadSnapshot(ctx context.Context, name string) (*storage.Snapshot, error) {
	snap, err := s.store.GetSnapshotByName(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("snapshot %q: %w", name, err))
	}
	return snap, nil
}

func (s *Service) loadSnapshotDoc(ctx context.Context, name string) (map[string]any, error) {
	snap, err := s.loadSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(snap.Data)
}

// captureLive re-runs the snapshot's command on the device. The request
// may override the command and OS, otherwise the snapshot's own are
// reused so the comparison stays apples to apples.
func (s *Service) captureLive(ctx context.Context, req Request, before *storage.Snapshot) (map[string]any, error) {
	command := req.Command
	if command == "" {
		command = before.Command
	}
	os := req.OS
	if os == "" {
		os = before.OS
	}

	res, err := s.parse.ParsedCommand(ctx, parse.Request{
		DeviceName: req.DeviceName,
		Commands:   []string{command},
		OS:         os,
		RemoveKeys: true,
	})
	if err != nil {
		return nil, err
	}
	return res.Flat, nil
}

func decodeSnapshot(data json.RawMessage) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
