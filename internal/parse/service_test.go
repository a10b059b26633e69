package parse

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/inventory"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

func newParseFixture(t *testing.T, responses map[string]map[string]string, devices ...*storage.Device) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	for _, d := range devices {
		d.Enabled = true
		if d.Transport == "" {
			d.Transport = "ssh"
		}
		if err := store.CreateDevice(ctx, d); err != nil {
			t.Fatalf("seeding device %s: %v", d.Name, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := transport.NewRegistry()
	registry.Register(&transport.MockTransport{Responses: responses})
	sessions := transport.NewManager(registry, time.Minute, logger)
	t.Cleanup(sessions.Stop)

	inv := inventory.NewService(store, "SVC123", "lab")
	execSvc := exec.NewService(store, inv, sessions, config.ExecConfig{
		Workers:        2,
		CommandTimeout: 2 * time.Second,
		ExecTimeout:    10 * time.Second,
	}, true, logger)

	return NewService(DefaultRegistry(), execSvc, store, logger), store
}

func TestParsedCommand(t *testing.T) {
	svc, _ := newParseFixture(t,
		map[string]map[string]string{
			"edge1": {"show clock": "*10:22:33.441 UTC Mon Jan 5 2026"},
		},
		&storage.Device{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Port: 22},
	)

	res, err := svc.ParsedCommand(context.Background(), Request{
		DeviceName: "edge1",
		Commands:   []string{"show clock"},
	})
	if err != nil {
		t.Fatalf("ParsedCommand returned error: %v", err)
	}
	doc, ok := res.Parsed["edge1"]["show clock"].(map[string]any)
	if !ok {
		t.Fatalf("missing parsed document, got %+v", res.Parsed)
	}
	if doc["time"] != "10:22:33.441" {
		t.Errorf("parsed time = %v", doc["time"])
	}
}

func TestParsedCommandRemoveKeys(t *testing.T) {
	svc, _ := newParseFixture(t,
		map[string]map[string]string{
			"edge1": {"show clock": "*10:22:33.441 UTC Mon Jan 5 2026"},
		},
		&storage.Device{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Port: 22},
	)

	res, err := svc.ParsedCommand(context.Background(), Request{
		DeviceName: "edge1",
		Commands:   []string{"show clock"},
		RemoveKeys: true,
	})
	if err != nil {
		t.Fatalf("ParsedCommand returned error: %v", err)
	}
	if res.Parsed != nil {
		t.Error("nested result should be dropped when keys are removed")
	}
	if res.Flat["time"] != "10:22:33.441" {
		t.Errorf("flat result = %v", res.Flat)
	}
}

func TestParsedCommandRemoveKeysValidation(t *testing.T) {
	svc, _ := newParseFixture(t, nil,
		&storage.Device{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Port: 22})

	_, err := svc.ParsedCommand(context.Background(), Request{
		DeviceName: "edge1",
		Commands:   []string{"show clock", "show version"},
		RemoveKeys: true,
	})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("error kind = %s, want validation", errs.KindOf(err))
	}
}

func TestParsedCommandSkipUnknownOS(t *testing.T) {
	responses := map[string]map[string]string{
		"edge1": {"show clock": "*10:22:33.441 UTC Mon Jan 5 2026"},
		"host1": {"show clock": "bash: show: command not found"},
	}
	svc, _ := newParseFixture(t, responses,
		&storage.Device{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Port: 22},
		&storage.Device{Name: "host1", Host: "10.0.0.2", DeviceType: "LINUX", Port: 22},
	)

	// Without the flag the unknown device type fails the request.
	_, err := svc.ParsedCommand(context.Background(), Request{
		FilterPattern: "*",
		FilterAttr:    "name",
		Commands:      []string{"show clock"},
	})
	if err == nil {
		t.Fatal("expected error for unparsable device type")
	}

	res, err := svc.ParsedCommand(context.Background(), Request{
		FilterPattern: "*",
		FilterAttr:    "name",
		Commands:      []string{"show clock"},
		SkipUnknownOS: true,
	})
	if err != nil {
		t.Fatalf("ParsedCommand returned error: %v", err)
	}
	if _, ok := res.Parsed["host1"]; ok {
		t.Error("host without parser os must be skipped")
	}
	if _, ok := res.Parsed["edge1"]; !ok {
		t.Error("parsable device missing from result")
	}
}

func TestParsedCommandSnapshot(t *testing.T) {
	svc, store := newParseFixture(t,
		map[string]map[string]string{
			"edge1": {"show version": xeShowVersionOutput},
		},
		&storage.Device{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Port: 22},
	)

	_, err := svc.ParsedCommand(context.Background(), Request{
		DeviceName:   "edge1",
		Commands:     []string{"show version"},
		SnapshotName: "pre-upgrade",
	})
	if err != nil {
		t.Fatalf("ParsedCommand returned error: %v", err)
	}

	snap, err := store.GetSnapshotByName(context.Background(), "pre-upgrade")
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if snap.DeviceName != "edge1" || snap.Command != "show version" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Data) == 0 {
		t.Error("snapshot data empty")
	}
}
