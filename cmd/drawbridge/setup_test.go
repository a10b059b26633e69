package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

const devicesYAML = `
devices:
  - name: edge-sjc-01
    host: 192.0.2.10
    device_type: IOS_XE
    username: admin
    password: secret
    snmp: true
    snmp_community: lab
    forwarded_tcp_ports: [443, 830]
    attributes:
      site: sjc
  - name: lab-old-01
    host: 192.0.2.20
    device_type: IOS
    transport: telnet
    enabled: false
`

func writeDevicesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSeedDevices(t *testing.T) {
	store := storage.NewMemoryStore()
	path := writeDevicesFile(t, devicesYAML)

	n, err := seedDevices(context.Background(), store, path)
	if err != nil {
		t.Fatalf("seedDevices returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}

	d, err := store.GetDeviceByName(context.Background(), "edge-sjc-01")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Enabled || d.Transport != "ssh" || !d.SNMP || d.SNMPCommunity != "lab" {
		t.Errorf("device = %+v", d)
	}
	if len(d.ForwardedTCPPorts) != 2 || d.ForwardedTCPPorts[0] != 443 {
		t.Errorf("forwarded ports = %v", d.ForwardedTCPPorts)
	}
	if !strings.Contains(string(d.Attributes), `"site":"sjc"`) {
		t.Errorf("attributes = %s", d.Attributes)
	}

	old, err := store.GetDeviceByName(context.Background(), "lab-old-01")
	if err != nil {
		t.Fatal(err)
	}
	if old.Enabled || old.Transport != "telnet" {
		t.Errorf("device = %+v", old)
	}
}

func TestSeedDevicesReplacesExisting(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.CreateDevice(context.Background(), &storage.Device{
		Name: "edge-sjc-01", Host: "10.0.0.1", DeviceType: "IOS", Transport: "ssh", Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	path := writeDevicesFile(t, devicesYAML)
	if _, err := seedDevices(context.Background(), store, path); err != nil {
		t.Fatalf("seedDevices returned error: %v", err)
	}

	d, err := store.GetDeviceByName(context.Background(), "edge-sjc-01")
	if err != nil {
		t.Fatal(err)
	}
	if d.Host != "192.0.2.10" || d.DeviceType != "IOS_XE" {
		t.Errorf("device not replaced: %+v", d)
	}
}

func TestSeedDevicesValidation(t *testing.T) {
	store := storage.NewMemoryStore()

	cases := []struct {
		name    string
		content string
	}{
		{"missing host", "devices:\n  - name: x\n    device_type: IOS_XE\n"},
		{"bad device type", "devices:\n  - name: x\n    host: h\n    device_type: TOASTER\n"},
		{"bad transport", "devices:\n  - name: x\n    host: h\n    device_type: IOS_XE\n    transport: serial\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeDevicesFile(t, tc.content)
			if _, err := seedDevices(context.Background(), store, path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := generateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "dk_") || len(key) != 3+64 {
		t.Errorf("key = %q", key)
	}
	if len(hash) != 64 {
		t.Errorf("hash = %q", hash)
	}
}
