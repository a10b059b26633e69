package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

func generateAPIKey() (key, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate random bytes: %w", err)
	}
	key = "dk_" + hex.EncodeToString(b)
	hash = config.HashSecret(key)
	return key, hash, nil
}

// devicesFile is the YAML inventory seed loaded at startup.
type devicesFile struct {
	Devices []deviceEntry `yaml:"devices"`
}

type deviceEntry struct {
	Name              string            `yaml:"name"`
	Host              string            `yaml:"host"`
	DeviceType        string            `yaml:"device_type"`
	Enabled           *bool             `yaml:"enabled"`
	Transport         string            `yaml:"transport"`
	Port              int               `yaml:"port"`
	Username          string            `yaml:"username"`
	Password          string            `yaml:"password"`
	Terminal          *bool             `yaml:"terminal"`
	HTTP              bool              `yaml:"http"`
	HTTPScheme        string            `yaml:"http_scheme"`
	HTTPPort          int               `yaml:"http_port"`
	SNMP              bool              `yaml:"snmp"`
	SNMPCommunity     string            `yaml:"snmp_community"`
	ForwardedTCPPorts []int             `yaml:"forwarded_tcp_ports"`
	Attributes        map[string]string `yaml:"attributes"`
}

// seedDevices upserts the devices file into the store. Entries replace
// existing devices of the same name so the file stays authoritative.
func seedDevices(ctx context.Context, store storage.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var file devicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse devices file: %w", err)
	}

	for i, e := range file.Devices {
		d, err := e.toDevice()
		if err != nil {
			return 0, fmt.Errorf("devices[%d]: %w", i, err)
		}
		if err := store.CreateDevice(ctx, d); err != nil {
			if !errors.Is(err, storage.ErrDuplicateName) {
				return 0, fmt.Errorf("devices[%d] %q: %w", i, d.Name, err)
			}
			if err := store.DeleteDeviceByName(ctx, d.Name); err != nil {
				return 0, fmt.Errorf("devices[%d] replace %q: %w", i, d.Name, err)
			}
			if err := store.CreateDevice(ctx, d); err != nil {
				return 0, fmt.Errorf("devices[%d] replace %q: %w", i, d.Name, err)
			}
		}
	}
	return len(file.Devices), nil
}

func (e *deviceEntry) toDevice() (*storage.Device, error) {
	if e.Name == "" || e.Host == "" {
		return nil, fmt.Errorf("name and host are required")
	}
	if !storage.ValidDeviceType(e.DeviceType) {
		return nil, fmt.Errorf("device_type %q is not valid", e.DeviceType)
	}

	d := &storage.Device{
		Name:              e.Name,
		Host:              e.Host,
		DeviceType:        e.DeviceType,
		Enabled:           true,
		Transport:         e.Transport,
		Port:              e.Port,
		Username:          e.Username,
		Password:          e.Password,
		Terminal:          true,
		HTTP:              e.HTTP,
		HTTPScheme:        e.HTTPScheme,
		HTTPPort:          e.HTTPPort,
		SNMP:              e.SNMP,
		SNMPCommunity:     e.SNMPCommunity,
		ForwardedTCPPorts: e.ForwardedTCPPorts,
	}
	if e.Enabled != nil {
		d.Enabled = *e.Enabled
	}
	if e.Terminal != nil {
		d.Terminal = *e.Terminal
	}
	if d.Transport == "" {
		d.Transport = "ssh"
	}
	if d.Transport != "ssh" && d.Transport != "telnet" {
		return nil, fmt.Errorf("transport must be ssh or telnet")
	}
	if len(e.Attributes) > 0 {
		raw, err := json.Marshal(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("attributes: %w", err)
		}
		d.Attributes = raw
	}
	return d, nil
}
