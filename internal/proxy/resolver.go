// Package proxy exposes inventory devices to HTTP and SOCKS clients
// under per-device proxy names, without revealing management addresses.
package proxy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Resolver turns requested proxy destinations into real device
// addresses and enforces the destination policy.
type Resolver struct {
	store        storage.Store
	serial       string
	allowedHosts []string
}

func NewResolver(store storage.Store, serial string, allowedHosts []string) *Resolver {
	return &Resolver{store: store, serial: strings.ToLower(serial), allowedHosts: allowedHosts}
}

// Resolve maps a requested host and port to the address to dial.
// Device proxy names of the form <device>.<serial>.proxy resolve
// through the inventory; anything else must be explicitly allowed.
func (r *Resolver) Resolve(ctx context.Context, host string, port int) (string, error) {
	host = strings.ToLower(host)

	if deviceName, ok := r.deviceFor(host); ok {
		d, err := r.lookupDevice(ctx, deviceName)
		if err != nil {
			return "", errs.Wrap(errs.KindNotFound, fmt.Errorf("proxy destination %q: %w", host, err))
		}
		if !d.Enabled {
			return "", errs.Connectionf("device %q is disabled", deviceName)
		}
		if !portAllowed(d, port) {
			return "", errs.Validationf("port %d is not forwarded for device %q", port, deviceName)
		}
		return fmt.Sprintf("%s:%d", d.Host, port), nil
	}

	for _, pattern := range r.allowedHosts {
		ok, err := path.Match(strings.ToLower(pattern), host)
		if err == nil && ok {
			return fmt.Sprintf("%s:%d", host, port), nil
		}
	}
	return "", errs.Validationf("destination %q is not allowed", host)
}

// lookupDevice resolves a device name case-insensitively since proxy
// names arrive lowercased.
func (r *Resolver) lookupDevice(ctx context.Context, name string) (*storage.Device, error) {
	if d, err := r.store.GetDeviceByName(ctx, name); err == nil {
		return d, nil
	}
	devices, err := r.store.GetAllEnabledDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, storage.ErrNotFound
}

// deviceFor extracts the device name from a proxy distinguished name.
func (r *Resolver) deviceFor(host string) (string, bool) {
	suffix := "." + r.serial + ".proxy"
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	name := strings.TrimSuffix(host, suffix)
	if name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// portAllowed checks the per-device port policy. Devices that forward
// no ports accept any destination port.
func portAllowed(d *storage.Device, port int) bool {
	if len(d.ForwardedTCPPorts) == 0 && d.HTTPPort == 0 {
		return true
	}
	for _, p := range d.ForwardedTCPPorts {
		if p == port {
			return true
		}
	}
	return d.HTTP && d.HTTPPort == port
}
