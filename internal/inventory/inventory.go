// Package inventory resolves device selections and renders the device
// catalog as an inventory document for automation tooling.
package inventory

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Service answers device selection and inventory queries backed by the
// device store.
type Service struct {
	store   storage.Store
	serial  string
	svcName string
}

func NewService(store storage.Store, serial, name string) *Service {
	return &Service{store: store, serial: serial, svcName: name}
}

// Serial returns the service serial used in proxy distinguished names.
func (s *Service) Serial() string { return s.serial }

// ProxyDN builds the per-device name proxy clients dial through the
// gateway, of the form <device>.<serial>.proxy.
func (s *Service) ProxyDN(deviceName string) string {
	return fmt.Sprintf("%s.%s.proxy", strings.ToLower(deviceName), strings.ToLower(s.serial))
}

// Select resolves a request that names either a single device or a
// filter over a device attribute. Exactly one form must be used.
func (s *Service) Select(ctx context.Context, deviceName, filterPattern, filterAttr string) ([]*storage.Device, error) {
	byName := deviceName != ""
	byFilter := filterPattern != "" || filterAttr != ""
	if byName == byFilter {
		return nil, fmt.Errorf("specify either a device name or a filter, not both")
	}

	if byName {
		d, err := s.store.GetDeviceByName(ctx, deviceName)
		if err != nil {
			return nil, fmt.Errorf("resolving device %q: %w", deviceName, err)
		}
		if !d.Enabled {
			return nil, fmt.Errorf("device %q is disabled", deviceName)
		}
		return []*storage.Device{d}, nil
	}

	if filterPattern == "" || filterAttr == "" {
		return nil, fmt.Errorf("filter requires both a pattern and an attribute")
	}
	return s.Filter(ctx, filterPattern, filterAttr)
}

// Filter returns enabled devices whose attribute matches the glob
// pattern. Matching is case insensitive.
func (s *Service) Filter(ctx context.Context, pattern, attr string) ([]*storage.Device, error) {
	devices, err := s.store.GetAllEnabledDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	lowered := strings.ToLower(pattern)
	var matched []*storage.Device
	for _, d := range devices {
		val, ok := d.AttributeMap()[attr]
		if !ok {
			continue
		}
		ok, err := path.Match(lowered, strings.ToLower(val))
		if err != nil {
			return nil, fmt.Errorf("bad filter pattern %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no device matched %s=%s", attr, pattern)
	}
	return matched, nil
}
