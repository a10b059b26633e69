package inventory

import (
	"context"
	"fmt"
)

// ServiceInfo is the summary reported about this service instance.
type ServiceInfo struct {
	Name            string   `json:"name"`
	Serial          string   `json:"serial"`
	Version         string   `json:"version"`
	Status          string   `json:"status"`
	Capabilities    []string `json:"capabilities"`
	E2EESupported   bool     `json:"e2ee_supported"`
	InventoryLength int      `json:"inventory_length"`
}

// Info reports the service identity plus the current inventory size.
func (s *Service) Info(ctx context.Context, version string, capabilities []string) (*ServiceInfo, error) {
	devices, err := s.store.GetAllEnabledDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return &ServiceInfo{
		Name:            s.svcName,
		Serial:          s.serial,
		Version:         version,
		Status:          "connected",
		Capabilities:    capabilities,
		E2EESupported:   true,
		InventoryLength: len(devices),
	}, nil
}
