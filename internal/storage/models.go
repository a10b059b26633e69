package storage

import (
	"encoding/json"
	"time"
)

// Device represents one entry in the service inventory.
type Device struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Host              string          `json:"host"`
	DeviceType        string          `json:"device_type"` // IOS_XE, IOS_XR, NX_OS, ASA, LINUX, GENERIC, ...
	Enabled           bool            `json:"enabled"`
	Transport         string          `json:"transport"` // ssh, telnet
	Port              int             `json:"port,omitempty"`
	Username          string          `json:"username,omitempty"`
	Password          string          `json:"-"`
	Terminal          bool            `json:"terminal"`
	HTTP              bool            `json:"http"`
	HTTPScheme        string          `json:"http_scheme,omitempty"` // http or https, default https
	HTTPPort          int             `json:"http_port,omitempty"`
	SNMP              bool            `json:"snmp"`
	SNMPCommunity     string          `json:"-"`
	ForwardedTCPPorts []int           `json:"forwarded_tcp_ports"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// DeviceTypes lists the accepted device_type values.
var DeviceTypes = []string{
	"AIRE_OS", "APIC", "ASA", "CATALYST_CENTER", "CEDGE", "CIMC", "CML",
	"CSPC", "CUCM", "ESA", "FDM", "FMC", "FTD", "GENERIC", "IOS_XE",
	"IOS_XR", "ISE", "LINUX", "NSO", "NX_OS", "SMA", "SPLUNK", "STAR_OS",
	"UCS_MANAGER", "WLC", "VMANAGE",
}

// ValidDeviceType reports whether t is an accepted device_type.
func ValidDeviceType(t string) bool {
	for _, dt := range DeviceTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// AttributeMap flattens the device fields plus the free-form attributes into
// a single map, used by inventory filtering and keyed groups.
func (d *Device) AttributeMap() map[string]string {
	m := map[string]string{
		"name":        d.Name,
		"host":        d.Host,
		"device_type": d.DeviceType,
		"transport":   d.Transport,
	}
	if len(d.Attributes) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(d.Attributes, &extra); err == nil {
			for k, v := range extra {
				if s, ok := v.(string); ok {
					m[k] = s
				}
			}
		}
	}
	return m
}

// CommandRecord is one entry in the command audit log.
type CommandRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	DeviceName string    `json:"device_name"`
	Command    string    `json:"command"`
	ExecStatus string    `json:"exec_status"` // SUCCESS or FAILURE
	Message    string    `json:"exec_status_message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot stores a parsed-output snapshot for later diffing.
type Snapshot struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	DeviceName string          `json:"device_name"`
	Command    string          `json:"command"`
	OS         string          `json:"os"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeviceListFilter narrows device listings.
type DeviceListFilter struct {
	DeviceType string
	Enabled    *bool
	Search     string
}

type Pagination struct {
	Page    int
	PerPage int
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

type PaginatedResult struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}
