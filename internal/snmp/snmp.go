// Package snmp performs read-only SNMP queries against inventory devices.
package snmp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

const (
	ActionGet     = "get"
	ActionGetNext = "get_next"
	ActionWalk    = "walk"
)

const (
	defaultPort      = 161
	defaultCommunity = "public"
	defaultTimeout   = 10 * time.Second
)

// Row is one OID binding in a query result.
type Row struct {
	OID     string `json:"oid"`
	Value   any    `json:"value"`
	Type    string `json:"type"`
	IsError bool   `json:"is_error,omitempty"`
}

// Request describes one SNMP query. Exactly one of DeviceName or
// DeviceHost selects the target.
type Request struct {
	DeviceName string        `json:"device_name,omitempty"`
	DeviceHost string        `json:"device_host,omitempty"`
	OID        string        `json:"oid"`
	Action     string        `json:"action,omitempty"`
	Timeout    time.Duration `json:"request_timeout,omitempty"`
}

type Service struct {
	store  storage.Store
	logger *slog.Logger
}

func NewService(store storage.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Query runs the requested SNMP action and returns the bindings in
// response order.
func (s *Service) Query(ctx context.Context, req Request) ([]Row, error) {
	if req.OID == "" {
		return nil, errs.Validationf("oid is required")
	}
	action := strings.ToLower(req.Action)
	if action == "" {
		action = ActionGet
	}
	switch action {
	case ActionGet, ActionGetNext, ActionWalk:
	default:
		return nil, errs.Validationf("action %q is not valid, must be one of: get, get_next, walk", req.Action)
	}

	d, err := s.device(ctx, req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	community := d.SNMPCommunity
	if community == "" {
		community = defaultCommunity
	}

	client := &gosnmp.GoSNMP{
		Target:    d.Host,
		Port:      defaultPort,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, errs.Connectionf("connecting to %s: %v", d.Host, err)
	}
	defer client.Conn.Close()

	s.logger.Debug("snmp query", "device", d.Name, "action", action, "oid", req.OID)

	var pdus []gosnmp.SnmpPDU
	switch action {
	case ActionGet:
		pkt, err := client.Get([]string{req.OID})
		if err != nil {
			return nil, errs.Operationf("snmp get on %s: %v", d.Name, err)
		}
		pdus = pkt.Variables
	case ActionGetNext:
		pkt, err := client.GetNext([]string{req.OID})
		if err != nil {
			return nil, errs.Operationf("snmp get_next on %s: %v", d.Name, err)
		}
		pdus = pkt.Variables
	case ActionWalk:
		pdus, err = client.BulkWalkAll(req.OID)
		if err != nil {
			return nil, errs.Operationf("snmp walk on %s: %v", d.Name, err)
		}
	}

	rows := make([]Row, 0, len(pdus))
	for _, pdu := range pdus {
		rows = append(rows, pduRow(pdu))
	}
	return rows, nil
}

func (s *Service) device(ctx context.Context, req Request) (*storage.Device, error) {
	if (req.DeviceName == "") == (req.DeviceHost == "") {
		return nil, errs.Validationf("specify either device_name or device_host")
	}

	var d *storage.Device
	if req.DeviceName != "" {
		found, err := s.store.GetDeviceByName(ctx, req.DeviceName)
		if err != nil {
			return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("device %q: %w", req.DeviceName, err))
		}
		d = found
	} else {
		found, err := s.deviceByHost(ctx, req.DeviceHost)
		if err != nil {
			return nil, err
		}
		d = found
	}

	if !d.Enabled {
		return nil, errs.Connectionf("device %q is disabled", d.Name)
	}
	if !d.SNMP {
		return nil, errs.Validationf("device %q does not allow snmp", d.Name)
	}
	return d, nil
}

func (s *Service) deviceByHost(ctx context.Context, host string) (*storage.Device, error) {
	devices, err := s.store.GetAllEnabledDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if strings.EqualFold(d.Host, host) {
			return d, nil
		}
	}
	return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("no device with host %q", host))
}

// pduRow converts one binding. Exception markers become error rows
// instead of failing the whole query.
func pduRow(pdu gosnmp.SnmpPDU) Row {
	row := Row{OID: pdu.Name, Type: typeName(pdu.Type)}
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		row.IsError = true
		row.Value = row.Type
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			row.Value = string(b)
		} else {
			row.Value = pdu.Value
		}
	default:
		row.Value = pdu.Value
	}
	return row
}

func typeName(t gosnmp.Asn1BER) string {
	switch t {
	case gosnmp.Boolean:
		return "Boolean"
	case gosnmp.Integer:
		return "Integer"
	case gosnmp.OctetString:
		return "OctetString"
	case gosnmp.Null:
		return "Null"
	case gosnmp.ObjectIdentifier:
		return "ObjectIdentifier"
	case gosnmp.IPAddress:
		return "IPAddress"
	case gosnmp.Counter32:
		return "Counter32"
	case gosnmp.Gauge32:
		return "Gauge32"
	case gosnmp.TimeTicks:
		return "TimeTicks"
	case gosnmp.Opaque:
		return "Opaque"
	case gosnmp.Counter64:
		return "Counter64"
	case gosnmp.NoSuchObject:
		return "NoSuchObject"
	case gosnmp.NoSuchInstance:
		return "NoSuchInstance"
	case gosnmp.EndOfMibView:
		return "EndOfMibView"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}
