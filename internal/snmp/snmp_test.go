package snmp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gosnmp/gosnmp"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

func newSNMPFixture(t *testing.T) *Service {
	t.Helper()
	store := storage.NewMemoryStore()
	devices := []*storage.Device{
		{Name: "edge1", Host: "10.0.0.1", DeviceType: "IOS_XE", Transport: "ssh", Enabled: true, SNMP: true, SNMPCommunity: "lab"},
		{Name: "core1", Host: "10.0.0.2", DeviceType: "IOS_XE", Transport: "ssh", Enabled: true},
		{Name: "old1", Host: "10.0.0.3", DeviceType: "IOS", Transport: "ssh", Enabled: false, SNMP: true},
	}
	for _, d := range devices {
		if err := store.CreateDevice(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueryValidation(t *testing.T) {
	svc := newSNMPFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		kind errs.Kind
	}{
		{"missing oid", Request{DeviceName: "edge1"}, errs.KindValidation},
		{"no device identifier", Request{OID: "1.3.6.1.2.1.1"}, errs.KindValidation},
		{"both identifiers", Request{DeviceName: "edge1", DeviceHost: "10.0.0.1", OID: "1.3.6.1.2.1.1"}, errs.KindValidation},
		{"bad action", Request{DeviceName: "edge1", OID: "1.3.6.1.2.1.1", Action: "set"}, errs.KindValidation},
		{"unknown device", Request{DeviceName: "ghost", OID: "1.3.6.1.2.1.1"}, errs.KindNotFound},
		{"unknown host", Request{DeviceHost: "10.9.9.9", OID: "1.3.6.1.2.1.1"}, errs.KindNotFound},
		{"snmp not allowed", Request{DeviceName: "core1", OID: "1.3.6.1.2.1.1"}, errs.KindValidation},
		{"disabled device", Request{DeviceName: "old1", OID: "1.3.6.1.2.1.1"}, errs.KindConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Query(ctx, tc.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errs.KindOf(err); got != tc.kind {
				t.Errorf("kind = %s, want %s (%v)", got, tc.kind, err)
			}
		})
	}
}

func TestDeviceByHost(t *testing.T) {
	svc := newSNMPFixture(t)

	d, err := svc.device(context.Background(), Request{DeviceHost: "10.0.0.1", OID: "1.3.6.1.2.1.1"})
	if err != nil {
		t.Fatalf("device returned error: %v", err)
	}
	if d.Name != "edge1" {
		t.Errorf("device = %s, want edge1", d.Name)
	}

	// Host matching is case insensitive for hostnames.
	d2, err := svc.device(context.Background(), Request{DeviceHost: "10.0.0.1"})
	if err == nil && d2.Name != "edge1" {
		t.Errorf("device = %s", d2.Name)
	}
}

func TestPDURow(t *testing.T) {
	cases := []struct {
		name string
		pdu  gosnmp.SnmpPDU
		want Row
	}{
		{
			"octet string",
			gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("edge1.example.net")},
			Row{OID: ".1.3.6.1.2.1.1.5.0", Type: "OctetString", Value: "edge1.example.net"},
		},
		{
			"counter",
			gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.2.2.1.10.1", Type: gosnmp.Counter32, Value: uint(424242)},
			Row{OID: ".1.3.6.1.2.1.2.2.1.10.1", Type: "Counter32", Value: uint(424242)},
		},
		{
			"no such object",
			gosnmp.SnmpPDU{Name: ".1.3.6.1.9.9", Type: gosnmp.NoSuchObject},
			Row{OID: ".1.3.6.1.9.9", Type: "NoSuchObject", Value: "NoSuchObject", IsError: true},
		},
		{
			"end of mib view",
			gosnmp.SnmpPDU{Name: ".1.3.6.1.2.1.1", Type: gosnmp.EndOfMibView},
			Row{OID: ".1.3.6.1.2.1.1", Type: "EndOfMibView", Value: "EndOfMibView", IsError: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pduRow(tc.pdu)
			if got.OID != tc.want.OID || got.Type != tc.want.Type || got.IsError != tc.want.IsError {
				t.Errorf("row = %+v, want %+v", got, tc.want)
			}
			if gs, ws := got.Value, tc.want.Value; gs != ws {
				t.Errorf("value = %v (%T), want %v (%T)", gs, gs, ws, ws)
			}
		})
	}
}
