package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/diff"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/forward"
	"github.com/drawbridge-labs/drawbridge/internal/httpcall"
	"github.com/drawbridge-labs/drawbridge/internal/inventory"
	"github.com/drawbridge-labs/drawbridge/internal/parse"
	"github.com/drawbridge-labs/drawbridge/internal/snmp"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transfer"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

const (
	adminKey    = "test-admin-key"
	readonlyKey = "test-readonly-key"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Store) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Service.Serial = "svc123"
	cfg.Service.Name = "lab"
	cfg.Auth.APIKeys = []config.APIKeyConfig{
		{Name: "admin", Hash: config.HashSecret(adminKey), SuperAdmin: true},
		{Name: "viewer", Hash: config.HashSecret(readonlyKey),
			Permissions: []string{"devices.read", "inventory.read", "service.read"}},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()

	mock := &transport.MockTransport{
		Responses: map[string]map[string]string{
			"edge1": {"show clock": "10:00:00.000 UTC Mon Jan 5 2026"},
		},
	}
	registry := transport.NewRegistry()
	registry.Register(mock)
	sessions := transport.NewManager(registry, time.Minute, logger)
	t.Cleanup(sessions.Stop)

	inv := inventory.NewService(store, cfg.Service.Serial, cfg.Service.Name)
	execSvc := exec.NewService(store, inv, sessions, config.ExecConfig{
		Workers:        4,
		CommandTimeout: 2 * time.Second,
		ExecTimeout:    10 * time.Second,
		WaitTimeout:    2 * time.Second,
	}, true, logger)
	parseSvc := parse.NewService(parse.DefaultRegistry(), execSvc, store, logger)

	srv := NewServer(cfg, Deps{
		Store:     store,
		Inventory: inv,
		Exec:      execSvc,
		Parse:     parseSvc,
		Diff:      diff.NewService(parseSvc, store),
		Transfer:  transfer.NewService(store, transport.Options{}, logger),
		SNMP:      snmp.NewService(store, logger),
		HTTPCall:  httpcall.NewService(store, httpcall.Options{}, logger),
		Forwards:  forward.NewManager(store, logger),
		Sessions:  sessions,
	}, logger, "1.0.0-test")

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, store
}

func doRequest(t *testing.T, method, url, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func seedDevice(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/devices", adminKey, map[string]any{
		"name": name, "host": "192.0.2.1", "device_type": "IOS_XE",
		"enabled": true, "username": "admin", "password": "secret",
		"attributes": map[string]string{"site": "sjc"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed device status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestHealthNoAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "1.0.0-test" {
		t.Errorf("body = %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAuthRejections(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key status = %d", resp.StatusCode)
	}

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/devices", readonlyKey, map[string]any{
		"name": "x", "host": "h", "device_type": "IOS_XE",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("readonly write status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestDeviceCRUD(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	// Duplicate name conflicts.
	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/api/v1/devices", adminKey, map[string]any{
		"name": "edge1", "host": "192.0.2.9", "device_type": "IOS_XE",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d", resp.StatusCode)
	}

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices/edge1", readonlyKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if body["name"] != "edge1" || body["transport"] != "ssh" {
		t.Errorf("device = %v", body)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices", readonlyKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}

	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/api/v1/devices/edge1", adminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices/edge1", adminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestDeviceApplyStates(t *testing.T) {
	ts, _ := newTestServer(t)

	// present on a missing device creates it.
	resp, body := doRequest(t, http.MethodPut, ts.URL+"/api/v1/devices/edge2", adminKey, map[string]any{
		"host": "192.0.2.2", "device_type": "IOS_XE", "enabled": true, "state": "present",
	})
	if resp.StatusCode != http.StatusOK || body["changed"] != true {
		t.Fatalf("present create status = %d, body = %v", resp.StatusCode, body)
	}

	// present on an existing device is a no-op.
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/api/v1/devices/edge2", adminKey, map[string]any{
		"host": "192.0.2.99", "device_type": "IOS_XE", "state": "present",
	})
	if resp.StatusCode != http.StatusOK || body["changed"] != false {
		t.Fatalf("present existing status = %d, body = %v", resp.StatusCode, body)
	}

	// updated replaces the device.
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/api/v1/devices/edge2", adminKey, map[string]any{
		"host": "192.0.2.50", "device_type": "IOS_XE", "enabled": true, "state": "updated",
	})
	if resp.StatusCode != http.StatusOK || body["changed"] != true {
		t.Fatalf("updated status = %d, body = %v", resp.StatusCode, body)
	}
	_, body = doRequest(t, http.MethodGet, ts.URL+"/api/v1/devices/edge2", adminKey, nil)
	if body["host"] != "192.0.2.50" {
		t.Errorf("host after update = %v", body["host"])
	}

	// absent removes it, and again is a no-op.
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/api/v1/devices/edge2", adminKey, map[string]any{"state": "absent"})
	if resp.StatusCode != http.StatusOK || body["changed"] != true {
		t.Fatalf("absent status = %d, body = %v", resp.StatusCode, body)
	}
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/api/v1/devices/edge2", adminKey, map[string]any{"state": "absent"})
	if resp.StatusCode != http.StatusOK || body["changed"] != false {
		t.Fatalf("absent again status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestExecEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec", adminKey, map[string]any{
		"device_name": "edge1",
		"commands":    []string{"show clock"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	// Single command on a single device collapses to the bare result.
	if body["exec_status"] != "SUCCESS" {
		t.Errorf("exec_status = %v", body["exec_status"])
	}
	if body["stdout"] != "10:00:00.000 UTC Mon Jan 5 2026" {
		t.Errorf("stdout = %q", body["stdout"])
	}
}

func TestExecAssertions(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec", adminKey, map[string]any{
		"device_name": "edge1",
		"commands":    []string{"show clock"},
		"assertions": []map[string]any{
			{"field": "stdout", "operator": "contains", "value": "UTC"},
			{"field": "exec_status", "operator": "eq", "value": "SUCCESS"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	outcome, ok := body["assertions"].(map[string]any)
	if !ok {
		t.Fatalf("assertions missing: %v", body)
	}
	if outcome["pass"] != true {
		t.Errorf("outcome = %v", outcome)
	}

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec", adminKey, map[string]any{
		"device_name": "edge1",
		"commands":    []string{"show clock"},
		"assertions": []map[string]any{
			{"field": "stdout", "operator": "contains", "value": "PST"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if outcome := body["assertions"].(map[string]any); outcome["pass"] != false {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestExecTimingFieldsDecode(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	// Timeouts ride the wire as second counts and must not be rejected
	// as unknown fields.
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec", adminKey, map[string]any{
		"device_name":     "edge1",
		"commands":        []string{"show clock"},
		"command_timeout": 2,
		"exec_timeout":    10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exec status = %d, body = %v", resp.StatusCode, body)
	}
	if body["exec_status"] != "SUCCESS" {
		t.Errorf("exec_status = %v", body["exec_status"])
	}

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec/wait", adminKey, map[string]any{
		"device_name":        "edge1",
		"commands":           []string{"show clock"},
		"seconds_to_wait":    5,
		"delay_before_check": 0.1,
		"command_timeout":    2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exec/wait status = %d, body = %v", resp.StatusCode, body)
	}
	summary, ok := body["summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary missing: %v", body)
	}
	if summary["succeeded"] != float64(1) {
		t.Errorf("summary = %v", summary)
	}
}

func TestExecValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/exec", adminKey, map[string]any{
		"commands": []string{"show clock"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestInventoryEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodGet,
		ts.URL+"/api/v1/inventory?keyed_group=device_type:device_type", readonlyKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	meta, ok := body["_meta"].(map[string]any)
	if !ok {
		t.Fatalf("_meta missing: %v", body)
	}
	hostvars := meta["hostvars"].(map[string]any)
	hv, ok := hostvars["edge1"].(map[string]any)
	if !ok {
		t.Fatalf("hostvars = %v", hostvars)
	}
	if hv["ansible_host"] != "192.0.2.1" {
		t.Errorf("ansible_host = %v", hv["ansible_host"])
	}
	if hv["proxy_dn"] != "edge1.svc123.proxy" {
		t.Errorf("proxy_dn = %v", hv["proxy_dn"])
	}
	if _, ok := body["device_type_IOS_XE"]; !ok {
		t.Errorf("keyed group missing: %v", body)
	}
}

func TestInventoryFilter(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodGet,
		ts.URL+"/api/v1/inventory?filter_attr=site&filter_pattern=sjc", readonlyKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	meta := body["_meta"].(map[string]any)
	hostvars := meta["hostvars"].(map[string]any)
	if _, ok := hostvars["edge1"]; !ok {
		t.Errorf("hostvars = %v", hostvars)
	}

	resp, _ = doRequest(t, http.MethodGet,
		ts.URL+"/api/v1/inventory?filter_attr=site&filter_pattern=rtp", readonlyKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("no-match status = %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodGet,
		ts.URL+"/api/v1/inventory?filter_attr=site", readonlyKey, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("lone filter_attr status = %d", resp.StatusCode)
	}
}

func TestServiceInfoEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/service", readonlyKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "connected" || body["serial"] != "svc123" {
		t.Errorf("body = %v", body)
	}
	if body["inventory_length"] != float64(1) {
		t.Errorf("inventory_length = %v", body["inventory_length"])
	}
}

func TestSnapshotNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/api/v1/snapshots/42", adminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestForwardDryRunEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	seedDevice(t, ts, "edge1")

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/forwards", adminKey, map[string]any{
		"device_name": "edge1", "local_port": 8443, "remote_port": 443, "dry_run": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["state"] != "starting" {
		t.Errorf("state = %v", body["state"])
	}
}

func TestProxyStatusWithoutProxy(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/proxy", adminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["running"] != false {
		t.Errorf("body = %v", body)
	}
}
