package exec

import (
	"strings"
	"testing"
)

func TestEvaluateAssertions(t *testing.T) {
	results := []CommandResult{
		{DeviceName: "edge1", Command: "show version", ExecStatus: StatusSuccess,
			Output: "Cisco IOS XE Software, Version 17.9.4a"},
		{DeviceName: "core1", Command: "show version", ExecStatus: StatusSuccess,
			Output: "Cisco IOS XE Software, Version 17.12.1"},
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantPass  bool
	}{
		{"stdout contains", Assertion{Field: "stdout", Operator: "contains", Value: "IOS"}, true},
		{"stdout contains missing", Assertion{Field: "stdout", Operator: "contains", Value: "NX-OS"}, false},
		{"default field is stdout", Assertion{Operator: "contains", Value: "Version"}, true},
		{"status eq", Assertion{Field: "exec_status", Operator: "eq", Value: StatusSuccess}, true},
		{"status neq", Assertion{Field: "exec_status", Operator: "neq", Value: StatusFailure}, true},
		{"regex matches", Assertion{Field: "stdout", Operator: "matches", Value: `Version 17\.\d+`}, true},
		{"regex not all", Assertion{Field: "stdout", Operator: "matches", Value: `17\.9\.4a`}, false},
		{"not_contains", Assertion{Field: "stdout", Operator: "not_contains", Value: "Traceback"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := EvaluateAssertions(results, []Assertion{tt.assertion})
			if err != nil {
				t.Fatal(err)
			}
			if outcome.Pass != tt.wantPass {
				t.Fatalf("pass = %v, details = %+v", outcome.Pass, outcome.Details)
			}
			if len(outcome.Details) != len(results) {
				t.Fatalf("details = %d, want one per result", len(outcome.Details))
			}
		})
	}
}

func TestEvaluateAssertionsErrors(t *testing.T) {
	results := []CommandResult{{DeviceName: "edge1", Output: "x"}}

	if _, err := EvaluateAssertions(results, []Assertion{{Field: "uptime"}}); err == nil || !strings.Contains(err.Error(), "unknown assertion field") {
		t.Fatalf("err = %v", err)
	}
	if _, err := EvaluateAssertions(results, []Assertion{{Operator: "matches", Value: "("}}); err == nil {
		t.Fatal("expected bad pattern error")
	}
}

func TestEvaluateAssertionFailureMessage(t *testing.T) {
	results := []CommandResult{{DeviceName: "edge1", Command: "show clock", ExecStatus: StatusFailure, Output: ""}}
	outcome, err := EvaluateAssertions(results, []Assertion{
		{Field: "exec_status", Operator: "eq", Value: StatusSuccess},
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Pass {
		t.Fatal("expected failure")
	}
	d := outcome.Details[0]
	if d.DeviceName != "edge1" || d.Command != "show clock" {
		t.Fatalf("detail = %+v", d)
	}
	if !strings.Contains(d.Message, "exec_status") {
		t.Fatalf("message = %q", d.Message)
	}
}
