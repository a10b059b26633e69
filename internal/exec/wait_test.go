package exec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

func TestExecAndWaitValidation(t *testing.T) {
	f := newFixture(t, &transport.MockTransport{}, device("edge1"))
	ctx := context.Background()

	tests := []struct {
		name string
		req  WaitRequest
	}{
		{"no commands", WaitRequest{DeviceName: "edge1"}},
		{"prompt answer mismatch", WaitRequest{
			DeviceName: "edge1",
			Commands:   []string{"reload"},
			Prompts:    []string{"[confirm]"},
			Answers:    []string{"y", "extra"},
		}},
		{"retries without prompts", WaitRequest{
			DeviceName: "edge1",
			Commands:   []string{"reload"},
			Retries:    2,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ExecAndWait(ctx, tt.req)
			if errs.KindOf(err) != errs.KindValidation {
				t.Errorf("kind = %s, want validation (err = %v)", errs.KindOf(err), err)
			}
		})
	}
}

func TestExecAndWaitDialogue(t *testing.T) {
	mock := &transport.MockTransport{
		Responses: map[string]map[string]string{
			"edge1": {"reload": "System configuration has been modified. Save? [yes/no]:"},
		},
	}
	f := newFixture(t, mock, device("edge1"))

	res, err := f.svc.ExecAndWait(context.Background(), WaitRequest{
		DeviceName:    "edge1",
		Commands:      []string{"reload"},
		Prompts:       []string{"Save? [yes/no]:"},
		Answers:       []string{"no"},
		SecondsToWait: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("ExecAndWait returned error: %v", err)
	}
	if res.Summary.Total != 1 || res.Summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	r := res.Results[0]
	if r.ExecStatus != StatusSuccess {
		t.Errorf("exec_status = %s, message = %s", r.ExecStatus, r.Message)
	}
	if !r.Recovered {
		t.Error("device should be marked recovered")
	}
	if !strings.Contains(r.Transcript, "Save? [yes/no]:") {
		t.Errorf("transcript missing dialogue: %q", r.Transcript)
	}
	if r.Attempts < 1 {
		t.Errorf("attempts = %d, want at least one recovery probe", r.Attempts)
	}
}

func TestExecAndWaitStopsOnFailure(t *testing.T) {
	mock := &transport.MockTransport{
		Responses: map[string]map[string]string{
			"b-edge": {"reload": "ok"},
		},
		ConnectErr: map[string]error{"a-edge": errors.New("connection refused")},
	}
	f := newFixture(t, mock, device("a-edge"), device("b-edge"))

	res, err := f.svc.ExecAndWait(context.Background(), WaitRequest{
		FilterPattern: "*-edge",
		FilterAttr:    "name",
		Commands:      []string{"reload"},
		SecondsToWait: time.Second,
	})
	if errs.KindOf(err) != errs.KindConnection {
		t.Fatalf("error kind = %s, want connection", errs.KindOf(err))
	}
	if len(res.Results) != 1 {
		t.Fatalf("rollout must stop after first failure, got %d results", len(res.Results))
	}
	if res.Summary.Failed != 1 || res.Summary.Succeeded != 0 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestExecAndWaitContinuesWhenAsked(t *testing.T) {
	mock := &transport.MockTransport{
		Responses: map[string]map[string]string{
			"b-edge": {"reload": "ok"},
		},
		ConnectErr: map[string]error{"a-edge": errors.New("connection refused")},
	}
	f := newFixture(t, mock, device("a-edge"), device("b-edge"))

	res, err := f.svc.ExecAndWait(context.Background(), WaitRequest{
		FilterPattern:           "*-edge",
		FilterAttr:              "name",
		Commands:                []string{"reload"},
		SecondsToWait:           2 * time.Second,
		ContinueOnDeviceFailure: true,
	})
	if err != nil {
		t.Fatalf("one success should clear the aggregate error, got %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	if res.Summary.Failed != 1 || res.Summary.Succeeded != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
}
