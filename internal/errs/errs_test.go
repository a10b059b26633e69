package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Connectionf("dial %s: refused", "edge1")
	if KindOf(err) != KindConnection {
		t.Fatalf("kind = %v", KindOf(err))
	}

	// Wrapping with fmt.Errorf keeps the kind reachable.
	wrapped := fmt.Errorf("exec: %w", err)
	if KindOf(wrapped) != KindConnection {
		t.Fatalf("wrapped kind = %v", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors should report KindUnknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("nil should report KindUnknown")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(KindValidation, nil) != nil {
		t.Fatal("nil in, nil out")
	}

	base := errors.New("no such snapshot")
	err := Wrap(KindNotFound, base)
	if KindOf(err) != KindNotFound {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to the base")
	}
	if err.Error() != "no such snapshot" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindValidation, "validation"},
		{KindConnection, "connection"},
		{KindOperation, "operation"},
		{KindNotFound, "not_found"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
