package ierr

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("short read")
	err := New("load_executable", IOError, cause)

	if err.Kind != IOError {
		t.Fatalf("Kind = %v, want IOError", err.Kind)
	}
	if got := err.Error(); !strings.Contains(got, "short read") {
		t.Fatalf("Error() = %q, want it to include the cause", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New("create", Unsupported, nil)
	if err.Unwrap() != nil {
		t.Fatal("Unwrap() should be nil when no cause given")
	}
	if err.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestKindStringNamesEveryKind(t *testing.T) {
	kinds := []Kind{InvalidArg, Unsupported, OutOfMemory, Conflict, IOError, NotAvailable}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "UNKNOWN" {
			t.Fatalf("Kind %d stringified to %q", k, s)
		}
		if seen[s] {
			t.Fatalf("duplicate Kind string %q", s)
		}
		seen[s] = true
	}
}
