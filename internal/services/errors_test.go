package services_test

import (
	"errors"
	"strings"
	"testing"

	"loom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "analyze", "generate", "provider call failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"analyze", "generate", "provider call failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "split", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configuration", services.Wrap(services.ErrConfiguration, "split", "validate", "overlap too large", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "analyze", "decode", "schema mismatch", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "layout", "load", "missing artifact", nil), false},
		{"transient", services.Wrap(services.ErrTransient, "analyze", "generate", "timeout", errors.New("io")), true},
		{"untagged", errors.New("wire dropped"), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
