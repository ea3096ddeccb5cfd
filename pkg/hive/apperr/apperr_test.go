package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(Transport, "fetch failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Fatalf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("context: %w", New(NotFound, "workflow missing"))
	kind, ok := KindOf(err)
	if !ok || kind != NotFound {
		t.Fatalf("KindOf() = (%v, %v), want (%v, true)", kind, ok, NotFound)
	}

	_, ok = KindOf(errors.New("plain error"))
	if ok {
		t.Fatalf("KindOf() on a plain error should report ok=false")
	}
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := New(Validation, "bad cron expression")
	b := New(Validation, "a different message entirely")
	c := New(NotFound, "bad cron expression")

	if !errors.Is(a, b) {
		t.Fatalf("two Validation errors should match via errors.Is regardless of message")
	}
	if errors.Is(a, c) {
		t.Fatalf("errors of different Kind should not match")
	}
}
