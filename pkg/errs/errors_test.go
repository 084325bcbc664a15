package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(KindNotFound, "table %q not found", "docs")
	if err.Error() != `table "docs" not found` {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := Wrap(KindIO, cause, "opening %s", "data.mars")
	want := "opening data.mars: permission denied"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(KindIO, cause, "writing")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindConstraintViolation, "duplicate email")
	if !Is(err, KindConstraintViolation) {
		t.Fatalf("expected Is to match KindConstraintViolation")
	}
	if Is(err, KindNotFound) {
		t.Fatalf("expected Is not to match KindNotFound")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := New(KindDimensionMismatch, "expected 3, got 4")
	outer := fmt.Errorf("inserting row: %w", inner)
	if !Is(outer, KindDimensionMismatch) {
		t.Fatalf("expected Is to see through fmt.Errorf wrapping")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(fmt.Errorf("plain"), KindNotFound) {
		t.Fatalf("plain errors should never match a Kind")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindIO:                  "io",
		KindInvalidFormat:       "invalid_format",
		KindDimensionMismatch:   "dimension_mismatch",
		KindNotFound:            "not_found",
		KindConstraintViolation: "constraint_violation",
		KindInvalidConfig:       "invalid_config",
		KindUnknown:             "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
