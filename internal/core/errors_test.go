package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := NewError(KindUnbalanced, "debits do not match credits")

	if got := KindOf(base); got != KindUnbalanced {
		t.Errorf("KindOf = %v, want %v", got, KindUnbalanced)
	}

	// Wrapping must not hide the classification.
	wrapped := fmt.Errorf("posting entry: %w", base)
	if got := KindOf(wrapped); got != KindUnbalanced {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, KindUnbalanced)
	}

	// Unclassified errors count as internal.
	if got := KindOf(errors.New("connection reset")); got != KindInternal {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindInternal)
	}
	if got := KindOf(nil); got != KindInternal {
		t.Errorf("KindOf(nil) = %v, want %v", got, KindInternal)
	}
}

func TestIsKind(t *testing.T) {
	err := Errorf(KindNotFound, "journal entry %d not found", 42)

	if !IsKind(err, KindNotFound) {
		t.Error("Expected IsKind to match NOT_FOUND")
	}
	if IsKind(err, KindValidation) {
		t.Error("Expected IsKind to reject a different kind")
	}
	if err.Error() != "journal entry 42 not found" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := NewError(KindPeriodClosed, "period is closed through 2025-03-31").
		WithDetail("closed_through", "2025-03-31").
		WithDetail("transaction_date", "2025-02-10")

	details := DetailsOf(err)
	if details == nil {
		t.Fatal("Expected details, got nil")
	}
	if details["closed_through"] != "2025-03-31" {
		t.Errorf("Unexpected closed_through: %v", details["closed_through"])
	}
	if details["transaction_date"] != "2025-02-10" {
		t.Errorf("Unexpected transaction_date: %v", details["transaction_date"])
	}

	// Details survive wrapping too.
	wrapped := fmt.Errorf("close rejected: %w", err)
	if DetailsOf(wrapped) == nil {
		t.Error("Expected details through wrapping, got nil")
	}

	if DetailsOf(errors.New("plain")) != nil {
		t.Error("Expected nil details for an unclassified error")
	}
}

func TestDeterministic(t *testing.T) {
	// Only conflicts and internal failures may retry with the same key;
	// every business rejection replays identically.
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindValidation, true},
		{KindUnbalanced, true},
		{KindBackdated, true},
		{KindInsufficientStock, true},
		{KindPeriodClosed, true},
		{KindInvalidState, true},
		{KindIdempotencyKeyConflict, true},
		{KindNotFound, true},
		{KindConflict, false},
		{KindInternal, false},
	}

	for _, tt := range tests {
		if got := deterministic(tt.kind); got != tt.want {
			t.Errorf("deterministic(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
