package core_test

import (
	"testing"
	"time"

	"accounting-engine/internal/core"

	"github.com/shopspring/decimal"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.344", "2.34"},
		{"2.345", "2.35"}, // half rounds away from zero
		{"-2.344", "-2.34"},
		{"-2.345", "-2.35"},
		{"9.1149", "9.11"},
		{"9.115", "9.12"},
		{"10", "10.00"},
		{"0", "0.00"},
	}

	for _, tt := range tests {
		d := decimal.RequireFromString(tt.in)
		if got := core.Round2(d).StringFixed(2); got != tt.want {
			t.Errorf("Round2(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}

	// The weighted-average division case: 82 / 9 = 9.111... rounds to 9.11.
	avg := core.Round2(decimal.RequireFromString("82").Div(decimal.NewFromInt(9)))
	if got := avg.StringFixed(2); got != "9.11" {
		t.Errorf("Round2(82/9) = %s, want 9.11", got)
	}
}

func TestEqualMoney(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"5", "5.004", true},
		{"5", "5.005", false},
		{"0", "-0.00", true},
		{"12.34", "12.34", true},
		{"12.34", "12.35", false},
	}

	for _, tt := range tests {
		a := decimal.RequireFromString(tt.a)
		b := decimal.RequireFromString(tt.b)
		if got := core.EqualMoney(a, b); got != tt.want {
			t.Errorf("EqualMoney(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	got, err := core.ParseAmount("  150.00  ")
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if got.StringFixed(2) != "150.00" {
		t.Errorf("Expected 150.00, got %s", got.StringFixed(2))
	}

	// Negative zero normalizes to plain zero.
	got, err = core.ParseAmount("-0.00")
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if !got.IsZero() || got.IsNegative() {
		t.Errorf("Expected -0.00 to normalize to zero, got %s", got.String())
	}
	if got.String() != "0" {
		t.Errorf("Expected canonical zero, got %s", got.String())
	}

	_, err = core.ParseAmount("abc")
	if err == nil {
		t.Fatal("Expected error for non-numeric amount, got nil")
	}
	if !core.IsKind(err, core.KindValidation) {
		t.Errorf("Expected VALIDATION kind, got %v", core.KindOf(err))
	}
	if err.Error() != `invalid amount "abc"` {
		t.Errorf("Unexpected error message: %v", err)
	}

	if _, err := core.ParseAmount("1,000"); err == nil {
		t.Error("Expected error for grouped amount, got nil")
	}
}

func TestParseDay(t *testing.T) {
	got, err := core.ParseDay(" 2025-03-01 ")
	if err != nil {
		t.Fatalf("ParseDay failed: %v", err)
	}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseDay = %v, want %v", got, want)
	}

	_, err = core.ParseDay("03/01/2025")
	if err == nil {
		t.Fatal("Expected error for slash-formatted date, got nil")
	}
	if !core.IsKind(err, core.KindValidation) {
		t.Errorf("Expected VALIDATION kind, got %v", core.KindOf(err))
	}

	if _, err := core.ParseDay("2025-13-40"); err == nil {
		t.Error("Expected error for impossible date, got nil")
	}
}

func TestDayTruncatesInUTC(t *testing.T) {
	// A late-evening timestamp west of UTC lands on the next UTC day.
	est := time.FixedZone("EST", -5*60*60)
	got := core.Day(time.Date(2025, 1, 15, 20, 0, 0, 0, est))
	want := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %v, want %v", got, want)
	}

	got = core.Day(time.Date(2025, 1, 15, 23, 59, 59, 0, time.UTC))
	want = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %v, want %v", got, want)
	}
}

func TestFormatDay(t *testing.T) {
	got := core.FormatDay(time.Date(2025, 3, 9, 15, 4, 5, 0, time.UTC))
	if got != "2025-03-09" {
		t.Errorf("FormatDay = %s, want 2025-03-09", got)
	}
}
