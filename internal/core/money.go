package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// All stored monetary values carry exactly two fractional digits.
// decimal.Round rounds half away from zero, which is the convention for
// every boundary in this engine (posting totals, WAC averages, OUT values).

// Round2 rounds to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// EqualMoney compares two amounts at two decimal places.
func EqualMoney(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// ParseAmount parses a monetary amount from its string form. "-0.00" and
// similar negative-zero spellings normalize to plain zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, Errorf(KindValidation, "invalid amount %q", s)
	}
	if d.IsZero() {
		return decimal.Zero, nil
	}
	return d, nil
}

// dayFormat is the wire format for day-precision dates.
const dayFormat = "2006-01-02"

// ParseDay parses a YYYY-MM-DD string into a UTC-midnight time.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(dayFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, Errorf(KindValidation, "invalid date %q, expected YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

// Day truncates t to UTC midnight. All ledger and stock dates are stored at
// day precision.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders t as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.UTC().Format(dayFormat)
}
