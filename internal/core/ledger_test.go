package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPosting() PostEntryInput {
	return PostEntryInput{
		CompanyID:   1,
		Date:        day("2025-01-15"),
		Description: "Office rent",
		Lines: []PostLineInput{
			{AccountID: 10, Debit: dec("500")},
			{AccountID: 20, Credit: dec("500")},
		},
	}
}

func TestPostEntryInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PostEntryInput)
		wantErr string
	}{
		{"valid", func(in *PostEntryInput) {}, ""},
		{"missing company", func(in *PostEntryInput) { in.CompanyID = 0 }, "company id is required"},
		{"missing date", func(in *PostEntryInput) { in.Date = time.Time{} }, "entry date is required"},
		{"no lines", func(in *PostEntryInput) { in.Lines = nil }, "journal entry must have at least one line"},
		{"missing account", func(in *PostEntryInput) { in.Lines[1].AccountID = 0 }, "line 2: account id is required"},
		{"negative amount", func(in *PostEntryInput) { in.Lines[0].Debit = dec("-5") }, "line 1: amounts must be non-negative"},
		{"both sides", func(in *PostEntryInput) { in.Lines[0].Credit = dec("1") }, "line 1: a line cannot carry both a debit and a credit"},
		{"empty line", func(in *PostEntryInput) { in.Lines[0].Debit = decimal.Zero }, "line 1: either debit or credit must be non-zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validPosting()
			tt.mutate(&input)

			err := input.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestPostEntryInputValidate_AllowZeroLines(t *testing.T) {
	// The period close builder posts entries that may include zero lines.
	input := validPosting()
	input.Lines[0].Debit = decimal.Zero
	input.AllowZeroLines = true

	assert.NoError(t, input.validate())
}

func TestReversalLinesSwapSides(t *testing.T) {
	lines := []JournalLine{
		{AccountID: 10, Debit: dec("300"), Credit: decimal.Zero},
		{AccountID: 20, Debit: decimal.Zero, Credit: dec("250")},
		{AccountID: 30, Debit: decimal.Zero, Credit: dec("50")},
	}

	swapped := reversalLines(lines)
	require.Len(t, swapped, 3)

	assert.Equal(t, 10, swapped[0].AccountID)
	assert.Equal(t, "0.00", swapped[0].Debit.StringFixed(2))
	assert.Equal(t, "300.00", swapped[0].Credit.StringFixed(2))
	assert.Equal(t, "250.00", swapped[1].Debit.StringFixed(2))
	assert.Equal(t, "50.00", swapped[2].Debit.StringFixed(2))

	// A balanced entry stays balanced under the swap.
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range swapped {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	assert.True(t, debit.Equal(credit), "swap broke the balance: %s vs %s", debit, credit)
}

func TestResolveCorrectionDate(t *testing.T) {
	original := &JournalEntry{Date: day("2025-02-10")}

	// Without a requested date the correction posts on the original's date.
	got := resolveCorrectionDate(original, nil)
	assert.True(t, got.Equal(day("2025-02-10")), "got %v", got)

	// A requested date wins and is truncated to the day.
	requested := time.Date(2025, 3, 4, 17, 30, 0, 0, time.UTC)
	got = resolveCorrectionDate(original, &requested)
	assert.True(t, got.Equal(day("2025-03-04")), "got %v", got)
}

func TestJournalEntryTotals(t *testing.T) {
	entry := &JournalEntry{
		Lines: []JournalLine{
			{Debit: dec("100.125")},
			{Debit: dec("99.875")},
			{Credit: dec("200")},
		},
	}

	assert.Equal(t, "200.00", entry.TotalDebit().StringFixed(2))
	assert.Equal(t, "200.00", entry.TotalCredit().StringFixed(2))
}
