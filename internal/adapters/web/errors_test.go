package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounting-engine/internal/core"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind core.Kind
		want int
	}{
		{core.KindValidation, http.StatusBadRequest},
		{core.KindUnbalanced, http.StatusBadRequest},
		{core.KindBackdated, http.StatusBadRequest},
		{core.KindInsufficientStock, http.StatusBadRequest},
		{core.KindInvalidState, http.StatusBadRequest},
		{core.KindPeriodClosed, http.StatusForbidden},
		{core.KindNotFound, http.StatusNotFound},
		{core.KindIdempotencyKeyConflict, http.StatusConflict},
		{core.KindConflict, http.StatusConflict},
		{core.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForKind(tt.kind), "kind %s", tt.kind)
	}
}

func TestWriteDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/companies/1/period-close", nil)

	err := core.NewError(core.KindPeriodClosed, "period is closed through 2025-03-31").
		WithDetail("closed_through", "2025-03-31")
	writeDomainError(rec, r, err)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "period is closed through 2025-03-31", body.Error)
	assert.Equal(t, "PERIOD_CLOSED", body.Code)
	assert.Equal(t, "2025-03-31", body.Details["closed_through"])
}

func TestWriteDomainError_MasksInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/companies/1/journal-entries", nil)

	// Driver errors must never leak connection strings or SQL to callers.
	writeDomainError(rec, r, errors.New("pq: password authentication failed for user"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestWriteRawJSON_ReplaysBytesExactly(t *testing.T) {
	rec := httptest.NewRecorder()

	// Replayed idempotent responses come straight from the stored bytes.
	stored := []byte(`{"journal_entry":{"id":42,"entry_number":"JE-2025-0001"}}`)
	writeRawJSON(rec, http.StatusOK, stored)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(stored), rec.Body.String())
}
