package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var inContext string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = requestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, inContext)
	assert.Equal(t, inContext, rec.Header().Get("X-Request-ID"),
		"header and context must carry the same id")
}

func TestRequestID_AcceptsSafeCallerID(t *testing.T) {
	var inContext string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = requestIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "trace-abc-123")
	RequestID(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "trace-abc-123", inContext)
}

func TestRequestID_ReplacesUnsafeCallerID(t *testing.T) {
	var inContext string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inContext = requestIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "bad id with spaces и unicode")
	RequestID(next).ServeHTTP(httptest.NewRecorder(), r)

	require.NotEmpty(t, inContext)
	assert.NotEqual(t, "bad id with spaces и unicode", inContext)
}

func TestRecoverer_ConvertsPanicTo500(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recoverer(discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := CORS("https://app.example.com, https://staging.example.com")(next)

	t.Run("configured origin gets headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		handler.ServeHTTP(rec, r)

		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	})

	t.Run("unknown origin gets none", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		handler.ServeHTTP(rec, r)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("disabled when unconfigured", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		CORS("")(next).ServeHTTP(rec, r)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , b "))
	assert.Equal(t, []string{"a"}, splitAndTrim("a,,  ,"))
}
