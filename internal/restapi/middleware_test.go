package restapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware_EmptyAllowlistAllowsAnyOrigin(t *testing.T) {
	mw := corsMiddleware(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_ExactMatchIsAllowed(t *testing.T) {
	mw := corsMiddleware([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSMiddleware_UnlistedOriginGetsNoAllowHeader(t *testing.T) {
	mw := corsMiddleware([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_WildcardSuffixMatches(t *testing.T) {
	mw := corsMiddleware([]string{"https://*.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://sub.example.com")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "https://sub.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_OptionsRequestShortCircuits(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := corsMiddleware(nil)
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingMiddleware_CallsNextHandler(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := loggingMiddleware(slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)
	assert.True(t, called)
}
