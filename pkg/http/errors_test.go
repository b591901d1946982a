package http_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]int{"count": 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteTooManyRequests(w, "slow down", 1500*time.Millisecond)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, w).Error)

	w = httptest.NewRecorder()
	pkghttp.WriteTooManyRequests(w, "slow down", 0)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteLocked(w, "locked", 30*time.Minute)

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "1800", w.Header().Get("Retry-After"))
	assert.Equal(t, "account_locked", decodeError(t, w).Error)
}

func TestWriteModelError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{fmt.Errorf("bad window: %w", models.ErrBadRequest), http.StatusBadRequest, "bad_request"},
		{models.ErrNotFound, http.StatusNotFound, "not_found"},
		{models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{models.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{models.ErrForbidden, http.StatusForbidden, "forbidden"},
		{models.ErrConflict, http.StatusConflict, "conflict"},
		{models.ErrRateLimitExceeded, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{models.ErrAccountLocked, http.StatusLocked, "account_locked"},
		{fmt.Errorf("query: %w", models.ErrBackendUnavailable), http.StatusServiceUnavailable, "service_unavailable"},
		{fmt.Errorf("pq: relation does not exist"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteModelError(w, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantErr, resp.Error)
			assert.NotContains(t, resp.Message, "relation")
		})
	}
}
