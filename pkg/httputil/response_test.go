package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusTeapot, map[string]string{"brew": "earl grey"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "earl grey", body["brew"])
}

func TestWriteSuccessAndCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rec, map[string]int{"count": 3}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, map[string]string{"id": "abc"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad input") }, http.StatusBadRequest, "bad input"},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "email is required") }, http.StatusBadRequest, "email is required"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no session") }, http.StatusUnauthorized, "no session"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "admins only") }, http.StatusForbidden, "admins only"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "no such customer") }, http.StatusNotFound, "no such customer"},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, "slow down"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("boom")) }, http.StatusInternalServerError, "boom"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "identity provider down") }, http.StatusServiceUnavailable, "identity provider down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}

func TestWriteDetailedError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDetailedError(rec, http.StatusBadRequest, errors.New("password rejected"),
		map[string]string{"requirements": "at least 8 characters"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "password rejected", resp.Error)
	assert.Equal(t, "at least 8 characters", resp.Details["requirements"])
}

func TestWriteDetailedError_OmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDetailedError(rec, http.StatusBadRequest, errors.New("nope"), nil)
	assert.NotContains(t, rec.Body.String(), "details")
}
