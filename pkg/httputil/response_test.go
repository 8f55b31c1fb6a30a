package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grc-api/pkg/contextkeys"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorCode(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(contextkeys.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteErrorCode(w, r, http.StatusConflict, "duplicate_name", "role name already exists")

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "duplicate_name", body.Code)
	assert.Equal(t, "role name already exists", body.Error)
	assert.Equal(t, "req-42", body.RequestID)
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalError(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) { WriteBadRequest(w, r, "bad") }, http.StatusBadRequest, "invalid_request"},
		{"forbidden", func(w http.ResponseWriter, r *http.Request) { WriteForbidden(w, r, "owner_required", "no") }, http.StatusForbidden, "owner_required"},
		{"too many", func(w http.ResponseWriter, r *http.Request) { WriteTooManyRequests(w, r, "slow down") }, http.StatusTooManyRequests, "rate_limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(contextkeys.WithRequestID(r.Context(), "req-7"))
			w := httptest.NewRecorder()
			tt.write(w, r)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, "req-7", body.RequestID)
		})
	}

	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
