package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/relay/internal/models"
)

func TestWriteFailure_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", models.ValidationError("bad input"), http.StatusBadRequest},
		{"not found", models.NotFoundError("no run"), http.StatusNotFound},
		{"conflict", models.ConflictError("already exists"), http.StatusConflict},
		{"handler", models.HandlerError("boom"), http.StatusInternalServerError},
		{"plain", errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, WriteFailure(rec, tt.err))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestDecodeJSON_InvalidBodyIsValidation(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader("{broken"))
	var out map[string]any

	err := DecodeJSON(req, &out)

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestRequireMethod(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	rec := httptest.NewRecorder()
	assert.True(t, RequireMethod(rec, req, "GET"))

	rec = httptest.NewRecorder()
	assert.False(t, RequireMethod(rec, req, "POST"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
