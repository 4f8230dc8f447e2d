package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/relay/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the error JSON shape callers parse: {"error": message}.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{"error": message})
}

// WriteFailure maps a runtime error onto its HTTP status: validation to
// 400, not-found to 404, conflict to 409, anything else to 500.
func WriteFailure(w http.ResponseWriter, err error) error {
	status := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case models.IsConflict(err):
		status = http.StatusConflict
	}
	return WriteError(w, status, err.Error())
}

// DecodeJSON parses a request body into out, reporting malformed bodies as
// validation failures.
func DecodeJSON(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return models.ValidationError("invalid request body: %v", err)
	}
	return nil
}
