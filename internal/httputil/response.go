// Package httputil contains shared HTTP utilities for consistent response formatting across handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError writes the error envelope every endpoint uses. The message
// stays generic; details are logged server-side only.
func WriteJSONError(w http.ResponseWriter, errorText, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorText,
		"message": message,
	})
}

// WriteJSONSuccess writes the success envelope with an optional data payload.
func WriteJSONSuccess(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	body := map[string]any{
		"success": true,
		"message": message,
	}
	if data != nil {
		body["data"] = data
	}
	_ = json.NewEncoder(w).Encode(body)
}
