// Package api provides HTTP handlers for the quiz solver API.
package api

import (
	"encoding/json"
	"net/http"
)

// ServiceName and ServiceVersion identify the API in the root index.
const (
	ServiceName    = "Quiz Pilot API"
	ServiceVersion = "1.0.0"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
