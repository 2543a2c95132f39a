// Package respond writes the JSON bodies shared by the API handlers.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "path", r.URL.Path, "error", err)
	}
}

// Error writes {"erro": message} and logs err when the status is a server error.
func Error(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), message, "path", r.URL.Path, "status", status, "error", err)
	}
	JSON(w, r, status, map[string]any{"erro": message})
}
