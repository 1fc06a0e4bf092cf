// Package api contains helpers shared by the JSON API handlers.
package api

import (
	"encoding/json"
	"net/http"
)

// JSONError writes err to w as a JSON error object. A statusCode under
// one means an internal server error.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	if statusCode < 1 {
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(&struct {
		Err string `json:"error"`
	}{Err: err.Error()})
}
