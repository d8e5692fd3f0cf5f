package httpapi

import (
	"encoding/json"
	"net/http"
)

// toJSON marshals v before touching the ResponseWriter, so an encoding
// failure still produces a well-formed 500 instead of a truncated body.
func toJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
