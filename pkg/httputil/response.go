// Package httputil holds the JSON response helpers shared by the HTTP
// endpoints that sit next to the WebSocket handler.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes data as a JSON body with the given status code.
// A nil data writes only the header.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteServiceUnavailable writes a 503 with data as the body.
func WriteServiceUnavailable(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusServiceUnavailable, data)
}
