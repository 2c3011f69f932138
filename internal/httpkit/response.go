// Package httpkit holds small HTTP helpers shared by the handlers.
package httpkit

import (
	"encoding/json"
	"net/http"
)

// DetailBody is the error body returned by the generate endpoint.
type DetailBody struct {
	Detail string `json:"detail"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteDetail writes {"detail": msg} with status.
func WriteDetail(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, DetailBody{Detail: msg})
}
