package web

import (
	"encoding/json"
	"log"
	"net/http"
)

// maxRequestBody caps inbound JSON bodies; spec.md's endpoints never need
// more than a short message plus identifiers.
const maxRequestBody = 1 << 20 // 1MB

// writeJSON encodes v as the response body, logging (but not surfacing)
// an encode failure since headers are already committed by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Web] JSON encode error: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// decodeJSON parses the request body into v, rejecting bodies over
// maxRequestBody and trailing garbage after the JSON value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
