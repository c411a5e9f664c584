package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform JSON shape every endpoint returns.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Error   string      `json:"error,omitempty"`
	Cached  *bool       `json:"cached,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data, meta interface{}) {
	writeEnvelope(w, status, envelope{Success: true, Data: data, Meta: meta})
}

func writeCached(w http.ResponseWriter, status int, data, meta interface{}, cached bool) {
	writeEnvelope(w, status, envelope{Success: true, Data: data, Meta: meta, Cached: &cached})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Success: false, Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
