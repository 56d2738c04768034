package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// corsHeaders returns the fixed CORS header set. Pure function of the
// request method; every response, success or failure, carries the same
// headers.
func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, X-API-Key",
	}
}

func applyCORS(h http.Header) {
	for k, v := range corsHeaders() {
		h.Set(k, v)
	}
}

// writeJSON writes the uniform response envelope: JSON body, JSON content
// type, CORS headers already applied by the orchestrator.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the client-visible error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// rateLimitBody extends the error envelope with machine-readable reset
// information for 429 responses.
type rateLimitBody struct {
	Error   string `json:"error"`
	Limit   int    `json:"limit"`
	ResetAt int64  `json:"reset_at"`
}

func setRateLimitHeaders(h http.Header, limit, remaining int, resetAt int64) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
}
