// Package respond writes the JSON envelopes of the public API.
package respond

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/zlog"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusOK, v)
}

// Accepted writes a 202 response.
func Accepted(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusAccepted, v)
}

// Fail writes a client-error response with itemized reasons.
func Fail(w http.ResponseWriter, status int, message string, details ...string) {
	body := map[string]interface{}{"error": message}
	if len(details) > 0 {
		body["details"] = details
	}

	JSON(w, status, body)
}

// Error writes a server-error response for a request that was accepted but
// could not be completed.
func Error(w http.ResponseWriter, status int, message, details string) {
	body := map[string]interface{}{"success": false, "error": message}
	if details != "" {
		body["details"] = details
	}

	JSON(w, status, body)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": message})
}

// RateLimited writes a 429 response with the Retry-After header and the
// number of seconds until the client's window resets.
func RateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	JSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":      "too many requests",
		"retryAfter": retryAfter,
	})
}
