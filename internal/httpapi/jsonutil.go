package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// maxRequestBody caps JSON/multipart request bodies (§6: maxBodySize is
// configurable, but a hard ceiling protects the process regardless).
const maxRequestBody = 32 << 20

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// apiError is the OpenAI-shaped {"error": {...}} envelope used for every
// 5xx that originates in an adapter, and acceptable as a 4xx body too.
type apiError struct {
	Error struct {
		Message  string `json:"message"`
		Type     string `json:"type"`
		Provider string `json:"provider,omitempty"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func providerErrorResponse(msg, provider string) apiError {
	e := errorResponse(msg)
	e.Error.Provider = provider
	return e
}

// writeDomainError maps a sentinel/provider error to its HTTP status via
// imggateway.ErrorStatus and writes the appropriate envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	status := imggateway.ErrorStatus(err)
	var perr *imggateway.ProviderError
	if errors.As(err, &perr) {
		writeJSON(w, status, providerErrorResponse(perr.Message, perr.Provider))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

// decodeJSON reads and unmarshals the request body into v, writing a 400
// on any failure. Parse errors are logged server-side only.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("httpapi: request decode error", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}
