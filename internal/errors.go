package imggateway

import "errors"

// Sentinel errors for the gateway domain. Handlers map these to HTTP
// status codes via ErrorStatus; adapters and stores wrap them with %w
// so errors.Is keeps working across package boundaries.
var (
	ErrServiceDisabled   = errors.New("service disabled")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrKeyPoolExhausted  = errors.New("key pool exhausted")
	ErrUpstreamError     = errors.New("upstream error")
	ErrNotFound          = errors.New("not found")
	ErrMethodNotAllowed  = errors.New("method not allowed")
	ErrConflict          = errors.New("conflict")
	ErrNoProviders       = errors.New("no available providers")
)

// httpStatusError is an interface for errors that carry an HTTP status code.
type httpStatusError interface {
	HTTPStatus() int
}

// ErrorStatus maps a domain error to the HTTP status code it should produce.
// Unrecognized errors default to 500.
func ErrorStatus(err error) int {
	var he httpStatusError
	if errors.As(err, &he) {
		return he.HTTPStatus()
	}
	switch {
	case errors.Is(err, ErrServiceDisabled):
		return 503
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrBadRequest):
		return 400
	case errors.Is(err, ErrKeyPoolExhausted):
		return 503
	case errors.Is(err, ErrUpstreamError):
		return 500
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrMethodNotAllowed):
		return 405
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrNoProviders):
		return 503
	default:
		return 500
	}
}
