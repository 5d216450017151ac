package imggateway

import (
	"context"
	"time"
)

type contextKey int

const ctxKeyMeta contextKey = 0

// AuthMode identifies which of the dual authorization paths a request
// took: relay (caller's own provider credential) or backend (operator's
// shared secret / pooled credentials).
type AuthMode string

const (
	AuthModeRelay   AuthMode = "relay"
	AuthModeBackend AuthMode = "backend"
)

// RequestContext is created per inbound HTTP request and logged at start
// and end with error (if any) and duration.
type RequestContext struct {
	RequestID string
	StartTime time.Time
	URL       string
	Method    string

	Mode       AuthMode
	Provider   string // detected (relay) or selected (backend) provider name
	Credential string // the upstream credential in use for this request
}

// requestMeta bundles per-request values into a single context allocation,
// mirroring the teacher's requestMeta/ctxKeyMeta pattern so Identity-style
// mutation avoids a second context.WithValue + Request.WithContext pair.
type requestMeta struct {
	RC *RequestContext
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// ContextWithRequestContext stores rc in ctx, reusing the existing
// requestMeta slot if present.
func ContextWithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.RC = rc
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RC: rc})
}

// RequestContextFromContext extracts the RequestContext stored in ctx, or
// nil if none was set.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	if m := metaFromContext(ctx); m != nil {
		return m.RC
	}
	return nil
}

// RequestIDFromContext extracts the request ID, or "" if unset.
func RequestIDFromContext(ctx context.Context) string {
	if rc := RequestContextFromContext(ctx); rc != nil {
		return rc.RequestID
	}
	return ""
}
