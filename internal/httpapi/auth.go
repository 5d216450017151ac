package httpapi

import (
	"net/http"
	"strings"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// authResult is the outcome of stages 1-2: which authorization path the
// request took and, for relay mode, the detected adapter and credential.
type authResult struct {
	Mode       imggateway.AuthMode
	Provider   imggateway.Provider // relay only; nil in backend mode
	Credential string              // relay only; backend acquires per dispatch attempt
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer"))
}

// classify implements stages 1-2 of the pipeline: the mode gate and
// credential classification. It never writes to w; callers map the
// returned error to a response via writeDomainError.
func (s *server) classify(r *http.Request) (authResult, error) {
	sys := s.deps.Config.Get().System
	if !sys.Modes.Relay && !sys.Modes.Backend {
		return authResult{}, imggateway.ErrServiceDisabled
	}

	token := bearerToken(r)

	if p, ok := s.deps.Providers.DetectProvider(token); ok {
		if !sys.Modes.Relay {
			return authResult{}, imggateway.ErrForbidden
		}
		return authResult{Mode: imggateway.AuthModeRelay, Provider: p, Credential: token}, nil
	}

	if !sys.Modes.Backend {
		return authResult{}, imggateway.ErrUnauthorized
	}
	if sys.GlobalAccessKey != "" && token != sys.GlobalAccessKey {
		return authResult{}, imggateway.ErrUnauthorized
	}
	return authResult{Mode: imggateway.AuthModeBackend}, nil
}
