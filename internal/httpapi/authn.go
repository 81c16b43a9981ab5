package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Gate decision labels.
const (
	decisionAllow           = "allow"
	decisionUnauthenticated = "unauthenticated"
	decisionForbidden       = "forbidden"
	decisionUnavailable     = "unavailable"
	decisionError           = "error"
)

// guard runs the request gate for policy before next. Public routes skip it entirely, so a
// stale or garbage token never breaks them.
func (a *API) guard(policy auth.Policy, next http.HandlerFunc) http.Handler {
	if policy.Public {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a malformed header is treated as no token at all
		token, _ := extractBearerToken(r.Header.Get(authHeader))

		identity, err := a.gate.Check(r.Context(), token, policy)
		obs.RecordGateDecision("http", gateDecision(err))
		if err != nil {
			handleError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func gateDecision(err error) string {
	switch {
	case err == nil:
		return decisionAllow
	case errors.Is(err, auth.ErrUnauthenticated):
		return decisionUnauthenticated
	case errors.Is(err, auth.ErrForbidden):
		return decisionForbidden
	case errors.Is(err, auth.ErrUnavailable):
		return decisionUnavailable
	default:
		return decisionError
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// identityFrom returns the identity attached by guard. Handlers behind a non-public policy
// always have one.
func identityFrom(r *http.Request) *auth.Identity {
	identity, _ := auth.IdentityFromContext(r.Context())
	return identity
}
