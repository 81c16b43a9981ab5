package auth

import (
	"context"
	"errors"
	"fmt"
)

// Policy is the access descriptor attached to every endpoint. A non-public policy with
// no requirements only needs a live session.
type Policy struct {
	Public              bool
	RequiredPermissions []string
	RequiredRoles       []string
}

// Public is the policy of endpoints reachable without a token.
var Public = Policy{Public: true}

// Authenticated requires a live session and nothing else.
var Authenticated = Policy{}

// RequirePermissions builds an any-of permission policy.
func RequirePermissions(codes ...string) Policy {
	return Policy{RequiredPermissions: codes}
}

// RequireRoles builds an any-of role policy.
func RequireRoles(names ...string) Policy {
	return Policy{RequiredRoles: names}
}

// Gate runs the per-call pipeline: verify token, check its version, resolve the
// identity, evaluate the endpoint policy. It holds no mutable state.
type Gate struct {
	codec    *Codec
	sessions *SessionAuthority
	engine   *Engine
}

func NewGate(codec *Codec, sessions *SessionAuthority, engine *Engine) (*Gate, error) {
	if codec == nil || sessions == nil || engine == nil {
		return nil, errors.New("auth: gate requires codec, session authority and engine")
	}
	return &Gate{codec: codec, sessions: sessions, engine: engine}, nil
}

// Check evaluates policy for the bearer token. Public policies return a nil identity.
// Rejections unwrap to ErrUnauthenticated or ErrForbidden; store failures are returned as-is.
func (g *Gate) Check(ctx context.Context, token string, policy Policy) (*Identity, error) {
	if policy.Public {
		return nil, nil
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := g.codec.Verify(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, ErrBadToken
	}

	live, err := g.sessions.ValidateVersion(ctx, claims.Subject, claims.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if !live {
		return nil, ErrSessionSuperseded
	}

	identity, err := g.engine.ResolveUser(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionSuperseded
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	if err := AuthorizeIdentity(identity, policy.RequiredPermissions).Err(); err != nil {
		return identity, err
	}
	if err := AuthorizeRoles(identity, policy.RequiredRoles).Err(); err != nil {
		return identity, err
	}
	return identity, nil
}

// VerifyAndAuthorize checks a token against an any-of permission requirement.
func (g *Gate) VerifyAndAuthorize(ctx context.Context, token string, required []string) (*Identity, error) {
	return g.Check(ctx, token, RequirePermissions(required...))
}
