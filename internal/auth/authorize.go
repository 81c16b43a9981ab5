package auth

import (
	"context"
	"errors"
	"strings"
)

// DenyReason explains a negative decision.
type DenyReason string

const (
	DenyUnauthenticated DenyReason = "unauthenticated"
	DenyForbidden       DenyReason = "forbidden"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

// Err converts a denial into ErrUnauthenticated or ErrForbidden, nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == DenyUnauthenticated:
		return ErrUnauthenticated
	default:
		return ErrForbidden
	}
}

// Engine resolves effective permissions and evaluates any-of policies.
type Engine struct {
	store CredentialStore
}

func NewEngine(store CredentialStore) (*Engine, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	return &Engine{store: store}, nil
}

// ResolveUser loads the user, the roles currently assigned to it and the union of their
// permissions deduplicated by permission id.
func (e *Engine) ResolveUser(ctx context.Context, userID string) (*Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNotFound
	}
	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := e.store.ListRolesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Roles:       roles,
		Permissions: []Permission{},
	}
	if identity.Roles == nil {
		identity.Roles = []Role{}
	}
	if len(roles) == 0 {
		return identity, nil
	}
	roleIDs := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
	}
	perms, err := e.store.ListPermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	identity.Permissions = dedupePermissions(perms)
	return identity, nil
}

func (e *Engine) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	identity, err := e.ResolveUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return identity.HasPermission(strings.TrimSpace(code)), nil
}

func (e *Engine) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	identity, err := e.ResolveUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return identity.HasRole(strings.TrimSpace(roleName)), nil
}

// Authorize applies the any-of policy for userID. An empty requirement always allows.
// Store failures other than a missing user are returned as errors.
func (e *Engine) Authorize(ctx context.Context, userID string, required []string) (Decision, error) {
	if len(normalizeCodes(required)) == 0 {
		return allow, nil
	}
	if strings.TrimSpace(userID) == "" {
		return Decision{Reason: DenyUnauthenticated}, nil
	}
	identity, err := e.ResolveUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Decision{Reason: DenyUnauthenticated}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return AuthorizeIdentity(identity, required), nil
}

// AuthorizeIdentity is Authorize for an already resolved identity.
func AuthorizeIdentity(identity *Identity, required []string) Decision {
	codes := normalizeCodes(required)
	if len(codes) == 0 {
		return allow
	}
	if identity == nil {
		return Decision{Reason: DenyUnauthenticated}
	}
	for _, code := range codes {
		if identity.HasPermission(code) {
			return allow
		}
	}
	return Decision{Reason: DenyForbidden}
}

// AuthorizeRoles allows when identity holds any of roles.
func AuthorizeRoles(identity *Identity, roles []string) Decision {
	names := normalizeCodes(roles)
	if len(names) == 0 {
		return allow
	}
	if identity == nil {
		return Decision{Reason: DenyUnauthenticated}
	}
	for _, name := range names {
		if identity.HasRole(name) {
			return allow
		}
	}
	return Decision{Reason: DenyForbidden}
}

func normalizeCodes(codes []string) []string {
	return dedupeStrings(codes)
}

func dedupePermissions(perms []Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
